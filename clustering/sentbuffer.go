package clustering

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"
)

type sentEntry struct {
	id        uuid.UUID
	timestamp time.Time
	data      []byte
}

// sentBuffer keeps the encoded messages broadcast by the local node, in the
// order they were sent, so that they can be replayed to the members joining
// later. Iteration happens on snapshots, so concurrent appends never affect
// an ongoing replay or cleanup.
type sentBuffer struct {
	mut   sync.RWMutex
	list  *list.List // *sentEntry
	index map[uuid.UUID]*list.Element
}

func newSentBuffer() *sentBuffer {
	return &sentBuffer{
		list:  list.New(),
		index: make(map[uuid.UUID]*list.Element),
	}
}

// Add appends the message unless a message with the same id is already there.
func (b *sentBuffer) Add(id uuid.UUID, timestamp time.Time, data []byte) bool {
	b.mut.Lock()
	defer b.mut.Unlock()

	if _, ok := b.index[id]; ok {
		return false
	}

	el := b.list.PushBack(&sentEntry{
		id:        id,
		timestamp: timestamp,
		data:      data,
	})

	b.index[id] = el

	return true
}

func (b *sentBuffer) Has(id uuid.UUID) bool {
	b.mut.RLock()
	defer b.mut.RUnlock()

	_, ok := b.index[id]

	return ok
}

func (b *sentBuffer) Len() int {
	b.mut.RLock()
	defer b.mut.RUnlock()

	return b.list.Len()
}

// Snapshot returns the buffered entries in insertion order.
func (b *sentBuffer) Snapshot() []*sentEntry {
	b.mut.RLock()
	defer b.mut.RUnlock()

	entries := make([]*sentEntry, 0, b.list.Len())
	for el := b.list.Front(); el != nil; el = el.Next() {
		entries = append(entries, el.Value.(*sentEntry))
	}

	return entries
}

// Evict removes up to limit entries created before the deadline, oldest sends
// first. It stops at the first entry that is still within the window and
// returns the number of removed entries.
func (b *sentBuffer) Evict(deadline time.Time, limit int) int {
	b.mut.Lock()
	defer b.mut.Unlock()

	evicted := 0

	for el := b.list.Front(); el != nil && evicted < limit; el = b.list.Front() {
		entry := el.Value.(*sentEntry)
		if !entry.timestamp.Before(deadline) {
			break
		}

		b.list.Remove(el)
		delete(b.index, entry.id)
		evicted++
	}

	return evicted
}
