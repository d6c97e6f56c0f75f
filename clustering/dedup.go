package clustering

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/murmur3"
)

type seenRecord struct {
	id     uuid.UUID
	seenAt time.Time
}

type dedupShard struct {
	mut   sync.Mutex
	seen  map[uuid.UUID]time.Time
	order *list.List // *seenRecord, in receipt order
}

// dedupTable remembers the ids of the received messages along with the time
// they were first seen. It is split into shards to reduce lock contention
// between the delivery goroutines.
type dedupTable struct {
	shards []*dedupShard
}

func newDedupTable(numShards int) *dedupTable {
	if numShards < 1 {
		numShards = 1
	}

	shards := make([]*dedupShard, numShards)
	for i := range shards {
		shards[i] = &dedupShard{
			seen:  make(map[uuid.UUID]time.Time),
			order: list.New(),
		}
	}

	return &dedupTable{shards: shards}
}

func (t *dedupTable) shard(id uuid.UUID) *dedupShard {
	h := murmur3.Sum64(id[:])
	return t.shards[h%uint64(len(t.shards))]
}

// MarkSeen records the id and returns true if it has not been seen before. The
// check and the insert are atomic, so only one of the concurrent callers with
// the same id gets true.
func (t *dedupTable) MarkSeen(id uuid.UUID, now time.Time) bool {
	s := t.shard(id)

	s.mut.Lock()
	defer s.mut.Unlock()

	if _, ok := s.seen[id]; ok {
		return false
	}

	s.seen[id] = now
	s.order.PushBack(&seenRecord{id: id, seenAt: now})

	return true
}

func (t *dedupTable) Seen(id uuid.UUID) bool {
	s := t.shard(id)

	s.mut.Lock()
	defer s.mut.Unlock()

	_, ok := s.seen[id]

	return ok
}

func (t *dedupTable) Len() int {
	n := 0

	for _, s := range t.shards {
		s.mut.Lock()
		n += len(s.seen)
		s.mut.Unlock()
	}

	return n
}

// Evict removes up to limit entries received before the deadline. Each shard
// is walked from the oldest receipt and the walk stops at the first entry that
// is still within the window, so a run never looks at more than limit entries
// plus one per shard.
func (t *dedupTable) Evict(deadline time.Time, limit int) int {
	evicted := 0

	for _, s := range t.shards {
		if evicted >= limit {
			break
		}

		evicted += s.evict(deadline, limit-evicted)
	}

	return evicted
}

func (s *dedupShard) evict(deadline time.Time, limit int) int {
	s.mut.Lock()
	defer s.mut.Unlock()

	evicted := 0

	for el := s.order.Front(); el != nil && evicted < limit; el = s.order.Front() {
		rec := el.Value.(*seenRecord)
		if !rec.seenAt.Before(deadline) {
			break
		}

		s.order.Remove(el)
		delete(s.seen, rec.id)
		evicted++
	}

	return evicted
}
