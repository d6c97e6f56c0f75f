package scheme

import (
	"context"
	"errors"
	"sync"

	"github.com/maxpoletaev/clusteragent/internal/retry/backoff"
	"github.com/maxpoletaev/clusteragent/substrate"
	"github.com/maxpoletaev/clusteragent/substrate/inmem"
)

var errUnreachable = errors.New("unreachable")

// recordingSubstrate remembers the seeds of every join and fails the first
// failJoins of them.
type recordingSubstrate struct {
	substrate.Substrate

	mut       sync.Mutex
	joins     [][]string
	failJoins int
}

func (s *recordingSubstrate) Join(ctx context.Context, seeds []string) (string, error) {
	s.mut.Lock()
	s.joins = append(s.joins, append([]string(nil), seeds...))
	fail := s.failJoins > 0
	if fail {
		s.failJoins--
	}
	s.mut.Unlock()

	if fail {
		return "", errUnreachable
	}

	return s.Substrate.Join(ctx, seeds)
}

func (s *recordingSubstrate) getJoins() [][]string {
	s.mut.Lock()
	defer s.mut.Unlock()

	return append([][]string(nil), s.joins...)
}

func newTestPeer(id string) substrate.Peer {
	return substrate.Peer{
		ID:   id,
		Host: id,
		Port: 7946,
		Meta: substrate.NewMeta("test", 0, 0, nil),
	}
}

func newRecordingSubstrate(hub *inmem.Hub, id string) *recordingSubstrate {
	return &recordingSubstrate{Substrate: hub.NewNode(newTestPeer(id))}
}

func testOptions(sub substrate.Substrate) Options {
	opts := DefaultOptions()
	opts.Substrate = sub
	opts.JoinAttempts = 3
	opts.JoinBackoff = backoff.Constant(0)

	return opts
}
