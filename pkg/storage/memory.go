package storage

import (
	"sync"
	"time"

	"github.com/ZentaChain/qight/pkg/envelope"
)

// MemoryStore keeps all queues in process memory.
//
// A single RWMutex guards the whole map, so appends for different recipients
// serialise against each other. That is enough for correctness; sharding by
// recipient would only buy throughput.
type MemoryStore struct {
	mu     sync.RWMutex
	queues map[string][]*envelope.Envelope
	closed bool

	maxQueueLen int
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		queues:      make(map[string][]*envelope.Envelope),
		maxQueueLen: opts.MaxQueueLen,
	}
}

func (s *MemoryStore) Append(recipient string, env *envelope.Envelope) error {
	if env == nil {
		return ErrNilEnvelope
	}
	stored := env.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	q := append(s.queues[recipient], stored)
	if s.maxQueueLen > 0 && len(q) > s.maxQueueLen {
		drop := len(q) - s.maxQueueLen
		// Copy so the dropped prefix can be collected
		q = append([]*envelope.Envelope(nil), q[drop:]...)
	}
	s.queues[recipient] = q
	return nil
}

func (s *MemoryStore) Snapshot(recipient string) ([]*envelope.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return cloneAll(s.queues[recipient]), nil
}

func (s *MemoryStore) Drain(recipient string) ([]*envelope.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	q := s.queues[recipient]
	delete(s.queues, recipient)
	if q == nil {
		return []*envelope.Envelope{}, nil
	}
	return q, nil
}

func (s *MemoryStore) PurgeExpired(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	removed := 0
	for recipient, q := range s.queues {
		kept := q[:0:0]
		for _, e := range q {
			if e.IsExpired(now) {
				removed++
				continue
			}
			kept = append(kept, e)
		}

		if len(kept) == 0 {
			delete(s.queues, recipient)
		} else if len(kept) != len(q) {
			s.queues[recipient] = kept
		}
	}
	return removed, nil
}

func (s *MemoryStore) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Stats{}, ErrStoreClosed
	}

	stats := Stats{
		Recipients:  len(s.queues),
		ByRecipient: make(map[string]int, len(s.queues)),
	}
	for recipient, q := range s.queues {
		stats.ByRecipient[recipient] = len(q)
		stats.Envelopes += len(q)
	}
	return stats, nil
}

// Close drops all queued envelopes
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.queues = nil
	return nil
}
