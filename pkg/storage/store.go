package storage

import (
	"errors"
	"time"

	"github.com/ZentaChain/qight/pkg/envelope"
)

var (
	ErrNilEnvelope  = errors.New("nil envelope")
	ErrStoreClosed  = errors.New("store closed")
	ErrUnknownStore = errors.New("unknown store backend")
)

// Store backends
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// MessageStore holds one FIFO queue of envelopes per recipient.
//
// Append and Snapshot are atomic with respect to each other: a Snapshot
// never observes a partially appended envelope. Entries are only removed by
// an explicit Drain or PurgeExpired call, or by the MaxQueueLen policy.
type MessageStore interface {
	// Append inserts env at the tail of recipient's queue.
	Append(recipient string, env *envelope.Envelope) error

	// Snapshot returns a copy of recipient's queue in append order.
	// The queue is left untouched; an unknown recipient yields an empty slice.
	Snapshot(recipient string) ([]*envelope.Envelope, error)

	// Drain returns recipient's queue and removes it.
	Drain(recipient string) ([]*envelope.Envelope, error)

	// PurgeExpired removes every envelope expired at now and returns how many
	// were removed.
	PurgeExpired(now time.Time) (int, error)

	Stats() (Stats, error)
	Close() error
}

// Stats describes current store contents.
type Stats struct {
	Recipients  int            `json:"recipients"`
	Envelopes   int            `json:"envelopes"`
	ByRecipient map[string]int `json:"by_recipient"`
}

// Options configures a store.
type Options struct {
	// MaxQueueLen caps each recipient's queue. When a full queue receives
	// an append, the oldest entry is dropped. Zero means unbounded.
	MaxQueueLen int
}

// Open creates a store for the named backend.
func Open(backend string, opts Options) (MessageStore, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemoryStore(opts), nil
	case BackendSQLite:
		return NewSQLiteStore(opts)
	default:
		return nil, ErrUnknownStore
	}
}

func cloneAll(envs []*envelope.Envelope) []*envelope.Envelope {
	out := make([]*envelope.Envelope, len(envs))
	for i, e := range envs {
		out[i] = e.Clone()
	}
	return out
}
