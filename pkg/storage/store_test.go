package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/qight/pkg/envelope"
)

func backends(t *testing.T, opts Options) map[string]MessageStore {
	t.Helper()

	sqlite, err := NewSQLiteStore(opts)
	require.NoError(t, err)

	stores := map[string]MessageStore{
		BackendMemory: NewMemoryStore(opts),
		BackendSQLite: sqlite,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func newEnvelope(sender, recipient, payload string, createdAt uint64, ttl uint32) *envelope.Envelope {
	clock := func() time.Time { return time.Unix(int64(createdAt), 0) }
	return envelope.NewWithClock(clock, sender, recipient, []byte(payload), ttl)
}

func ids(envs []*envelope.Envelope) []string {
	out := make([]string, len(envs))
	for i, e := range envs {
		out[i] = e.ID
	}
	return out
}

func TestStoreFIFO(t *testing.T) {
	for name, store := range backends(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			a := newEnvelope("alice", "bob", "A", 100, 60)
			b := newEnvelope("carol", "bob", "B", 101, 60)
			c := newEnvelope("alice", "bob", "C", 102, 60)

			for _, e := range []*envelope.Envelope{a, b, c} {
				require.NoError(t, store.Append("bob", e))
			}

			got, err := store.Snapshot("bob")
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.True(t, got[0].Equal(a))
			assert.True(t, got[1].Equal(b))
			assert.True(t, got[2].Equal(c))
		})
	}
}

func TestStoreSnapshotIsNonDestructive(t *testing.T) {
	for name, store := range backends(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Append("bob", newEnvelope("alice", "bob", "hi", 100, 60)))

			first, err := store.Snapshot("bob")
			require.NoError(t, err)
			second, err := store.Snapshot("bob")
			require.NoError(t, err)

			assert.Equal(t, ids(first), ids(second))
			assert.Len(t, second, 1)
		})
	}
}

func TestStoreIsolatesRecipients(t *testing.T) {
	for name, store := range backends(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Append("x", newEnvelope("alice", "x", "A", 100, 60)))

			got, err := store.Snapshot("y")
			require.NoError(t, err)
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestStoreKeepsEnvelopeRecipient(t *testing.T) {
	for name, store := range backends(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			e := newEnvelope("alice", "bob", "forwarded", 100, 60)
			require.NoError(t, store.Append("carol", e))

			got, err := store.Snapshot("carol")
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "bob", got[0].Recipient)
			assert.True(t, got[0].Equal(e))

			drained, err := store.Drain("carol")
			require.NoError(t, err)
			require.Len(t, drained, 1)
			assert.True(t, drained[0].Equal(e))
		})
	}
}

func TestStoreSnapshotIsACopy(t *testing.T) {
	for name, store := range backends(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			original := newEnvelope("alice", "bob", "payload", 100, 60)
			require.NoError(t, store.Append("bob", original))

			// Mutating the appended value or a snapshot must not leak into the store
			original.Payload[0] = 'X'
			snap, err := store.Snapshot("bob")
			require.NoError(t, err)
			snap[0].Payload[1] = 'Y'

			again, err := store.Snapshot("bob")
			require.NoError(t, err)
			assert.Equal(t, "payload", string(again[0].Payload))
		})
	}
}

func TestStoreEmptyPayload(t *testing.T) {
	for name, store := range backends(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			e := newEnvelope("alice", "bob", "", 100, 60)
			e.Payload = nil
			require.NoError(t, store.Append("bob", e))

			got, err := store.Snapshot("bob")
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Empty(t, got[0].Payload)
		})
	}
}

func TestStoreExtremeTimestamps(t *testing.T) {
	for name, store := range backends(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			e := newEnvelope("alice", "bob", "x", 0, 0)
			e.CreatedAt = ^uint64(0)
			e.TTL = ^uint32(0)
			require.NoError(t, store.Append("bob", e))

			got, err := store.Snapshot("bob")
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.True(t, got[0].Equal(e))

			removed, err := store.PurgeExpired(time.Unix(1<<40, 0))
			require.NoError(t, err)
			assert.Zero(t, removed)
		})
	}
}

func TestStoreDrain(t *testing.T) {
	for name, store := range backends(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			a := newEnvelope("alice", "bob", "A", 100, 60)
			b := newEnvelope("alice", "bob", "B", 101, 60)
			require.NoError(t, store.Append("bob", a))
			require.NoError(t, store.Append("bob", b))
			require.NoError(t, store.Append("carol", newEnvelope("alice", "carol", "C", 102, 60)))

			drained, err := store.Drain("bob")
			require.NoError(t, err)
			assert.Equal(t, []string{a.ID, b.ID}, ids(drained))

			left, err := store.Snapshot("bob")
			require.NoError(t, err)
			assert.Empty(t, left)

			other, err := store.Snapshot("carol")
			require.NoError(t, err)
			assert.Len(t, other, 1)

			empty, err := store.Drain("nobody")
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestStorePurgeExpired(t *testing.T) {
	for name, store := range backends(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			expired := newEnvelope("alice", "bob", "old", 100, 10)   // expires at 110
			boundary := newEnvelope("alice", "bob", "edge", 100, 20) // expires at 120
			fresh := newEnvelope("alice", "carol", "new", 200, 10)

			require.NoError(t, store.Append("bob", expired))
			require.NoError(t, store.Append("bob", boundary))
			require.NoError(t, store.Append("carol", fresh))

			removed, err := store.PurgeExpired(time.Unix(120, 0))
			require.NoError(t, err)
			assert.Equal(t, 1, removed)

			bob, err := store.Snapshot("bob")
			require.NoError(t, err)
			assert.Equal(t, []string{boundary.ID}, ids(bob))

			removed, err = store.PurgeExpired(time.Unix(121, 0))
			require.NoError(t, err)
			assert.Equal(t, 1, removed)

			stats, err := store.Stats()
			require.NoError(t, err)
			assert.Equal(t, 1, stats.Envelopes)
			assert.Equal(t, 1, stats.Recipients)
		})
	}
}

func TestStoreNeverExpiresOnItsOwn(t *testing.T) {
	for name, store := range backends(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			long := newEnvelope("alice", "bob", "gone", 1, 0)
			require.NoError(t, store.Append("bob", long))

			got, err := store.Snapshot("bob")
			require.NoError(t, err)
			assert.Len(t, got, 1)
			assert.True(t, got[0].IsExpired(time.Now()))
		})
	}
}

func TestStoreMaxQueueLen(t *testing.T) {
	for name, store := range backends(t, Options{MaxQueueLen: 2}) {
		t.Run(name, func(t *testing.T) {
			var all []*envelope.Envelope
			for i := 0; i < 4; i++ {
				e := newEnvelope("alice", "bob", fmt.Sprintf("m%d", i), uint64(100+i), 60)
				all = append(all, e)
				require.NoError(t, store.Append("bob", e))
			}

			got, err := store.Snapshot("bob")
			require.NoError(t, err)
			assert.Equal(t, []string{all[2].ID, all[3].ID}, ids(got))
		})
	}
}

func TestStoreStats(t *testing.T) {
	for name, store := range backends(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			stats, err := store.Stats()
			require.NoError(t, err)
			assert.Zero(t, stats.Envelopes)
			assert.Zero(t, stats.Recipients)

			require.NoError(t, store.Append("bob", newEnvelope("a", "bob", "1", 1, 1)))
			require.NoError(t, store.Append("bob", newEnvelope("a", "bob", "2", 1, 1)))
			require.NoError(t, store.Append("eve", newEnvelope("a", "eve", "3", 1, 1)))

			stats, err = store.Stats()
			require.NoError(t, err)
			assert.Equal(t, 3, stats.Envelopes)
			assert.Equal(t, 2, stats.Recipients)
			assert.Equal(t, map[string]int{"bob": 2, "eve": 1}, stats.ByRecipient)
		})
	}
}

func TestStoreRejectsNil(t *testing.T) {
	for name, store := range backends(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, store.Append("bob", nil), ErrNilEnvelope)
		})
	}
}

func TestStoreConcurrentAppends(t *testing.T) {
	const (
		writers    = 8
		perWriter  = 50
		recipients = 4
	)

	for name, store := range backends(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for w := 0; w < writers; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < perWriter; i++ {
						recipient := fmt.Sprintf("r%d", (w+i)%recipients)
						e := newEnvelope(fmt.Sprintf("w%d", w), recipient, fmt.Sprintf("%d", i), uint64(i), 60)
						assert.NoError(t, store.Append(recipient, e))
						_, err := store.Snapshot(recipient)
						assert.NoError(t, err)
					}
				}(w)
			}
			wg.Wait()

			stats, err := store.Stats()
			require.NoError(t, err)
			assert.Equal(t, writers*perWriter, stats.Envelopes)

			// Each writer's own envelopes keep their relative order
			for r := 0; r < recipients; r++ {
				got, err := store.Snapshot(fmt.Sprintf("r%d", r))
				require.NoError(t, err)

				last := map[string]uint64{}
				for _, e := range got {
					if prev, ok := last[e.Sender]; ok {
						assert.Greater(t, e.CreatedAt, prev)
					}
					last[e.Sender] = e.CreatedAt
				}
			}
		})
	}
}

func TestOpen(t *testing.T) {
	for _, backend := range []string{"", BackendMemory, BackendSQLite} {
		s, err := Open(backend, Options{})
		require.NoError(t, err, backend)
		require.NoError(t, s.Close())
	}

	_, err := Open("postgres", Options{})
	assert.ErrorIs(t, err, ErrUnknownStore)
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore(Options{})
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Append("bob", newEnvelope("a", "bob", "x", 1, 1)), ErrStoreClosed)
	_, err := s.Snapshot("bob")
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestRunPurgeLoop(t *testing.T) {
	store := NewMemoryStore(Options{})
	require.NoError(t, store.Append("bob", newEnvelope("a", "bob", "x", 1, 1)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	purged := make(chan int, 16)
	done := make(chan struct{})
	go func() {
		RunPurgeLoop(ctx, store, 10*time.Millisecond, nil, func(n int) {
			select {
			case purged <- n:
			default:
			}
		})
		close(done)
	}()

	select {
	case n := <-purged:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("purge loop never ran")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("purge loop did not stop")
	}
}
