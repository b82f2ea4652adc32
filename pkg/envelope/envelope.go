// Package envelope defines the unit of delivery handled by the relay and its
// binary wire encoding.
package envelope

import (
	"bytes"
	"math"
	"time"

	"github.com/google/uuid"
)

// Envelope is an addressed, timestamped payload waiting for delivery.
//
// Envelopes are treated as immutable once constructed: the store, the stream
// handlers and the client share pointers to them without copying.
type Envelope struct {
	ID        string // Unique identifier, assigned at construction
	Sender    string // Sender identifier (not authenticated)
	Recipient string // Recipient identifier, the store key
	CreatedAt uint64 // Unix timestamp (seconds)
	TTL       uint32 // Lifetime in seconds, relative to CreatedAt
	Payload   []byte // Opaque payload bytes
}

// Clock returns the current time. It exists so tests can pin CreatedAt.
type Clock func() time.Time

// New creates an envelope with a fresh id and the current time as CreatedAt.
func New(sender, recipient string, payload []byte, ttl uint32) *Envelope {
	return NewWithClock(time.Now, sender, recipient, payload, ttl)
}

// NewWithClock creates an envelope using clock for CreatedAt.
// The payload is copied so later writes by the caller cannot leak in.
func NewWithClock(clock Clock, sender, recipient string, payload []byte, ttl uint32) *Envelope {
	p := make([]byte, len(payload))
	copy(p, payload)

	return &Envelope{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		CreatedAt: unixSeconds(clock()),
		TTL:       ttl,
		Payload:   p,
	}
}

// ExpiresAt returns the last second (inclusive) at which the envelope is
// still alive. Saturates instead of wrapping.
func (e *Envelope) ExpiresAt() uint64 {
	if e.CreatedAt > math.MaxUint64-uint64(e.TTL) {
		return math.MaxUint64
	}
	return e.CreatedAt + uint64(e.TTL)
}

// IsExpired reports whether now is strictly past CreatedAt+TTL.
func (e *Envelope) IsExpired(now time.Time) bool {
	return unixSeconds(now) > e.ExpiresAt()
}

// Size returns the number of bytes Encode will produce.
func (e *Envelope) Size() int {
	return fixedSize + len(e.ID) + len(e.Sender) + len(e.Recipient) + len(e.Payload)
}

// Equal compares every field, payload included.
func (e *Envelope) Equal(other *Envelope) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.ID == other.ID &&
		e.Sender == other.Sender &&
		e.Recipient == other.Recipient &&
		e.CreatedAt == other.CreatedAt &&
		e.TTL == other.TTL &&
		bytes.Equal(e.Payload, other.Payload)
}

// Clone returns a deep copy.
func (e *Envelope) Clone() *Envelope {
	c := *e
	c.Payload = make([]byte, len(e.Payload))
	copy(c.Payload, e.Payload)
	return &c
}

func unixSeconds(t time.Time) uint64 {
	s := t.Unix()
	if s < 0 {
		return 0
	}
	return uint64(s)
}
