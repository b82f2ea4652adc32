package envelope

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"
)

// Wire layout (little-endian, fields in this exact order):
//
//	id         u64 length + bytes
//	sender     u64 length + bytes
//	recipient  u64 length + bytes
//	created_at u64
//	ttl        u32
//	payload    u64 length + bytes
//
// There is no version field; any change to the layout is a breaking change.
const (
	lenPrefixSize = 8
	fixedSize     = 4*lenPrefixSize + 8 + 4

	// MinEncodedSize is the size of an envelope with every variable field empty.
	MinEncodedSize = fixedSize
)

// Encode serialises e. It only fails when e is nil or the buffer cannot grow.
func Encode(e *Envelope) (out []byte, err error) {
	if e == nil {
		return nil, &CodecError{Kind: KindEncode, Err: ErrNilEnvelope}
	}

	defer func() {
		if r := recover(); r != nil {
			if r == bytes.ErrTooLarge {
				out, err = nil, &CodecError{Kind: KindEncode, Err: bytes.ErrTooLarge}
				return
			}
			panic(r)
		}
	}()

	var buf bytes.Buffer
	buf.Grow(e.Size())

	writeString(&buf, e.ID)
	writeString(&buf, e.Sender)
	writeString(&buf, e.Recipient)

	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], e.CreatedAt)
	buf.Write(scratch[:8])
	binary.LittleEndian.PutUint32(scratch[:4], e.TTL)
	buf.Write(scratch[:4])

	writeBytes(&buf, e.Payload)

	return buf.Bytes(), nil
}

// Encode is shorthand for Encode(e).
func (e *Envelope) Encode() ([]byte, error) {
	return Encode(e)
}

// Decode parses buf, which must contain exactly one encoded envelope.
func Decode(buf []byte) (*Envelope, error) {
	r := &cursor{buf: buf}
	e := &Envelope{}
	var err error

	if e.ID, err = r.string("id"); err != nil {
		return nil, err
	}
	if e.Sender, err = r.string("sender"); err != nil {
		return nil, err
	}
	if e.Recipient, err = r.string("recipient"); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = r.uint64("created_at"); err != nil {
		return nil, err
	}
	if e.TTL, err = r.uint32("ttl"); err != nil {
		return nil, err
	}
	if e.Payload, err = r.bytes("payload"); err != nil {
		return nil, err
	}

	if r.remaining() != 0 {
		return nil, decodeError("", ErrTrailingBytes)
	}
	return e, nil
}

func writeString(buf *bytes.Buffer, s string) {
	var prefix [lenPrefixSize]byte
	binary.LittleEndian.PutUint64(prefix[:], uint64(len(s)))
	buf.Write(prefix[:])
	buf.WriteString(s)
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	var prefix [lenPrefixSize]byte
	binary.LittleEndian.PutUint64(prefix[:], uint64(len(b)))
	buf.Write(prefix[:])
	buf.Write(b)
}

// cursor walks an encoded envelope, checking every length against what is
// left before slicing or allocating.
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.off
}

func (c *cursor) uint64(field string) (uint64, error) {
	if c.remaining() < 8 {
		return 0, decodeError(field, ErrTruncated)
	}
	v := binary.LittleEndian.Uint64(c.buf[c.off:])
	c.off += 8
	return v, nil
}

func (c *cursor) uint32(field string) (uint32, error) {
	if c.remaining() < 4 {
		return 0, decodeError(field, ErrTruncated)
	}
	v := binary.LittleEndian.Uint32(c.buf[c.off:])
	c.off += 4
	return v, nil
}

func (c *cursor) raw(field string) ([]byte, error) {
	n, err := c.uint64(field)
	if err != nil {
		return nil, err
	}
	if n > uint64(c.remaining()) {
		return nil, decodeError(field, ErrTruncated)
	}
	b := c.buf[c.off : c.off+int(n)]
	c.off += int(n)
	return b, nil
}

func (c *cursor) bytes(field string) ([]byte, error) {
	b, err := c.raw(field)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (c *cursor) string(field string) (string, error) {
	b, err := c.raw(field)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", decodeError(field, ErrInvalidUTF8)
	}
	return string(b), nil
}
