package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// WriteSendRequest writes "SEND" + 4-byte big-endian length + payload.
func WriteSendRequest(w io.Writer, payload []byte, maxSize uint32) error {
	if uint64(len(payload)) > uint64(maxSize) {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), maxSize)
	}

	buf := make([]byte, PrefixSize+LengthSize, PrefixSize+LengthSize+len(payload))
	copy(buf, SendPrefix)
	binary.BigEndian.PutUint32(buf[PrefixSize:], uint32(len(payload)))
	buf = append(buf, payload...)

	_, err := w.Write(buf)
	return err
}

// ReadLength reads one 4-byte big-endian length.
func ReadLength(r io.Reader) (uint32, error) {
	var buf [LengthSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// ReadPayload reads a length-prefixed body after checking the declared length
// against maxSize. Nothing is allocated for an oversized declaration.
func ReadPayload(r io.Reader, maxSize uint32) ([]byte, error) {
	n, err := ReadLength(r)
	if err != nil {
		return nil, err
	}
	return readBody(r, n, maxSize)
}

// WriteRecord writes one FETCH record: 4-byte big-endian length + body.
// Empty records are refused because a zero length terminates the sequence.
func WriteRecord(w io.Writer, record []byte) error {
	if len(record) == 0 {
		return errors.New("empty record")
	}

	var prefix [LengthSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(record)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(record)
	return err
}

// WriteTerminator writes the zero length that ends a FETCH response.
func WriteTerminator(w io.Writer) error {
	var zero [LengthSize]byte
	_, err := w.Write(zero[:])
	return err
}

// ReadRecord reads one FETCH record. It returns ErrEndOfRecords on the
// terminator and ErrPayloadTooLarge when the declared length exceeds maxSize.
func ReadRecord(r io.Reader, maxSize uint32) ([]byte, error) {
	n, err := ReadLength(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrEndOfRecords
	}
	return readBody(r, n, maxSize)
}

func readBody(r io.Reader, n, maxSize uint32) ([]byte, error) {
	if n > maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, n, maxSize)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
