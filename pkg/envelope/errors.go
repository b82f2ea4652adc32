package envelope

import (
	"errors"
	"fmt"
)

var (
	// ErrCodec matches every *CodecError via errors.Is.
	ErrCodec = errors.New("envelope codec error")

	ErrTruncated     = errors.New("truncated field")
	ErrTrailingBytes = errors.New("trailing bytes after envelope")
	ErrInvalidUTF8   = errors.New("invalid UTF-8")
	ErrNilEnvelope   = errors.New("nil envelope")
)

// Kind tells whether a codec failure happened while encoding or decoding.
type Kind uint8

const (
	KindEncode Kind = iota + 1
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindEncode:
		return "encode"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// CodecError is returned by Encode and Decode.
type CodecError struct {
	Kind  Kind
	Field string // Field being processed when the failure happened, if any
	Err   error
}

func (e *CodecError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("envelope %s: %s: %v", e.Kind, e.Field, e.Err)
	}
	return fmt.Sprintf("envelope %s: %v", e.Kind, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrCodec) true for any codec error.
func (e *CodecError) Is(target error) bool {
	return target == ErrCodec
}

// IsDecodeError reports whether err carries a decoding CodecError.
func IsDecodeError(err error) bool {
	var ce *CodecError
	return errors.As(err, &ce) && ce.Kind == KindDecode
}

func decodeError(field string, err error) error {
	return &CodecError{Kind: KindDecode, Field: field, Err: err}
}
