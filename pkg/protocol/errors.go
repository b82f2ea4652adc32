package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ZentaChain/qight/pkg/envelope"
)

var (
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrMissingArgument  = errors.New("missing argument")
	ErrInvalidArgument  = errors.New("argument must be a single non-empty token")
	ErrCommandTooLong   = errors.New("command line too long")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrRemote           = errors.New("remote error")
	ErrEndOfRecords     = errors.New("end of records")
)

// ErrorResponse returns the text line sent to a peer for err.
func ErrorResponse(err error) string {
	switch {
	case errors.Is(err, ErrPayloadTooLarge):
		return ErrorPayloadTooBig
	case errors.Is(err, envelope.ErrCodec):
		return ErrorInvalidEnv
	case errors.Is(err, ErrMissingArgument):
		return ErrorMissingArg
	case errors.Is(err, ErrCommandTooLong):
		return ErrorCommandTooLong
	case errors.Is(err, ErrStoreUnavailable):
		return ErrorStoreFailure
	default:
		return ErrorUnknownCommand
	}
}

// ResultLabel classifies err for logs and metrics. nil maps to ResultOK.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrPayloadTooLarge):
		return ResultPayloadTooBig
	case errors.Is(err, envelope.ErrCodec):
		return ResultCodecError
	case errors.Is(err, ErrMissingArgument):
		return ResultMissingArg
	case errors.Is(err, ErrCommandTooLong):
		return ResultTooLong
	case errors.Is(err, ErrUnknownCommand):
		return ResultUnknownCommand
	case errors.Is(err, ErrStoreUnavailable):
		return ResultStoreError
	default:
		return ResultIOError
	}
}

// ParseErrorResponse maps an "ERROR: ..." line received from a peer back to
// the matching sentinel. A line that is not an error returns nil.
func ParseErrorResponse(line string) error {
	if !strings.HasPrefix(line, ErrorPrefix) {
		return nil
	}

	switch line = strings.TrimRight(line, "\r\n"); line + "\n" {
	case ErrorPayloadTooBig:
		return ErrPayloadTooLarge
	case ErrorInvalidEnv:
		return &envelope.CodecError{Kind: envelope.KindDecode, Err: fmt.Errorf("%w: %s", ErrRemote, line)}
	case ErrorMissingArg:
		return ErrMissingArgument
	case ErrorCommandTooLong:
		return ErrCommandTooLong
	case ErrorUnknownCommand:
		return ErrUnknownCommand
	case ErrorStoreFailure:
		return fmt.Errorf("%w: %w", ErrRemote, ErrStoreUnavailable)
	default:
		return fmt.Errorf("%w: %s", ErrRemote, strings.TrimPrefix(line, ErrorPrefix))
	}
}
