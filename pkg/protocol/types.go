package protocol

// Protocol constants
const (
	// ALPN identifier negotiated during the TLS handshake
	ALPN = "qight"

	// SendPrefix opens a binary SEND request; anything else is a text command
	SendPrefix = "SEND"

	// PrefixSize is the number of bytes read to classify a request
	PrefixSize = 4

	// LengthSize is the size of every big-endian length field on the wire
	LengthSize = 4

	// DefaultMaxPayloadSize caps a single SEND body and a single FETCH record
	DefaultMaxPayloadSize = 10_000_000

	// DefaultMaxCommandLineSize bounds how much text is buffered while
	// looking for a line terminator
	DefaultMaxCommandLineSize = 4096

	// MaxResponseLineSize bounds text responses read by clients
	MaxResponseLineSize = 4096
)

// Commands
const (
	CommandHello = "HELLO"
	CommandSend  = "SEND"
	CommandFetch = "FETCH"
)

// Responses
const (
	ResponseOK          = "OK\n"
	ErrorPrefix         = "ERROR: "
	ErrorUnknownCommand = "ERROR: Unknown command\n"
	ErrorMissingArg     = "ERROR: Missing argument\n"
	ErrorCommandTooLong = "ERROR: Command too long\n"
	ErrorPayloadTooBig  = "ERROR: Payload too large\n"
	ErrorInvalidEnv     = "ERROR: Invalid envelope\n"
	ErrorStoreFailure   = "ERROR: Store unavailable\n"
)

// Stream result labels, shared by logs and metrics
const (
	ResultOK             = "ok"
	ResultUnknownCommand = "unknown_command"
	ResultMissingArg     = "missing_argument"
	ResultTooLong        = "command_too_long"
	ResultPayloadTooBig  = "payload_too_large"
	ResultCodecError     = "codec_error"
	ResultStoreError     = "store_error"
	ResultIOError        = "io_error"
)
