package network

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/ZentaChain/qight/pkg/envelope"
	"github.com/ZentaChain/qight/pkg/metrics"
	"github.com/ZentaChain/qight/pkg/protocol"
	"github.com/ZentaChain/qight/pkg/storage"
)

// readChunkSize is how much is read per call while looking for a newline
const readChunkSize = 512

// labelUnknown stands in for the command in logs and metrics when a request
// names no known command.
const labelUnknown = "UNKNOWN"

// State is a step of the per-stream exchange.
type State int

const (
	StateStart State = iota
	StateReadPrefix
	StateBinaryCommand
	StateTextCommand
	StateDispatch
	StateRespond
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateReadPrefix:
		return "read_prefix"
	case StateBinaryCommand:
		return "binary_command"
	case StateTextCommand:
		return "text_command"
	case StateDispatch:
		return "dispatch"
	case StateRespond:
		return "respond"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// HandlerConfig bounds what a single stream may make the relay buffer.
type HandlerConfig struct {
	MaxPayloadSize     uint32
	MaxCommandLineSize int
}

// DefaultHandlerConfig returns the protocol defaults
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		MaxPayloadSize:     protocol.DefaultMaxPayloadSize,
		MaxCommandLineSize: protocol.DefaultMaxCommandLineSize,
	}
}

// StreamHandler runs exactly one request/response exchange per stream.
type StreamHandler struct {
	store   storage.MessageStore
	cfg     HandlerConfig
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewStreamHandler creates a handler backed by store
func NewStreamHandler(store storage.MessageStore, cfg HandlerConfig, logger *zap.SugaredLogger, m *metrics.Metrics) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.MaxPayloadSize == 0 {
		cfg.MaxPayloadSize = protocol.DefaultMaxPayloadSize
	}
	if cfg.MaxCommandLineSize <= 0 {
		cfg.MaxCommandLineSize = protocol.DefaultMaxCommandLineSize
	}
	return &StreamHandler{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// Handle reads one command from s, executes it and writes the response.
//
// Recoverable protocol errors (unknown command, missing argument, overlong
// line) are answered with an ERROR line and Handle returns nil. Oversized or
// undecodable SEND bodies are answered, then Handle returns the error. I/O
// failures reset the stream. Cancelling ctx resets the stream.
func (h *StreamHandler) Handle(ctx context.Context, s Stream, remote string) error {
	stop := context.AfterFunc(ctx, func() { s.Reset() })
	defer stop()

	h.metrics.StreamStarted()
	defer h.metrics.StreamFinished()

	x := &exchange{
		h:       h,
		s:       s,
		logger:  h.logger.With("remote", remote),
		state:   StateStart,
		command: labelUnknown,
	}
	return x.run()
}

// exchange holds the state of one stream.
type exchange struct {
	h      *StreamHandler
	s      Stream
	logger *zap.SugaredLogger
	state  State

	prefix []byte // bytes consumed while classifying
	eof    bool   // peer finished sending during classification

	command string
	arg     string
	env     *envelope.Envelope

	text    string   // text response
	records [][]byte // FETCH records, terminator appended on write
	failure error    // protocol error being reported to the peer
}

func (x *exchange) run() error {
	for x.state != StateClosed {
		var err error

		switch x.state {
		case StateStart:
			x.state = StateReadPrefix
		case StateReadPrefix:
			err = x.readPrefix()
		case StateBinaryCommand:
			err = x.readSend()
		case StateTextCommand:
			err = x.readTextCommand()
		case StateDispatch:
			x.dispatch()
		case StateRespond:
			err = x.respond()
		}

		if err != nil {
			x.logger.Warnw("stream failed", "state", x.state.String(), "command", x.command, "error", err)
			x.s.Reset()
			x.h.metrics.CommandHandled(x.command, protocol.ResultIOError)
			return err
		}
	}

	result := protocol.ResultLabel(x.failure)
	x.h.metrics.CommandHandled(x.command, result)

	if x.failure == nil {
		x.logger.Debugw("stream handled", "command", x.command, "arg", x.arg)
		return nil
	}

	x.logger.Infow("rejected request", "command", x.command, "result", result, "error", x.failure)
	if aborts(x.failure) {
		return x.failure
	}
	return nil
}

// aborts reports whether a rejected request also fails the stream.
func aborts(err error) bool {
	return errors.Is(err, protocol.ErrPayloadTooLarge) || errors.Is(err, envelope.ErrCodec)
}

func (x *exchange) readPrefix() error {
	buf := make([]byte, protocol.PrefixSize)
	n, err := io.ReadFull(x.s, buf)

	switch {
	case err == nil && string(buf) == protocol.SendPrefix:
		x.command = protocol.CommandSend
		x.state = StateBinaryCommand
	case err == nil:
		x.prefix = buf
		x.state = StateTextCommand
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		// Short requests are still valid text commands
		x.prefix = buf[:n]
		x.eof = true
		x.state = StateTextCommand
	default:
		return fmt.Errorf("read prefix: %w", err)
	}
	return nil
}

func (x *exchange) readSend() error {
	n, err := protocol.ReadLength(x.s)
	if err != nil {
		return fmt.Errorf("read send length: %w", err)
	}

	if n > x.h.cfg.MaxPayloadSize {
		x.s.CloseRead()
		x.reject(fmt.Errorf("%w: %d bytes (max %d)", protocol.ErrPayloadTooLarge, n, x.h.cfg.MaxPayloadSize))
		return nil
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(x.s, body); err != nil {
		return fmt.Errorf("read send body: %w", err)
	}
	x.h.metrics.PayloadReceived(len(body))

	env, err := envelope.Decode(body)
	if err != nil {
		x.s.CloseRead()
		x.reject(err)
		return nil
	}

	x.env = env
	x.arg = env.Recipient
	x.state = StateDispatch
	return nil
}

func (x *exchange) readTextCommand() error {
	limit := x.h.cfg.MaxCommandLineSize
	buf := x.prefix
	chunk := make([]byte, readChunkSize)

	var line, rest []byte
	for {
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			line, rest = buf[:i], buf[i+1:]
			break
		}
		if len(buf) > limit || x.eof {
			line = buf
			break
		}

		n, err := x.s.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if errors.Is(err, io.EOF) {
			x.eof = true
		} else if err != nil {
			return fmt.Errorf("read command: %w", err)
		}
	}

	if len(line) > limit {
		if !x.eof {
			x.s.CloseRead()
		}
		x.reject(fmt.Errorf("%w: more than %d bytes", protocol.ErrCommandTooLong, limit))
		return nil
	}
	if len(rest) > 0 {
		x.logger.Warnw("discarding bytes after command line", "bytes", len(rest))
	}

	cmd, err := protocol.ParseCommandLine(line)
	if cmd.Name != "" && !errors.Is(err, protocol.ErrUnknownCommand) {
		x.command = cmd.Name
	}
	if err != nil {
		x.reject(err)
		return nil
	}

	x.arg = cmd.Arg
	x.state = StateDispatch
	return nil
}

func (x *exchange) dispatch() {
	x.state = StateRespond

	switch x.command {
	case protocol.CommandHello:
		x.logger.Infow("client hello", "client", x.arg)
		x.text = protocol.WelcomeMessage(x.arg)

	case protocol.CommandSend:
		if err := x.h.store.Append(x.env.Recipient, x.env); err != nil {
			x.logger.Errorw("failed to store envelope", "recipient", x.env.Recipient, "error", err)
			x.fail(fmt.Errorf("%w: %v", protocol.ErrStoreUnavailable, err))
			return
		}
		x.h.metrics.EnvelopeStored()
		x.logger.Debugw("stored envelope",
			"id", x.env.ID,
			"sender", x.env.Sender,
			"recipient", x.env.Recipient,
			"bytes", len(x.env.Payload),
		)
		x.text = protocol.ResponseOK

	case protocol.CommandFetch:
		envs, err := x.h.store.Snapshot(x.arg)
		if err != nil {
			x.logger.Errorw("failed to read queue", "recipient", x.arg, "error", err)
			x.fail(fmt.Errorf("%w: %v", protocol.ErrStoreUnavailable, err))
			return
		}

		records := make([][]byte, 0, len(envs))
		for _, e := range envs {
			rec, err := envelope.Encode(e)
			if err != nil {
				x.logger.Errorw("failed to encode stored envelope", "id", e.ID, "error", err)
				x.fail(fmt.Errorf("%w: %v", protocol.ErrStoreUnavailable, err))
				return
			}
			records = append(records, rec)
		}
		x.records = records
		x.h.metrics.EnvelopesFetched(len(records))
		x.logger.Debugw("fetched queue", "recipient", x.arg, "count", len(records))
	}
}

func (x *exchange) respond() error {
	w := bufio.NewWriter(x.s)

	if x.command == protocol.CommandFetch && x.failure == nil {
		for _, rec := range x.records {
			if err := protocol.WriteRecord(w, rec); err != nil {
				return fmt.Errorf("write record: %w", err)
			}
		}
		if err := protocol.WriteTerminator(w); err != nil {
			return fmt.Errorf("write terminator: %w", err)
		}
	} else if _, err := w.WriteString(x.text); err != nil {
		return fmt.Errorf("write response: %w", err)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	if err := x.s.CloseWrite(); err != nil {
		return fmt.Errorf("close stream: %w", err)
	}

	x.state = StateClosed
	return nil
}

// reject answers a malformed request with its ERROR line.
func (x *exchange) reject(err error) {
	x.fail(err)
	x.state = StateRespond
}

func (x *exchange) fail(err error) {
	x.failure = err
	x.text = protocol.ErrorResponse(err)
}
