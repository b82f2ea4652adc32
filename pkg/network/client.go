package network

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ZentaChain/qight/pkg/envelope"
	"github.com/ZentaChain/qight/pkg/protocol"
)

// errorRecordPrefix is what a FETCH reader sees when the relay answered with
// an ERROR line. As a length it is far above any accepted record size.
const errorRecordPrefix = "ERRO"

// ClientOptions configures a RelayClient.
type ClientOptions struct {
	MaxPayloadSize uint32
	Logger         *zap.SugaredLogger
}

// RelayClient issues relay commands over a connection, one stream per
// command.
type RelayClient struct {
	conn   Conn
	opts   ClientOptions
	logger *zap.SugaredLogger
	closed atomic.Bool
}

// Connect dials a relay over QUIC
func Connect(ctx context.Context, addr string, tlsConf *tls.Config, qopts QUICOptions, opts ClientOptions) (*RelayClient, error) {
	conn, err := DialQUIC(ctx, addr, tlsConf, qopts)
	if err != nil {
		return nil, err
	}
	return NewRelayClient(conn, opts), nil
}

// NewRelayClient wraps an established connection
func NewRelayClient(conn Conn, opts ClientOptions) *RelayClient {
	if opts.MaxPayloadSize == 0 {
		opts.MaxPayloadSize = protocol.DefaultMaxPayloadSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RelayClient{
		conn:   conn,
		opts:   opts,
		logger: logger.With("relay", conn.RemoteAddr()),
	}
}

// RemoteAddr returns the relay's address
func (c *RelayClient) RemoteAddr() string {
	return c.conn.RemoteAddr()
}

// Closed reports whether the client was closed or lost its connection
func (c *RelayClient) Closed() bool {
	return c.closed.Load()
}

// Hello announces clientID and returns the relay's greeting line.
func (c *RelayClient) Hello(ctx context.Context, clientID string) (string, error) {
	line, err := protocol.FormatCommandLine(protocol.CommandHello, clientID)
	if err != nil {
		return "", err
	}

	s, done, err := c.open(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	resp, err := c.roundTripText(s, line)
	if err != nil {
		return "", err
	}
	if perr := protocol.ParseErrorResponse(resp); perr != nil {
		return "", perr
	}

	c.logger.Debugw("hello", "client", clientID, "response", strings.TrimSpace(resp))
	return resp, nil
}

// Send stores env on the relay. An envelope whose encoding exceeds the
// payload limit is refused without contacting the relay.
func (c *RelayClient) Send(ctx context.Context, env *envelope.Envelope) error {
	body, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	if uint64(len(body)) > uint64(c.opts.MaxPayloadSize) {
		return fmt.Errorf("%w: %d bytes (max %d)", protocol.ErrPayloadTooLarge, len(body), c.opts.MaxPayloadSize)
	}

	s, done, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer done()

	writeErr := protocol.WriteSendRequest(s, body, c.opts.MaxPayloadSize)
	if writeErr == nil {
		writeErr = s.CloseWrite()
	}

	// The relay may stop reading early and still answer
	resp, readErr := readResponseLine(s)
	if readErr != nil {
		s.Reset()
		if writeErr != nil {
			return fmt.Errorf("send request: %w", writeErr)
		}
		return fmt.Errorf("read response: %w", readErr)
	}

	switch {
	case resp == protocol.ResponseOK:
		c.logger.Debugw("sent envelope", "id", env.ID, "recipient", env.Recipient, "bytes", len(body))
		return nil
	case protocol.ParseErrorResponse(resp) != nil:
		return protocol.ParseErrorResponse(resp)
	case writeErr != nil:
		return fmt.Errorf("send request: %w", writeErr)
	default:
		return fmt.Errorf("%w: unexpected response %q", protocol.ErrRemote, resp)
	}
}

// Fetch returns every envelope the relay holds for recipient, in append
// order. Fetching does not remove them.
func (c *RelayClient) Fetch(ctx context.Context, recipient string) ([]*envelope.Envelope, error) {
	line, err := protocol.FormatCommandLine(protocol.CommandFetch, recipient)
	if err != nil {
		return nil, err
	}

	s, done, err := c.open(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	if err := c.writeRequest(s, line); err != nil {
		s.Reset()
		return nil, err
	}

	envs, err := c.readRecords(s)
	if err != nil {
		s.Reset()
		return nil, err
	}

	c.logger.Debugw("fetched envelopes", "recipient", recipient, "count", len(envs))
	return envs, nil
}

func (c *RelayClient) readRecords(s Stream) ([]*envelope.Envelope, error) {
	var first [protocol.LengthSize]byte
	if _, err := io.ReadFull(s, first[:]); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if string(first[:]) == errorRecordPrefix {
		rest, err := readResponseLine(s)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if perr := protocol.ParseErrorResponse(errorRecordPrefix + rest); perr != nil {
			return nil, perr
		}
		return nil, fmt.Errorf("%w: unexpected response %q", protocol.ErrRemote, errorRecordPrefix+rest)
	}

	envs := []*envelope.Envelope{}
	r := io.MultiReader(strings.NewReader(string(first[:])), s)
	for {
		rec, err := protocol.ReadRecord(r, c.opts.MaxPayloadSize)
		if errors.Is(err, protocol.ErrEndOfRecords) {
			return envs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read record %d: %w", len(envs), err)
		}

		env, err := envelope.Decode(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(envs), err)
		}
		envs = append(envs, env)
	}
}

// Close closes the connection with reason.
func (c *RelayClient) Close(reason string) error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close(reason)
}

// open starts a stream; done must be called when the exchange is over.
func (c *RelayClient) open(ctx context.Context) (Stream, func(), error) {
	if c.closed.Load() {
		return nil, nil, ErrConnectionClosed
	}

	s, err := c.conn.OpenStream(ctx)
	if err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			c.closed.Store(true)
		}
		return nil, nil, fmt.Errorf("open stream: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { s.Reset() })
	return s, func() { stop() }, nil
}

func (c *RelayClient) writeRequest(s Stream, req []byte) error {
	if _, err := s.Write(req); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	if err := s.CloseWrite(); err != nil {
		return fmt.Errorf("close request: %w", err)
	}
	return nil
}

func (c *RelayClient) roundTripText(s Stream, req []byte) (string, error) {
	if err := c.writeRequest(s, req); err != nil {
		s.Reset()
		return "", err
	}
	resp, err := readResponseLine(s)
	if err != nil {
		s.Reset()
		return "", fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}

// readResponseLine reads a text response up to the relay's half-close.
func readResponseLine(r io.Reader) (string, error) {
	buf, err := io.ReadAll(io.LimitReader(r, protocol.MaxResponseLineSize+1))
	if err != nil {
		return "", err
	}
	if len(buf) > protocol.MaxResponseLineSize {
		return "", fmt.Errorf("response longer than %d bytes", protocol.MaxResponseLineSize)
	}
	return string(buf), nil
}
