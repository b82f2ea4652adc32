package network

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// Application error codes used when closing QUIC connections and streams
const (
	codeNoError  quic.ApplicationErrorCode = 0
	codeShutdown quic.ApplicationErrorCode = 1

	streamCodeCancelled quic.StreamErrorCode = 0
)

// QUICOptions tunes the QUIC transport.
type QUICOptions struct {
	MaxIncomingStreams int64         // Concurrent bidirectional streams a peer may open
	MaxIdleTimeout     time.Duration // Connection closes after this much silence
	KeepAlivePeriod    time.Duration // Zero disables keep-alives
}

// DefaultQUICOptions returns the relay's transport defaults
func DefaultQUICOptions() QUICOptions {
	return QUICOptions{
		MaxIncomingStreams: 100,
		MaxIdleTimeout:     30 * time.Second,
	}
}

func (o QUICOptions) config() *quic.Config {
	return &quic.Config{
		MaxIncomingStreams: o.MaxIncomingStreams,
		MaxIdleTimeout:     o.MaxIdleTimeout,
		KeepAlivePeriod:    o.KeepAlivePeriod,
	}
}

// ListenQUIC starts a QUIC listener on addr
func ListenQUIC(addr string, tlsConf *tls.Config, opts QUICOptions) (Listener, error) {
	ln, err := quic.ListenAddr(addr, tlsConf, opts.config())
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &quicListener{ln: ln}, nil
}

// DialQUIC opens a QUIC connection to addr
func DialQUIC(ctx context.Context, addr string, tlsConf *tls.Config, opts QUICOptions) (Conn, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsConf, opts.config())
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return &quicConn{conn: conn}, nil
}

type quicListener struct {
	ln *quic.Listener
}

func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		if errors.Is(err, quic.ErrServerClosed) {
			return nil, ErrListenerClosed
		}
		return nil, err
	}
	return &quicConn{conn: conn}, nil
}

func (l *quicListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *quicListener) Close() error {
	return l.ln.Close()
}

type quicConn struct {
	conn *quic.Conn
}

func (c *quicConn) AcceptStream(ctx context.Context) (Stream, error) {
	s, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, closedErr(err)
	}
	return &quicStream{s: s}, nil
}

func (c *quicConn) OpenStream(ctx context.Context) (Stream, error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, closedErr(err)
	}
	return &quicStream{s: s}, nil
}

func (c *quicConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *quicConn) Close(reason string) error {
	code := codeNoError
	if reason != "" {
		code = codeShutdown
	}
	return c.conn.CloseWithError(code, reason)
}

// closedErr marks errors that only mean the connection went away.
func closedErr(err error) error {
	var (
		appErr  *quic.ApplicationError
		idleErr *quic.IdleTimeoutError
	)
	if errors.As(err, &appErr) || errors.As(err, &idleErr) {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return err
}

type quicStream struct {
	s *quic.Stream
}

func (s *quicStream) Read(p []byte) (int, error) {
	return s.s.Read(p)
}

func (s *quicStream) Write(p []byte) (int, error) {
	return s.s.Write(p)
}

// CloseWrite sends FIN; quic-go's Close only closes the send direction.
func (s *quicStream) CloseWrite() error {
	return s.s.Close()
}

func (s *quicStream) CloseRead() error {
	s.s.CancelRead(streamCodeCancelled)
	return nil
}

func (s *quicStream) Reset() error {
	s.s.CancelRead(streamCodeCancelled)
	s.s.CancelWrite(streamCodeCancelled)
	return nil
}
