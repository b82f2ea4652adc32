package network

import (
	"context"
	"errors"
	"io"
	"net"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrListenerClosed   = errors.New("listener closed")
)

// Stream is one bidirectional byte stream inside a secure connection.
// libp2p's network.Stream satisfies it directly.
type Stream interface {
	io.Reader
	io.Writer

	// CloseWrite half-closes the send side; the peer reads EOF.
	CloseWrite() error

	// CloseRead tells the peer no more data will be read.
	CloseRead() error

	// Reset aborts both directions.
	Reset() error
}

// Conn is an established, authenticated connection multiplexing streams.
type Conn interface {
	AcceptStream(ctx context.Context) (Stream, error)
	OpenStream(ctx context.Context) (Stream, error)
	RemoteAddr() string
	Close(reason string) error
}

// Listener accepts incoming connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}
