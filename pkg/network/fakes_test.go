package network

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/ZentaChain/qight/pkg/envelope"
	"github.com/ZentaChain/qight/pkg/storage"
)

var (
	errStreamReset     = errors.New("stream reset")
	errStreamCancelled = errors.New("stream read cancelled")
)

// bufStream serves a fixed request and records the response.
type bufStream struct {
	in  io.Reader
	out bytes.Buffer

	closedWrite bool
	closedRead  bool
	reset       bool
}

func newBufStream(request []byte) *bufStream {
	return &bufStream{in: bytes.NewReader(request)}
}

func (s *bufStream) Read(p []byte) (int, error) {
	if s.reset {
		return 0, errStreamReset
	}
	return s.in.Read(p)
}

func (s *bufStream) Write(p []byte) (int, error) {
	if s.reset || s.closedWrite {
		return 0, errStreamReset
	}
	return s.out.Write(p)
}

func (s *bufStream) CloseWrite() error { s.closedWrite = true; return nil }
func (s *bufStream) CloseRead() error  { s.closedRead = true; return nil }
func (s *bufStream) Reset() error      { s.reset = true; return nil }

// failingReader returns data then a non-EOF error
type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

// pipeStream is one end of an in-memory bidirectional stream.
type pipeStream struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newPipeStreams() (*pipeStream, *pipeStream) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	return &pipeStream{r: ar, w: aw}, &pipeStream{r: br, w: bw}
}

func (s *pipeStream) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *pipeStream) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *pipeStream) CloseWrite() error           { return s.w.Close() }
func (s *pipeStream) CloseRead() error            { return s.r.CloseWithError(errStreamCancelled) }

func (s *pipeStream) Reset() error {
	s.r.CloseWithError(errStreamReset)
	s.w.CloseWithError(errStreamReset)
	return nil
}

// memConn is one end of an in-memory connection.
type memConn struct {
	remote  string
	peer    *memConn
	streams chan Stream
	done    chan struct{} // shared by both ends
	once    *sync.Once
}

func newMemConns() (client, server *memConn) {
	done := make(chan struct{})
	once := &sync.Once{}
	client = &memConn{remote: "server", streams: make(chan Stream, 16), done: done, once: once}
	server = &memConn{remote: "client", streams: make(chan Stream, 16), done: done, once: once}
	client.peer, server.peer = server, client
	return client, server
}

func (c *memConn) AcceptStream(ctx context.Context) (Stream, error) {
	select {
	case s := <-c.streams:
		return s, nil
	case <-c.done:
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *memConn) OpenStream(ctx context.Context) (Stream, error) {
	select {
	case <-c.done:
		return nil, ErrConnectionClosed
	default:
	}

	local, remote := newPipeStreams()
	select {
	case c.peer.streams <- remote:
		return local, nil
	case <-c.done:
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *memConn) RemoteAddr() string { return c.remote }

func (c *memConn) Close(string) error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// memListener hands out the server ends of memConns.
type memListener struct {
	conns chan Conn
	done  chan struct{}
	once  sync.Once
}

func newMemListener() *memListener {
	return &memListener{conns: make(chan Conn), done: make(chan struct{})}
}

func (l *memListener) dial(ctx context.Context) (*memConn, error) {
	client, server := newMemConns()
	select {
	case l.conns <- server:
		return client, nil
	case <-l.done:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *memListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *memListener) Addr() net.Addr {
	return &net.UnixAddr{Name: "mem", Net: "mem"}
}

func (l *memListener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

// brokenListener fails every Accept
type brokenListener struct{}

func (brokenListener) Accept(context.Context) (Conn, error) {
	return nil, errors.New("too many open files")
}

func (brokenListener) Addr() net.Addr { return &net.UnixAddr{Name: "broken", Net: "mem"} }
func (brokenListener) Close() error   { return nil }

// failingStore fails every operation
type failingStore struct {
	storage.MessageStore
}

func (failingStore) Append(string, *envelope.Envelope) error {
	return errors.New("disk on fire")
}

func (failingStore) Snapshot(string) ([]*envelope.Envelope, error) {
	return nil, errors.New("disk on fire")
}
