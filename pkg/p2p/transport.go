package p2p

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	relaynet "github.com/ZentaChain/qight/pkg/network"
)

// ProtocolID is the libp2p protocol carrying relay streams
const ProtocolID = protocol.ID("/qight/relay/1.0.0")

// Listener turns incoming relay streams into one relaynet.Conn per remote
// peer, so the relay server handles them exactly like QUIC connections.
type Listener struct {
	node  *Node
	conns chan relaynet.Conn

	mu     sync.Mutex
	byPeer map[peer.ID]*peerConn

	done     chan struct{}
	once     sync.Once
	notifiee *network.NotifyBundle
}

// Listen registers the relay protocol handler on the node's host
func (n *Node) Listen() *Listener {
	l := &Listener{
		node:   n,
		conns:  make(chan relaynet.Conn),
		byPeer: make(map[peer.ID]*peerConn),
		done:   make(chan struct{}),
	}

	l.notifiee = &network.NotifyBundle{
		DisconnectedF: func(nw network.Network, c network.Conn) {
			if nw.Connectedness(c.RemotePeer()) != network.Connected {
				l.drop(c.RemotePeer())
			}
		},
	}
	n.host.Network().Notify(l.notifiee)
	n.host.SetStreamHandler(ProtocolID, l.handleStream)

	n.logger.Infow("relay protocol registered", "protocol", ProtocolID)
	return l
}

func (l *Listener) handleStream(s network.Stream) {
	remote := s.Conn().RemotePeer()

	l.mu.Lock()
	pc, ok := l.byPeer[remote]
	if !ok {
		pc = newPeerConn(l.node, remote)
		l.byPeer[remote] = pc
	}
	l.mu.Unlock()

	if !ok {
		select {
		case l.conns <- pc:
		case <-l.done:
			s.Reset()
			return
		}
	}

	if !pc.deliver(s) {
		s.Reset()
	}
}

// drop ends the conn of a peer that disconnected
func (l *Listener) drop(id peer.ID) {
	l.mu.Lock()
	pc, ok := l.byPeer[id]
	delete(l.byPeer, id)
	l.mu.Unlock()

	if ok {
		pc.closeLocal()
	}
}

func (l *Listener) Accept(ctx context.Context) (relaynet.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, relaynet.ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) Addr() net.Addr {
	addrs := l.node.Addresses()
	if len(addrs) == 0 {
		return addr{s: "/p2p/" + l.node.ID().String()}
	}
	return addr{s: addrs[0].String() + "/p2p/" + l.node.ID().String()}
}

// Close stops accepting relay streams and ends every bridged conn
func (l *Listener) Close() error {
	l.once.Do(func() {
		l.node.host.RemoveStreamHandler(ProtocolID)
		l.node.host.Network().StopNotify(l.notifiee)
		close(l.done)

		l.mu.Lock()
		conns := l.byPeer
		l.byPeer = make(map[peer.ID]*peerConn)
		l.mu.Unlock()

		for _, pc := range conns {
			pc.closeLocal()
		}
	})
	return nil
}

// Dial connects to a relay. target is either a full multiaddr ending in
// /p2p/<id>, or a bare peer ID whose addresses are looked up in the DHT.
func (n *Node) Dial(ctx context.Context, target string) (relaynet.Conn, error) {
	var info peer.AddrInfo

	if strings.HasPrefix(target, "/") {
		parsed, err := parsePeerAddr(target)
		if err != nil {
			return nil, err
		}
		info = *parsed
	} else {
		id, err := peer.Decode(target)
		if err != nil {
			return nil, fmt.Errorf("invalid peer id %q: %w", target, err)
		}
		info, err = n.FindPeer(ctx, id)
		if err != nil {
			return nil, err
		}
	}

	if err := n.connect(ctx, info); err != nil {
		return nil, err
	}
	return newPeerConn(n, info.ID), nil
}

// peerConn is the relaynet.Conn for one remote peer.
type peerConn struct {
	node    *Node
	remote  peer.ID
	streams chan relaynet.Stream
	done    chan struct{}
	once    sync.Once
}

func newPeerConn(n *Node, remote peer.ID) *peerConn {
	return &peerConn{
		node:    n,
		remote:  remote,
		streams: make(chan relaynet.Stream),
		done:    make(chan struct{}),
	}
}

func (c *peerConn) deliver(s network.Stream) bool {
	select {
	case c.streams <- s:
		return true
	case <-c.done:
		return false
	}
}

func (c *peerConn) AcceptStream(ctx context.Context) (relaynet.Stream, error) {
	select {
	case s := <-c.streams:
		return s, nil
	case <-c.done:
		return nil, relaynet.ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *peerConn) OpenStream(ctx context.Context) (relaynet.Stream, error) {
	select {
	case <-c.done:
		return nil, relaynet.ErrConnectionClosed
	default:
	}

	s, err := c.node.host.NewStream(ctx, c.remote, ProtocolID)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	return s, nil
}

func (c *peerConn) RemoteAddr() string {
	return c.remote.String()
}

// Close ends this conn and disconnects from the peer
func (c *peerConn) Close(reason string) error {
	c.closeLocal()
	if err := c.node.host.Network().ClosePeer(c.remote); err != nil {
		return fmt.Errorf("failed to disconnect from peer: %w", err)
	}
	return nil
}

func (c *peerConn) closeLocal() {
	c.once.Do(func() { close(c.done) })
}

// addr is a multiaddr presented as a net.Addr
type addr struct {
	s string
}

func (a addr) Network() string { return "libp2p" }
func (a addr) String() string  { return a.s }
