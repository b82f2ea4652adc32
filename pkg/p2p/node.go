// Package p2p carries the relay protocol over libp2p streams.
package p2p

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

// DHTPrefix keeps qight's routing table separate from the public IPFS DHT
const DHTPrefix = "/qight"

var ErrNoBootstrapPeers = errors.New("failed to connect to any bootstrap peers")

// PeerInfo contains information about a connected peer
type PeerInfo struct {
	ID        peer.ID
	Addresses []multiaddr.Multiaddr
	LastSeen  time.Time
}

// NodeConfig contains configuration for creating a node
type NodeConfig struct {
	ListenAddrs    []string // Multiaddrs; defaults to an ephemeral TCP port on all interfaces
	BootstrapPeers []string // Full multiaddrs including /p2p/<id>
	PrivateKey     crypto.PrivKey
	EnableNAT      bool
	Logger         *zap.SugaredLogger
}

// Node is a libp2p host with a Kademlia DHT for peer routing.
type Node struct {
	host   host.Host
	dht    *dht.IpfsDHT
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.SugaredLogger

	mu           sync.RWMutex
	peers        map[peer.ID]*PeerInfo
	bootstrapped bool
}

// NewNode creates a libp2p host and DHT, then joins the bootstrap peers
func NewNode(ctx context.Context, cfg NodeConfig) (*Node, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	priv := cfg.PrivateKey
	if priv == nil {
		var err error
		priv, _, err = crypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate key pair: %w", err)
		}
	}

	listenAddrs := cfg.ListenAddrs
	if len(listenAddrs) == 0 {
		listenAddrs = []string{"/ip4/0.0.0.0/tcp/0"}
	}

	opts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(listenAddrs...),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	}
	if cfg.EnableNAT {
		opts = append(opts, libp2p.NATPortMap(), libp2p.EnableNATService())
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	kad, err := dht.New(ctx, h,
		dht.Mode(dht.ModeServer),
		dht.ProtocolPrefix(DHTPrefix),
		dht.BootstrapPeers(),
	)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to create DHT: %w", err)
	}

	nodeCtx, cancel := context.WithCancel(ctx)
	n := &Node{
		host:   h,
		dht:    kad,
		ctx:    nodeCtx,
		cancel: cancel,
		logger: logger.With("peer_id", h.ID().String()),
		peers:  make(map[peer.ID]*PeerInfo),
	}

	if len(cfg.BootstrapPeers) > 0 {
		if err := n.Bootstrap(cfg.BootstrapPeers); err != nil {
			n.Close()
			return nil, fmt.Errorf("failed to bootstrap: %w", err)
		}
	}

	n.logger.Infow("p2p node started", "addrs", n.FullAddrs())
	return n, nil
}

// Bootstrap connects to bootstrap peers and joins the DHT network
func (n *Node) Bootstrap(bootstrapPeers []string) error {
	var connected int
	for _, addr := range bootstrapPeers {
		if err := n.Connect(n.ctx, addr); err != nil {
			n.logger.Warnw("bootstrap peer unreachable", "addr", addr, "error", err)
			continue
		}
		connected++
	}

	if connected == 0 {
		return ErrNoBootstrapPeers
	}

	if err := n.dht.Bootstrap(n.ctx); err != nil {
		return fmt.Errorf("failed to bootstrap DHT: %w", err)
	}

	n.mu.Lock()
	n.bootstrapped = true
	n.mu.Unlock()

	n.logger.Infow("bootstrapped", "peers", connected)
	return nil
}

// Connect connects to a peer given its full multiaddr
func (n *Node) Connect(ctx context.Context, peerAddr string) error {
	info, err := parsePeerAddr(peerAddr)
	if err != nil {
		return err
	}
	return n.connect(ctx, *info)
}

func (n *Node) connect(ctx context.Context, info peer.AddrInfo) error {
	if err := n.host.Connect(ctx, info); err != nil {
		return fmt.Errorf("failed to connect to peer: %w", err)
	}

	n.mu.Lock()
	n.peers[info.ID] = &PeerInfo{
		ID:        info.ID,
		Addresses: info.Addrs,
		LastSeen:  time.Now(),
	}
	n.mu.Unlock()
	return nil
}

// FindPeer resolves a peer ID to its addresses through the DHT
func (n *Node) FindPeer(ctx context.Context, id peer.ID) (peer.AddrInfo, error) {
	info, err := n.dht.FindPeer(ctx, id)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("failed to find peer %s: %w", id, err)
	}
	return info, nil
}

// ID returns the node's peer ID
func (n *Node) ID() peer.ID {
	return n.host.ID()
}

// Addresses returns the node's listen addresses
func (n *Node) Addresses() []multiaddr.Multiaddr {
	return n.host.Addrs()
}

// FullAddrs returns dialable addresses including the /p2p component
func (n *Node) FullAddrs() []string {
	addrs := n.host.Addrs()
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = fmt.Sprintf("%s/p2p/%s", a, n.host.ID())
	}
	return out
}

// Host returns the underlying libp2p host
func (n *Node) Host() host.Host {
	return n.host
}

// PeerCount returns the number of connected peers
func (n *Node) PeerCount() int {
	return len(n.host.Network().Peers())
}

// IsBootstrapped returns whether the node has successfully bootstrapped
func (n *Node) IsBootstrapped() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.bootstrapped
}

// NodeInfo describes this node
type NodeInfo struct {
	ID           string   `json:"id"`
	Addresses    []string `json:"addresses"`
	PeerCount    int      `json:"peer_count"`
	Bootstrapped bool     `json:"bootstrapped"`
}

// Info returns information about this node
func (n *Node) Info() NodeInfo {
	return NodeInfo{
		ID:           n.host.ID().String(),
		Addresses:    n.FullAddrs(),
		PeerCount:    n.PeerCount(),
		Bootstrapped: n.IsBootstrapped(),
	}
}

// Close gracefully shuts down the node
func (n *Node) Close() error {
	n.cancel()

	var errs []error
	if err := n.dht.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close DHT: %w", err))
	}
	if err := n.host.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close host: %w", err))
	}
	return errors.Join(errs...)
}

func parsePeerAddr(addr string) (*peer.AddrInfo, error) {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid peer address: %w", err)
	}

	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse peer info: %w", err)
	}
	return info, nil
}
