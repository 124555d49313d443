// Package network is the QUIC transport shared by the client and the
// validator surface. Peers authenticate each other with ed25519 keys
// embedded in self-signed TLS certificates, messages travel on
// unidirectional streams and request/response pairs on bidirectional
// ones.
package network

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// alpn names the application protocol during the TLS handshake.
	alpn = "paystream/1"

	// defaultRedialDelay is the initial pause before redialing a lost
	// peer. Further attempts back off exponentially up to the cap.
	defaultRedialDelay = 5 * time.Second
	maxRedialDelay     = 60 * time.Second
)

// peerKey is the 32-byte ed25519 public key a peer is indexed under.
type peerKey [32]byte

func toPeerKey(pub ed25519.PublicKey) peerKey {
	var k peerKey
	copy(k[:], pub)
	return k
}

// Config holds the settings for a Node.
type Config struct {
	PrivateKey  ed25519.PrivateKey
	ListenAddr  string        // e.g. ":9000", or "127.0.0.1:0" in tests
	RedialDelay time.Duration // initial redial delay, defaulted when zero
}

// Node is one endpoint of the transport. A client node dials
// validators, a validator node also accepts inbound connections.
type Node struct {
	key  ed25519.PrivateKey
	pub  ed25519.PublicKey
	addr string

	tlsConf  *tls.Config
	quicConf *quic.Config
	listener *quic.Listener

	// tableMu guards both maps. addrs outlives peers so a dropped
	// connection can be redialed.
	tableMu sync.RWMutex
	peers   map[peerKey]*Peer
	addrs   map[peerKey]string

	redialDelay time.Duration

	dedup *Dedup // filters retransmitted pushes

	handlerMu sync.RWMutex
	onMessage func(*Peer, []byte)
	onRequest func(*Peer, []byte) ([]byte, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode builds a node around an ed25519 identity. Start must be
// called before the node accepts connections.
func NewNode(cfg Config) (*Node, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}

	cert, err := selfSignedCert(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("mint certificate:\n%w", err)
	}

	redial := cfg.RedialDelay
	if redial == 0 {
		redial = defaultRedialDelay
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Node{
		key:  cfg.PrivateKey,
		pub:  cfg.PrivateKey.Public().(ed25519.PublicKey),
		addr: cfg.ListenAddr,
		tlsConf: &tls.Config{
			Certificates: []tls.Certificate{cert},
			ClientAuth:   tls.RequireAnyClientCert,
			// Certificates are self-signed; the peer's embedded
			// ed25519 key is checked instead of a chain.
			InsecureSkipVerify: true,
			NextProtos:         []string{alpn},
		},
		quicConf: &quic.Config{
			MaxIdleTimeout:  30 * time.Second,
			KeepAlivePeriod: 10 * time.Second,
		},
		peers:       make(map[peerKey]*Peer),
		addrs:       make(map[peerKey]string),
		redialDelay: redial,
		dedup:       NewDedup(),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// PublicKey returns the node's identity key.
func (n *Node) PublicKey() ed25519.PublicKey {
	return n.pub
}

// Addr returns the bound listen address, or "" before Start.
func (n *Node) Addr() string {
	if n.listener == nil {
		return ""
	}

	return n.listener.Addr().String()
}

// Start binds the listener and begins accepting connections.
func (n *Node) Start() error {
	listener, err := quic.ListenAddr(n.addr, n.tlsConf, n.quicConf)
	if err != nil {
		return fmt.Errorf("listen on %s:\n%w", n.addr, err)
	}
	n.listener = listener

	n.wg.Add(1)
	go n.acceptLoop()

	return nil
}

// Connect dials a remote node and admits it as a peer.
func (n *Node) Connect(addr string) (*Peer, error) {
	conn, err := quic.DialAddr(n.ctx, addr, n.tlsConf, n.quicConf)
	if err != nil {
		return nil, fmt.Errorf("dial %s:\n%w", addr, err)
	}

	peer, err := n.admit(conn, addr)
	if err != nil {
		conn.CloseWithError(1, "rejected")
		return nil, err
	}

	return peer, nil
}

// Broadcast pushes a message to every connected peer and returns the
// last send error, if any.
func (n *Node) Broadcast(data []byte) error {
	var lastErr error
	for _, p := range n.Peers() {
		if err := p.Send(data); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// Peers returns the currently connected peers.
func (n *Node) Peers() []*Peer {
	n.tableMu.RLock()
	defer n.tableMu.RUnlock()

	out := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}

	return out
}

// GetPeer returns the connected peer with the given identity, or nil.
func (n *Node) GetPeer(pub ed25519.PublicKey) *Peer {
	n.tableMu.RLock()
	defer n.tableMu.RUnlock()

	return n.peers[toPeerKey(pub)]
}

// OnMessage sets the handler for pushed messages.
func (n *Node) OnMessage(fn func(*Peer, []byte)) {
	n.handlerMu.Lock()
	n.onMessage = fn
	n.handlerMu.Unlock()
}

// OnRequest sets the handler answering bidirectional requests.
func (n *Node) OnRequest(fn func(*Peer, []byte) ([]byte, error)) {
	n.handlerMu.Lock()
	n.onRequest = fn
	n.handlerMu.Unlock()
}

// Close tears down the listener, every peer and the dedup tracker.
func (n *Node) Close() error {
	n.cancel()

	if n.listener != nil {
		n.listener.Close()
	}

	n.tableMu.Lock()
	for _, p := range n.peers {
		p.Close()
	}
	n.peers = make(map[peerKey]*Peer)
	n.tableMu.Unlock()

	n.dedup.Close()
	n.wg.Wait()

	return nil
}

func (n *Node) acceptLoop() {
	defer n.wg.Done()

	for {
		conn, err := n.listener.Accept(n.ctx)
		if err != nil {
			return
		}

		go func() {
			if _, err := n.admit(conn, conn.RemoteAddr().String()); err != nil {
				conn.CloseWithError(1, "rejected")
			}
		}()
	}
}

// admit verifies the remote identity, indexes the peer and starts its
// receive loop.
func (n *Node) admit(conn *quic.Conn, addr string) (*Peer, error) {
	pub, err := peerIdentity(conn.ConnectionState().TLS)
	if err != nil {
		return nil, fmt.Errorf("verify peer:\n%w", err)
	}

	peer := &Peer{
		publicKey: pub,
		address:   addr,
		conn:      conn,
		node:      n,
	}

	key := toPeerKey(pub)

	n.tableMu.Lock()
	n.peers[key] = peer
	n.addrs[key] = addr
	n.tableMu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		peer.receiveLoop()
	}()

	return peer, nil
}

// lost removes a disconnected peer and schedules a redial to its last
// known address.
func (n *Node) lost(p *Peer) {
	key := toPeerKey(p.publicKey)

	n.tableMu.Lock()
	delete(n.peers, key)
	n.tableMu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.redial(key)
	}()
}

func (n *Node) redial(key peerKey) {
	delay := n.redialDelay

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-time.After(delay):
		}

		n.tableMu.RLock()
		addr, known := n.addrs[key]
		_, connected := n.peers[key]
		n.tableMu.RUnlock()

		if !known || connected {
			return
		}

		if _, err := n.Connect(addr); err == nil {
			return
		}

		if delay *= 2; delay > maxRedialDelay {
			delay = maxRedialDelay
		}
	}
}

// deliver hands a fresh push to the message handler, if one is set.
func (n *Node) deliver(p *Peer, data []byte) {
	n.handlerMu.RLock()
	fn := n.onMessage
	n.handlerMu.RUnlock()

	if fn != nil {
		fn(p, data)
	}
}

// answer routes a request to the request handler.
func (n *Node) answer(p *Peer, data []byte) ([]byte, error) {
	n.handlerMu.RLock()
	fn := n.onRequest
	n.handlerMu.RUnlock()

	if fn == nil {
		return nil, fmt.Errorf("no request handler registered")
	}

	return fn(p, data)
}
