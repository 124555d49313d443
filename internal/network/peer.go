package network

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"PayStream/internal/logger"
)

// defaultRequestTimeout bounds a Request whose context carries no
// deadline of its own.
const defaultRequestTimeout = 30 * time.Second

// Peer is one live connection to a remote node.
type Peer struct {
	publicKey ed25519.PublicKey
	address   string
	conn      *quic.Conn
	node      *Node

	closed atomic.Bool
	sendMu sync.Mutex
}

// PublicKey returns the remote node's identity key.
func (p *Peer) PublicKey() ed25519.PublicKey {
	return p.publicKey
}

// Address returns the remote address the peer was admitted under.
func (p *Peer) Address() string {
	return p.address
}

// Send pushes one message on a fresh unidirectional stream. Delivery is
// fire-and-forget; callers needing an answer use Request.
func (p *Peer) Send(data []byte) error {
	if p.closed.Load() {
		return fmt.Errorf("peer %s is closed", p.address)
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	stream, err := p.conn.OpenUniStreamSync(context.Background())
	if err != nil {
		return fmt.Errorf("open push stream:\n%w", err)
	}

	if err := writeMessage(stream, data); err != nil {
		stream.Close()
		return fmt.Errorf("push to %s:\n%w", p.address, err)
	}

	return stream.Close()
}

// Request sends data on a bidirectional stream and waits for the single
// framed response. The context bounds the whole exchange.
func (p *Peer) Request(ctx context.Context, data []byte) ([]byte, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("peer %s is closed", p.address)
	}

	stream, err := p.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open request stream:\n%w", err)
	}
	defer stream.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultRequestTimeout)
	}
	stream.SetDeadline(deadline)

	if err := writeMessage(stream, data); err != nil {
		return nil, fmt.Errorf("write request:\n%w", err)
	}

	// The length prefix tells the remote side the request is complete;
	// the stream stays open for the answer.
	response, err := readMessage(stream)
	if err != nil {
		return nil, fmt.Errorf("read response:\n%w", err)
	}

	return response, nil
}

// Close shuts the connection down. Safe to call more than once.
func (p *Peer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	return p.conn.CloseWithError(0, "closed")
}

// receiveLoop drains the peer's incoming streams until the connection
// dies, then reports the loss to the node.
func (p *Peer) receiveLoop() {
	go p.acceptRequests()

	pushes := 0
	for {
		// A bounded accept keeps the loop responsive to shutdown even
		// when the connection goes quiet.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		stream, err := p.conn.AcceptUniStream(ctx)
		cancel()

		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				continue
			}
			logger.Debug("peer receive loop ended", "peer", p.address, "error", err, "pushes", pushes)
			break
		}

		pushes++
		go p.consumePush(stream)
	}

	if !p.closed.Swap(true) {
		p.node.lost(p)
	}
}

// acceptRequests serves the peer's bidirectional streams.
func (p *Peer) acceptRequests() {
	for {
		stream, err := p.conn.AcceptStream(context.Background())
		if err != nil {
			return
		}

		go p.serveRequest(stream)
	}
}

func (p *Peer) serveRequest(stream *quic.Stream) {
	defer stream.Close()

	request, err := readMessage(stream)
	if err != nil {
		return
	}

	response, err := p.node.answer(p, request)
	if err != nil {
		return
	}

	writeMessage(stream, response)
}

// consumePush reads one pushed message and delivers it unless the dedup
// tracker has seen it recently.
func (p *Peer) consumePush(stream *quic.ReceiveStream) {
	data, err := readMessage(stream)
	if err != nil {
		logger.Debug("push read failed", "peer", p.address, "error", err)
		return
	}

	if !p.node.dedup.Check(data) {
		logger.Debug("duplicate push dropped", "peer", p.address, "bytes", len(data))
		return
	}

	p.node.deliver(p, data)
}
