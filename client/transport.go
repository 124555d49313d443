package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zeebo/blake3"

	"PayStream/internal/logger"
	"PayStream/internal/network"
	"PayStream/internal/protocol"
	"PayStream/internal/validation"
)

// Transport carries commands, queries and transfer validation between
// the client and the validator section.
type Transport interface {
	// SendCommand sends a mutation to all validators and returns once a
	// quorum acknowledged it.
	SendCommand(ctx context.Context, cmd protocol.Command) error

	// SendQuery sends a read to the validators responsible for the data,
	// falling back through the holder ranking on failure.
	SendQuery(ctx context.Context, query protocol.Query) (protocol.Response, error)

	// BroadcastValidate pushes a transfer validation request to all
	// validators. Shares arrive asynchronously via OnShare.
	BroadcastValidate(ctx context.Context, cmd *protocol.ValidateTransferCmd) error

	// OnShare sets the handler for incoming validation shares.
	OnShare(fn func(validation.Share))

	Close() error
}

// queryHolders is how many ranked holders a query tries before failing.
const queryHolders = 3

// QUICTransport implements Transport over the QUIC node.
type QUICTransport struct {
	node       *network.Node
	validators *validation.ValidatorSet
	rendezvous *validation.Rendezvous

	onShare func(validation.Share)
	mu      sync.RWMutex
}

// NewQUICTransport creates a transport and connects to every validator.
func NewQUICTransport(node *network.Node, vs *validation.ValidatorSet) (*QUICTransport, error) {
	t := &QUICTransport{
		node:       node,
		validators: vs,
		rendezvous: validation.NewRendezvous(vs),
	}

	node.OnMessage(func(p *network.Peer, data []byte) {
		t.handleMessage(data)
	})

	for _, v := range vs.Validators() {
		if _, err := node.Connect(v.Addr); err != nil {
			return nil, fmt.Errorf("connect validator %s:\n%w", v.Addr, err)
		}
	}

	return t, nil
}

// OnShare sets the handler for incoming validation shares.
func (t *QUICTransport) OnShare(fn func(validation.Share)) {
	t.mu.Lock()
	t.onShare = fn
	t.mu.Unlock()
}

// handleMessage decodes a pushed message. Validators only push share
// responses, anything else is dropped.
func (t *QUICTransport) handleMessage(data []byte) {
	resp, err := protocol.DecodeResponse(data)
	if err != nil {
		logger.Debug("undecodable push dropped", "error", err)
		return
	}

	share, ok := resp.(*protocol.ShareResponse)
	if !ok {
		logger.Debug("unexpected push dropped", "type", fmt.Sprintf("%T", resp))
		return
	}

	t.mu.RLock()
	fn := t.onShare
	t.mu.RUnlock()

	if fn != nil {
		fn(validation.Share{
			TransferID: share.TransferID,
			Validator:  validation.Hash(share.Validator),
			Digest:     share.Digest,
			Signature:  share.Signature,
		})
	}
}

// SendCommand fans the command out to all validators in parallel and
// waits for a quorum of acks. A definitive rejection from any validator
// fails the command with the rejection's error.
func (t *QUICTransport) SendCommand(ctx context.Context, cmd protocol.Command) error {
	validators := t.validators.Validators()
	quorum := t.validators.QuorumSize()
	data := cmd.Encode()

	var acks atomic.Int32
	results := make(chan error, len(validators))

	for _, v := range validators {
		go func(v *validation.ValidatorInfo) {
			results <- t.request(ctx, v, data, func(resp protocol.Response) error {
				if _, ok := resp.(*protocol.AckResponse); !ok {
					return fmt.Errorf("got %T:\n%w", resp, protocol.ErrUnexpectedResponse)
				}
				return nil
			})
		}(v)
	}

	var rejection error

	for range validators {
		err := <-results

		switch {
		case err == nil:
			if acks.Add(1) >= int32(quorum) {
				return nil
			}
		case protocol.ErrorCode(err) != 0:
			// Typed rejection, no quorum of acks can follow.
			if rejection == nil {
				rejection = err
			}
		default:
			logger.Debug("command send failed", "error", err)
		}
	}

	if rejection != nil {
		return rejection
	}

	return fmt.Errorf("%d of %d acks:\n%w", acks.Load(), quorum, protocol.ErrNetwork)
}

// SendQuery asks the top-ranked holders of the queried data in order and
// returns the first response.
func (t *QUICTransport) SendQuery(ctx context.Context, query protocol.Query) (protocol.Response, error) {
	holders := t.rendezvous.ComputeHolders(queryKey(query), queryHolders)
	if len(holders) == 0 {
		return nil, fmt.Errorf("no validators:\n%w", protocol.ErrNetwork)
	}

	data := query.Encode()

	var lastErr error

	for _, holder := range holders {
		info := t.validators.Get(holder)
		if info == nil {
			continue
		}

		var resp protocol.Response
		err := t.request(ctx, info, data, func(r protocol.Response) error {
			resp = r
			return nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		logger.Debug("query holder failed", "validator", fmt.Sprintf("%x", holder[:4]), "error", err)
	}

	return nil, fmt.Errorf("all holders failed:\n%w", lastErr)
}

// BroadcastValidate pushes the validation request to every validator.
func (t *QUICTransport) BroadcastValidate(ctx context.Context, cmd *protocol.ValidateTransferCmd) error {
	if err := t.node.Broadcast(cmd.Encode()); err != nil {
		return fmt.Errorf("broadcast validate:\n%w", err)
	}

	return nil
}

// Close shuts the underlying node down.
func (t *QUICTransport) Close() error {
	return t.node.Close()
}

// request performs one request against a validator and decodes the
// response. Error responses become their sentinel errors, other
// responses are passed to check.
func (t *QUICTransport) request(ctx context.Context, v *validation.ValidatorInfo, data []byte, check func(protocol.Response) error) error {
	peer := t.node.GetPeer(v.ID[:])
	if peer == nil {
		return fmt.Errorf("validator %x not connected:\n%w", v.ID[:4], protocol.ErrNetwork)
	}

	raw, err := peer.Request(ctx, data)
	if err != nil {
		return fmt.Errorf("request:\n%w", err)
	}

	resp, err := protocol.DecodeResponse(raw)
	if err != nil {
		return fmt.Errorf("decode response:\n%w", err)
	}

	if errResp, ok := resp.(*protocol.ErrorResponse); ok {
		return errResp.Err()
	}

	return check(resp)
}

// queryKey derives the rendezvous key for a query.
func queryKey(query protocol.Query) [32]byte {
	switch q := query.(type) {
	case *protocol.GetSequenceQuery:
		return blake3.Sum256(q.Address[:])
	case *protocol.GetBalanceQuery:
		return q.Key
	default:
		return blake3.Sum256(query.Encode())
	}
}
