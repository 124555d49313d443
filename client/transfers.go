package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PayStream/internal/ledger"
	"PayStream/internal/logger"
	"PayStream/internal/protocol"
	"PayStream/internal/validation"
)

// Send transfers an amount to a recipient key. The debit is signed,
// broadcast for validation, proven by a quorum of shares and registered
// on the network before the local ledger commits it. An interrupted
// transfer resumes from its recorded stage on the next call with the
// same recipient and amount.
func (c *Client) Send(ctx context.Context, recipient [32]byte, amount uint64) error {
	_, err := c.sendTransfer(ctx, recipient, amount)
	return err
}

// sendTransfer drives one transfer through the full lifecycle and
// returns the serialized payment proof.
func (c *Client) sendTransfer(ctx context.Context, recipient [32]byte, amount uint64) ([]byte, error) {
	pending, resumed, err := c.actor.Prepare(recipient, amount)
	if err != nil {
		return nil, err
	}
	transfer := pending.Transfer

	if resumed {
		logger.Info("resuming transfer", "id", fmt.Sprintf("%x", transfer.ID[:4]),
			"state", pending.State)
	}

	proofBytes := pending.Proof
	if pending.State < ledger.StateProofObtained {
		proof, err := c.collectProof(ctx, transfer)
		if err != nil {
			return nil, err
		}

		proofBytes = proof.Encode()
		if err := c.actor.Apply(ledger.ProofObtained{ID: transfer.ID, Proof: proofBytes}); err != nil {
			return nil, fmt.Errorf("record proof:\n%w", err)
		}
	}

	if err := c.transport.SendCommand(ctx, &protocol.RegisterTransferCmd{Proof: proofBytes}); err != nil {
		// The proof survives in the pending transfer, a later call
		// retries registration without revalidating.
		return nil, fmt.Errorf("register transfer:\n%w", err)
	}

	if err := c.actor.Apply(ledger.TransferRegistered{ID: transfer.ID}); err != nil {
		return nil, fmt.Errorf("commit transfer:\n%w", err)
	}

	logger.Info("transfer registered", "id", fmt.Sprintf("%x", transfer.ID[:4]),
		"amount", amount, "balance", c.actor.Balance())

	return proofBytes, nil
}

// collectProof broadcasts the transfer and waits for the aggregated
// quorum proof. On timeout the pending transfer is left in place so the
// caller can resume with the same debit id.
func (c *Client) collectProof(ctx context.Context, transfer *ledger.SignedTransfer) (*validation.Proof, error) {
	encoded := ledger.EncodeTransfer(transfer)

	// The waiter slot doubles as the mutual-exclusion gate: a second
	// goroutine resuming the same transfer must not reopen collection
	// underneath the first.
	waiter, err := c.waiters.register(transfer.ID)
	if err != nil {
		return nil, fmt.Errorf("transfer %x:\n%w", transfer.ID[:4], err)
	}
	defer c.waiters.drop(transfer.ID)

	c.aggregator.Open(transfer.ID, encoded)
	defer c.aggregator.Close(transfer.ID)

	if err := c.transport.BroadcastValidate(ctx, &protocol.ValidateTransferCmd{Transfer: encoded}); err != nil {
		return nil, fmt.Errorf("broadcast transfer:\n%w", err)
	}

	if err := c.actor.Apply(ledger.ValidationStarted{ID: transfer.ID}); err != nil {
		return nil, fmt.Errorf("record broadcast:\n%w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case res := <-waiter:
		if res.err != nil {
			return nil, fmt.Errorf("transfer %x:\n%w", transfer.ID[:4], res.err)
		}
		return res.proof, nil

	case <-ctx.Done():
		return nil, fmt.Errorf("transfer %x:\n%w", transfer.ID[:4], ctx.Err())

	case <-timer.C:
		return nil, fmt.Errorf("transfer %x:\n%w", transfer.ID[:4], protocol.ErrValidationTimeout)
	}
}

// handleShare feeds one incoming share into the aggregator and wakes the
// waiting transfer when a proof or a fatal conflict comes out.
func (c *Client) handleShare(share validation.Share) {
	outcome, proof, err := c.aggregator.Receive(share)
	if err != nil {
		c.waiters.signal(share.TransferID, waitResult{err: err})
		return
	}

	if outcome == validation.OutcomeProof {
		c.waiters.signal(share.TransferID, waitResult{proof: proof})
	}
}

// waitResult is the terminal outcome of share collection.
type waitResult struct {
	proof *validation.Proof
	err   error
}

// waiterTable routes aggregation outcomes to waiting transfers.
type waiterTable struct {
	mu      sync.Mutex
	waiters map[[32]byte]chan waitResult
}

func newWaiterTable() *waiterTable {
	return &waiterTable{waiters: make(map[[32]byte]chan waitResult)}
}

func (w *waiterTable) register(id [32]byte) (<-chan waitResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.waiters[id]; ok {
		return nil, ledger.ErrTransferInFlight
	}

	ch := make(chan waitResult, 1)
	w.waiters[id] = ch

	return ch, nil
}

func (w *waiterTable) drop(id [32]byte) {
	w.mu.Lock()
	delete(w.waiters, id)
	w.mu.Unlock()
}

func (w *waiterTable) signal(id [32]byte, res waitResult) {
	w.mu.Lock()
	ch, ok := w.waiters[id]
	w.mu.Unlock()

	if !ok {
		return
	}

	select {
	case ch <- res:
	default: // already signaled
	}
}
