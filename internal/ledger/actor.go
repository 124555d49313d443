package ledger

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"

	"PayStream/internal/protocol"
)

// ErrTransferInFlight is returned when a new transfer is prepared while
// a different one is still pending.
var ErrTransferInFlight = errors.New("another transfer is in flight")

// TransferState is the lifecycle stage of the pending transfer.
type TransferState int

const (
	StateInitiated     TransferState = iota // signed, not yet broadcast
	StateValidating                         // broadcast, shares arriving
	StateProofObtained                      // quorum reached, proof held
	StateRegistered                         // committed, debit applied
)

func (s TransferState) String() string {
	switch s {
	case StateInitiated:
		return "initiated"
	case StateValidating:
		return "validating"
	case StateProofObtained:
		return "proof-obtained"
	case StateRegistered:
		return "registered"
	default:
		return "unknown"
	}
}

// PendingTransfer is the transfer currently moving through validation.
type PendingTransfer struct {
	Transfer *SignedTransfer
	State    TransferState
	Proof    []byte // Proof is set once StateProofObtained is reached
}

// Event mutates actor state when applied. Applying is the only way the
// balance, debit counter or pending transfer change.
type Event interface {
	isEvent()
}

// TransferInitiated records a freshly signed transfer as pending.
type TransferInitiated struct {
	Transfer *SignedTransfer
}

// ValidationStarted marks the pending transfer as broadcast.
type ValidationStarted struct {
	ID [32]byte
}

// ProofObtained stores the aggregated payment proof for the pending
// transfer.
type ProofObtained struct {
	ID    [32]byte
	Proof []byte
}

// TransferRegistered commits the pending transfer: the balance drops,
// the debit counter advances and the pending slot clears.
type TransferRegistered struct {
	ID [32]byte
}

// CreditReceived raises the balance, e.g. for an incoming transfer or a
// test-network payout.
type CreditReceived struct {
	Amount uint64
}

func (TransferInitiated) isEvent()  {}
func (ValidationStarted) isEvent()  {}
func (ProofObtained) isEvent()      {}
func (TransferRegistered) isEvent() {}
func (CreditReceived) isEvent()     {}

// Actor is the client-side account ledger.
type Actor struct {
	mu sync.Mutex

	priv      ed25519.PrivateKey
	pub       [32]byte
	balance   uint64
	nextDebit uint64
	pending   *PendingTransfer
	history   []*SignedTransfer
}

// NewActor creates an actor for a key with a starting balance.
func NewActor(priv ed25519.PrivateKey, balance uint64) *Actor {
	a := &Actor{
		priv:    priv,
		balance: balance,
	}
	copy(a.pub[:], priv.Public().(ed25519.PublicKey))

	return a
}

// PublicKey returns the actor's account key.
func (a *Actor) PublicKey() [32]byte {
	return a.pub
}

// Balance returns the locally tracked balance.
func (a *Actor) Balance() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.balance
}

// NextDebitID returns the debit counter value the next transfer will use.
func (a *Actor) NextDebitID() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.nextDebit
}

// Pending returns a snapshot of the in-flight transfer, or nil.
func (a *Actor) Pending() *PendingTransfer {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pending == nil {
		return nil
	}

	snapshot := *a.pending

	return &snapshot
}

// History returns the registered transfers in commit order.
func (a *Actor) History() []*SignedTransfer {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*SignedTransfer, len(a.history))
	copy(out, a.history)

	return out
}

// Prepare signs a transfer against the current balance and debit
// counter and records it as pending before releasing the lock, so two
// racing calls can never sign over the same counter value. If the same
// transfer is already pending its snapshot is returned again so an
// interrupted run can resume with the same debit id. A pending transfer
// to a different recipient or amount blocks new debits, and an amount
// above the balance fails without touching any state. Zero amounts are
// accepted.
func (a *Actor) Prepare(recipient [32]byte, amount uint64) (PendingTransfer, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pending != nil {
		t := a.pending.Transfer
		if t.Recipient == recipient && t.Amount == amount {
			return *a.pending, true, nil
		}
		return PendingTransfer{}, false, fmt.Errorf("pending transfer %x:\n%w", t.ID[:4], ErrTransferInFlight)
	}

	if amount > a.balance {
		return PendingTransfer{}, false, fmt.Errorf("amount %d exceeds balance %d:\n%w",
			amount, a.balance, protocol.ErrInsufficientBalance)
	}

	transfer := NewSignedTransfer(a.priv, recipient, amount, a.nextDebit)
	if err := a.apply(TransferInitiated{Transfer: transfer}); err != nil {
		return PendingTransfer{}, false, err
	}

	return *a.pending, false, nil
}

// Apply advances actor state by one event.
func (a *Actor) Apply(event Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.apply(event)
}

func (a *Actor) apply(event Event) error {
	switch ev := event.(type) {
	case TransferInitiated:
		if a.pending != nil {
			if a.pending.Transfer.ID == ev.Transfer.ID {
				return nil
			}
			return ErrTransferInFlight
		}
		a.pending = &PendingTransfer{Transfer: ev.Transfer, State: StateInitiated}
		return nil

	case ValidationStarted:
		p, err := a.pendingFor(ev.ID)
		if err != nil {
			return err
		}
		if p.State > StateValidating {
			return nil
		}
		p.State = StateValidating
		return nil

	case ProofObtained:
		p, err := a.pendingFor(ev.ID)
		if err != nil {
			return err
		}
		if p.State >= StateProofObtained {
			return nil
		}
		p.State = StateProofObtained
		p.Proof = ev.Proof
		return nil

	case TransferRegistered:
		if a.pending == nil {
			// A twin of this call may already have committed the
			// transfer.
			for _, t := range a.history {
				if t.ID == ev.ID {
					return nil
				}
			}
		}
		p, err := a.pendingFor(ev.ID)
		if err != nil {
			return err
		}
		if p.State != StateProofObtained {
			return fmt.Errorf("register in state %s", p.State)
		}
		if p.Transfer.Amount > a.balance {
			return fmt.Errorf("registered amount %d exceeds balance %d", p.Transfer.Amount, a.balance)
		}
		a.balance -= p.Transfer.Amount
		a.nextDebit++
		a.history = append(a.history, p.Transfer)
		a.pending = nil
		return nil

	case CreditReceived:
		a.balance += ev.Amount
		return nil

	default:
		return fmt.Errorf("unknown event type %T", event)
	}
}

func (a *Actor) pendingFor(id [32]byte) (*PendingTransfer, error) {
	if a.pending == nil {
		return nil, fmt.Errorf("no pending transfer for %x", id[:4])
	}

	if a.pending.Transfer.ID != id {
		return nil, fmt.Errorf("event for %x, pending is %x", id[:4], a.pending.Transfer.ID[:4])
	}

	return a.pending, nil
}
