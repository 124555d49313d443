package validation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"

	"PayStream/internal/logger"
)

// ErrConflictingTransfer is returned when a validator countersigns a
// different transfer body under the same transfer id. No quorum can form
// after that, the caller must abandon the transfer.
var ErrConflictingTransfer = errors.New("conflicting transfer digest")

// Outcome classifies the effect of one received share.
type Outcome int

const (
	OutcomeNotApplicable Outcome = iota // share absorbed without effect
	OutcomePending                      // share counted, quorum not yet reached
	OutcomeProof                        // quorum reached, proof emitted
)

// Share is one validator's countersignature over a transfer digest.
type Share struct {
	TransferID [32]byte // TransferID identifies the transfer
	Validator  Hash     // Validator is the signer's id
	Digest     [32]byte // Digest is the transfer digest the validator saw
	Signature  []byte   // Signature is the BLS signature over the digest
}

// TransferDigest computes the message validators sign for a serialized
// transfer.
func TransferDigest(transfer []byte) [32]byte {
	return blake3.Sum256(transfer)
}

// openTransfer tracks share collection for one in-flight transfer.
type openTransfer struct {
	transfer []byte          // transfer is the serialized signed transfer
	digest   [32]byte        // digest is the expected signing message
	shares   map[Hash][]byte // shares maps signer id to signature
	emitted  bool            // emitted is true once the proof went out
}

// Aggregator collects validation shares and emits a payment proof once a
// quorum of distinct validators countersigned the same digest. Each open
// transfer emits at most one proof, later shares are absorbed.
type Aggregator struct {
	mu         sync.Mutex
	validators *ValidatorSet
	open       map[[32]byte]*openTransfer
}

// NewAggregator creates an aggregator over the validator set.
func NewAggregator(vs *ValidatorSet) *Aggregator {
	return &Aggregator{
		validators: vs,
		open:       make(map[[32]byte]*openTransfer),
	}
}

// Open starts collecting shares for a serialized transfer.
func (a *Aggregator) Open(transferID [32]byte, transfer []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.open[transferID]; exists {
		return
	}

	a.open[transferID] = &openTransfer{
		transfer: transfer,
		digest:   TransferDigest(transfer),
		shares:   make(map[Hash][]byte),
	}
}

// Close stops collecting shares for a transfer.
func (a *Aggregator) Close(transferID [32]byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.open, transferID)
}

// Receive processes one share. Shares for unknown transfers, duplicate
// signers, unknown validators and bad signatures are absorbed without
// effect. A share over a conflicting digest is fatal for the transfer.
func (a *Aggregator) Receive(share Share) (Outcome, *Proof, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ot, exists := a.open[share.TransferID]
	if !exists || ot.emitted {
		return OutcomeNotApplicable, nil, nil
	}

	if share.Digest != ot.digest {
		return OutcomeNotApplicable, nil, fmt.Errorf(
			"validator %x signed digest %x, expected %x:\n%w",
			share.Validator[:4], share.Digest[:4], ot.digest[:4], ErrConflictingTransfer)
	}

	if _, dup := ot.shares[share.Validator]; dup {
		logger.Debug("duplicate share absorbed", "transfer", fmt.Sprintf("%x", share.TransferID[:4]),
			"validator", fmt.Sprintf("%x", share.Validator[:4]))
		return OutcomeNotApplicable, nil, nil
	}

	info := a.validators.Get(share.Validator)
	if info == nil {
		logger.Warn("share from unknown validator", "validator", fmt.Sprintf("%x", share.Validator[:4]))
		return OutcomeNotApplicable, nil, nil
	}

	if !Verify(share.Signature, ot.digest[:], info.BLSPublicKey[:]) {
		logger.Warn("share with bad signature", "validator", fmt.Sprintf("%x", share.Validator[:4]))
		return OutcomeNotApplicable, nil, nil
	}

	ot.shares[share.Validator] = share.Signature

	if len(ot.shares) < a.validators.QuorumSize() {
		return OutcomePending, nil, nil
	}

	proof, err := a.buildProof(share.TransferID, ot)
	if err != nil {
		return OutcomeNotApplicable, nil, fmt.Errorf("build proof:\n%w", err)
	}
	ot.emitted = true

	return OutcomeProof, proof, nil
}

// buildProof aggregates the collected shares into one proof.
func (a *Aggregator) buildProof(transferID [32]byte, ot *openTransfer) (*Proof, error) {
	indices := make([]int, 0, len(ot.shares))
	signatures := make([][]byte, 0, len(ot.shares))

	for id, sig := range ot.shares {
		indices = append(indices, a.validators.Index(id))
		signatures = append(signatures, sig)
	}

	aggregated, err := AggregateSignatures(signatures)
	if err != nil {
		return nil, err
	}

	return &Proof{
		TransferID:   transferID,
		Transfer:     ot.transfer,
		Signature:    aggregated,
		SignerBitmap: BuildSignerBitmap(indices, a.validators.Len()),
	}, nil
}
