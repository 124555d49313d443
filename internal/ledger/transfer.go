// Package ledger tracks the client's local view of its account: balance,
// debit counter and the state machine of the transfer in flight. State
// only changes through applied events, so a crash replays to the same
// view.
package ledger

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/zeebo/blake3"

	"PayStream/internal/types"
)

// SignedTransfer is one outgoing debit, signed by the sender. The debit
// id is the sender's monotonic counter, so validators can reject replays
// and out-of-order spends.
type SignedTransfer struct {
	ID        [32]byte // ID is blake3 over sender, recipient, amount and debit id
	Sender    [32]byte // Sender is the sender's ed25519 public key
	Recipient [32]byte // Recipient is the recipient's ed25519 public key
	Amount    uint64   // Amount is the transferred amount, zero allowed
	DebitID   uint64   // DebitID is the sender's debit counter value
	Signature [64]byte // Signature is the sender's ed25519 signature over ID
}

// NewSignedTransfer builds and signs a transfer.
func NewSignedTransfer(priv ed25519.PrivateKey, recipient [32]byte, amount, debitID uint64) *SignedTransfer {
	t := &SignedTransfer{
		Recipient: recipient,
		Amount:    amount,
		DebitID:   debitID,
	}
	copy(t.Sender[:], priv.Public().(ed25519.PublicKey))
	t.ID = t.digest()
	copy(t.Signature[:], ed25519.Sign(priv, t.ID[:]))

	return t
}

// digest computes the transfer id over all signed fields.
func (t *SignedTransfer) digest() [32]byte {
	var buf [80]byte
	copy(buf[:32], t.Sender[:])
	copy(buf[32:64], t.Recipient[:])
	binary.LittleEndian.PutUint64(buf[64:72], t.Amount)
	binary.LittleEndian.PutUint64(buf[72:80], t.DebitID)

	return blake3.Sum256(buf[:])
}

// Verify checks the id and the sender's signature.
func (t *SignedTransfer) Verify() error {
	if t.digest() != t.ID {
		return fmt.Errorf("transfer id mismatch")
	}

	if !ed25519.Verify(t.Sender[:], t.ID[:], t.Signature[:]) {
		return fmt.Errorf("bad transfer signature")
	}

	return nil
}

// EncodeTransfer serializes a signed transfer.
func EncodeTransfer(t *SignedTransfer) []byte {
	builder := flatbuffers.NewBuilder(256)

	idOff := builder.CreateByteVector(t.ID[:])
	senderOff := builder.CreateByteVector(t.Sender[:])
	recipientOff := builder.CreateByteVector(t.Recipient[:])
	sigOff := builder.CreateByteVector(t.Signature[:])

	types.SignedTransferStart(builder)
	types.SignedTransferAddId(builder, idOff)
	types.SignedTransferAddSender(builder, senderOff)
	types.SignedTransferAddRecipient(builder, recipientOff)
	types.SignedTransferAddAmount(builder, t.Amount)
	types.SignedTransferAddDebitId(builder, t.DebitID)
	types.SignedTransferAddSignature(builder, sigOff)
	off := types.SignedTransferEnd(builder)

	builder.Finish(off)

	return builder.FinishedBytes()
}

// DecodeTransfer parses a serialized signed transfer.
func DecodeTransfer(data []byte) (*SignedTransfer, error) {
	raw := types.GetRootAsSignedTransfer(data, 0)

	if raw.IdLength() != 32 || raw.SenderLength() != 32 || raw.RecipientLength() != 32 {
		return nil, fmt.Errorf("bad transfer field lengths: id=%d sender=%d recipient=%d",
			raw.IdLength(), raw.SenderLength(), raw.RecipientLength())
	}

	if raw.SignatureLength() != 64 {
		return nil, fmt.Errorf("bad transfer signature length: %d", raw.SignatureLength())
	}

	t := &SignedTransfer{
		Amount:  raw.Amount(),
		DebitID: raw.DebitId(),
	}
	copy(t.ID[:], raw.IdBytes())
	copy(t.Sender[:], raw.SenderBytes())
	copy(t.Recipient[:], raw.RecipientBytes())
	copy(t.Signature[:], raw.SignatureBytes())

	return t, nil
}
