package validation

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"PayStream/internal/types"
)

// Proof is a quorum of validation shares aggregated into one signature.
// It carries the serialized transfer so any holder can verify it against
// the validator set alone.
type Proof struct {
	TransferID   [32]byte // TransferID identifies the proven transfer
	Transfer     []byte   // Transfer is the serialized signed transfer
	Signature    []byte   // Signature is the aggregated BLS signature
	SignerBitmap []byte   // SignerBitmap marks which validators signed
}

// Encode serializes a proof.
func (p *Proof) Encode() []byte {
	builder := flatbuffers.NewBuilder(512)

	transferOff := builder.CreateByteVector(p.Transfer)
	sigOff := builder.CreateByteVector(p.Signature)
	bitmapOff := builder.CreateByteVector(p.SignerBitmap)

	types.PaymentProofStart(builder)
	types.PaymentProofAddTransfer(builder, transferOff)
	types.PaymentProofAddSignature(builder, sigOff)
	types.PaymentProofAddSignerBitmap(builder, bitmapOff)
	off := types.PaymentProofEnd(builder)

	builder.Finish(off)

	return builder.FinishedBytes()
}

// DecodeProof parses a serialized proof.
func DecodeProof(data []byte) (*Proof, error) {
	raw := types.GetRootAsPaymentProof(data, 0)

	if raw.TransferLength() == 0 {
		return nil, fmt.Errorf("proof without transfer")
	}

	if raw.SignatureLength() != BLSSignatureSize {
		return nil, fmt.Errorf("bad proof signature length: %d", raw.SignatureLength())
	}

	p := &Proof{
		Transfer:     append([]byte(nil), raw.TransferBytes()...),
		Signature:    append([]byte(nil), raw.SignatureBytes()...),
		SignerBitmap: append([]byte(nil), raw.SignerBitmapBytes()...),
	}
	p.TransferID = TransferDigestID(p.Transfer)

	return p, nil
}

// TransferDigestID extracts the transfer id field from a serialized
// transfer, falling back to a zero id if the field is malformed.
func TransferDigestID(transfer []byte) [32]byte {
	var id [32]byte

	raw := types.GetRootAsSignedTransfer(transfer, 0)
	if raw.IdLength() == 32 {
		copy(id[:], raw.IdBytes())
	}

	return id
}

// VerifyProof checks an aggregated proof against the validator set: the
// signer bitmap must cover a quorum and the aggregated signature must
// verify over the transfer digest under those validators' keys.
func VerifyProof(p *Proof, vs *ValidatorSet) error {
	indices := ParseSignerBitmap(p.SignerBitmap)
	if len(indices) < vs.QuorumSize() {
		return fmt.Errorf("proof has %d signers, quorum is %d", len(indices), vs.QuorumSize())
	}

	validators := vs.Validators()
	keys := make([][]byte, 0, len(indices))

	for _, idx := range indices {
		if idx >= len(validators) {
			return fmt.Errorf("signer index %d out of range", idx)
		}
		keys = append(keys, validators[idx].BLSPublicKey[:])
	}

	digest := TransferDigest(p.Transfer)
	if !VerifyAggregated(p.Signature, digest[:], keys) {
		return fmt.Errorf("aggregated signature does not verify")
	}

	return nil
}
