package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func TestAppendEntryCmdRoundTrip(t *testing.T) {
	cmd := &AppendEntryCmd{
		Index: 7,
		Entry: []byte("payload"),
		Proof: []byte("proof bytes"),
	}
	cmd.Address[0] = 0xaa
	cmd.Address[AddressSize-1] = 0xbb

	decoded, err := DecodeCommand(cmd.Encode())
	if err != nil {
		t.Fatalf("DecodeCommand failed: %v", err)
	}

	got, ok := decoded.(*AppendEntryCmd)
	if !ok {
		t.Fatalf("decoded to %T", decoded)
	}

	if got.Address != cmd.Address || got.Index != 7 {
		t.Errorf("header fields differ: %+v", got)
	}

	if !bytes.Equal(got.Entry, cmd.Entry) || !bytes.Equal(got.Proof, cmd.Proof) {
		t.Errorf("payload fields differ: %+v", got)
	}
}

func TestSetPermissionsCmdRoundTrip(t *testing.T) {
	cmd := &SetPermissionsCmd{
		Index:       2,
		Flavor:      1,
		Permissions: []byte("packed record"),
		Proof:       []byte("proof"),
	}
	cmd.Address[3] = 0x11

	decoded, err := DecodeCommand(cmd.Encode())
	if err != nil {
		t.Fatalf("DecodeCommand failed: %v", err)
	}

	got, ok := decoded.(*SetPermissionsCmd)
	if !ok {
		t.Fatalf("decoded to %T", decoded)
	}

	if got.Address != cmd.Address || got.Index != 2 || got.Flavor != 1 {
		t.Errorf("header fields differ: %+v", got)
	}

	if !bytes.Equal(got.Permissions, cmd.Permissions) || !bytes.Equal(got.Proof, cmd.Proof) {
		t.Errorf("payload fields differ: %+v", got)
	}
}

func TestEmptyFieldsRoundTrip(t *testing.T) {
	// A register command with an empty proof still decodes.
	decoded, err := DecodeCommand((&RegisterTransferCmd{}).Encode())
	if err != nil {
		t.Fatalf("DecodeCommand failed: %v", err)
	}

	if got := decoded.(*RegisterTransferCmd); len(got.Proof) != 0 {
		t.Errorf("proof: got %d bytes, want 0", len(got.Proof))
	}
}

func TestDecodeCommandRejectsTruncated(t *testing.T) {
	cmd := &AppendEntryCmd{Entry: []byte("payload"), Proof: []byte("proof")}
	encoded := cmd.Encode()

	for _, cut := range []int{0, 1, AddressSize, len(encoded) - 1} {
		if _, err := DecodeCommand(encoded[:cut]); err == nil {
			t.Errorf("truncation at %d accepted", cut)
		}
	}
}

func TestDecodeCommandUnknownType(t *testing.T) {
	if _, err := DecodeCommand([]byte{0xff}); err == nil {
		t.Error("unknown command type accepted")
	}
}

func TestQueryRoundTrip(t *testing.T) {
	seqQuery := &GetSequenceQuery{}
	seqQuery.Address[0] = 0x42

	decoded, err := DecodeQuery(seqQuery.Encode())
	if err != nil {
		t.Fatalf("DecodeQuery failed: %v", err)
	}
	if got := decoded.(*GetSequenceQuery); got.Address != seqQuery.Address {
		t.Errorf("address differs: %x", got.Address[:4])
	}

	balQuery := &GetBalanceQuery{}
	balQuery.Key[0] = 0x99

	decoded, err = DecodeQuery(balQuery.Encode())
	if err != nil {
		t.Fatalf("DecodeQuery failed: %v", err)
	}
	if got := decoded.(*GetBalanceQuery); got.Key != balQuery.Key {
		t.Errorf("key differs: %x", got.Key[:4])
	}
}

func TestResponseRoundTrip(t *testing.T) {
	if _, err := DecodeResponse(EncodeResponse(&AckResponse{})); err != nil {
		t.Errorf("ack round trip failed: %v", err)
	}

	decoded, err := DecodeResponse(EncodeResponse(&BalanceResponse{Amount: 1234}))
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if got := decoded.(*BalanceResponse); got.Amount != 1234 {
		t.Errorf("amount: got %d, want 1234", got.Amount)
	}

	share := &ShareResponse{Signature: bytes.Repeat([]byte{0x07}, 96)}
	share.TransferID[0] = 1
	share.Validator[0] = 2
	share.Digest[0] = 3

	decoded, err = DecodeResponse(EncodeResponse(share))
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	got := decoded.(*ShareResponse)
	if got.TransferID != share.TransferID || got.Validator != share.Validator ||
		got.Digest != share.Digest || !bytes.Equal(got.Signature, share.Signature) {
		t.Errorf("share fields differ: %+v", got)
	}
}

func TestErrorResponseCodes(t *testing.T) {
	sentinels := []error{
		ErrPermissionDenied,
		ErrInsufficientBalance,
		ErrNoSuchData,
		ErrInvalidOperation,
		ErrNoSuchEntry,
	}

	for _, sentinel := range sentinels {
		code := ErrorCode(sentinel)
		if code == 0 {
			t.Errorf("%v has no wire code", sentinel)
			continue
		}

		resp := &ErrorResponse{Code: code}
		if !errors.Is(resp.Err(), sentinel) {
			t.Errorf("code %d mapped to %v, want %v", code, resp.Err(), sentinel)
		}
	}

	// Wrapped sentinels still map to their code.
	wrapped := fmt.Errorf("append rejected:\n%w", ErrPermissionDenied)
	if ErrorCode(wrapped) != ErrorCode(ErrPermissionDenied) {
		t.Error("wrapped sentinel lost its wire code")
	}

	// Unknown codes degrade to a network error.
	resp := &ErrorResponse{Code: 0xfe}
	if !errors.Is(resp.Err(), ErrNetwork) {
		t.Errorf("unknown code mapped to %v, want ErrNetwork", resp.Err())
	}
}

func TestCompressRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("sequence entry data "), 100)

	compressed, err := Compress(payload)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if len(compressed) >= len(payload) {
		t.Errorf("repetitive payload did not shrink: %d >= %d", len(compressed), len(payload))
	}

	restored, err := Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}

	if !bytes.Equal(restored, payload) {
		t.Error("round trip altered the payload")
	}

	if _, err := Decompress([]byte("not zstd")); err == nil {
		t.Error("garbage input accepted")
	}
}
