package validation

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func TestBLSSignAndVerify(t *testing.T) {
	key, err := GenerateBLSKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	message := []byte("hello world")
	signature := key.Sign(message)

	if len(signature) != BLSSignatureSize {
		t.Errorf("signature length: got %d, want %d", len(signature), BLSSignatureSize)
	}

	if !Verify(signature, message, key.PublicKeyBytes()) {
		t.Error("valid signature rejected")
	}

	if Verify(signature, []byte("other message"), key.PublicKeyBytes()) {
		t.Error("signature accepted for wrong message")
	}
}

func TestBLSKeyFromSeedIsDeterministic(t *testing.T) {
	first, err := GenerateBLSKeyFromSeed([]byte("seed"))
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	second, err := GenerateBLSKeyFromSeed([]byte("seed"))
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	if !bytes.Equal(first.PublicKeyBytes(), second.PublicKeyBytes()) {
		t.Error("same seed produced different keys")
	}

	other, err := GenerateBLSKeyFromSeed([]byte("other seed"))
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	if bytes.Equal(first.PublicKeyBytes(), other.PublicKeyBytes()) {
		t.Error("different seeds produced the same key")
	}
}

func TestDeriveFromED25519(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	first, err := DeriveFromED25519(priv)
	if err != nil {
		t.Fatalf("DeriveFromED25519 failed: %v", err)
	}

	second, err := DeriveFromED25519(priv)
	if err != nil {
		t.Fatalf("DeriveFromED25519 failed: %v", err)
	}

	if !bytes.Equal(first.PublicKeyBytes(), second.PublicKeyBytes()) {
		t.Error("derivation is not deterministic")
	}
}

func TestAggregateAndVerify(t *testing.T) {
	message := []byte("shared message")

	keys := make([]*BLSKeyPair, 3)
	signatures := make([][]byte, 3)
	publicKeys := make([][]byte, 3)

	for i := range keys {
		key, err := GenerateBLSKey()
		if err != nil {
			t.Fatalf("failed to generate key: %v", err)
		}
		keys[i] = key
		signatures[i] = key.Sign(message)
		publicKeys[i] = key.PublicKeyBytes()
	}

	aggregated, err := AggregateSignatures(signatures)
	if err != nil {
		t.Fatalf("AggregateSignatures failed: %v", err)
	}

	if !VerifyAggregated(aggregated, message, publicKeys) {
		t.Error("valid aggregated signature rejected")
	}

	if VerifyAggregated(aggregated, message, publicKeys[:2]) {
		t.Error("aggregated signature accepted with missing key")
	}

	if VerifyAggregated(aggregated, []byte("wrong message"), publicKeys) {
		t.Error("aggregated signature accepted for wrong message")
	}
}

func TestAggregateEmpty(t *testing.T) {
	if _, err := AggregateSignatures(nil); err == nil {
		t.Error("aggregating zero signatures should fail")
	}
}

func TestSignerBitmapRoundTrip(t *testing.T) {
	indices := []int{0, 3, 7, 8, 14}

	bitmap := BuildSignerBitmap(indices, 15)
	parsed := ParseSignerBitmap(bitmap)

	if len(parsed) != len(indices) {
		t.Fatalf("parsed %d indices, want %d", len(parsed), len(indices))
	}

	for i, idx := range indices {
		if parsed[i] != idx {
			t.Errorf("index %d: got %d, want %d", i, parsed[i], idx)
		}
	}
}
