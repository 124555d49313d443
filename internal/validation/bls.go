package validation

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"
)

const (
	// BLSPublicKeySize is the compressed G1 public key size.
	BLSPublicKeySize = 48

	// BLSSignatureSize is the compressed G2 signature size.
	BLSSignatureSize = 96
)

// blsDST is the ciphersuite domain separation tag shares are signed
// under. Validators and clients must agree on it or nothing verifies.
var blsDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// blsKeygenDomain binds derived BLS keys to this module's key
// derivation, so the same ed25519 seed used elsewhere yields an
// unrelated BLS key.
var blsKeygenDomain = []byte("paystream-bls-keygen")

// BLSKeyPair is a validator's share-signing key pair.
type BLSKeyPair struct {
	secret *blst.SecretKey
	public *blst.P1Affine
}

// DeriveFromED25519 derives the BLS key pair bound to an ed25519
// identity: the keygen seed is BLAKE3(domain || ed25519 seed).
func DeriveFromED25519(privKey ed25519.PrivateKey) (*BLSKeyPair, error) {
	h := blake3.New()
	h.Write(blsKeygenDomain)
	h.Write(privKey.Seed())

	var seed [32]byte
	h.Sum(seed[:0])

	return GenerateBLSKeyFromSeed(seed[:])
}

// GenerateBLSKey creates a key pair from fresh randomness.
func GenerateBLSKey() (*BLSKeyPair, error) {
	var ikm [32]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, fmt.Errorf("read random seed:\n%w", err)
	}

	return GenerateBLSKeyFromSeed(ikm[:])
}

// GenerateBLSKeyFromSeed creates a key pair deterministically from a
// seed of at least 32 bytes.
func GenerateBLSKeyFromSeed(seed []byte) (*BLSKeyPair, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("seed is %d bytes, need at least 32", len(seed))
	}

	secret := blst.KeyGen(seed)
	if secret == nil {
		return nil, fmt.Errorf("bls keygen rejected the seed")
	}

	return &BLSKeyPair{
		secret: secret,
		public: new(blst.P1Affine).From(secret),
	}, nil
}

// Sign produces a compressed signature over the message.
func (k *BLSKeyPair) Sign(message []byte) []byte {
	return new(blst.P2Affine).Sign(k.secret, message, blsDST).Compress()
}

// PublicKeyBytes returns the compressed public key.
func (k *BLSKeyPair) PublicKeyBytes() []byte {
	return k.public.Compress()
}

// uncompressSignature parses a compressed G2 signature, nil when the
// bytes are not a valid curve point.
func uncompressSignature(b []byte) *blst.P2Affine {
	if len(b) != BLSSignatureSize {
		return nil
	}

	return new(blst.P2Affine).Uncompress(b)
}

// uncompressPublicKey parses a compressed G1 public key, nil when the
// bytes are not a valid curve point.
func uncompressPublicKey(b []byte) *blst.P1Affine {
	if len(b) != BLSPublicKeySize {
		return nil
	}

	return new(blst.P1Affine).Uncompress(b)
}

// Verify checks one signature against one public key.
func Verify(signature, message, publicKey []byte) bool {
	sig := uncompressSignature(signature)
	pk := uncompressPublicKey(publicKey)
	if sig == nil || pk == nil {
		return false
	}

	return sig.Verify(true, pk, true, message, blsDST)
}

// AggregateSignatures folds signatures over the same message into one.
func AggregateSignatures(signatures [][]byte) ([]byte, error) {
	if len(signatures) == 0 {
		return nil, fmt.Errorf("no signatures to aggregate")
	}

	sigs := make([]*blst.P2Affine, len(signatures))
	for i, raw := range signatures {
		if sigs[i] = uncompressSignature(raw); sigs[i] == nil {
			return nil, fmt.Errorf("signature %d is not a valid curve point", i)
		}
	}

	agg := new(blst.P2Aggregate)
	if !agg.Aggregate(sigs, true) {
		return nil, fmt.Errorf("signature aggregation failed")
	}

	return agg.ToAffine().Compress(), nil
}

// VerifyAggregated checks an aggregate signature against the public
// keys of every signer it claims.
func VerifyAggregated(signature, message []byte, publicKeys [][]byte) bool {
	sig := uncompressSignature(signature)
	if sig == nil || len(publicKeys) == 0 {
		return false
	}

	pks := make([]*blst.P1Affine, len(publicKeys))
	for i, raw := range publicKeys {
		if pks[i] = uncompressPublicKey(raw); pks[i] == nil {
			return false
		}
	}

	agg := new(blst.P1Aggregate)
	if !agg.Aggregate(pks, true) {
		return false
	}

	return sig.Verify(true, agg.ToAffine(), true, message, blsDST)
}

// BuildSignerBitmap packs signer indices into a little-endian bitmap of
// total bits, rounded up to whole bytes.
func BuildSignerBitmap(indices []int, total int) []byte {
	bitmap := make([]byte, (total+7)/8)
	for _, idx := range indices {
		if idx >= 0 && idx < total {
			bitmap[idx/8] |= 1 << (idx % 8)
		}
	}

	return bitmap
}

// ParseSignerBitmap lists the set bits of a signer bitmap in order.
func ParseSignerBitmap(bitmap []byte) []int {
	var indices []int
	for pos, b := range bitmap {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<bit) != 0 {
				indices = append(indices, pos*8+bit)
			}
		}
	}

	return indices
}
