package validation

import (
	"bytes"
	"sort"

	"github.com/zeebo/blake3"
)

// Rendezvous maps data addresses to the validators responsible for them
// using rendezvous hashing, so every client derives the same ordering
// without coordination.
type Rendezvous struct {
	vs *ValidatorSet // vs is the live validator set
}

// scoredValidator pairs a validator with its computed score.
type scoredValidator struct {
	id    Hash     // id is the validator's public key
	score [32]byte // score is the computed rendezvous score
}

// NewRendezvous creates a new Rendezvous from the validator set.
func NewRendezvous(vs *ValidatorSet) *Rendezvous {
	return &Rendezvous{vs: vs}
}

// ComputeHolders returns the N validators responsible for the address.
// The validators are ordered by their rendezvous score (highest first).
func (r *Rendezvous) ComputeHolders(address [32]byte, count int) []Hash {
	validators := r.vs.Validators()

	if count <= 0 {
		return nil
	}

	if count > len(validators) {
		count = len(validators)
	}

	scored := make([]scoredValidator, len(validators))

	for i, v := range validators {
		scored[i] = scoredValidator{
			id:    v.ID,
			score: r.computeScore(address, v.ID),
		}
	}

	// Sort by score descending (highest score = responsible for address)
	sort.Slice(scored, func(i, j int) bool {
		return bytes.Compare(scored[i].score[:], scored[j].score[:]) > 0
	})

	result := make([]Hash, count)
	for i := 0; i < count; i++ {
		result[i] = scored[i].id
	}

	return result
}

// computeScore calculates the rendezvous score for an address-validator pair.
// Score = BLAKE3(address || validatorPubkey)
func (r *Rendezvous) computeScore(address, validator [32]byte) [32]byte {
	h := blake3.New()
	h.Write(address[:])
	h.Write(validator[:])

	var result [32]byte
	h.Sum(result[:0])

	return result
}
