// Package validation collects validator countersignatures over transfers
// and aggregates a quorum of them into a payment proof.
package validation

import "sync"

// quorumThreshold is the minimum percentage of validators required (67%).
const quorumThreshold = 67

// Hash is a 32-byte validator identifier (the ed25519 public key).
type Hash [32]byte

// ValidatorInfo describes one validator of the payment section.
type ValidatorInfo struct {
	ID           Hash     // ID is the validator's ed25519 public key
	BLSPublicKey [48]byte // BLSPublicKey is the compressed BLS key shares are signed with
	Addr         string   // Addr is the validator's network address
}

// ValidatorSet holds the active validators.
// It is safe for concurrent access.
type ValidatorSet struct {
	mu         sync.RWMutex
	validators []*ValidatorInfo
	index      map[Hash]int
}

// NewValidatorSet creates a validator set from a list of validators.
func NewValidatorSet(validators []*ValidatorInfo) *ValidatorSet {
	vs := &ValidatorSet{
		validators: make([]*ValidatorInfo, len(validators)),
		index:      make(map[Hash]int, len(validators)),
	}

	for i, v := range validators {
		vs.validators[i] = v
		vs.index[v.ID] = i
	}

	return vs
}

// Add adds a validator to the set. Returns true if added, false if it
// already exists.
func (vs *ValidatorSet) Add(v *ValidatorInfo) bool {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if _, exists := vs.index[v.ID]; exists {
		return false
	}

	vs.index[v.ID] = len(vs.validators)
	vs.validators = append(vs.validators, v)

	return true
}

// Get returns the validator with the given id, or nil.
func (vs *ValidatorSet) Get(id Hash) *ValidatorInfo {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	if idx, exists := vs.index[id]; exists {
		return vs.validators[idx]
	}

	return nil
}

// Contains checks if an id is in the validator set.
func (vs *ValidatorSet) Contains(id Hash) bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	_, exists := vs.index[id]
	return exists
}

// Len returns the number of validators.
func (vs *ValidatorSet) Len() int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	return len(vs.validators)
}

// QuorumSize returns the minimum number of shares for a proof (67%).
func (vs *ValidatorSet) QuorumSize() int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	return (len(vs.validators)*quorumThreshold + 99) / 100
}

// Validators returns a copy of the validator list.
func (vs *ValidatorSet) Validators() []*ValidatorInfo {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	result := make([]*ValidatorInfo, len(vs.validators))
	copy(result, vs.validators)

	return result
}

// Index returns the index of a validator in the set, or -1 if not found.
func (vs *ValidatorSet) Index(id Hash) int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	if idx, exists := vs.index[id]; exists {
		return idx
	}

	return -1
}
