// Package sequence implements the replicated append-only sequence type:
// an ordered list of opaque entries with versioned owner and permission
// histories. All mutations are appends to one of the three facets, so
// replicas converge by replaying records in index order.
package sequence

import (
	"encoding/binary"
	"fmt"

	"PayStream/internal/protocol"
)

// Flavor selects the privacy variant of a sequence.
type Flavor byte

const (
	FlavorPublic  Flavor = 0 // readable by anyone, never deletable
	FlavorPrivate Flavor = 1 // read-gated, owner-deletable
)

// Address identifies a sequence on the network.
type Address struct {
	Name [32]byte // Name is the content-independent identifier
	Tag  uint64   // Tag is the application type tag
}

// Key returns the packed 40-byte address used on the wire and as a
// storage key.
func (a Address) Key() [40]byte {
	var key [40]byte
	copy(key[:32], a.Name[:])
	binary.BigEndian.PutUint64(key[32:], a.Tag)
	return key
}

// AddressFromKey unpacks a 40-byte address key.
func AddressFromKey(key []byte) (Address, error) {
	if len(key) != 40 {
		return Address{}, fmt.Errorf("bad address key length: %d", len(key))
	}

	var addr Address
	copy(addr.Name[:], key[:32])
	addr.Tag = binary.BigEndian.Uint64(key[32:])

	return addr, nil
}

func (a Address) String() string {
	return fmt.Sprintf("%x:%d", a.Name[:4], a.Tag)
}

// Owner is one record in the owner history. The index fields pin the
// entry and permission counts at the moment ownership changed.
type Owner struct {
	PublicKey        [32]byte
	EntriesIndex     uint64
	PermissionsIndex uint64
}

// Sequence is the local replica of one sequence object.
type Sequence struct {
	address Address
	flavor  Flavor

	entries     [][]byte
	owners      []Owner
	permissions []PermissionsRecord
}

// NewPrivate creates a private sequence owned by the given key.
func NewPrivate(name [32]byte, tag uint64, owner [32]byte) *Sequence {
	return newSequence(name, tag, FlavorPrivate, owner)
}

// NewPublic creates a public sequence owned by the given key.
func NewPublic(name [32]byte, tag uint64, owner [32]byte) *Sequence {
	return newSequence(name, tag, FlavorPublic, owner)
}

func newSequence(name [32]byte, tag uint64, flavor Flavor, owner [32]byte) *Sequence {
	return &Sequence{
		address: Address{Name: name, Tag: tag},
		flavor:  flavor,
		owners:  []Owner{{PublicKey: owner}},
	}
}

// Address returns the sequence address.
func (s *Sequence) Address() Address {
	return s.address
}

// Flavor returns the privacy variant.
func (s *Sequence) Flavor() Flavor {
	return s.flavor
}

// IsPrivate reports whether the sequence is private.
func (s *Sequence) IsPrivate() bool {
	return s.flavor == FlavorPrivate
}

// EntriesIndex returns the number of entries, which is also the index
// the next entry will occupy.
func (s *Sequence) EntriesIndex() uint64 {
	return uint64(len(s.entries))
}

// OwnersIndex returns the number of owner records.
func (s *Sequence) OwnersIndex() uint64 {
	return uint64(len(s.owners))
}

// PermissionsIndex returns the number of permission records.
func (s *Sequence) PermissionsIndex() uint64 {
	return uint64(len(s.permissions))
}

// Entry returns the entry at the given index.
func (s *Sequence) Entry(index uint64) ([]byte, error) {
	if index >= uint64(len(s.entries)) {
		return nil, protocol.ErrNoSuchEntry
	}

	return s.entries[index], nil
}

// LastEntry returns the index and value of the most recent entry.
func (s *Sequence) LastEntry() (uint64, []byte, error) {
	if len(s.entries) == 0 {
		return 0, nil, protocol.ErrNoSuchEntry
	}

	index := uint64(len(s.entries) - 1)

	return index, s.entries[index], nil
}

// InRange returns the entries between two positions, end exclusive.
func (s *Sequence) InRange(start, end Index) ([][]byte, error) {
	length := uint64(len(s.entries))

	lo, ok := start.resolve(length)
	if !ok {
		return nil, protocol.ErrNoSuchEntry
	}

	hi, ok := end.resolve(length)
	if !ok || lo > hi {
		return nil, protocol.ErrNoSuchEntry
	}

	out := make([][]byte, hi-lo)
	copy(out, s.entries[lo:hi])

	return out, nil
}

// Owner returns the owner record at the given history index.
func (s *Sequence) Owner(index uint64) (Owner, error) {
	if index >= uint64(len(s.owners)) {
		return Owner{}, protocol.ErrNoSuchEntry
	}

	return s.owners[index], nil
}

// CurrentOwner returns the most recent owner record.
func (s *Sequence) CurrentOwner() (Owner, error) {
	if len(s.owners) == 0 {
		return Owner{}, protocol.ErrNoSuchEntry
	}

	return s.owners[len(s.owners)-1], nil
}

// Append adds an entry locally and returns the mutation to replicate.
func (s *Sequence) Append(entry []byte) EntryOp {
	op := EntryOp{
		Address: s.address,
		Entry:   entry,
		Index:   uint64(len(s.entries)),
	}
	s.entries = append(s.entries, entry)

	return op
}

// ApplyAppend replays a replicated append. The index must match the
// current entry count, otherwise the record is out of order.
func (s *Sequence) ApplyAppend(entry []byte, index uint64) error {
	if index != uint64(len(s.entries)) {
		return fmt.Errorf("append at %d, have %d entries:\n%w",
			index, len(s.entries), protocol.ErrInvalidOperation)
	}
	s.entries = append(s.entries, entry)

	return nil
}

// SetOwner records a new owner locally and returns the mutation to
// replicate. The record pins the current entry and permission counts.
func (s *Sequence) SetOwner(pk [32]byte) OwnerOp {
	op := OwnerOp{
		Address: s.address,
		Owner:   pk,
		Index:   uint64(len(s.owners)),
	}
	s.owners = append(s.owners, Owner{
		PublicKey:        pk,
		EntriesIndex:     uint64(len(s.entries)),
		PermissionsIndex: uint64(len(s.permissions)),
	})

	return op
}

// ApplySetOwner replays a replicated owner change.
func (s *Sequence) ApplySetOwner(pk [32]byte, index uint64) error {
	if index != uint64(len(s.owners)) {
		return fmt.Errorf("owner record at %d, have %d:\n%w",
			index, len(s.owners), protocol.ErrInvalidOperation)
	}
	s.owners = append(s.owners, Owner{
		PublicKey:        pk,
		EntriesIndex:     uint64(len(s.entries)),
		PermissionsIndex: uint64(len(s.permissions)),
	})

	return nil
}

// EntryOp is an append mutation bound to its causal entry index.
type EntryOp struct {
	Address Address
	Entry   []byte
	Index   uint64
}

// OwnerOp is an ownership change bound to its causal owner index.
type OwnerOp struct {
	Address Address
	Owner   [32]byte
	Index   uint64
}

// Index addresses a position in the entry list, counted from either end.
type Index struct {
	fromEnd bool
	value   uint64
}

// FromStart addresses the nth position from the front.
func FromStart(n uint64) Index {
	return Index{value: n}
}

// FromEnd addresses the nth position from the back. FromEnd(0) is the
// position just past the last entry.
func FromEnd(n uint64) Index {
	return Index{fromEnd: true, value: n}
}

func (i Index) resolve(length uint64) (uint64, bool) {
	if i.fromEnd {
		if i.value > length {
			return 0, false
		}
		return length - i.value, true
	}

	if i.value > length {
		return 0, false
	}

	return i.value, true
}
