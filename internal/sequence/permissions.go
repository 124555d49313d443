package sequence

import (
	"PayStream/internal/protocol"
)

// Action is a class of operation gated by permissions.
type Action int

const (
	ActionRead Action = iota
	ActionAppend
	ActionManage // owner and permission changes
)

func (a Action) String() string {
	switch a {
	case ActionRead:
		return "read"
	case ActionAppend:
		return "append"
	case ActionManage:
		return "manage"
	default:
		return "unknown"
	}
}

// User is a permission subject: either a specific key or anyone.
// Only public sequences may grant to anyone.
type User struct {
	Anyone bool
	Key    [32]byte
}

// UserAnyone grants to all requesters, including unauthenticated ones.
var UserAnyone = User{Anyone: true}

// UserKey grants to one specific public key.
func UserKey(pk [32]byte) User {
	return User{Key: pk}
}

// PrivateUserPermissions is the grant set for one user of a private
// sequence. Unset means denied.
type PrivateUserPermissions struct {
	Read   bool
	Append bool
	Manage bool
}

// PublicUserPermissions is the grant set for one user of a public
// sequence. A nil field inherits the anyone grant, if present.
type PublicUserPermissions struct {
	Append *bool
	Manage *bool
}

// Allow builds a set tri-state grant.
func Allow(b bool) *bool {
	return &b
}

// PrivatePermissions is one record in a private sequence's permission
// history.
type PrivatePermissions struct {
	Users        map[[32]byte]PrivateUserPermissions
	EntriesIndex uint64
	OwnersIndex  uint64
}

func (p *PrivatePermissions) RecordFlavor() Flavor {
	return FlavorPrivate
}

func (p *PrivatePermissions) allows(requester [32]byte, action Action) bool {
	set, ok := p.Users[requester]
	if !ok {
		return false
	}

	switch action {
	case ActionRead:
		return set.Read
	case ActionAppend:
		return set.Append
	case ActionManage:
		return set.Manage
	default:
		return false
	}
}

func (p *PrivatePermissions) userPermissions(user User) (UserPermissions, bool) {
	if user.Anyone {
		return UserPermissions{}, false
	}

	set, ok := p.Users[user.Key]
	if !ok {
		return UserPermissions{}, false
	}

	return UserPermissions{Private: &set}, true
}

// PublicPermissions is one record in a public sequence's permission
// history.
type PublicPermissions struct {
	Users        map[User]PublicUserPermissions
	EntriesIndex uint64
	OwnersIndex  uint64
}

func (p *PublicPermissions) RecordFlavor() Flavor {
	return FlavorPublic
}

func (p *PublicPermissions) allows(requester [32]byte, action Action) bool {
	if action == ActionRead {
		return true
	}

	if set, ok := p.Users[UserKey(requester)]; ok {
		if granted, present := resolve(set, action); present {
			return granted
		}
	}

	if set, ok := p.Users[UserAnyone]; ok {
		if granted, present := resolve(set, action); present {
			return granted
		}
	}

	return false
}

// resolve reads one tri-state grant. The second return reports whether
// the grant was set at all.
func resolve(set PublicUserPermissions, action Action) (bool, bool) {
	var grant *bool

	switch action {
	case ActionAppend:
		grant = set.Append
	case ActionManage:
		grant = set.Manage
	default:
		return false, false
	}

	if grant == nil {
		return false, false
	}

	return *grant, true
}

func (p *PublicPermissions) userPermissions(user User) (UserPermissions, bool) {
	set, ok := p.Users[user]
	if !ok {
		return UserPermissions{}, false
	}

	return UserPermissions{Public: &set}, true
}

// PermissionsRecord is one record in a sequence's permission history,
// private or public matching the sequence flavor.
type PermissionsRecord interface {
	RecordFlavor() Flavor
	allows(requester [32]byte, action Action) bool
	userPermissions(user User) (UserPermissions, bool)
}

// UserPermissions is the flavor-tagged grant set of one user. Exactly
// one field is non-nil.
type UserPermissions struct {
	Private *PrivateUserPermissions
	Public  *PublicUserPermissions
}

// PermissionsOp is a permission change bound to its causal record index.
type PermissionsOp struct {
	Address Address
	Flavor  Flavor
	Index   uint64
	Record  []byte // Record is the packed permission record
}

// CheckPermission reports whether the requester may perform the action,
// judged against the latest permission record. The current owner may do
// anything, and public sequences are readable by anyone. With no
// permission history, everyone else is denied.
func (s *Sequence) CheckPermission(action Action, requester [32]byte) error {
	if action == ActionRead && s.flavor == FlavorPublic {
		return nil
	}

	if owner, err := s.CurrentOwner(); err == nil && owner.PublicKey == requester {
		return nil
	}

	if len(s.permissions) == 0 {
		return protocol.ErrPermissionDenied
	}

	if s.permissions[len(s.permissions)-1].allows(requester, action) {
		return nil
	}

	return protocol.ErrPermissionDenied
}

// SetPrivatePermissions records a new private permission set locally and
// returns the mutation to replicate.
func (s *Sequence) SetPrivatePermissions(users map[[32]byte]PrivateUserPermissions) (PermissionsOp, error) {
	if s.flavor != FlavorPrivate {
		return PermissionsOp{}, protocol.ErrInvalidOperation
	}

	record := &PrivatePermissions{
		Users:        users,
		EntriesIndex: uint64(len(s.entries)),
		OwnersIndex:  uint64(len(s.owners)),
	}
	op := PermissionsOp{
		Address: s.address,
		Flavor:  FlavorPrivate,
		Index:   uint64(len(s.permissions)),
		Record:  packPrivatePermissions(record),
	}
	s.permissions = append(s.permissions, record)

	return op, nil
}

// SetPublicPermissions records a new public permission set locally and
// returns the mutation to replicate.
func (s *Sequence) SetPublicPermissions(users map[User]PublicUserPermissions) (PermissionsOp, error) {
	if s.flavor != FlavorPublic {
		return PermissionsOp{}, protocol.ErrInvalidOperation
	}

	record := &PublicPermissions{
		Users:        users,
		EntriesIndex: uint64(len(s.entries)),
		OwnersIndex:  uint64(len(s.owners)),
	}
	op := PermissionsOp{
		Address: s.address,
		Flavor:  FlavorPublic,
		Index:   uint64(len(s.permissions)),
		Record:  packPublicPermissions(record),
	}
	s.permissions = append(s.permissions, record)

	return op, nil
}

// ApplyPermissionsRecord replays a replicated permission change.
func (s *Sequence) ApplyPermissionsRecord(flavor Flavor, record []byte, index uint64) error {
	if flavor != s.flavor {
		return protocol.ErrInvalidOperation
	}

	if index != uint64(len(s.permissions)) {
		return protocol.ErrInvalidOperation
	}

	parsed, err := unpackPermissions(flavor, record)
	if err != nil {
		return err
	}
	s.permissions = append(s.permissions, parsed)

	return nil
}

// PrivatePermissionsAt returns the private permission record at the
// given history index.
func (s *Sequence) PrivatePermissionsAt(index uint64) (*PrivatePermissions, error) {
	if s.flavor != FlavorPrivate {
		return nil, protocol.ErrInvalidOperation
	}

	if index >= uint64(len(s.permissions)) {
		return nil, protocol.ErrNoSuchEntry
	}

	return s.permissions[index].(*PrivatePermissions), nil
}

// PublicPermissionsAt returns the public permission record at the given
// history index.
func (s *Sequence) PublicPermissionsAt(index uint64) (*PublicPermissions, error) {
	if s.flavor != FlavorPublic {
		return nil, protocol.ErrInvalidOperation
	}

	if index >= uint64(len(s.permissions)) {
		return nil, protocol.ErrNoSuchEntry
	}

	return s.permissions[index].(*PublicPermissions), nil
}

// UserPermissionsAt returns one user's grant set at the given history
// index.
func (s *Sequence) UserPermissionsAt(user User, index uint64) (UserPermissions, error) {
	if index >= uint64(len(s.permissions)) {
		return UserPermissions{}, protocol.ErrNoSuchEntry
	}

	set, ok := s.permissions[index].userPermissions(user)
	if !ok {
		return UserPermissions{}, protocol.ErrNoSuchEntry
	}

	return set, nil
}
