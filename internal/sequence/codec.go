package sequence

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	flatbuffers "github.com/google/flatbuffers/go"

	"PayStream/internal/types"
)

// Encode serializes a sequence snapshot. The three facets are packed as
// little-endian records inside byte vector fields.
func Encode(s *Sequence) []byte {
	builder := flatbuffers.NewBuilder(1024)

	nameOff := builder.CreateByteVector(s.address.Name[:])
	entriesOff := builder.CreateByteVector(packEntries(s.entries))
	ownersOff := builder.CreateByteVector(packOwners(s.owners))
	permsOff := builder.CreateByteVector(packPermissionsHistory(s.permissions))

	types.SequenceStart(builder)
	types.SequenceAddName(builder, nameOff)
	types.SequenceAddTag(builder, s.address.Tag)
	types.SequenceAddFlavor(builder, byte(s.flavor))
	types.SequenceAddEntries(builder, entriesOff)
	types.SequenceAddOwners(builder, ownersOff)
	types.SequenceAddPermissions(builder, permsOff)
	off := types.SequenceEnd(builder)

	builder.Finish(off)

	return builder.FinishedBytes()
}

// Decode parses a serialized sequence snapshot.
func Decode(data []byte) (*Sequence, error) {
	raw := types.GetRootAsSequence(data, 0)

	name := raw.NameBytes()
	if len(name) != 32 {
		return nil, fmt.Errorf("bad sequence name length: %d", len(name))
	}

	flavor := Flavor(raw.Flavor())
	if flavor != FlavorPublic && flavor != FlavorPrivate {
		return nil, fmt.Errorf("bad sequence flavor: %d", raw.Flavor())
	}

	entries, err := unpackEntries(raw.EntriesBytes())
	if err != nil {
		return nil, fmt.Errorf("unpack entries:\n%w", err)
	}

	owners, err := unpackOwners(raw.OwnersBytes())
	if err != nil {
		return nil, fmt.Errorf("unpack owners:\n%w", err)
	}

	perms, err := unpackPermissionsHistory(flavor, raw.PermissionsBytes())
	if err != nil {
		return nil, fmt.Errorf("unpack permissions:\n%w", err)
	}

	s := &Sequence{
		flavor:      flavor,
		entries:     entries,
		owners:      owners,
		permissions: perms,
	}
	copy(s.address.Name[:], name)
	s.address.Tag = raw.Tag()

	return s, nil
}

// packEntries packs entries as [4B len][bytes] records.
func packEntries(entries [][]byte) []byte {
	size := 0
	for _, e := range entries {
		size += 4 + len(e)
	}

	buf := make([]byte, 0, size)
	for _, e := range entries {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e)))
		buf = append(buf, e...)
	}

	return buf
}

func unpackEntries(data []byte) ([][]byte, error) {
	var entries [][]byte

	for len(data) > 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("entry header truncated: %d", len(data))
		}

		n := binary.LittleEndian.Uint32(data[:4])
		if len(data) < 4+int(n) {
			return nil, fmt.Errorf("entry truncated: need %d, have %d", 4+n, len(data))
		}

		entry := make([]byte, n)
		copy(entry, data[4:4+n])
		entries = append(entries, entry)
		data = data[4+int(n):]
	}

	return entries, nil
}

// ownerRecordSize is 32B key + 8B entries index + 8B permissions index.
const ownerRecordSize = 48

// packOwners packs owner records as fixed 48-byte records.
func packOwners(owners []Owner) []byte {
	buf := make([]byte, 0, len(owners)*ownerRecordSize)
	for _, o := range owners {
		buf = append(buf, o.PublicKey[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, o.EntriesIndex)
		buf = binary.LittleEndian.AppendUint64(buf, o.PermissionsIndex)
	}

	return buf
}

func unpackOwners(data []byte) ([]Owner, error) {
	if len(data)%ownerRecordSize != 0 {
		return nil, fmt.Errorf("bad owner history length: %d", len(data))
	}

	owners := make([]Owner, 0, len(data)/ownerRecordSize)
	for len(data) > 0 {
		var o Owner
		copy(o.PublicKey[:], data[:32])
		o.EntriesIndex = binary.LittleEndian.Uint64(data[32:40])
		o.PermissionsIndex = binary.LittleEndian.Uint64(data[40:48])
		owners = append(owners, o)
		data = data[ownerRecordSize:]
	}

	return owners, nil
}

// packPermissionsHistory packs the history as [4B len][record] items.
func packPermissionsHistory(records []PermissionsRecord) []byte {
	var buf []byte
	for _, r := range records {
		var packed []byte
		switch rec := r.(type) {
		case *PrivatePermissions:
			packed = packPrivatePermissions(rec)
		case *PublicPermissions:
			packed = packPublicPermissions(rec)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(packed)))
		buf = append(buf, packed...)
	}

	return buf
}

func unpackPermissionsHistory(flavor Flavor, data []byte) ([]PermissionsRecord, error) {
	var records []PermissionsRecord

	for len(data) > 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("record header truncated: %d", len(data))
		}

		n := binary.LittleEndian.Uint32(data[:4])
		if len(data) < 4+int(n) {
			return nil, fmt.Errorf("record truncated: need %d, have %d", 4+n, len(data))
		}

		record, err := unpackPermissions(flavor, data[4:4+n])
		if err != nil {
			return nil, err
		}
		records = append(records, record)
		data = data[4+int(n):]
	}

	return records, nil
}

// Tri-state grant encoding for public permission sets.
const (
	grantDenied  = 0
	grantAllowed = 1
	grantUnset   = 2
)

// packPrivatePermissions packs one private record.
// Format: [8B entriesIdx] [8B ownersIdx] [4B count] then per user
// [32B key] [1B bits] with bit0 read, bit1 append, bit2 manage.
func packPrivatePermissions(p *PrivatePermissions) []byte {
	keys := make([][32]byte, 0, len(p.Users))
	for k := range p.Users {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})

	buf := make([]byte, 0, 20+len(keys)*33)
	buf = binary.LittleEndian.AppendUint64(buf, p.EntriesIndex)
	buf = binary.LittleEndian.AppendUint64(buf, p.OwnersIndex)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(keys)))

	for _, k := range keys {
		set := p.Users[k]
		var bits byte
		if set.Read {
			bits |= 1
		}
		if set.Append {
			bits |= 2
		}
		if set.Manage {
			bits |= 4
		}
		buf = append(buf, k[:]...)
		buf = append(buf, bits)
	}

	return buf
}

// packPublicPermissions packs one public record.
// Format: [8B entriesIdx] [8B ownersIdx] [4B count] then per user
// [1B kind] [32B key] [1B append] [1B manage] with kind 0 for anyone
// and grants encoded 0 denied, 1 allowed, 2 unset.
func packPublicPermissions(p *PublicPermissions) []byte {
	users := make([]User, 0, len(p.Users))
	for u := range p.Users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Anyone != users[j].Anyone {
			return users[i].Anyone
		}
		return bytes.Compare(users[i].Key[:], users[j].Key[:]) < 0
	})

	buf := make([]byte, 0, 20+len(users)*35)
	buf = binary.LittleEndian.AppendUint64(buf, p.EntriesIndex)
	buf = binary.LittleEndian.AppendUint64(buf, p.OwnersIndex)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(users)))

	for _, u := range users {
		set := p.Users[u]
		kind := byte(1)
		if u.Anyone {
			kind = 0
		}
		buf = append(buf, kind)
		buf = append(buf, u.Key[:]...)
		buf = append(buf, packGrant(set.Append), packGrant(set.Manage))
	}

	return buf
}

func packGrant(grant *bool) byte {
	if grant == nil {
		return grantUnset
	}
	if *grant {
		return grantAllowed
	}
	return grantDenied
}

func unpackGrant(b byte) (*bool, error) {
	switch b {
	case grantDenied:
		return Allow(false), nil
	case grantAllowed:
		return Allow(true), nil
	case grantUnset:
		return nil, nil
	default:
		return nil, fmt.Errorf("bad grant byte: %d", b)
	}
}

// unpackPermissions parses one packed permission record of the given
// flavor.
func unpackPermissions(flavor Flavor, data []byte) (PermissionsRecord, error) {
	if len(data) < 20 {
		return nil, fmt.Errorf("permission record too short: %d", len(data))
	}

	entriesIdx := binary.LittleEndian.Uint64(data[:8])
	ownersIdx := binary.LittleEndian.Uint64(data[8:16])
	count := binary.LittleEndian.Uint32(data[16:20])
	data = data[20:]

	if flavor == FlavorPrivate {
		if len(data) != int(count)*33 {
			return nil, fmt.Errorf("bad private record length: %d for %d users", len(data), count)
		}

		users := make(map[[32]byte]PrivateUserPermissions, count)
		for i := 0; i < int(count); i++ {
			var key [32]byte
			copy(key[:], data[i*33:i*33+32])
			bits := data[i*33+32]
			users[key] = PrivateUserPermissions{
				Read:   bits&1 != 0,
				Append: bits&2 != 0,
				Manage: bits&4 != 0,
			}
		}

		return &PrivatePermissions{Users: users, EntriesIndex: entriesIdx, OwnersIndex: ownersIdx}, nil
	}

	if len(data) != int(count)*35 {
		return nil, fmt.Errorf("bad public record length: %d for %d users", len(data), count)
	}

	users := make(map[User]PublicUserPermissions, count)
	for i := 0; i < int(count); i++ {
		rec := data[i*35 : (i+1)*35]

		user := UserAnyone
		if rec[0] != 0 {
			var key [32]byte
			copy(key[:], rec[1:33])
			user = UserKey(key)
		}

		appendGrant, err := unpackGrant(rec[33])
		if err != nil {
			return nil, err
		}
		manageGrant, err := unpackGrant(rec[34])
		if err != nil {
			return nil, err
		}

		users[user] = PublicUserPermissions{Append: appendGrant, Manage: manageGrant}
	}

	return &PublicPermissions{Users: users, EntriesIndex: entriesIdx, OwnersIndex: ownersIdx}, nil
}
