package sequence

import (
	"bytes"
	"errors"
	"testing"

	"PayStream/internal/protocol"
)

func testKey(b byte) [32]byte {
	var key [32]byte
	for i := range key {
		key[i] = b
	}
	return key
}

func newTestPrivate(t *testing.T, owner [32]byte) *Sequence {
	t.Helper()
	return NewPrivate(testKey(0xaa), 15000, owner)
}

func TestAppendAndLastEntry(t *testing.T) {
	owner := testKey(1)
	seq := newTestPrivate(t, owner)

	if _, _, err := seq.LastEntry(); !errors.Is(err, protocol.ErrNoSuchEntry) {
		t.Fatalf("LastEntry on empty sequence: got %v, want ErrNoSuchEntry", err)
	}

	op1 := seq.Append([]byte("VALUE1"))
	op2 := seq.Append([]byte("VALUE2"))

	if op1.Index != 0 || op2.Index != 1 {
		t.Errorf("op indices: got %d, %d, want 0, 1", op1.Index, op2.Index)
	}

	index, entry, err := seq.LastEntry()
	if err != nil {
		t.Fatalf("LastEntry failed: %v", err)
	}

	if index != 1 {
		t.Errorf("last index: got %d, want 1", index)
	}

	if !bytes.Equal(entry, []byte("VALUE2")) {
		t.Errorf("last entry: got %q, want VALUE2", entry)
	}
}

func TestEntryByIndex(t *testing.T) {
	seq := newTestPrivate(t, testKey(1))
	seq.Append([]byte("VALUE1"))
	seq.Append([]byte("VALUE2"))

	entry, err := seq.Entry(0)
	if err != nil {
		t.Fatalf("Entry(0) failed: %v", err)
	}
	if !bytes.Equal(entry, []byte("VALUE1")) {
		t.Errorf("entry 0: got %q, want VALUE1", entry)
	}

	entry, err = seq.Entry(1)
	if err != nil {
		t.Fatalf("Entry(1) failed: %v", err)
	}
	if !bytes.Equal(entry, []byte("VALUE2")) {
		t.Errorf("entry 1: got %q, want VALUE2", entry)
	}

	if _, err := seq.Entry(2); !errors.Is(err, protocol.ErrNoSuchEntry) {
		t.Errorf("entry past the end: got %v, want ErrNoSuchEntry", err)
	}
}

func TestInRange(t *testing.T) {
	seq := newTestPrivate(t, testKey(1))
	seq.Append([]byte("VALUE1"))
	seq.Append([]byte("VALUE2"))

	all, err := seq.InRange(FromStart(0), FromEnd(0))
	if err != nil {
		t.Fatalf("full range failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("full range: got %d entries, want 2", len(all))
	}

	tail, err := seq.InRange(FromStart(1), FromEnd(0))
	if err != nil {
		t.Fatalf("tail range failed: %v", err)
	}
	if len(tail) != 1 || !bytes.Equal(tail[0], []byte("VALUE2")) {
		t.Errorf("tail range: got %q, want [VALUE2]", tail)
	}

	empty, err := seq.InRange(FromStart(2), FromEnd(0))
	if err != nil {
		t.Fatalf("empty range failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("empty range: got %d entries, want 0", len(empty))
	}

	if _, err := seq.InRange(FromStart(3), FromEnd(0)); !errors.Is(err, protocol.ErrNoSuchEntry) {
		t.Errorf("out of bounds start: got %v, want ErrNoSuchEntry", err)
	}

	if _, err := seq.InRange(FromStart(2), FromStart(1)); !errors.Is(err, protocol.ErrNoSuchEntry) {
		t.Errorf("inverted range: got %v, want ErrNoSuchEntry", err)
	}
}

func TestOwnerHistory(t *testing.T) {
	first := testKey(1)
	second := testKey(2)

	seq := newTestPrivate(t, first)
	seq.Append([]byte("entry"))

	op := seq.SetOwner(second)
	if op.Index != 1 {
		t.Errorf("owner op index: got %d, want 1", op.Index)
	}

	current, err := seq.CurrentOwner()
	if err != nil {
		t.Fatalf("CurrentOwner failed: %v", err)
	}

	if current.PublicKey != second {
		t.Errorf("current owner: got %x, want %x", current.PublicKey[:4], second[:4])
	}

	if current.EntriesIndex != 1 {
		t.Errorf("owner entries index: got %d, want 1", current.EntriesIndex)
	}

	original, err := seq.Owner(0)
	if err != nil {
		t.Fatalf("Owner(0) failed: %v", err)
	}

	if original.PublicKey != first {
		t.Errorf("original owner: got %x, want %x", original.PublicKey[:4], first[:4])
	}

	if _, err := seq.Owner(2); !errors.Is(err, protocol.ErrNoSuchEntry) {
		t.Errorf("Owner(2): got %v, want ErrNoSuchEntry", err)
	}
}

func TestCheckPermissionOwnerBypass(t *testing.T) {
	owner := testKey(1)
	seq := newTestPrivate(t, owner)

	// No permission history: the owner may do anything.
	for _, action := range []Action{ActionRead, ActionAppend, ActionManage} {
		if err := seq.CheckPermission(action, owner); err != nil {
			t.Errorf("owner %s denied: %v", action, err)
		}
	}
}

func TestCheckPermissionNoHistoryDeniesOthers(t *testing.T) {
	seq := newTestPrivate(t, testKey(1))
	stranger := testKey(9)

	if err := seq.CheckPermission(ActionRead, stranger); !errors.Is(err, protocol.ErrPermissionDenied) {
		t.Errorf("stranger read: got %v, want ErrPermissionDenied", err)
	}
}

func TestPrivatePermissions(t *testing.T) {
	owner := testKey(1)
	reader := testKey(2)
	writer := testKey(3)

	seq := newTestPrivate(t, owner)

	_, err := seq.SetPrivatePermissions(map[[32]byte]PrivateUserPermissions{
		reader: {Read: true},
		writer: {Read: true, Append: true},
	})
	if err != nil {
		t.Fatalf("SetPrivatePermissions failed: %v", err)
	}

	if err := seq.CheckPermission(ActionRead, reader); err != nil {
		t.Errorf("reader read denied: %v", err)
	}

	if err := seq.CheckPermission(ActionAppend, reader); !errors.Is(err, protocol.ErrPermissionDenied) {
		t.Errorf("reader append: got %v, want ErrPermissionDenied", err)
	}

	if err := seq.CheckPermission(ActionAppend, writer); err != nil {
		t.Errorf("writer append denied: %v", err)
	}

	if err := seq.CheckPermission(ActionManage, writer); !errors.Is(err, protocol.ErrPermissionDenied) {
		t.Errorf("writer manage: got %v, want ErrPermissionDenied", err)
	}
}

func TestPrivatePermissionsLatestRecordWins(t *testing.T) {
	owner := testKey(1)
	user := testKey(2)

	seq := newTestPrivate(t, owner)

	if _, err := seq.SetPrivatePermissions(map[[32]byte]PrivateUserPermissions{
		user: {Read: true, Append: true},
	}); err != nil {
		t.Fatalf("SetPrivatePermissions failed: %v", err)
	}

	// Revoke append in a newer record.
	if _, err := seq.SetPrivatePermissions(map[[32]byte]PrivateUserPermissions{
		user: {Read: true},
	}); err != nil {
		t.Fatalf("SetPrivatePermissions failed: %v", err)
	}

	if err := seq.CheckPermission(ActionAppend, user); !errors.Is(err, protocol.ErrPermissionDenied) {
		t.Errorf("revoked append: got %v, want ErrPermissionDenied", err)
	}

	if err := seq.CheckPermission(ActionRead, user); err != nil {
		t.Errorf("kept read denied: %v", err)
	}
}

func TestPublicPermissionsAnyoneFallback(t *testing.T) {
	owner := testKey(1)
	banned := testKey(2)
	stranger := testKey(3)

	seq := NewPublic(testKey(0xbb), 15000, owner)

	_, err := seq.SetPublicPermissions(map[User]PublicUserPermissions{
		UserAnyone:      {Append: Allow(true)},
		UserKey(banned): {Append: Allow(false)},
	})
	if err != nil {
		t.Fatalf("SetPublicPermissions failed: %v", err)
	}

	// Public read needs no grant at all.
	if err := seq.CheckPermission(ActionRead, stranger); err != nil {
		t.Errorf("public read denied: %v", err)
	}

	if err := seq.CheckPermission(ActionAppend, stranger); err != nil {
		t.Errorf("anyone append denied: %v", err)
	}

	if err := seq.CheckPermission(ActionAppend, banned); !errors.Is(err, protocol.ErrPermissionDenied) {
		t.Errorf("banned append: got %v, want ErrPermissionDenied", err)
	}

	// Manage is unset everywhere, so it stays denied.
	if err := seq.CheckPermission(ActionManage, stranger); !errors.Is(err, protocol.ErrPermissionDenied) {
		t.Errorf("stranger manage: got %v, want ErrPermissionDenied", err)
	}
}

func TestSetPermissionsFlavorMismatch(t *testing.T) {
	private := newTestPrivate(t, testKey(1))
	public := NewPublic(testKey(0xbb), 15000, testKey(1))

	if _, err := private.SetPublicPermissions(nil); !errors.Is(err, protocol.ErrInvalidOperation) {
		t.Errorf("public perms on private: got %v, want ErrInvalidOperation", err)
	}

	if _, err := public.SetPrivatePermissions(nil); !errors.Is(err, protocol.ErrInvalidOperation) {
		t.Errorf("private perms on public: got %v, want ErrInvalidOperation", err)
	}
}

func TestUserPermissionsAt(t *testing.T) {
	owner := testKey(1)
	user := testKey(2)

	seq := newTestPrivate(t, owner)

	if _, err := seq.UserPermissionsAt(UserKey(user), 0); !errors.Is(err, protocol.ErrNoSuchEntry) {
		t.Fatalf("no history: got %v, want ErrNoSuchEntry", err)
	}

	if _, err := seq.SetPrivatePermissions(map[[32]byte]PrivateUserPermissions{
		user: {Read: true, Manage: true},
	}); err != nil {
		t.Fatalf("SetPrivatePermissions failed: %v", err)
	}

	set, err := seq.UserPermissionsAt(UserKey(user), 0)
	if err != nil {
		t.Fatalf("UserPermissionsAt failed: %v", err)
	}

	if set.Private == nil || set.Public != nil {
		t.Fatalf("wrong variant: %+v", set)
	}

	if !set.Private.Read || set.Private.Append || !set.Private.Manage {
		t.Errorf("wrong grants: %+v", set.Private)
	}

	if _, err := seq.UserPermissionsAt(UserKey(testKey(9)), 0); !errors.Is(err, protocol.ErrNoSuchEntry) {
		t.Errorf("unknown user: got %v, want ErrNoSuchEntry", err)
	}
}

func TestPermissionsHistoryByIndex(t *testing.T) {
	owner := testKey(1)
	user := testKey(2)

	seq := newTestPrivate(t, owner)

	if _, err := seq.SetPrivatePermissions(map[[32]byte]PrivateUserPermissions{
		user: {Read: true, Append: true},
	}); err != nil {
		t.Fatalf("SetPrivatePermissions failed: %v", err)
	}
	if _, err := seq.SetPrivatePermissions(map[[32]byte]PrivateUserPermissions{
		user: {Read: true},
	}); err != nil {
		t.Fatalf("SetPrivatePermissions failed: %v", err)
	}

	// The superseded record stays readable at its history index.
	first, err := seq.PrivatePermissionsAt(0)
	if err != nil {
		t.Fatalf("PrivatePermissionsAt(0) failed: %v", err)
	}
	if !first.Users[user].Append {
		t.Error("record 0 lost the append grant")
	}

	second, err := seq.PrivatePermissionsAt(1)
	if err != nil {
		t.Fatalf("PrivatePermissionsAt(1) failed: %v", err)
	}
	if second.Users[user].Append {
		t.Error("record 1 still grants append")
	}

	if _, err := seq.PrivatePermissionsAt(2); !errors.Is(err, protocol.ErrNoSuchEntry) {
		t.Errorf("record past the end: got %v, want ErrNoSuchEntry", err)
	}

	if _, err := seq.PublicPermissionsAt(0); !errors.Is(err, protocol.ErrInvalidOperation) {
		t.Errorf("public record on private: got %v, want ErrInvalidOperation", err)
	}

	public := NewPublic(testKey(0xbb), 15000, owner)
	if _, err := public.SetPublicPermissions(map[User]PublicUserPermissions{
		UserAnyone: {Append: Allow(true)},
	}); err != nil {
		t.Fatalf("SetPublicPermissions failed: %v", err)
	}

	record, err := public.PublicPermissionsAt(0)
	if err != nil {
		t.Fatalf("PublicPermissionsAt(0) failed: %v", err)
	}
	if set := record.Users[UserAnyone]; set.Append == nil || !*set.Append {
		t.Errorf("anyone grant: %+v", record.Users)
	}

	if _, err := public.PrivatePermissionsAt(0); !errors.Is(err, protocol.ErrInvalidOperation) {
		t.Errorf("private record on public: got %v, want ErrInvalidOperation", err)
	}
}

func TestApplyOps(t *testing.T) {
	owner := testKey(1)

	source := newTestPrivate(t, owner)
	replica := newTestPrivate(t, owner)

	entryOp := source.Append([]byte("entry"))
	if err := replica.ApplyAppend(entryOp.Entry, entryOp.Index); err != nil {
		t.Fatalf("ApplyAppend failed: %v", err)
	}

	if err := replica.ApplyAppend([]byte("stale"), 0); !errors.Is(err, protocol.ErrInvalidOperation) {
		t.Errorf("stale append: got %v, want ErrInvalidOperation", err)
	}

	ownerOp := source.SetOwner(testKey(2))
	if err := replica.ApplySetOwner(ownerOp.Owner, ownerOp.Index); err != nil {
		t.Fatalf("ApplySetOwner failed: %v", err)
	}

	permsOp, err := source.SetPrivatePermissions(map[[32]byte]PrivateUserPermissions{
		testKey(3): {Read: true},
	})
	if err != nil {
		t.Fatalf("SetPrivatePermissions failed: %v", err)
	}

	if err := replica.ApplyPermissionsRecord(permsOp.Flavor, permsOp.Record, permsOp.Index); err != nil {
		t.Fatalf("ApplyPermissionsRecord failed: %v", err)
	}

	if err := replica.CheckPermission(ActionRead, testKey(3)); err != nil {
		t.Errorf("replayed grant denied: %v", err)
	}

	if replica.EntriesIndex() != source.EntriesIndex() ||
		replica.OwnersIndex() != source.OwnersIndex() ||
		replica.PermissionsIndex() != source.PermissionsIndex() {
		t.Errorf("replica diverged: entries %d/%d owners %d/%d perms %d/%d",
			replica.EntriesIndex(), source.EntriesIndex(),
			replica.OwnersIndex(), source.OwnersIndex(),
			replica.PermissionsIndex(), source.PermissionsIndex())
	}
}

func TestEncodeDecode(t *testing.T) {
	owner := testKey(1)
	reader := testKey(2)

	seq := newTestPrivate(t, owner)
	seq.Append([]byte("VALUE1"))
	seq.Append([]byte("VALUE2"))
	seq.SetOwner(testKey(3))

	if _, err := seq.SetPrivatePermissions(map[[32]byte]PrivateUserPermissions{
		reader: {Read: true},
	}); err != nil {
		t.Fatalf("SetPrivatePermissions failed: %v", err)
	}

	decoded, err := Decode(Encode(seq))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decoded.Address() != seq.Address() {
		t.Errorf("address: got %s, want %s", decoded.Address(), seq.Address())
	}

	if decoded.Flavor() != FlavorPrivate {
		t.Errorf("flavor: got %d, want private", decoded.Flavor())
	}

	index, entry, err := decoded.LastEntry()
	if err != nil || index != 1 || !bytes.Equal(entry, []byte("VALUE2")) {
		t.Errorf("last entry: got %d %q %v", index, entry, err)
	}

	current, err := decoded.CurrentOwner()
	if err != nil || current.PublicKey != testKey(3) {
		t.Errorf("current owner: got %+v %v", current, err)
	}

	if err := decoded.CheckPermission(ActionRead, reader); err != nil {
		t.Errorf("decoded grant denied: %v", err)
	}

	if err := decoded.CheckPermission(ActionAppend, reader); !errors.Is(err, protocol.ErrPermissionDenied) {
		t.Errorf("decoded append: got %v, want ErrPermissionDenied", err)
	}
}

func TestPublicEncodeDecode(t *testing.T) {
	seq := NewPublic(testKey(0xbb), 42, testKey(1))
	seq.Append([]byte("post"))

	if _, err := seq.SetPublicPermissions(map[User]PublicUserPermissions{
		UserAnyone: {Append: Allow(true)},
	}); err != nil {
		t.Fatalf("SetPublicPermissions failed: %v", err)
	}

	decoded, err := Decode(Encode(seq))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decoded.IsPrivate() {
		t.Error("decoded sequence should be public")
	}

	if err := decoded.CheckPermission(ActionAppend, testKey(9)); err != nil {
		t.Errorf("anyone append denied after decode: %v", err)
	}
}

func TestAddressKeyRoundTrip(t *testing.T) {
	addr := Address{Name: testKey(7), Tag: 15000}

	key := addr.Key()
	back, err := AddressFromKey(key[:])
	if err != nil {
		t.Fatalf("AddressFromKey failed: %v", err)
	}

	if back != addr {
		t.Errorf("round trip: got %+v, want %+v", back, addr)
	}

	if _, err := AddressFromKey(key[:10]); err == nil {
		t.Error("short key should fail")
	}
}
