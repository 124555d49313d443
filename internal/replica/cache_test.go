package replica

import (
	"bytes"
	"testing"

	"PayStream/internal/sequence"
	"PayStream/internal/storage"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()

	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close storage: %v", err)
		}
	})

	return New(db)
}

func testSequence(nameByte byte, tag uint64) *sequence.Sequence {
	var name, owner [32]byte
	for i := range name {
		name[i] = nameByte
	}
	owner[0] = 1

	return sequence.NewPrivate(name, tag, owner)
}

func TestPutAndGet(t *testing.T) {
	cache := newTestCache(t)

	seq := testSequence(0xaa, 15000)
	seq.Append([]byte("entry one"))
	seq.Append([]byte("entry two"))

	if err := cache.Put(seq); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, found, err := cache.Get(seq.Address())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("stored sequence not found")
	}

	index, entry, err := got.LastEntry()
	if err != nil || index != 1 || !bytes.Equal(entry, []byte("entry two")) {
		t.Errorf("last entry: got %d %q %v", index, entry, err)
	}
}

func TestGetMissing(t *testing.T) {
	cache := newTestCache(t)

	_, found, err := cache.Get(testSequence(0xaa, 1).Address())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("missing address reported as found")
	}
}

func TestPutReplaces(t *testing.T) {
	cache := newTestCache(t)

	seq := testSequence(0xaa, 1)
	if err := cache.Put(seq); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	seq.Append([]byte("later entry"))
	if err := cache.Put(seq); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, found, err := cache.Get(seq.Address())
	if err != nil || !found {
		t.Fatalf("Get failed: found=%v err=%v", found, err)
	}

	if got.EntriesIndex() != 1 {
		t.Errorf("entries: got %d, want 1", got.EntriesIndex())
	}
}

func TestRemove(t *testing.T) {
	cache := newTestCache(t)

	seq := testSequence(0xaa, 1)
	if err := cache.Put(seq); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := cache.Remove(seq.Address()); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if _, found, _ := cache.Get(seq.Address()); found {
		t.Error("removed sequence still found")
	}

	// Removing again is a no-op.
	if err := cache.Remove(seq.Address()); err != nil {
		t.Errorf("second Remove failed: %v", err)
	}
}

func TestAddresses(t *testing.T) {
	cache := newTestCache(t)

	first := testSequence(0xaa, 1)
	second := testSequence(0xbb, 2)

	for _, seq := range []*sequence.Sequence{first, second} {
		if err := cache.Put(seq); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	addrs, err := cache.Addresses()
	if err != nil {
		t.Fatalf("Addresses failed: %v", err)
	}

	if len(addrs) != 2 {
		t.Fatalf("got %d addresses, want 2", len(addrs))
	}

	seen := make(map[sequence.Address]bool)
	for _, addr := range addrs {
		seen[addr] = true
	}

	if !seen[first.Address()] || !seen[second.Address()] {
		t.Errorf("addresses missing: %v", addrs)
	}
}
