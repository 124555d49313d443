package storage

import (
	"bytes"
	"testing"
)

// newTestStorage creates a temporary storage for testing.
func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}

	t.Cleanup(func() { s.Close() })

	return s
}

func TestSetAndGet(t *testing.T) {
	s := newTestStorage(t)

	key := []byte("test-key")
	value := []byte("test-value")

	if err := s.Set(key, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if !bytes.Equal(got, value) {
		t.Errorf("Get returned %q, want %q", got, value)
	}
}

func TestGetNonExistent(t *testing.T) {
	s := newTestStorage(t)

	got, err := s.Get([]byte("non-existent"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got != nil {
		t.Errorf("Get returned %q, want nil", got)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStorage(t)

	key := []byte("doomed")

	if err := s.Set(key, []byte("value")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := s.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got != nil {
		t.Errorf("Get after Delete returned %q, want nil", got)
	}
}

func TestDeleteNonExistent(t *testing.T) {
	s := newTestStorage(t)

	if err := s.Delete([]byte("never-existed")); err != nil {
		t.Errorf("Delete of absent key failed: %v", err)
	}
}

func TestOverwrite(t *testing.T) {
	s := newTestStorage(t)

	key := []byte("key")

	if err := s.Set(key, []byte("old")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := s.Set(key, []byte("new")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if !bytes.Equal(got, []byte("new")) {
		t.Errorf("Get returned %q, want %q", got, "new")
	}
}

func TestIteratePrefix(t *testing.T) {
	s := newTestStorage(t)

	pairs := map[string]string{
		"s:alpha": "1",
		"s:beta":  "2",
		"x:gamma": "3",
	}
	for k, v := range pairs {
		if err := s.Set([]byte(k), []byte(v)); err != nil {
			t.Fatalf("Set %q failed: %v", k, err)
		}
	}

	seen := make(map[string]string)
	err := s.IteratePrefix([]byte("s:"), func(key, value []byte) error {
		seen[string(key)] = string(value)
		return nil
	})
	if err != nil {
		t.Fatalf("IteratePrefix failed: %v", err)
	}

	if len(seen) != 2 {
		t.Fatalf("saw %d keys, want 2: %v", len(seen), seen)
	}

	if seen["s:alpha"] != "1" || seen["s:beta"] != "2" {
		t.Errorf("wrong values: %v", seen)
	}
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}

	if err := s.Set([]byte("persist"), []byte("me")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("failed to reopen storage: %v", err)
	}
	defer s.Close()

	got, err := s.Get([]byte("persist"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if !bytes.Equal(got, []byte("me")) {
		t.Errorf("Get after reopen returned %q, want %q", got, "me")
	}
}
