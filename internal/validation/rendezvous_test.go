package validation

import "testing"

func TestComputeHoldersIsDeterministic(t *testing.T) {
	_, vs := newTestValidators(t, 10)
	r := NewRendezvous(vs)

	var address [32]byte
	address[0] = 0x42

	first := r.ComputeHolders(address, 3)
	second := r.ComputeHolders(address, 3)

	if len(first) != 3 {
		t.Fatalf("got %d holders, want 3", len(first))
	}

	for i := range first {
		if first[i] != second[i] {
			t.Errorf("holder %d differs between runs", i)
		}
	}
}

func TestComputeHoldersDistinct(t *testing.T) {
	_, vs := newTestValidators(t, 10)
	r := NewRendezvous(vs)

	var address [32]byte
	address[0] = 0x42

	holders := r.ComputeHolders(address, 5)

	seen := make(map[Hash]bool)
	for _, h := range holders {
		if seen[h] {
			t.Errorf("holder %x listed twice", h[:4])
		}
		seen[h] = true
	}
}

func TestComputeHoldersCountClamped(t *testing.T) {
	_, vs := newTestValidators(t, 3)
	r := NewRendezvous(vs)

	var address [32]byte

	if got := r.ComputeHolders(address, 10); len(got) != 3 {
		t.Errorf("got %d holders, want 3", len(got))
	}

	if got := r.ComputeHolders(address, 0); got != nil {
		t.Errorf("zero count: got %d holders, want none", len(got))
	}
}

func TestDifferentAddressesSpreadHolders(t *testing.T) {
	_, vs := newTestValidators(t, 10)
	r := NewRendezvous(vs)

	// With enough addresses the top holder should not always be the same
	// validator.
	counts := make(map[Hash]int)
	for i := 0; i < 32; i++ {
		var address [32]byte
		address[0] = byte(i)
		counts[r.ComputeHolders(address, 1)[0]]++
	}

	if len(counts) < 2 {
		t.Error("all addresses mapped to a single holder")
	}
}
