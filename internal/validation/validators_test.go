package validation

import "testing"

func validatorID(b byte) Hash {
	var id Hash
	id[0] = b
	return id
}

func TestValidatorSetMembership(t *testing.T) {
	vs := NewValidatorSet([]*ValidatorInfo{
		{ID: validatorID(1)},
		{ID: validatorID(2)},
	})

	if !vs.Contains(validatorID(1)) {
		t.Error("known validator reported missing")
	}
	if vs.Contains(validatorID(9)) {
		t.Error("unknown validator reported present")
	}

	if !vs.Add(&ValidatorInfo{ID: validatorID(3), Addr: "127.0.0.1:7000"}) {
		t.Fatal("adding a new validator failed")
	}
	if vs.Len() != 3 {
		t.Errorf("len: got %d, want 3", vs.Len())
	}
	if vs.Index(validatorID(3)) != 2 {
		t.Errorf("index: got %d, want 2", vs.Index(validatorID(3)))
	}
	if got := vs.Get(validatorID(3)); got == nil || got.Addr != "127.0.0.1:7000" {
		t.Errorf("get: %+v", got)
	}

	// Re-adding the same id leaves the set unchanged.
	if vs.Add(&ValidatorInfo{ID: validatorID(3)}) {
		t.Error("duplicate add accepted")
	}
	if vs.Len() != 3 {
		t.Errorf("len after duplicate add: got %d, want 3", vs.Len())
	}
}
