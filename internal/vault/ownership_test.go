package vault

import "testing"

func TestValidateOwnershipAllowsSelf(t *testing.T) {
	if err := ValidateOwnership("/g/proj/a.bam", 500, 500, nil); err != nil {
		t.Errorf("expected the owner to be permitted, got %v", err)
	}
}

func TestValidateOwnershipAllowsGroupOwner(t *testing.T) {
	if err := ValidateOwnership("/g/proj/a.bam", 500, 700, []int64{600, 700}); err != nil {
		t.Errorf("expected a registered group owner to be permitted, got %v", err)
	}
}

func TestValidateOwnershipRejectsStranger(t *testing.T) {
	err := ValidateOwnership("/g/proj/a.bam", 500, 999, []int64{600, 700})
	if _, ok := err.(*PermissionDeniedError); !ok {
		t.Fatalf("expected a *PermissionDeniedError, got %v", err)
	}
}

func TestValidateMinOwnersAcceptsEnough(t *testing.T) {
	if err := ValidateMinOwners(600, []int64{1, 2, 3}, 2); err != nil {
		t.Errorf("expected three owners to satisfy a minimum of two, got %v", err)
	}
}

func TestValidateMinOwnersRejectsTooFew(t *testing.T) {
	err := ValidateMinOwners(600, []int64{1}, 2)
	minErr, ok := err.(*MinimumOwnersNotMetError)
	if !ok {
		t.Fatalf("expected a *MinimumOwnersNotMetError, got %v", err)
	}
	if minErr.GID != 600 {
		t.Errorf("expected the error to carry gid 600, got %d", minErr.GID)
	}
}
