package idm

import "testing"

func TestDummyResolvesAnyUID(t *testing.T) {
	d := &Dummy{SelfUID: 1000}

	user, err := d.User(42)
	if err != nil {
		t.Fatalf("User: %v", err)
	}
	if user.UID != 42 {
		t.Errorf("User(42).UID = %d, want 42", user.UID)
	}
}

func TestDummyGroupOwnedBySelf(t *testing.T) {
	d := &Dummy{SelfUID: 1000}

	group, err := d.Group(900)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if group.GID != 900 {
		t.Errorf("Group(900).GID = %d, want 900", group.GID)
	}
	if len(group.Owners) != 1 || group.Owners[0] != 1000 {
		t.Errorf("Group(900).Owners = %v, want [1000]", group.Owners)
	}
}
