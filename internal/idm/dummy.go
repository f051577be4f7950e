package idm

import "fmt"

// Dummy is an IdentityManager that fabricates a plausible identity for
// any uid or gid rather than consulting a directory service: every group
// it resolves has a single owner and member, the caller's own uid. It
// exists so the rest of the system can be developed and tested without
// an LDAP directory to hand.
type Dummy struct {
	// SelfUID is the uid reported as the sole owner/member of every
	// resolved group.
	SelfUID int64
}

func (d *Dummy) User(uid int64) (*User, error) {
	return &User{
		UID:   uid,
		Name:  fmt.Sprintf("user-%d", uid),
		Email: fmt.Sprintf("user-%d@example.invalid", uid),
	}, nil
}

func (d *Dummy) Group(gid int64) (*Group, error) {
	return &Group{
		GID:     gid,
		Name:    fmt.Sprintf("group-%d", gid),
		Owners:  []int64{d.SelfUID},
		Members: []int64{d.SelfUID},
	}, nil
}

var _ IdentityManager = (*Dummy)(nil)
