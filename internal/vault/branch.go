package vault

// Branch identifies one of the vault's hardlink directories. Every tracked
// file is linked into exactly one branch at a time; the branch determines
// how sweep and drain treat it.
type Branch string

const (
	// Keep holds files that must never be archived or deleted.
	Keep Branch = ".vault/keep"

	// Archive holds files awaiting staging for offline archival. The
	// original source is removed from its working location once staged.
	Archive Branch = ".vault/archive"

	// Stash behaves like Archive but the source file is left in place
	// after staging; only the vault's hardlink moves to Staged.
	Stash Branch = ".vault/stash"

	// Staged holds files that sandman has handed off to drain but whose
	// external archival handler has not yet confirmed receipt. Staged is
	// owned by drain; nothing else should link into it directly.
	Staged Branch = ".vault/.staged"

	// Limbo holds soft-deleted files: the working copy has been removed
	// but the vault retains a grace-period hardlink that can be restored
	// until it is swept past the deletion threshold.
	Limbo Branch = ".vault/.limbo"
)

// Branches enumerates every branch in the fixed iteration order used by
// directory creation and consistency scans.
var Branches = []Branch{Keep, Archive, Stash, Staged, Limbo}

// String satisfies fmt.Stringer.
func (b Branch) String() string { return string(b) }

// Internal reports whether the branch is managed exclusively by sandman's
// own phases (staged, limbo) rather than added to directly by users.
func (b Branch) Internal() bool {
	return b == Staged || b == Limbo
}
