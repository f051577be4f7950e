package vault

// ValidateOwnership checks that callerUID is permitted to untrack or
// remove path, owned by ownerUID, whose group's registered owners are
// groupOwners: the caller must be the file's own owner or one of the
// group's owners.
func ValidateOwnership(path string, ownerUID, callerUID int64, groupOwners []int64) error {
	if callerUID == ownerUID {
		return nil
	}
	for _, owner := range groupOwners {
		if owner == callerUID {
			return nil
		}
	}
	return &PermissionDeniedError{Path: path}
}

// ValidateMinOwners checks that gid has at least min registered owners,
// per the min_group_owners configuration key: a group with too few
// LDAP-discovered owners is ineligible for vault operations, since a
// deletion warning or archival handoff would otherwise have nowhere
// reliable to go.
func ValidateMinOwners(gid int64, owners []int64, min int) error {
	if len(owners) < min {
		return &MinimumOwnersNotMetError{GID: gid}
	}
	return nil
}
