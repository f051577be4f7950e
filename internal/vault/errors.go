package vault

import "fmt"

// InvalidRootError is raised when a vault root is not a valid group-owned directory.
type InvalidRootError struct {
	Path string
}

func (e *InvalidRootError) Error() string {
	return fmt.Sprintf("%s is not a valid vault root", e.Path)
}

// RootIsImmutableError is raised when an attempt is made to create a vault
// at a location that already resolves to a different vault's root.
type RootIsImmutableError struct {
	Path string
}

func (e *RootIsImmutableError) Error() string {
	return fmt.Sprintf("vault root %s already exists and cannot be changed", e.Path)
}

// IncorrectVaultError is raised when a file is claimed by a vault other than
// the one that is acting on it.
type IncorrectVaultError struct {
	Path string
}

func (e *IncorrectVaultError) Error() string {
	return fmt.Sprintf("%s does not belong to this vault", e.Path)
}

// NotRegularFileError is raised when an operation that requires a regular
// file is given something else (directory, symlink, device, etc).
type NotRegularFileError struct {
	Path string
}

func (e *NotRegularFileError) Error() string {
	return fmt.Sprintf("%s is not a regular file", e.Path)
}

// PermissionDeniedError wraps a permission failure encountered while
// inspecting or mutating a file.
type PermissionDeniedError struct {
	Path string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Path)
}

// DoesNotExistError is raised when a vault file key cannot be resolved back
// to a file that is physically present in the vault.
type DoesNotExistError struct {
	Key string
}

func (e *DoesNotExistError) Error() string {
	return fmt.Sprintf("vault key does not resolve to an existing file: %s", e.Key)
}

// CorruptionError is raised when the vault's own invariants are violated:
// a tracked file exists in more than one branch, a limboed file has more
// than one hardlink, or a kept/archived/stashed file has only one.
type CorruptionError struct {
	Path   string
	Detail string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("vault corruption at %s: %s", e.Path, e.Detail)
}

// ConflictError is raised when an add would collide with a pre-existing,
// differently-keyed vault entry for the same inode.
type ConflictError struct {
	Path string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting vault entry for %s", e.Path)
}

// NoSuchVaultError is raised when no homogroupic vault root can be found
// for a given path.
type NoSuchVaultError struct {
	Path string
}

func (e *NoSuchVaultError) Error() string {
	return fmt.Sprintf("no vault found containing %s", e.Path)
}

// MinimumOwnersNotMetError is raised when a vault's group has fewer than
// the required number of registered owners and an operation that depends
// on stakeholder contact (e.g., notification) is attempted.
type MinimumOwnersNotMetError struct {
	GID int64
}

func (e *MinimumOwnersNotMetError) Error() string {
	return fmt.Sprintf("group %d does not have the minimum number of registered owners", e.GID)
}

// PhysicalVaultFileError marks a walked path as physically contained within
// one of a vault's branch directories, as opposed to being a tracked
// source file. It is a sentinel status, not a failure.
type PhysicalVaultFileError struct {
	Path   string
	Branch Branch
}

func (e *PhysicalVaultFileError) Error() string {
	return fmt.Sprintf("%s is physically vaulted under branch %s", e.Path, e.Branch)
}
