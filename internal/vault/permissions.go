package vault

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	permUserRead  = 0400
	permUserWrite = 0200
	permUserExec  = 0100
	permGroupRead = 0040
	permGroupWrite = 0020
	permGroupExec  = 0010
)

// CanAdd reports whether srcPath is eligible to be linked into a vault:
// it must be a regular file, readable and writable by both its owning
// user and group, with matching user/group permission bits, whose parent
// directory is writable and searchable by both. reason explains a false
// result; it is empty when ok is true.
func CanAdd(srcPath string) (ok bool, reason string, err error) {
	info, err := os.Lstat(srcPath)
	if err != nil {
		return false, "", fmt.Errorf("stat %s: %w", srcPath, err)
	}
	if !info.Mode().IsRegular() {
		return false, fmt.Sprintf("%s is not a regular file", srcPath), nil
	}

	mode := info.Mode().Perm()
	ugrw := os.FileMode(permUserRead | permUserWrite | permGroupRead | permGroupWrite)
	if mode&ugrw != ugrw {
		return false, fmt.Sprintf("%s is not read-writable by both its owner and group", srcPath), nil
	}

	userPerms := (mode & (permUserRead | permUserWrite | permUserExec)) >> 3
	groupPerms := mode & (permGroupRead | permGroupWrite | permGroupExec)
	if userPerms != groupPerms {
		return false, fmt.Sprintf("the owner and group permissions do not match for %s", srcPath), nil
	}

	parent, err := os.Lstat(filepath.Dir(srcPath))
	if err != nil {
		return false, "", fmt.Errorf("stat parent of %s: %w", srcPath, err)
	}
	parentMode := parent.Mode().Perm()
	ugwx := os.FileMode(permUserWrite | permUserExec | permGroupWrite | permGroupExec)
	if parentMode&ugwx != ugwx {
		return false, fmt.Sprintf("the parent directory of %s is not writable or executable for both its owner and group", srcPath), nil
	}

	return true, "", nil
}
