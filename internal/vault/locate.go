package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// VaultDirName is the directory, created at a homogroupic subtree's root,
// that holds a vault's branches.
const VaultDirName = ".vault"

// Locate climbs from absPath to the root of the homogroupic subtree that
// contains it: the highest ancestor directory that shares the same gid as
// absPath's immediate containing directory. That root is where the vault
// for absPath lives, or would be created.
func Locate(absPath string) (string, error) {
	start := filepath.Dir(absPath)
	if info, err := os.Stat(absPath); err == nil && info.IsDir() {
		start = absPath
	}

	if filepath.Base(start) == VaultDirName {
		return "", &NoSuchVaultError{Path: absPath}
	}

	root, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", absPath, err)
	}

	gid, err := groupOf(root)
	if err != nil {
		return "", err
	}

	for root != "/" {
		parent := filepath.Dir(root)
		parentGID, err := groupOf(parent)
		if err != nil {
			return "", err
		}
		if parentGID != gid {
			break
		}
		root = parent
	}

	return root, nil
}

func groupOf(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("cannot read gid of %s", path)
	}
	return int64(stat.Gid), nil
}

// StatData carries the subset of a file's stat(2) result the vault cares
// about, abstracted away from the concrete syscall struct so callers that
// work with test doubles don't need build-tagged code.
type StatData struct {
	UID     int64
	GID     int64
	Inode   uint64
	Device  uint64
	NLink   uint64
	ModTime int64
}

// ExtractStatData pulls vault-relevant fields out of a FileInfo produced
// by the real OS filesystem.
func ExtractStatData(info os.FileInfo) (*StatData, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil, fmt.Errorf("cannot extract stat data: expected *syscall.Stat_t, got %T", info.Sys())
	}
	return &StatData{
		UID:     int64(stat.Uid),
		GID:     int64(stat.Gid),
		Inode:   stat.Ino,
		Device:  uint64(stat.Dev),
		NLink:   uint64(stat.Nlink),
		ModTime: stat.Mtim.Sec,
	}, nil
}
