package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// perms matches the original vault's ug+rwx, setgid directory mode so
// files added by any group member remain group-writable.
const perms = os.ModeSetgid | 0770

// Vault is a single homogroupic vault rooted at Root. Entries are
// hardlinks keyed by Key, fanned out under one directory per Branch.
type Vault struct {
	Root string

	mu   sync.Mutex
	lock *os.File
}

// Open locates (or, if autocreate is set, creates) the vault containing
// path and returns a handle to it.
func Open(path string, autocreate bool) (*Vault, error) {
	root, err := Locate(path)
	if err != nil {
		return nil, err
	}

	location := filepath.Join(root, VaultDirName)
	if info, err := os.Stat(location); err == nil {
		if !info.IsDir() {
			return nil, &RootIsImmutableError{Path: location}
		}
	} else if os.IsNotExist(err) {
		if !autocreate {
			return nil, &NoSuchVaultError{Path: root}
		}
		if err := createVault(root, location); err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("stat %s: %w", location, err)
	}

	return &Vault{Root: root}, nil
}

func createVault(root, location string) error {
	gid, err := groupOf(root)
	if err != nil {
		return err
	}

	if err := os.Mkdir(location, 0770); err != nil {
		if os.IsExist(err) {
			return &RootIsImmutableError{Path: location}
		}
		return fmt.Errorf("creating vault directory %s: %w", location, err)
	}
	if err := os.Chown(location, -1, int(gid)); err != nil {
		return fmt.Errorf("setting group ownership of %s: %w", location, err)
	}
	if err := os.Chmod(location, perms); err != nil {
		return fmt.Errorf("setting permissions on %s: %w", location, err)
	}

	for _, branch := range Branches {
		bpath := filepath.Join(location, string(branch))
		if err := os.MkdirAll(bpath, perms); err != nil {
			return fmt.Errorf("creating branch %s: %w", branch, err)
		}
	}

	audit := filepath.Join(location, ".audit")
	f, err := os.OpenFile(audit, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0660)
	if err != nil {
		return fmt.Errorf("creating audit log %s: %w", audit, err)
	}
	return f.Close()
}

// Location returns the vault's .vault directory.
func (v *Vault) Location() string { return filepath.Join(v.Root, VaultDirName) }

// Lock acquires a non-blocking, exclusive advisory lock over the whole
// vault, used to serialise sweep/drain runs against each other and
// against user-initiated add/remove. It returns immediately with an
// error if another process already holds the lock.
func (v *Vault) Lock() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.lock != nil {
		return fmt.Errorf("vault %s is already locked by this handle", v.Root)
	}

	lockPath := filepath.Join(v.Location(), ".lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0660)
	if err != nil {
		return fmt.Errorf("opening lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("vault %s is locked by another process: %w", v.Root, err)
	}

	v.lock = f
	return nil
}

// Unlock releases a lock previously acquired with Lock.
func (v *Vault) Unlock() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.lock == nil {
		return nil
	}
	err := unix.Flock(int(v.lock.Fd()), unix.LOCK_UN)
	v.lock.Close()
	v.lock = nil
	return err
}

// BranchPath returns a branch's directory under this vault.
func (v *Vault) BranchPath(branch Branch) string {
	return filepath.Join(v.Location(), string(branch))
}

// KeyPath returns the absolute on-disk path for a key within a branch.
func (v *Vault) KeyPath(branch Branch, key *Key) string {
	return filepath.Join(v.BranchPath(branch), key.Path())
}

// RelativeSource returns srcPath relative to the vault root, or
// IncorrectVaultError/PhysicalVaultFileError if it does not belong here.
func (v *Vault) RelativeSource(srcPath string) (string, error) {
	abs, err := filepath.Abs(srcPath)
	if err != nil {
		return "", err
	}

	if rel, err := filepath.Rel(v.Location(), abs); err == nil && rel != "." && !hasDotDotPrefix(rel) {
		branch := firstPathElement(rel)
		return "", &PhysicalVaultFileError{Path: abs, Branch: Branch(filepath.Join(VaultDirName, branch))}
	}

	rel, err := filepath.Rel(v.Root, abs)
	if err != nil || hasDotDotPrefix(rel) {
		return "", &IncorrectVaultError{Path: abs}
	}
	return rel, nil
}

func hasDotDotPrefix(rel string) bool {
	return rel == ".." || len(rel) >= 3 && rel[:3] == "../"
}

func firstPathElement(rel string) string {
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return rel
}

// Add links srcPath into the given branch, returning the resulting key.
// It is idempotent: re-adding a path already tracked in the same branch
// is a no-op; if the file is tracked under a different branch or a
// different source path (e.g., it was renamed), the stale entry is
// deleted and recreated to match.
func (v *Vault) Add(branch Branch, srcPath string) (*Key, error) {
	relSrc, err := v.RelativeSource(srcPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filepath.Join(v.Root, relSrc))
	if err != nil {
		return nil, &DoesNotExistError{Key: relSrc}
	}
	if !info.Mode().IsRegular() {
		return nil, &NotRegularFileError{Path: srcPath}
	}

	stat, err := ExtractStatData(info)
	if err != nil {
		return nil, err
	}

	key := NewKey(relSrc, stat.Inode, DefaultMaxNameLength)

	existingBranch, existingKey, err := v.Find(relSrc, stat.Inode)
	if err != nil {
		return nil, err
	}

	if existingKey != nil {
		sameSource := true
		if src, err := existingKey.Source(); err == nil {
			sameSource = src == relSrc
		}
		if existingBranch == branch && sameSource {
			return existingKey, nil
		}
		if err := os.Remove(v.KeyPath(existingBranch, existingKey)); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale vault entry: %w", err)
		}
	}

	dest := v.KeyPath(branch, key)
	if err := os.MkdirAll(filepath.Dir(dest), perms); err != nil {
		return nil, fmt.Errorf("creating vault fan-out directory: %w", err)
	}
	if err := os.Link(filepath.Join(v.Root, relSrc), dest); err != nil {
		if os.IsExist(err) {
			return nil, &ConflictError{Path: srcPath}
		}
		return nil, fmt.Errorf("hardlinking %s into vault: %w", srcPath, err)
	}
	return key, nil
}

// Remove deletes the vault's hardlink for key from branch, if present,
// and prunes any ancestor fan-out directories left empty by the removal.
func (v *Vault) Remove(branch Branch, key *Key) error {
	dest := v.KeyPath(branch, key)
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s from vault: %w", key.Path(), err)
	}
	PruneEmptyAncestors(filepath.Dir(dest), v.BranchPath(branch))
	return nil
}

// Find searches every branch for a pre-existing entry for relSrc, keyed
// on the inode's least-significant byte rather than relSrc itself: the
// inode survives a rename, so this also recovers an entry whose source
// path has since changed. It returns ("", nil, nil) if untracked.
func (v *Vault) Find(relSrc string, inode uint64) (Branch, *Key, error) {
	candidate := NewKey(relSrc, inode, DefaultMaxNameLength)
	dir, pattern := candidate.SearchPattern()

	var found Branch
	var foundKey *Key

	for _, branch := range Branches {
		searchDir := filepath.Join(v.BranchPath(branch), dir)
		matches, err := filepath.Glob(filepath.Join(searchDir, pattern))
		if err != nil {
			return "", nil, fmt.Errorf("searching %s branch for %s: %w", branch, relSrc, err)
		}
		if len(matches) == 0 {
			continue
		}
		if len(matches) > 1 {
			return "", nil, &CorruptionError{Path: relSrc, Detail: fmt.Sprintf("multiple entries for inode %d in %s branch", inode, branch)}
		}
		if foundKey != nil {
			return "", nil, &CorruptionError{Path: relSrc, Detail: fmt.Sprintf("tracked in both %s and %s", found, branch)}
		}

		rel, err := filepath.Rel(v.BranchPath(branch), matches[0])
		if err != nil {
			return "", nil, err
		}
		key, err := Reconstruct(rel)
		if err != nil {
			return "", nil, fmt.Errorf("reconstructing key for %s: %w", matches[0], err)
		}
		found, foundKey = branch, key
	}

	return found, foundKey, nil
}

// List walks a branch, yielding every (sourcePath, keyPath) pair it
// contains.
func (v *Vault) List(branch Branch) ([]ListEntry, error) {
	bpath := v.BranchPath(branch)
	var entries []ListEntry

	err := filepath.Walk(bpath, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(bpath, p)
		if err != nil {
			return err
		}
		key, err := Reconstruct(rel)
		if err != nil {
			return fmt.Errorf("reconstructing key for %s: %w", p, err)
		}
		src, err := key.Source()
		if err != nil {
			return err
		}
		entries = append(entries, ListEntry{
			Source: filepath.Join(v.Root, src),
			Key:    key,
			Path:   p,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ListEntry is a single tracked file surfaced by Vault.List.
type ListEntry struct {
	Source string
	Key    *Key
	Path   string
}

// Status reports how this vault regards absPath: the branch it is
// tracked under ("" if untracked), a *PhysicalVaultFileError if the path
// is physically inside one of the vault's branch directories, or a
// *CorruptionError if it is tracked inconsistently.
func (v *Vault) Status(absPath string) (Branch, error) {
	relSrc, err := v.RelativeSource(absPath)
	if err != nil {
		return "", err
	}

	info, err := os.Lstat(absPath)
	if err != nil {
		return "", &DoesNotExistError{Key: relSrc}
	}
	stat, err := ExtractStatData(info)
	if err != nil {
		return "", err
	}

	branch, _, err := v.Find(relSrc, stat.Inode)
	if err != nil {
		return "", err
	}
	return branch, nil
}

// Hardlinks returns the number of hardlinks to path's inode.
func Hardlinks(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("cannot read link count of %s", path)
	}
	return stat.Nlink, nil
}
