// Package walker discovers files beneath a set of base directories and
// reports each one together with the vault that governs it and the
// vault's current opinion of its status.
package walker

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wtsi-hgi/hgi-vault/internal/vault"
)

// RestatAfter bounds how long a cached stat is trusted before a File's
// Age forces a fresh lookup. 36 hours matches the cost/precision
// trade-off a nightly sweep run is willing to make.
const RestatAfter = 36 * time.Hour

// File is a single walked path together with the stat data gathered when
// it was discovered.
type File struct {
	Path    string
	UID     int64
	GID     int64
	Size    int64
	Mtime   time.Time
	Inode   uint64
	Device  uint64
	NLink   uint64
	statAt  time.Time
	nowFunc func() time.Time
}

// FromFS builds a File by stat-ing path directly.
func FromFS(path string) (*File, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return fromInfo(path, info)
}

func fromInfo(path string, info os.FileInfo) (*File, error) {
	sd, err := vault.ExtractStatData(info)
	if err != nil {
		return nil, err
	}
	return &File{
		Path:    path,
		UID:     sd.UID,
		GID:     sd.GID,
		Size:    info.Size(),
		Mtime:   info.ModTime(),
		Inode:   sd.Inode,
		Device:  sd.Device,
		NLink:   sd.NLink,
		statAt:  time.Now(),
		nowFunc: time.Now,
	}, nil
}

// Age is the duration since the file's modification time, re-stating the
// file first if the cached data is older than RestatAfter.
func (f *File) Age() (time.Duration, error) {
	if err := f.Restat(false); err != nil {
		return 0, err
	}
	return f.now().Sub(f.Mtime), nil
}

// Restat refreshes the cached stat data if it is stale, or unconditionally
// if force is set.
func (f *File) Restat(force bool) error {
	if !force && f.now().Sub(f.statAt) <= RestatAfter {
		return nil
	}
	fresh, err := FromFS(f.Path)
	if err != nil {
		return err
	}
	nowFunc := f.nowFunc
	*f = *fresh
	f.nowFunc = nowFunc
	return nil
}

func (f *File) now() time.Time {
	if f.nowFunc != nil {
		return f.nowFunc()
	}
	return time.Now()
}

// Status pairs a walked vault with the status a governing vault reports
// for it: empty Branch and nil Err means untracked.
type Status struct {
	Vault  *vault.Vault
	File   *File
	Branch vault.Branch
	Err    error
}

// Walker discovers files under one or more base directories.
type Walker interface {
	Files() ([]Status, error)
}

// FilesystemWalker recurses the real filesystem beneath each base path.
// It is expensive but always current, the natural choice when an
// mpistat-style pre-computed listing is unavailable.
type FilesystemWalker struct {
	vaults []*vault.Vault
	logger vault.Logger
}

// NewFilesystemWalker locates the vault covering each base path (without
// creating one) and prepares to walk them. Bases that cannot be resolved
// to an existing vault are skipped with a warning; a base that is a file
// resolves to the vault of its containing directory.
func NewFilesystemWalker(logger vault.Logger, bases ...string) (*FilesystemWalker, error) {
	if logger == nil {
		logger = vault.NewNopLogger()
	}

	seen := map[string]bool{}
	var vaults []*vault.Vault
	for _, base := range bases {
		v, err := vault.Open(base, false)
		if err != nil {
			logger.Warn("skipping base path", "path", base, "error", err)
			continue
		}
		if seen[v.Root] {
			continue
		}
		seen[v.Root] = true
		vaults = append(vaults, v)
	}

	if len(vaults) == 0 {
		return nil, fmt.Errorf("no vault found covering any of the given base paths")
	}

	return &FilesystemWalker{vaults: vaults, logger: logger}, nil
}

// Files walks every vault's root tree, returning every regular file found
// together with its vault and status.
func (w *FilesystemWalker) Files() ([]Status, error) {
	var results []Status

	for _, v := range w.vaults {
		err := filepath.Walk(v.Root, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || !info.Mode().IsRegular() {
				return nil
			}

			file, ferr := fromInfo(p, info)
			if ferr != nil {
				w.logger.Warn("could not stat walked file", "path", p, "error", ferr)
				return nil
			}

			branch, serr := v.Status(p)
			results = append(results, Status{Vault: v, File: file, Branch: branch, Err: serr})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", v.Root, err)
		}
	}

	return results, nil
}
