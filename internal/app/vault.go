package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wtsi-hgi/hgi-vault/internal/config"
	"github.com/wtsi-hgi/hgi-vault/internal/idm"
	"github.com/wtsi-hgi/hgi-vault/internal/vault"
)

// MaxAnnotateFiles bounds how many files a single keep/archive
// invocation may annotate in one call.
const MaxAnnotateFiles = 10

// ListContext selects which of a branch's entries Vault.List narrows
// down to, matching the `--view [ctx]` flag's three named contexts.
type ListContext int

const (
	// ListAll returns every entry in the branch.
	ListAll ListContext = iota
	// ListHere returns only entries whose source lives under the
	// caller's current working directory.
	ListHere
	// ListMine returns only entries the caller owns.
	ListMine
)

// FileResult reports the outcome of one path within a multi-file vault
// operation, so the CLI can print a per-file failure summary and choose
// exit code 1 when any Err is non-nil.
type FileResult struct {
	Path string
	Key  *vault.Key
	Err  error
}

// VaultApp wires a loaded Config into the vault operations the `vault`
// binary's keep/archive/recover/untrack verbs execute against. Unlike
// SandmanApp it touches no persistence store: every decision here is
// made purely from the filesystem and the identity manager, since the
// vault itself is a side channel in-band with the filesystem.
type VaultApp struct {
	cfg    *config.Config
	idm    idm.IdentityManager
	logger vault.Logger
	callerUID int64
}

// NewVaultApp builds a VaultApp from cfg, resolving the caller's uid
// from the running process.
func NewVaultApp(cfg *config.Config) (*VaultApp, error) {
	return &VaultApp{
		cfg:       cfg,
		idm:       &idm.Dummy{SelfUID: int64(os.Getuid())},
		logger:    vault.NewNopLogger(),
		callerUID: int64(os.Getuid()),
	}, nil
}

// Keep annotates up to MaxAnnotateFiles regular files into the keep
// branch of their respective vaults.
func (a *VaultApp) Keep(paths []string) ([]FileResult, error) {
	return a.annotate(paths, vault.Keep)
}

// Archive annotates up to MaxAnnotateFiles regular files into the
// archive branch, or the stash variant if stash is set.
func (a *VaultApp) Archive(paths []string, stash bool) ([]FileResult, error) {
	branch := vault.Archive
	if stash {
		branch = vault.Stash
	}
	return a.annotate(paths, branch)
}

func (a *VaultApp) annotate(paths []string, branch vault.Branch) ([]FileResult, error) {
	if len(paths) > MaxAnnotateFiles {
		return nil, fmt.Errorf("cannot annotate more than %d files in one invocation, got %d", MaxAnnotateFiles, len(paths))
	}

	results := make([]FileResult, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			results = append(results, FileResult{Path: p, Err: err})
			continue
		}

		if ok, reason, err := vault.CanAdd(abs); err != nil {
			results = append(results, FileResult{Path: p, Err: err})
			continue
		} else if !ok {
			results = append(results, FileResult{Path: p, Err: fmt.Errorf("%s", reason)})
			continue
		}

		if err := a.checkMinOwners(abs); err != nil {
			results = append(results, FileResult{Path: p, Err: err})
			continue
		}

		v, err := vault.Open(abs, true)
		if err != nil {
			results = append(results, FileResult{Path: p, Err: err})
			continue
		}

		key, err := v.Add(branch, abs)
		results = append(results, FileResult{Path: p, Key: key, Err: err})
		if err == nil {
			a.logger.Info("annotated file", "path", abs, "branch", branch)
		}
	}
	return results, firstError(results)
}

// Recover restores files from limbo by hardlinking them back to their
// original source path and unlinking the limbo entry. If all is set,
// paths is ignored and every limbo entry reachable from cwd's vault is
// restored.
func (a *VaultApp) Recover(paths []string, all bool) ([]FileResult, error) {
	if all {
		return a.recoverAll()
	}

	results := make([]FileResult, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			results = append(results, FileResult{Path: p, Err: err})
			continue
		}

		v, err := vault.Open(abs, false)
		if err != nil {
			results = append(results, FileResult{Path: p, Err: err})
			continue
		}

		entry, err := a.findInLimbo(v, abs)
		if err != nil {
			results = append(results, FileResult{Path: p, Err: err})
			continue
		}

		if err := a.restore(v, entry); err != nil {
			results = append(results, FileResult{Path: p, Err: err})
			continue
		}
		results = append(results, FileResult{Path: p, Key: entry.Key})
	}
	return results, firstError(results)
}

func (a *VaultApp) recoverAll() ([]FileResult, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	v, err := vault.Open(cwd, false)
	if err != nil {
		return nil, err
	}

	entries, err := v.List(vault.Limbo)
	if err != nil {
		return nil, fmt.Errorf("listing limbo: %w", err)
	}

	results := make([]FileResult, 0, len(entries))
	for _, e := range entries {
		err := a.restore(v, e)
		results = append(results, FileResult{Path: e.Source, Key: e.Key, Err: err})
	}
	return results, firstError(results)
}

func (a *VaultApp) findInLimbo(v *vault.Vault, srcPath string) (vault.ListEntry, error) {
	entries, err := v.List(vault.Limbo)
	if err != nil {
		return vault.ListEntry{}, fmt.Errorf("listing limbo: %w", err)
	}
	for _, e := range entries {
		if e.Source == srcPath {
			return e, nil
		}
	}
	return vault.ListEntry{}, &vault.DoesNotExistError{Key: srcPath}
}

// restore hardlinks a limbo entry's vault key back to its original
// source path, failing if the source already exists, then resets the
// restored file's mtime and unlinks the limbo entry.
func (a *VaultApp) restore(v *vault.Vault, entry vault.ListEntry) error {
	if _, err := os.Lstat(entry.Source); err == nil {
		return fmt.Errorf("cannot recover %s: a file already exists there", entry.Source)
	}

	if err := os.MkdirAll(filepath.Dir(entry.Source), 0770); err != nil {
		return fmt.Errorf("creating parent directory for %s: %w", entry.Source, err)
	}
	if err := os.Link(entry.Path, entry.Source); err != nil {
		return fmt.Errorf("restoring %s: %w", entry.Source, err)
	}
	if err := vault.Touch(entry.Source, time.Now()); err != nil {
		return fmt.Errorf("resetting mtime of restored %s: %w", entry.Source, err)
	}
	if err := v.Remove(vault.Limbo, entry.Key); err != nil {
		return fmt.Errorf("removing limbo entry for %s: %w", entry.Source, err)
	}

	a.logger.Info("recovered file from limbo", "path", entry.Source)
	return nil
}

// Untrack removes paths from whichever of keep/archive/stash they are
// currently tracked under, enforcing that the caller is either the
// file's owner or a registered owner of its group.
func (a *VaultApp) Untrack(paths []string) ([]FileResult, error) {
	results := make([]FileResult, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			results = append(results, FileResult{Path: p, Err: err})
			continue
		}

		v, err := vault.Open(abs, false)
		if err != nil {
			results = append(results, FileResult{Path: p, Err: err})
			continue
		}

		if err := a.checkOwnership(abs); err != nil {
			results = append(results, FileResult{Path: p, Err: err})
			continue
		}

		info, err := os.Lstat(abs)
		if err != nil {
			results = append(results, FileResult{Path: p, Err: err})
			continue
		}
		stat, err := vault.ExtractStatData(info)
		if err != nil {
			results = append(results, FileResult{Path: p, Err: err})
			continue
		}

		relSrc, err := v.RelativeSource(abs)
		if err != nil {
			results = append(results, FileResult{Path: p, Err: err})
			continue
		}

		branch, key, err := v.Find(relSrc, stat.Inode)
		if err != nil {
			results = append(results, FileResult{Path: p, Err: err})
			continue
		}
		if key == nil || branch.Internal() {
			results = append(results, FileResult{Path: p, Err: &vault.DoesNotExistError{Key: relSrc}})
			continue
		}

		err = v.Remove(branch, key)
		results = append(results, FileResult{Path: p, Key: key, Err: err})
		if err == nil {
			a.logger.Info("untracked file", "path", abs, "branch", branch)
		}
	}
	return results, firstError(results)
}

// List enumerates branch's tracked entries, narrowed to ctx.
func (a *VaultApp) List(root string, branch vault.Branch, ctx ListContext) ([]vault.ListEntry, error) {
	v, err := vault.Open(root, false)
	if err != nil {
		return nil, err
	}

	entries, err := v.List(branch)
	if err != nil {
		return nil, err
	}

	switch ctx {
	case ListAll:
		return entries, nil
	case ListHere:
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
		var filtered []vault.ListEntry
		for _, e := range entries {
			if strings.HasPrefix(e.Source, cwd) {
				filtered = append(filtered, e)
			}
		}
		return filtered, nil
	case ListMine:
		var filtered []vault.ListEntry
		for _, e := range entries {
			info, err := os.Lstat(e.Path)
			if err != nil {
				continue
			}
			stat, err := vault.ExtractStatData(info)
			if err != nil {
				continue
			}
			if stat.UID == a.callerUID {
				filtered = append(filtered, e)
			}
		}
		return filtered, nil
	default:
		return entries, nil
	}
}

func (a *VaultApp) checkMinOwners(absPath string) error {
	info, err := os.Lstat(absPath)
	if err != nil {
		return err
	}
	stat, err := vault.ExtractStatData(info)
	if err != nil {
		return err
	}
	group, err := a.idm.Group(stat.GID)
	if err != nil {
		return err
	}
	return vault.ValidateMinOwners(stat.GID, group.Owners, a.cfg.MinGroupOwners)
}

func (a *VaultApp) checkOwnership(absPath string) error {
	info, err := os.Lstat(absPath)
	if err != nil {
		return err
	}
	stat, err := vault.ExtractStatData(info)
	if err != nil {
		return err
	}
	group, err := a.idm.Group(stat.GID)
	if err != nil {
		return err
	}
	return vault.ValidateOwnership(absPath, stat.UID, a.callerUID, group.Owners)
}

func firstError(results []FileResult) error {
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("%d of %d file(s) failed", countErrors(results), len(results))
		}
	}
	return nil
}

func countErrors(results []FileResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
