// Package sweep implements the state-machine handler that walks a
// vault's tracked and untracked files once per invocation and decides,
// per entry, whether to warn an owner, soft-delete into limbo, stage
// for archival, or leave the entry alone. It is grounded on the batch
// sweep phase of the retention system this module generalises: walk
// once, decide per file, commit the filesystem change before the
// persistence record, and abort the whole run rather than guess when
// the consensus gate or identity lookup cannot answer.
package sweep

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wtsi-hgi/hgi-vault/internal/config"
	"github.com/wtsi-hgi/hgi-vault/internal/consensus"
	"github.com/wtsi-hgi/hgi-vault/internal/idm"
	"github.com/wtsi-hgi/hgi-vault/internal/store"
	"github.com/wtsi-hgi/hgi-vault/internal/vault"
	"github.com/wtsi-hgi/hgi-vault/internal/walker"
)

// Clock abstracts "now" so limbo-ageing decisions are deterministic in
// tests; walker.File.Age already handles the source-side age
// calculation, so this is used for the physically-vaulted limbo path,
// where the governing timestamp is the branch entry's own mtime rather
// than a walker.File's, and for the time a soft-deleted file's limbo
// entry is reset to.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Summary counts what one Run did, for the CLI's --stats output and
// exit-code decisions.
type Summary struct {
	Warned             int
	Staged             int
	Deleted            int
	PermanentlyDeleted int
	Untracked          int
	Skipped            int
	Errors             int
}

// Sweeper drives every file a Walker reports through the retention
// state machine described in Run.
type Sweeper struct {
	Walker         walker.Walker
	Store          store.Store
	IDM            idm.IdentityManager
	Gate           *consensus.Gate
	Clock          Clock
	Logger         vault.Logger
	Deletion       config.DeletionConfig
	MinGroupOwners int
	DryRun         bool

	groupEligible map[int64]bool
}

// Run walks every file the configured Walker reports and applies the
// state machine to each. It returns as soon as handling any entry
// fails: a consensus disagreement, an unresolvable identity, or a
// filesystem or persistence error while acting on the entry. Entries
// the walker could not classify, vault corruption, locked files and
// files not eligible for action are logged or counted and swept past.
func (s *Sweeper) Run(ctx context.Context) (*Summary, error) {
	if s.Clock == nil {
		s.Clock = systemClock{}
	}
	if s.Logger == nil {
		s.Logger = vault.NewNopLogger()
	}
	s.groupEligible = map[int64]bool{}

	statuses, err := s.Walker.Files()
	if err != nil {
		return nil, fmt.Errorf("walking: %w", err)
	}

	summary := &Summary{}
	for _, st := range statuses {
		if err := s.dispatch(ctx, st, summary); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func (s *Sweeper) dispatch(ctx context.Context, st walker.Status, summary *Summary) error {
	switch e := st.Err.(type) {
	case *vault.PhysicalVaultFileError:
		return s.handlePhysical(st, e, summary)
	case *vault.CorruptionError:
		s.Logger.Warn("vault corruption detected", "path", st.File.Path, "detail", e.Detail)
		summary.Errors++
		return nil
	case nil:
		// fall through to the branch switch below.
	default:
		s.Logger.Warn("skipping file sandman could not classify", "path", st.File.Path, "error", e)
		summary.Errors++
		return nil
	}

	switch st.Branch {
	case "":
		return s.handleUntracked(ctx, st, summary)
	case vault.Keep:
		return s.handleKeep(st, summary)
	case vault.Archive:
		return s.handleStage(ctx, st, summary, false)
	case vault.Stash:
		return s.handleStage(ctx, st, summary, true)
	case vault.Staged:
		return nil // drain owns the staged branch.
	default:
		s.Logger.Warn("unrecognised branch", "branch", st.Branch, "path", st.File.Path)
		summary.Errors++
		return nil
	}
}

// handlePhysical handles an entry discovered by walking a branch
// directory directly rather than a tracked source. It checks the
// hardlink-count invariant for every branch and, for limbo, decides
// whether the grace period has elapsed and the entry should be
// permanently deleted.
func (s *Sweeper) handlePhysical(st walker.Status, pvf *vault.PhysicalVaultFileError, summary *Summary) error {
	if err := vault.CheckHardlinks(pvf.Branch, pvf.Path); err != nil {
		if pvf.Branch == vault.Keep {
			return s.repairOrphanedKeep(st, pvf, summary)
		}
		s.Logger.Warn("vault corruption detected", "path", pvf.Path, "error", err)
		summary.Errors++
		return nil
	}

	if pvf.Branch != vault.Limbo {
		return nil
	}

	age := s.Clock.Now().Sub(st.File.Mtime)
	limboThreshold := time.Duration(s.Deletion.LimboDays) * 24 * time.Hour
	if age < limboThreshold {
		return nil
	}

	decided, err := s.Gate.Decide(consensus.FileAttrs{Age: age}, limboThreshold)
	if err != nil {
		return fmt.Errorf("consensus gate refused permanent deletion of %s: %w", pvf.Path, err)
	}
	if !decided {
		s.Logger.Warn("consensus gate declined permanent deletion", "path", pvf.Path)
		summary.Skipped++
		return nil
	}

	if s.DryRun {
		s.Logger.Info("would permanently delete limboed file", "path", pvf.Path)
		summary.PermanentlyDeleted++
		return nil
	}

	key, err := reconstructBranchKey(st.Vault, pvf.Branch, pvf.Path)
	if err != nil {
		return fmt.Errorf("reconstructing key for %s: %w", pvf.Path, err)
	}
	if err := st.Vault.Remove(pvf.Branch, key); err != nil {
		return fmt.Errorf("permanently deleting %s: %w", pvf.Path, err)
	}
	s.Logger.Info("permanently deleted limboed file", "path", pvf.Path)
	summary.PermanentlyDeleted++
	return nil
}

// repairOrphanedKeep auto-repairs a keep entry whose source has
// vanished outside this system's control: the original owner's intent
// was permanence, but a source the owner themselves deleted cannot be
// kept, so the stale hardlink is unlinked rather than left to rot.
func (s *Sweeper) repairOrphanedKeep(st walker.Status, pvf *vault.PhysicalVaultFileError, summary *Summary) error {
	key, err := reconstructBranchKey(st.Vault, pvf.Branch, pvf.Path)
	if err != nil {
		return fmt.Errorf("reconstructing key for %s: %w", pvf.Path, err)
	}

	if s.DryRun {
		s.Logger.Info("would unlink keep entry whose source has vanished", "path", pvf.Path)
		summary.Untracked++
		return nil
	}
	if err := st.Vault.Remove(pvf.Branch, key); err != nil {
		return fmt.Errorf("unlinking orphaned keep entry %s: %w", pvf.Path, err)
	}
	s.Logger.Info("unlinked keep entry whose source has vanished", "path", pvf.Path)
	summary.Untracked++
	return nil
}

// handleKeep untracks a kept source once it has aged past an optional
// keep threshold, leaving the source itself untouched: once untracked
// it ages as any other file and may later be warned and deleted.
func (s *Sweeper) handleKeep(st walker.Status, summary *Summary) error {
	if s.Deletion.KeepDays <= 0 {
		return nil
	}

	age, err := st.File.Age()
	if err != nil {
		return fmt.Errorf("checking age of %s: %w", st.File.Path, err)
	}
	if age < time.Duration(s.Deletion.KeepDays)*24*time.Hour {
		return nil
	}

	branch, key, err := st.Vault.Find(relativeSource(st.Vault, st.File.Path), st.File.Inode)
	if err != nil {
		return fmt.Errorf("looking up keep entry for %s: %w", st.File.Path, err)
	}
	if key == nil {
		return nil
	}

	if s.DryRun {
		s.Logger.Info("would untrack keep entry past its keep threshold", "path", st.File.Path)
		summary.Untracked++
		return nil
	}
	if err := st.Vault.Remove(branch, key); err != nil {
		return fmt.Errorf("untracking %s: %w", st.File.Path, err)
	}
	s.Logger.Info("untracked keep entry past its keep threshold", "path", st.File.Path)
	summary.Untracked++
	return nil
}

// handleStage moves an archive or stash entry's hardlink into staged,
// deleting the source unless stash is set.
func (s *Sweeper) handleStage(ctx context.Context, st walker.Status, summary *Summary, stash bool) error {
	lock, err := vault.TryLockFile(st.File.Path)
	if err != nil {
		s.Logger.Info("skipping file staged for archival; locked by another process", "path", st.File.Path)
		summary.Skipped++
		return nil
	}
	defer lock.Close()

	eligible, err := s.groupIsEligible(ctx, st.File.GID)
	if err != nil {
		return err
	}
	if !eligible {
		s.Logger.Warn("skipping file whose group does not meet the minimum owner count", "path", st.File.Path, "gid", st.File.GID)
		summary.Skipped++
		return nil
	}

	if s.DryRun {
		s.Logger.Info("would stage file for archival", "path", st.File.Path, "stash", stash)
		summary.Staged++
		return nil
	}

	key, err := st.Vault.Add(vault.Staged, st.File.Path)
	if err != nil {
		return fmt.Errorf("staging %s: %w", st.File.Path, err)
	}

	if !stash {
		if err := os.Remove(st.File.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("deleting archived source %s: %w", st.File.Path, err)
		}
	}

	file := s.fileRecord(st, key)
	file.VaultKey = st.Vault.KeyPath(vault.Staged, key) // drain queue needs the absolute staged path, not the key's branch-relative form
	if _, err := s.Store.Persist(ctx, file, store.StateStaged, 0); err != nil {
		return fmt.Errorf("recording staged status for %s: %w", st.File.Path, err)
	}

	s.Logger.Info("staged file for archival", "path", st.File.Path, "stash", stash)
	summary.Staged++
	return nil
}

// handleUntracked applies the warn-or-delete decision to a file with
// no vault entry at all: the "outside" state.
func (s *Sweeper) handleUntracked(ctx context.Context, st walker.Status, summary *Summary) error {
	age, err := st.File.Age()
	if err != nil {
		return fmt.Errorf("checking age of %s: %w", st.File.Path, err)
	}

	threshold := time.Duration(s.Deletion.ThresholdDays) * 24 * time.Hour
	if age >= threshold {
		return s.softDelete(ctx, st, age, threshold, summary)
	}
	return s.warn(ctx, st, age, threshold, summary)
}

func (s *Sweeper) softDelete(ctx context.Context, st walker.Status, age, threshold time.Duration, summary *Summary) error {
	lock, err := vault.TryLockFile(st.File.Path)
	if err != nil {
		s.Logger.Info("skipping file past its deletion threshold; locked by another process", "path", st.File.Path)
		summary.Skipped++
		return nil
	}
	defer lock.Close()

	eligible, err := s.groupIsEligible(ctx, st.File.GID)
	if err != nil {
		return err
	}
	if !eligible {
		s.Logger.Warn("skipping file whose group does not meet the minimum owner count", "path", st.File.Path, "gid", st.File.GID)
		summary.Skipped++
		return nil
	}

	actionable, reason, err := vault.CanAdd(st.File.Path)
	if err != nil {
		return fmt.Errorf("checking permissions on %s: %w", st.File.Path, err)
	}
	if !actionable {
		s.Logger.Warn("skipping unactionable file past its deletion threshold", "path", st.File.Path, "reason", reason)
		summary.Skipped++
		return nil
	}

	decided, err := s.Gate.Decide(consensus.FileAttrs{Age: age}, threshold)
	if err != nil {
		return fmt.Errorf("consensus gate refused deletion of %s: %w", st.File.Path, err)
	}
	if !decided {
		s.Logger.Warn("consensus gate declined deletion", "path", st.File.Path)
		summary.Skipped++
		return nil
	}

	if s.DryRun {
		s.Logger.Info("would soft-delete file past its deletion threshold", "path", st.File.Path)
		summary.Deleted++
		return nil
	}

	key, err := st.Vault.Add(vault.Limbo, st.File.Path)
	if err != nil {
		return fmt.Errorf("soft-deleting %s: %w", st.File.Path, err)
	}
	if err := os.Remove(st.File.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting source %s after soft-delete: %w", st.File.Path, err)
	}

	now := s.Clock.Now()
	if err := vault.Touch(st.Vault.KeyPath(vault.Limbo, key), now); err != nil {
		return fmt.Errorf("resetting limbo mtime for %s: %w", st.File.Path, err)
	}

	file := s.fileRecord(st, key)
	file.Mtime = now
	if _, err := s.Store.Persist(ctx, file, store.StateDeleted, 0); err != nil {
		return fmt.Errorf("recording deletion of %s: %w", st.File.Path, err)
	}

	s.Logger.Info("soft-deleted file past its deletion threshold", "path", st.File.Path)
	summary.Deleted++
	return nil
}

// warn appends a warned status for every configured checkpoint the
// file has newly crossed, skipping any checkpoint already recorded
// since the file's current mtime.
func (s *Sweeper) warn(ctx context.Context, st walker.Status, age, threshold time.Duration, summary *Summary) error {
	untilDelete := threshold - age

	for _, h := range s.Deletion.WarningHours {
		checkpoint := time.Duration(h) * time.Hour
		if untilDelete > checkpoint {
			continue
		}

		key := store.FileKey{Device: st.File.Device, Inode: st.File.Inode}
		already, err := s.Store.WarnedSince(ctx, key, int64(h), st.File.Mtime)
		if err != nil {
			return fmt.Errorf("checking prior warnings for %s: %w", st.File.Path, err)
		}
		if already {
			continue
		}

		if s.DryRun {
			s.Logger.Info("would warn of upcoming deletion", "path", st.File.Path, "tminus_hours", h)
			summary.Warned++
			continue
		}

		file := s.fileRecord(st, nil)
		if _, err := s.Store.Persist(ctx, file, store.StateWarned, int64(h)); err != nil {
			return fmt.Errorf("recording warning for %s: %w", st.File.Path, err)
		}
		s.Logger.Info("warned of upcoming deletion", "path", st.File.Path, "tminus_hours", h)
		summary.Warned++
	}
	return nil
}

// groupIsEligible resolves gid's registered owners through the
// identity manager once per sweep, records them for stakeholder
// aggregation, and reports whether the group meets MinGroupOwners. A
// failure to resolve the group at all is fatal: a silently-ineligible
// group must surface rather than be swept past.
func (s *Sweeper) groupIsEligible(ctx context.Context, gid int64) (bool, error) {
	if eligible, ok := s.groupEligible[gid]; ok {
		return eligible, nil
	}

	group, err := s.IDM.Group(gid)
	if err != nil {
		return false, fmt.Errorf("resolving group %d: %w", gid, err)
	}
	if err := s.Store.EnsureGroup(ctx, gid, group.Owners); err != nil {
		return false, fmt.Errorf("recording owners for group %d: %w", gid, err)
	}

	eligible := len(group.Owners) >= s.MinGroupOwners
	s.groupEligible[gid] = eligible
	return eligible, nil
}

func (s *Sweeper) fileRecord(st walker.Status, key *vault.Key) *store.File {
	vaultKey := ""
	if key != nil {
		vaultKey = key.Path()
	}
	return &store.File{
		Device: st.File.Device, Inode: st.File.Inode,
		SourcePath: st.File.Path, VaultKey: vaultKey,
		Mtime: st.File.Mtime, OwnerUID: st.File.UID, GroupGID: st.File.GID,
		Size: st.File.Size,
	}
}

func reconstructBranchKey(v *vault.Vault, branch vault.Branch, absPath string) (*vault.Key, error) {
	rel, err := filepath.Rel(v.BranchPath(branch), absPath)
	if err != nil {
		return nil, err
	}
	return vault.Reconstruct(rel)
}

func relativeSource(v *vault.Vault, absPath string) string {
	rel, err := filepath.Rel(v.Root, absPath)
	if err != nil {
		return absPath
	}
	return rel
}
