package store

import (
	"context"
	"time"
)

// Filter selects which files/statuses a notification pass is interested
// in: a particular lifecycle State, not yet notified for a particular
// stakeholder, and (for StateWarned) a particular tminus checkpoint.
type Filter struct {
	State          State
	Stakeholder    int64
	TminusHours    int64 // only meaningful when State == StateWarned
	ExcludeNotified bool
}

// Store is the persistence boundary the sweeper, notifier and drainer
// depend on. PostgresStore is the only production implementation;
// MemoryStore (in internal/testutil) backs unit tests.
type Store interface {
	// Persist records file as having reached status, atomically: the
	// file row is inserted if new, the status row is appended, and — for
	// StateWarned — the warning row and — for StateStaged — the staged
	// queue row are written in the same transaction.
	Persist(ctx context.Context, file *File, status State, tminusHours int64) (statusID int64, err error)

	// Clear removes any state this system has recorded for key that no
	// longer applies — e.g. a file that was warned but has since been
	// explicitly kept. It is a no-op if nothing is recorded.
	Clear(ctx context.Context, key FileKey) error

	// Files returns every file whose most recent status matches filter,
	// joined with that status's metadata. Each returned File.StatusID
	// identifies the matching status row, so a caller can MarkNotified
	// against the exact event it reports on.
	Files(ctx context.Context, filter Filter) ([]File, error)

	// Stakeholders returns every uid who owns, or is a group-owner of,
	// at least one file with an unnotified status.
	Stakeholders(ctx context.Context) ([]int64, error)

	// MarkNotified records that stakeholder has now been told about
	// statusID, so it is excluded from future notification passes.
	MarkNotified(ctx context.Context, statusID int64, stakeholder int64) error

	// EnsureGroup records gid as known and overwrites its registered
	// owners, discovered via the identity manager.
	EnsureGroup(ctx context.Context, gid int64, owners []int64) error

	// GroupOwners returns the registered owner uids for gid.
	GroupOwners(ctx context.Context, gid int64) ([]int64, error)

	// WarnedSince reports whether key already has a warned status at
	// tminusHours created at or after since, so the sweeper does not
	// re-warn for a checkpoint already recorded against the file's
	// current mtime.
	WarnedSince(ctx context.Context, key FileKey, tminusHours int64, since time.Time) (bool, error)

	// StagedQueue returns up to limit pending drain entries, oldest
	// first.
	StagedQueue(ctx context.Context, limit int) ([]StagedQueueEntry, error)

	// DequeueStaged removes statusID's entry from the staged queue once
	// the drainer's downstream handler has confirmed receipt.
	DequeueStaged(ctx context.Context, statusID int64) error

	// PurgeExpired deletes file and status history that has aged out:
	// any file whose newest status is StateDeleted and has been
	// notified to every stakeholder, and any file with no staged status
	// whose oldest status is older than nonStagedTTL.
	PurgeExpired(ctx context.Context, now time.Time, nonStagedTTL time.Duration) (purged int64, err error)

	Close() error
}
