// Package store persists file lifecycle state to PostgreSQL: the record
// of every tracked file, the statuses it has passed through, pending
// warning/deletion/staging notifications, group ownership, and the
// drain queue.
package store

import "time"

// FileKey identifies a File record: a (device, inode) pair is stable
// across renames on the same filesystem, which is exactly the identity
// the sweeper and vault key codec both use.
type FileKey struct {
	Device uint64
	Inode  uint64
}

// File is a file the sweeper has observed, as last seen. It is immutable
// once inserted: a later observation that finds the facts have changed
// (moved, resized, re-owned) is recorded as a delete-and-reinsert, never
// an update in place.
type File struct {
	Device      uint64
	Inode       uint64
	SourcePath  string
	VaultKey    string // empty if the file has no vault key (untracked or pending)
	Mtime       time.Time
	OwnerUID    int64
	GroupGID    int64
	Size        int64
	FirstSeenAt time.Time

	// StatusID identifies the status row Files matched against, so a
	// caller aggregating notifications can call MarkNotified against the
	// exact event it just told a stakeholder about. It is zero unless
	// populated by Store.Files.
	StatusID int64
}

// Key returns f's identity.
func (f *File) Key() FileKey { return FileKey{Device: f.Device, Inode: f.Inode} }

// State identifies which lifecycle transition a Status record represents.
type State string

const (
	StateWarned  State = "warned"
	StateStaged  State = "staged"
	StateDeleted State = "deleted"
)

// Status is a single lifecycle transition for a file.
type Status struct {
	ID        int64
	Device    uint64
	Inode     uint64
	State     State
	CreatedAt time.Time
}

// Warning is the tminus checkpoint a warned Status corresponds to.
type Warning struct {
	StatusID    int64
	TminusHours int64
}

// Notification records that a stakeholder has already been told about a
// particular status, so a later sweep run does not re-notify them.
type Notification struct {
	StatusID     int64
	StakeholderUID int64
}

// Group is a gid sandman has discovered owners for.
type Group struct {
	GID          int64
	DiscoveredAt time.Time
}

// StagedQueueEntry is the durable drain backlog: a 1-1 projection of a
// "staged" Status row maintained by the same transaction that appends it,
// so the drainer can select and delete its backlog without joining
// against every staged status.
type StagedQueueEntry struct {
	StatusID  int64
	VaultKey  string // absolute path of the staged hardlink, for the drainer to stream
	SizeBytes int64
	QueuedAt  time.Time
}

// GroupSummary aggregates a stakeholder's files within one group: a
// common path prefix, count and total size. Used to keep notification
// e-mails short rather than enumerating every path.
type GroupSummary struct {
	CommonPath string
	Count      int64
	Size       int64
}

// Add folds another file into the summary, narrowing CommonPath to the
// longest shared prefix of both.
func (g GroupSummary) Add(path string, size int64) GroupSummary {
	if g.Count == 0 {
		return GroupSummary{CommonPath: path, Count: 1, Size: size}
	}
	return GroupSummary{
		CommonPath: commonPathPrefix(g.CommonPath, path),
		Count:      g.Count + 1,
		Size:       g.Size + size,
	}
}

func commonPathPrefix(a, b string) string {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	// Trim back to the last complete path segment.
	for n > 0 && a[n-1] != '/' {
		n--
	}
	if n == 0 {
		return "/"
	}
	return a[:n]
}
