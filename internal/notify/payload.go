// Package notify assembles and dispatches the per-stakeholder e-mail
// sandman sends after a sweep: every warning checkpoint a stakeholder's
// files have newly crossed, everything soft-deleted this sweep, and
// everything staged for archival this sweep, aggregated into one message
// per uid. SMTP transport and body rendering beyond a pure template are
// out of scope; Mailer is the narrow boundary a concrete sender
// implements.
package notify

import (
	"sort"

	"github.com/wtsi-hgi/hgi-vault/internal/store"
)

// CheckpointList pairs a warning checkpoint with the files that have
// newly crossed it and are still unnotified for one stakeholder.
type CheckpointList struct {
	TminusHours int64
	Files       []store.File
}

// Payload is everything one stakeholder needs notifying about, as of the
// most recent sweep. A file that was deleted this sweep never also
// appears in a warning checkpoint: Deleted always wins, and buildPayload
// removes any file present in Deleted from every CheckpointList before
// returning.
type Payload struct {
	Stakeholder int64
	Checkpoints []CheckpointList
	Deleted     []store.File
	Staged      []store.File

	// statusIDs collects every (file, status) pair this payload reports
	// on, so Notifier can mark them all notified for Stakeholder once the
	// message has been sent, and nothing else.
	statusIDs []int64
}

// Empty reports whether the payload has nothing worth sending.
func (p *Payload) Empty() bool {
	if len(p.Deleted) > 0 || len(p.Staged) > 0 {
		return false
	}
	for _, c := range p.Checkpoints {
		if len(c.Files) > 0 {
			return false
		}
	}
	return true
}

// groupLine is one row of the per-group summary a message body presents
// in place of enumerating every path: a common directory prefix, file
// count and total size.
type groupLine struct {
	GID        int64
	CommonPath string
	Count      int64
	MiB        float64
}

// summarizeByGroup folds files into one groupLine per distinct gid,
// ordered by gid for deterministic rendering.
func summarizeByGroup(files []store.File) []groupLine {
	summaries := map[int64]store.GroupSummary{}
	var gids []int64
	for _, f := range files {
		if _, ok := summaries[f.GroupGID]; !ok {
			gids = append(gids, f.GroupGID)
		}
		summaries[f.GroupGID] = summaries[f.GroupGID].Add(f.SourcePath, f.Size)
	}
	sort.Slice(gids, func(i, j int) bool { return gids[i] < gids[j] })

	lines := make([]groupLine, 0, len(gids))
	for _, gid := range gids {
		s := summaries[gid]
		lines = append(lines, groupLine{
			GID:        gid,
			CommonPath: s.CommonPath,
			Count:      s.Count,
			MiB:        float64(s.Size) / (1024 * 1024),
		})
	}
	return lines
}

// allFiles concatenates every list carried in the payload.
func (p *Payload) allFiles() []store.File {
	var all []store.File
	for _, c := range p.Checkpoints {
		all = append(all, c.Files...)
	}
	all = append(all, p.Deleted...)
	all = append(all, p.Staged...)
	return all
}
