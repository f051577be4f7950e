package vault

import (
	"os"
	"path/filepath"
	"time"
)

// Touch resets path's access and modification times to now, used to
// re-arm a limboed entry's ageing clock from the moment it was
// soft-deleted rather than its original mtime.
func Touch(path string, now time.Time) error {
	return os.Chtimes(path, now, now)
}

// PruneEmptyAncestors removes dir and any of its now-empty ancestors, up
// to but excluding stop, after a vault entry has been unlinked from it.
func PruneEmptyAncestors(dir, stop string) {
	for dir != stop && dir != "." && dir != string(filepath.Separator) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
