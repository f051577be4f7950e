package vault

import "fmt"

// CheckHardlinks validates the hardlink-count invariant for a physically
// vaulted file: Keep/Archive/Stash entries must still be linked to a
// source (more than one hardlink) and Limbo entries must not be (exactly
// one, since the source was deleted when the file was soft-deleted).
// Staged is excluded: drain is free to multiply-link a file while
// handing it to the archival backend.
func CheckHardlinks(branch Branch, path string) error {
	n, err := Hardlinks(path)
	if err != nil {
		return fmt.Errorf("checking hardlinks of %s: %w", path, err)
	}

	switch branch {
	case Limbo:
		if n > 1 {
			return &CorruptionError{Path: path, Detail: "limboed file has more than one hardlink"}
		}
	case Keep, Archive, Stash:
		if n == 1 {
			return &CorruptionError{Path: path, Detail: "vaulted file does not link to any source"}
		}
	}
	return nil
}
