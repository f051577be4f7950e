package walker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wtsi-hgi/hgi-vault/internal/vault"
)

func TestFilesystemWalkerTracksAddedFile(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "data.txt")
	if err := os.WriteFile(srcPath, []byte("hello"), 0660); err != nil {
		t.Fatalf("writing fixture file: %v", err)
	}

	v, err := vault.Open(dir, true)
	if err != nil {
		t.Fatalf("opening vault: %v", err)
	}
	if _, err := v.Add(vault.Keep, srcPath); err != nil {
		t.Fatalf("adding file to vault: %v", err)
	}

	w, err := NewFilesystemWalker(nil, dir)
	if err != nil {
		t.Fatalf("constructing walker: %v", err)
	}

	statuses, err := w.Files()
	if err != nil {
		t.Fatalf("walking: %v", err)
	}

	var sawSource, sawPhysical bool
	for _, s := range statuses {
		if s.File.Path == srcPath {
			sawSource = true
			if s.Branch != vault.Keep {
				t.Errorf("expected source file in Keep branch, got %q (err=%v)", s.Branch, s.Err)
			}
		}
		if _, ok := s.Err.(*vault.PhysicalVaultFileError); ok {
			sawPhysical = true
		}
	}

	if !sawSource {
		t.Errorf("did not find source file in walk results")
	}
	if !sawPhysical {
		t.Errorf("expected the vaulted hardlink itself to be reported as physically vaulted")
	}
}

func TestFilesystemWalkerReportsUntracked(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "untracked.txt")
	if err := os.WriteFile(srcPath, []byte("hello"), 0660); err != nil {
		t.Fatalf("writing fixture file: %v", err)
	}
	if _, err := vault.Open(dir, true); err != nil {
		t.Fatalf("opening vault: %v", err)
	}

	w, err := NewFilesystemWalker(nil, dir)
	if err != nil {
		t.Fatalf("constructing walker: %v", err)
	}

	statuses, err := w.Files()
	if err != nil {
		t.Fatalf("walking: %v", err)
	}

	found := false
	for _, s := range statuses {
		if s.File.Path == srcPath {
			found = true
			if s.Branch != "" || s.Err != nil {
				t.Errorf("expected untracked file, got branch=%q err=%v", s.Branch, s.Err)
			}
		}
	}
	if !found {
		t.Errorf("did not find untracked file in walk results")
	}
}
