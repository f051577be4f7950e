package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wtsi-hgi/hgi-vault/internal/config"
	"github.com/wtsi-hgi/hgi-vault/internal/idm"
	"github.com/wtsi-hgi/hgi-vault/internal/vault"
)

func testVaultApp() *VaultApp {
	return &VaultApp{
		cfg:       &config.Config{MinGroupOwners: 1},
		idm:       &idm.Dummy{SelfUID: int64(os.Getuid())},
		logger:    vault.NewNopLogger(),
		callerUID: int64(os.Getuid()),
	}
}

func writeAnnotatable(t *testing.T, dir, name string) string {
	t.Helper()
	if err := os.Chmod(dir, 0770); err != nil {
		t.Fatalf("chmod dir: %v", err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("data"), 0660); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return p
}

func TestKeepAnnotatesIntoKeepBranch(t *testing.T) {
	dir := t.TempDir()
	p := writeAnnotatable(t, dir, "a.bam")

	a := testVaultApp()
	results, err := a.Keep([]string{p})
	if err != nil {
		t.Fatalf("Keep: %v", err)
	}
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("expected a clean Keep result, got %+v", results)
	}

	v, err := vault.Open(dir, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	entries, err := v.List(vault.Keep)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Source != p {
		t.Fatalf("expected one keep entry for %s, got %+v", p, entries)
	}
}

func TestKeepRejectsMoreThanMaxAnnotateFiles(t *testing.T) {
	dir := t.TempDir()
	paths := make([]string, MaxAnnotateFiles+1)
	for i := range paths {
		paths[i] = writeAnnotatable(t, dir, filepath.Base(dir)+string(rune('a'+i))+".bam")
	}

	a := testVaultApp()
	if _, err := a.Keep(paths); err == nil {
		t.Fatalf("expected Keep to reject more than %d files", MaxAnnotateFiles)
	}
}

func TestArchiveStashKeepsSourceInPlace(t *testing.T) {
	dir := t.TempDir()
	p := writeAnnotatable(t, dir, "a.bam")

	a := testVaultApp()
	if _, err := a.Archive([]string{p}, true); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	if _, err := os.Lstat(p); err != nil {
		t.Errorf("expected the source file to remain in place after a stash, got %v", err)
	}
}

func TestUntrackRemovesAnnotation(t *testing.T) {
	dir := t.TempDir()
	p := writeAnnotatable(t, dir, "a.bam")

	a := testVaultApp()
	if _, err := a.Keep([]string{p}); err != nil {
		t.Fatalf("Keep: %v", err)
	}

	results, err := a.Untrack([]string{p})
	if err != nil {
		t.Fatalf("Untrack: %v", err)
	}
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("expected a clean Untrack result, got %+v", results)
	}

	v, err := vault.Open(dir, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	entries, err := v.List(vault.Keep)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no keep entries after untrack, got %+v", entries)
	}
}

func TestUntrackRejectsNonOwnerNonGroupOwner(t *testing.T) {
	dir := t.TempDir()
	p := writeAnnotatable(t, dir, "a.bam")

	a := testVaultApp()
	if _, err := a.Keep([]string{p}); err != nil {
		t.Fatalf("Keep: %v", err)
	}

	a.callerUID = a.callerUID + 1 // no longer the owner, and idm.Dummy grants ownership only to SelfUID
	if _, err := a.Untrack([]string{p}); err == nil {
		t.Fatalf("expected Untrack to reject a caller who is neither owner nor group owner")
	}
}

func TestRecoverRestoresFromLimbo(t *testing.T) {
	dir := t.TempDir()
	p := writeAnnotatable(t, dir, "a.bam")

	v, err := vault.Open(dir, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := v.Add(vault.Limbo, p); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := os.Remove(p); err != nil {
		t.Fatalf("removing source: %v", err)
	}

	a := testVaultApp()
	results, err := a.Recover([]string{p}, false)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("expected a clean Recover result, got %+v", results)
	}
	if _, err := os.Lstat(p); err != nil {
		t.Errorf("expected the source file to be restored, got %v", err)
	}
}
