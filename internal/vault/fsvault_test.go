package vault

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFixture(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("fixture contents"), 0660); err != nil {
		t.Fatalf("writing fixture %s: %v", p, err)
	}
	return p
}

func TestOpenAutocreatesBranches(t *testing.T) {
	dir := t.TempDir()

	v, err := Open(dir, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for _, branch := range Branches {
		if info, err := os.Stat(v.BranchPath(branch)); err != nil || !info.IsDir() {
			t.Errorf("branch %s was not created: %v", branch, err)
		}
	}

	if _, err := os.Stat(filepath.Join(v.Location(), ".audit")); err != nil {
		t.Errorf("audit log was not created: %v", err)
	}
}

func TestOpenWithoutAutocreateFailsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(dir, false); err == nil {
		t.Fatalf("expected Open without autocreate to fail on a vault-less directory")
	}
}

func TestAddLinksFileIntoBranch(t *testing.T) {
	dir := t.TempDir()
	src := writeFixture(t, dir, "data.txt")

	v, err := Open(dir, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	key, err := v.Add(Keep, src)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	dest := v.KeyPath(Keep, key)
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("vault entry not found at %s: %v", dest, err)
	}

	n, err := Hardlinks(src)
	if err != nil {
		t.Fatalf("Hardlinks: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 hardlinks after Add, got %d", n)
	}
}

func TestAddIsIdempotentForSameBranch(t *testing.T) {
	dir := t.TempDir()
	src := writeFixture(t, dir, "data.txt")

	v, err := Open(dir, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	first, err := v.Add(Keep, src)
	if err != nil {
		t.Fatalf("first Add: %v", err)
	}
	second, err := v.Add(Keep, src)
	if err != nil {
		t.Fatalf("second Add: %v", err)
	}
	if !first.Equal(second) {
		t.Errorf("re-adding an unchanged file produced a different key")
	}
}

func TestAddMovesBetweenBranches(t *testing.T) {
	dir := t.TempDir()
	src := writeFixture(t, dir, "data.txt")

	v, err := Open(dir, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	keepKey, err := v.Add(Keep, src)
	if err != nil {
		t.Fatalf("Add to Keep: %v", err)
	}
	archiveKey, err := v.Add(Archive, src)
	if err != nil {
		t.Fatalf("Add to Archive: %v", err)
	}

	if _, err := os.Stat(v.KeyPath(Keep, keepKey)); !os.IsNotExist(err) {
		t.Errorf("expected the stale Keep entry to be removed, stat err=%v", err)
	}
	if _, err := os.Stat(v.KeyPath(Archive, archiveKey)); err != nil {
		t.Errorf("expected the new Archive entry to exist: %v", err)
	}
}

func TestRemoveDeletesVaultEntry(t *testing.T) {
	dir := t.TempDir()
	src := writeFixture(t, dir, "data.txt")

	v, err := Open(dir, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	key, err := v.Add(Keep, src)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := v.Remove(Keep, key); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(v.KeyPath(Keep, key)); !os.IsNotExist(err) {
		t.Errorf("expected vault entry to be gone, stat err=%v", err)
	}

	if err := v.Remove(Keep, key); err != nil {
		t.Errorf("removing an already-absent entry should be a no-op, got %v", err)
	}
}

func TestFindRecoversEntryAfterRename(t *testing.T) {
	dir := t.TempDir()
	src := writeFixture(t, dir, "original.txt")

	v, err := Open(dir, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := v.Add(Stash, src); err != nil {
		t.Fatalf("Add: %v", err)
	}

	renamed := filepath.Join(dir, "renamed.txt")
	if err := os.Rename(src, renamed); err != nil {
		t.Fatalf("rename: %v", err)
	}

	info, err := os.Stat(renamed)
	if err != nil {
		t.Fatalf("stat renamed file: %v", err)
	}
	stat, err := ExtractStatData(info)
	if err != nil {
		t.Fatalf("ExtractStatData: %v", err)
	}

	branch, key, err := v.Find("renamed.txt", stat.Inode)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if branch != Stash {
		t.Fatalf("expected to recover the Stash entry after rename, got branch=%q", branch)
	}
	if key == nil {
		t.Fatalf("expected a non-nil key")
	}
}

func TestStatusReportsUntrackedForNewFile(t *testing.T) {
	dir := t.TempDir()
	src := writeFixture(t, dir, "untracked.txt")

	v, err := Open(dir, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	branch, err := v.Status(src)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if branch != "" {
		t.Errorf("expected untracked file to report empty branch, got %q", branch)
	}
}

func TestStatusReportsPhysicalVaultFile(t *testing.T) {
	dir := t.TempDir()
	src := writeFixture(t, dir, "data.txt")

	v, err := Open(dir, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	key, err := v.Add(Keep, src)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	_, err = v.Status(v.KeyPath(Keep, key))
	if _, ok := err.(*PhysicalVaultFileError); !ok {
		t.Fatalf("expected a *PhysicalVaultFileError, got %v", err)
	}
}

func TestCheckHardlinksDetectsOrphanedKeepEntry(t *testing.T) {
	dir := t.TempDir()
	src := writeFixture(t, dir, "data.txt")

	v, err := Open(dir, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	key, err := v.Add(Keep, src)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := CheckHardlinks(Keep, v.KeyPath(Keep, key)); err != nil {
		t.Errorf("expected a freshly-added Keep entry to pass the hardlink check: %v", err)
	}

	if err := os.Remove(src); err != nil {
		t.Fatalf("removing source: %v", err)
	}
	if err := CheckHardlinks(Keep, v.KeyPath(Keep, key)); err == nil {
		t.Errorf("expected the hardlink check to fail once the source is gone")
	}
}

func TestCheckHardlinksAcceptsSingleLinkLimbo(t *testing.T) {
	dir := t.TempDir()
	src := writeFixture(t, dir, "data.txt")

	v, err := Open(dir, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	key, err := v.Add(Limbo, src)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := os.Remove(src); err != nil {
		t.Fatalf("removing source: %v", err)
	}

	if err := CheckHardlinks(Limbo, v.KeyPath(Limbo, key)); err != nil {
		t.Errorf("expected a source-deleted Limbo entry to pass: %v", err)
	}
}

func TestLockIsExclusive(t *testing.T) {
	dir := t.TempDir()
	v, err := Open(dir, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := v.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer v.Unlock()

	other, err := Open(dir, false)
	if err != nil {
		t.Fatalf("opening second handle: %v", err)
	}
	if err := other.Lock(); err == nil {
		t.Errorf("expected a second handle to fail to acquire the lock")
		other.Unlock()
	}
}
