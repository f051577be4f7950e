package vault

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLocateRejectsTheVaultDirectoryItself(t *testing.T) {
	dir := t.TempDir()
	vaultDir := filepath.Join(dir, VaultDirName)
	if err := os.Mkdir(vaultDir, 0770); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	_, err := Locate(vaultDir)
	if _, ok := err.(*NoSuchVaultError); !ok {
		t.Fatalf("expected a *NoSuchVaultError for the .vault directory itself, got %v", err)
	}
}

func TestLocateResolvesToAnAncestorDirectory(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(nested, 0770); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	file := writeFixture(t, nested, "data.bam")

	root, err := Locate(file)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if root == "" {
		t.Fatalf("expected Locate to resolve to a non-empty root")
	}
	if !filepath.IsAbs(root) {
		t.Errorf("expected Locate to return an absolute path, got %q", root)
	}
}
