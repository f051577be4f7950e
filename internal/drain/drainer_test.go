package drain

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wtsi-hgi/hgi-vault/internal/store"
	"github.com/wtsi-hgi/hgi-vault/internal/testutil"
)

func writeHandler(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "handler.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("writing fake handler: %v", err)
	}
	return path
}

func stageOne(t *testing.T, s *testutil.MemoryStore) int64 {
	t.Helper()
	f := &store.File{Device: 1, Inode: 900, SourcePath: "/g/proj/a.bam", Mtime: time.Now(), OwnerUID: 500, GroupGID: 600, Size: 4096, VaultKey: "AB-YQ=="}
	id, err := s.Persist(context.Background(), f, store.StateStaged, 0)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	return id
}

func TestDrainerSkipsEmptyQueue(t *testing.T) {
	s := testutil.NewMemoryStore()
	d := &Drainer{Store: s, Handler: writeHandler(t, "exit 0\n"), Threshold: 1}

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Drained != 0 {
		t.Errorf("expected nothing drained from an empty queue, got %d", summary.Drained)
	}
}

func TestDrainerSkipsBelowThresholdWithoutForce(t *testing.T) {
	s := testutil.NewMemoryStore()
	stageOne(t, s)

	d := &Drainer{Store: s, Handler: writeHandler(t, "exit 0\n"), Threshold: 5}
	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Drained != 0 {
		t.Errorf("expected the queue to stay below threshold, got %d drained", summary.Drained)
	}

	entries, err := s.StagedQueue(context.Background(), 10)
	if err != nil {
		t.Fatalf("StagedQueue: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected the staged entry to remain queued, got %d", len(entries))
	}
}

func TestDrainerForceIgnoresThreshold(t *testing.T) {
	s := testutil.NewMemoryStore()
	id := stageOne(t, s)

	handler := writeHandler(t, `
if [ "$1" = "ready" ]; then exit 0; fi
cat >/dev/null
exit 0
`)
	d := &Drainer{Store: s, Handler: handler, Threshold: 99, Force: true}
	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Drained != 1 {
		t.Fatalf("expected one entry drained, got %d", summary.Drained)
	}

	entries, err := s.StagedQueue(context.Background(), 10)
	if err != nil {
		t.Fatalf("StagedQueue: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected the drained entry to be dequeued, got %d remaining", len(entries))
	}
	_ = id
}

func TestDrainerLeavesQueueIntactWhenHandlerIsBusy(t *testing.T) {
	s := testutil.NewMemoryStore()
	stageOne(t, s)

	handler := writeHandler(t, `exit 1`)
	d := &Drainer{Store: s, Handler: handler, Threshold: 1}

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Drained != 0 {
		t.Errorf("expected a busy handler to drain nothing, got %d", summary.Drained)
	}

	entries, err := s.StagedQueue(context.Background(), 10)
	if err != nil {
		t.Fatalf("StagedQueue: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected the queue to remain untouched after a busy probe, got %d", len(entries))
	}
}

func TestDrainerFailsOnOutOfCapacity(t *testing.T) {
	s := testutil.NewMemoryStore()
	stageOne(t, s)

	handler := writeHandler(t, `exit 2`)
	d := &Drainer{Store: s, Handler: handler, Threshold: 1}

	if _, err := d.Run(context.Background()); err == nil {
		t.Fatalf("expected an out-of-capacity probe to fail the run")
	}
}
