package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/wtsi-hgi/hgi-vault/internal/idm"
	"github.com/wtsi-hgi/hgi-vault/internal/store"
	"github.com/wtsi-hgi/hgi-vault/internal/testutil"
)

func testFile(inode uint64, owner, gid int64, path string) *store.File {
	return &store.File{
		Device: 1, Inode: inode,
		SourcePath: path,
		Mtime:      time.Now(),
		OwnerUID:   owner, GroupGID: gid,
		Size: 2 * 1024 * 1024,
	}
}

func TestNotifierSendsAndMarksNotified(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewMemoryStore()

	f := testFile(200, 500, 600, "/g/proj/a.bam")
	if _, err := s.Persist(ctx, f, store.StateWarned, 72); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	mailer := &LogMailer{}
	n := &Notifier{
		Store:        s,
		IDM:          &idm.Dummy{SelfUID: 500},
		Mailer:       mailer,
		From:         "vault@example.invalid",
		WarningHours: []int64{240, 72, 24},
	}

	summary, err := n.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Sent != 1 {
		t.Fatalf("expected one message sent, got %d", summary.Sent)
	}
	if len(mailer.Sent) != 1 {
		t.Fatalf("expected one message recorded, got %d", len(mailer.Sent))
	}
	if !strings.Contains(mailer.Sent[0].Body, "72 hours") {
		t.Errorf("expected the body to mention the 72h checkpoint, got: %s", mailer.Sent[0].Body)
	}
	if len(mailer.Sent[0].Attachments) != 1 {
		t.Fatalf("expected one fofn attachment, got %d", len(mailer.Sent[0].Attachments))
	}

	// A second run finds nothing left unnotified.
	summary, err = n.Run(ctx)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if summary.Sent != 0 {
		t.Errorf("expected no further messages once notified, got %d", summary.Sent)
	}
}

func TestNotifierLeavesUnnotifiedOnSendFailure(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewMemoryStore()

	f := testFile(201, 500, 600, "/g/proj/b.bam")
	if _, err := s.Persist(ctx, f, store.StateDeleted, 0); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	n := &Notifier{
		Store:  s,
		IDM:    &idm.Dummy{SelfUID: 500},
		Mailer: &FailingMailer{},
	}

	summary, err := n.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("expected one failed send, got %d", summary.Failed)
	}

	files, err := s.Files(ctx, store.Filter{State: store.StateDeleted, Stakeholder: 500, ExcludeNotified: true})
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected the file to remain unnotified after a failed send, got %d", len(files))
	}
}

func TestNotifierExcludesDeletedFilesFromWarningLists(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewMemoryStore()

	// The same (device, inode) first warned, then deleted within the same
	// sweep's persistence pass: the deleted status supersedes for
	// notification purposes.
	f := &store.File{Device: 1, Inode: 202, SourcePath: "/g/proj/c.bam", Mtime: time.Now(), OwnerUID: 500, GroupGID: 600, Size: 1024}
	if _, err := s.Persist(ctx, f, store.StateWarned, 24); err != nil {
		t.Fatalf("Persist warned: %v", err)
	}
	if _, err := s.Persist(ctx, f, store.StateDeleted, 0); err != nil {
		t.Fatalf("Persist deleted: %v", err)
	}

	n := &Notifier{
		Store:        s,
		IDM:          &idm.Dummy{SelfUID: 500},
		Mailer:       &LogMailer{},
		WarningHours: []int64{24},
	}

	payload, err := n.buildPayload(ctx, 500)
	if err != nil {
		t.Fatalf("buildPayload: %v", err)
	}
	if len(payload.Deleted) != 1 {
		t.Fatalf("expected the deleted list to carry the file, got %+v", payload.Deleted)
	}
	for _, c := range payload.Checkpoints {
		if len(c.Files) != 0 {
			t.Errorf("expected no checkpoint entries once the file is deleted, got %+v", c)
		}
	}
}

func TestRenderAvoidsIrrecoverableWordingForSoftDeletes(t *testing.T) {
	p := &Payload{
		Deleted: []store.File{*testFile(203, 500, 600, "/g/proj/d.bam")},
	}
	_, body, err := Render(p)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(strings.ToUpper(body), "IRRECOVERABLY") {
		t.Errorf("soft-delete body must not claim the file is irrecoverably gone, got: %s", body)
	}
}

func TestRenderUsesFutureTenseForPendingCheckpoints(t *testing.T) {
	p := &Payload{
		Checkpoints: []CheckpointList{{TminusHours: 24, Files: []store.File{*testFile(204, 500, 600, "/g/proj/e.bam")}}},
	}
	_, body, err := Render(p)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(body, "will be deleted") {
		t.Errorf("expected future-tense wording for a pending checkpoint, got: %s", body)
	}
}
