package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func TestVaultHandlerHandle(t *testing.T) {
	ts := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		opID    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			opID:    "20260305T090000Z",
			level:   slog.LevelInfo,
			message: "swept file",
			want:    "2026-03-05T09:00:00Z\tINFO\t20260305T090000Z\tswept file\n",
		},
		{
			name:    "with record attrs",
			opID:    "20260305T090000Z",
			level:   slog.LevelWarn,
			message: "staged",
			attrs:   []slog.Attr{slog.String("path", "/data/x.bam"), slog.Int64("inode", 42)},
			want:    "2026-03-05T09:00:00Z\tWARN\t20260305T090000Z\tstaged\tpath=/data/x.bam\tinode=42\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &vaultHandler{w: &buf, opID: tt.opID}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVaultHandlerWithAttrsDoesNotMutateOriginal(t *testing.T) {
	var buf bytes.Buffer
	h := &vaultHandler{w: &buf, opID: "op-1", attrs: []slog.Attr{slog.String("a", "1")}}

	h2 := h.WithAttrs([]slog.Attr{slog.String("b", "2")}).(*vaultHandler)

	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}
	if len(h2.attrs) != 2 {
		t.Errorf("new handler attrs: got %d, want 2", len(h2.attrs))
	}
}

func TestNewLoggerCreatesFileAndWritesToStderr(t *testing.T) {
	dir := t.TempDir()

	logger, f, err := newLogger(dir, "test-op")
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	defer f.Close()

	logger.Info("hello")

	f.Sync()
	contents, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(contents), "hello") {
		t.Errorf("log file does not contain the logged message: %q", contents)
	}
}
