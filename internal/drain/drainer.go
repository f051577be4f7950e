// Package drain implements the threshold-gated consumer that streams
// staged files into the downstream archival handler once the staging
// queue is ready, grounded on the sandman drain phase: a readiness
// probe followed by a NUL-delimited stream of absolute paths on the
// handler's stdin.
package drain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/wtsi-hgi/hgi-vault/internal/store"
	"github.com/wtsi-hgi/hgi-vault/internal/vault"
)

// ErrHandlerBusy is returned when the downstream handler's readiness
// probe exits 1.
var ErrHandlerBusy = errors.New("downstream handler is busy")

// ErrDownstreamFull is returned when the readiness probe exits 2.
var ErrDownstreamFull = errors.New("downstream handler is out of capacity")

// ErrHandlerFailed is returned when the handler exits with any other
// non-zero status, either during the readiness probe or the stream.
var ErrHandlerFailed = errors.New("downstream handler failed unexpectedly")

// Summary reports the outcome of a single Drain invocation.
type Summary struct {
	Drained int
	Bytes   int64
}

// Drainer streams the staging queue to an external archival handler.
type Drainer struct {
	Store   store.Store
	Logger  vault.Logger
	Handler string // absolute path to the downstream handler executable

	Threshold int  // queue size that triggers a drain without Force
	Force     bool // ignore Threshold, per --force-drain

	// Limit bounds how many staged rows are read per Run; 0 means no
	// limit beyond the store's own default.
	Limit int
}

// Run executes one drain pass: if the staging queue has reached
// Threshold (or Force is set), it probes the handler for readiness,
// streams the queue's paths to it, and on a clean exit removes the
// drained rows from the queue. An empty or under-threshold queue is
// not an error.
func (d *Drainer) Run(ctx context.Context) (*Summary, error) {
	logger := d.logger()

	entries, err := d.Store.StagedQueue(ctx, d.Limit)
	if err != nil {
		return nil, fmt.Errorf("querying staging queue: %w", err)
	}

	count := len(entries)
	if count == 0 {
		logger.Info("staging queue is empty")
		return &Summary{}, nil
	}

	if count < d.Threshold && !d.Force {
		logger.Info("skipping drain: staging queue under threshold", "count", count, "threshold", d.Threshold)
		return &Summary{}, nil
	}

	var required int64
	for _, e := range entries {
		required += e.SizeBytes
	}

	logger.Info("checking downstream handler readiness", "bytes", required)
	if err := d.preflight(ctx, required); err != nil {
		switch {
		case errors.Is(err, ErrHandlerBusy):
			logger.Warn("downstream handler is busy; try again later")
			return &Summary{}, nil
		case errors.Is(err, ErrDownstreamFull):
			logger.Error("downstream handler is out of capacity")
		default:
			logger.Error("downstream handler failed during readiness probe", "error", err)
		}
		return nil, err
	}

	logger.Info("handler is ready; beginning drain", "count", count)
	if err := d.consume(ctx, entries); err != nil {
		logger.Error("downstream handler failed during drain", "error", err)
		return nil, err
	}

	for _, e := range entries {
		if err := d.Store.DequeueStaged(ctx, e.StatusID); err != nil {
			return nil, fmt.Errorf("dequeuing drained entry %d: %w", e.StatusID, err)
		}
	}

	logger.Info("drained staged files into downstream handler", "count", count)
	return &Summary{Drained: count, Bytes: required}, nil
}

// preflight invokes the handler with `ready <bytes>` and interprets its
// exit code: 0 ready, 1 busy, 2 out of capacity, anything else a
// failure. stdout/stderr are discarded; only the exit status matters.
func (d *Drainer) preflight(ctx context.Context, requiredBytes int64) error {
	cmd := exec.CommandContext(ctx, d.Handler, "ready", strconv.FormatInt(requiredBytes, 10))
	cmd.Stdout = nil
	cmd.Stderr = nil

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("%w: %v", ErrHandlerFailed, err)
	}

	switch exitErr.ExitCode() {
	case 1:
		return ErrHandlerBusy
	case 2:
		return ErrDownstreamFull
	default:
		return fmt.Errorf("%w: exit status %d", ErrHandlerFailed, exitErr.ExitCode())
	}
}

// consume streams each entry's staged path, NUL-delimited, through the
// handler's stdin, then closes it and waits for a clean exit. The
// handler is responsible for unlinking the physical staged hardlink
// once it has consumed a path.
func (d *Drainer) consume(ctx context.Context, entries []store.StagedQueueEntry) error {
	cmd := exec.CommandContext(ctx, d.Handler)
	cmd.Stdout = nil
	cmd.Stderr = nil

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening handler stdin: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting handler: %w", err)
	}

	logger := d.logger()
	for _, e := range entries {
		path := e.VaultKey
		if !isRegular(path) {
			logger.Error("skipping staged entry: not a regular file", "path", path)
			continue
		}

		logger.Info("draining", "path", path)
		if _, err := stdin.Write(append([]byte(path), 0)); err != nil {
			stdin.Close()
			cmd.Wait()
			return fmt.Errorf("writing to handler stdin: %w", err)
		}
	}

	if err := stdin.Close(); err != nil {
		return fmt.Errorf("closing handler stdin: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%w: %v", ErrHandlerFailed, err)
	}
	return nil
}

func isRegular(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode().IsRegular()
}

func (d *Drainer) logger() vault.Logger {
	if d.Logger == nil {
		return vault.NewNopLogger()
	}
	return d.Logger
}
