package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wtsi-hgi/hgi-vault/internal/config"
	"github.com/wtsi-hgi/hgi-vault/internal/consensus"
	"github.com/wtsi-hgi/hgi-vault/internal/drain"
	"github.com/wtsi-hgi/hgi-vault/internal/idm"
	"github.com/wtsi-hgi/hgi-vault/internal/notify"
	"github.com/wtsi-hgi/hgi-vault/internal/store"
	"github.com/wtsi-hgi/hgi-vault/internal/sweep"
	"github.com/wtsi-hgi/hgi-vault/internal/vault"
	"github.com/wtsi-hgi/hgi-vault/internal/walker"
)

// NonStagedTTL is the age at which a file with no staged status, fully
// notified of every non-staged status, is purged from persistence.
const NonStagedTTL = 90 * 24 * time.Hour

// SandmanApp wires a loaded Config into the concrete sweep/notify/drain
// dependencies the sandman binary's single batch run executes against.
type SandmanApp struct {
	cfg     *config.Config
	store   store.Store
	idm     idm.IdentityManager
	gate    *consensus.Gate
	logger  vault.Logger
	logFile *os.File
}

// NewSandmanApp builds a fully wired SandmanApp from cfg. The caller
// must call Close when done.
//
// The identity manager is a stub (idm.Dummy): LDAP attribute-mapping
// business logic lives outside this module, leaving IdentityManager an
// interface with only a stub/test implementation here — see DESIGN.md.
func NewSandmanApp(cfg *config.Config) (*SandmanApp, error) {
	defaults, err := GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	opID := "sandman-" + time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(defaults["log_dir"], opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	adapter := &slogAdapter{l: logger}

	db, err := store.Open(store.Config{
		Host:     cfg.Persistence.Postgres.Host,
		Port:     cfg.Persistence.Postgres.Port,
		Database: cfg.Persistence.Postgres.Database,
		User:     cfg.Persistence.Postgres.User,
		Password: cfg.Persistence.Postgres.Password,
	})
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening store: %w", err)
	}

	gate, err := consensus.New(consensus.MinQuorum,
		consensus.CanDeleteByComparison, consensus.CanDeleteByRemainder, consensus.CanDeleteByDeadline)
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("building consensus gate: %w", err)
	}

	return &SandmanApp{
		cfg:     cfg,
		store:   db,
		idm:     &idm.Dummy{SelfUID: int64(os.Getuid())},
		gate:    gate,
		logger:  adapter,
		logFile: logFile,
	}, nil
}

// Close releases the store connection and the invocation's log file.
func (a *SandmanApp) Close() error {
	err := a.store.Close()
	if a.logFile != nil {
		a.logFile.Close()
	}
	return err
}

// RunSummary aggregates the outcome of one sandman invocation's
// sweep, notify and drain phases.
type RunSummary struct {
	Sweep  *sweep.Summary
	Notify *notify.Summary
	Drain  *drain.Summary
}

// Run executes one full sandman pass over dirs: an initial purge, the
// sweep, notification of every stakeholder with unnotified events, a
// second purge, and the drain. It returns as soon as the sweep aborts
// (see sweep.Sweeper.Run); everything after the sweep is skipped in that
// case. With dryRun set, neither purge, the notifier nor the drain runs.
func (a *SandmanApp) Run(ctx context.Context, dirs []string, dryRun, forceDrain bool) (*RunSummary, error) {
	for _, dir := range dirs {
		if filepath.Base(dir) == vault.VaultDirName {
			return nil, fmt.Errorf("%s is a vault itself, not a tree governed by one", dir)
		}
	}

	if !dryRun {
		if _, err := a.store.PurgeExpired(ctx, time.Now(), NonStagedTTL); err != nil {
			return nil, fmt.Errorf("purging before sweep: %w", err)
		}
	}

	w, err := walker.NewFilesystemWalker(a.logger, dirs...)
	if err != nil {
		return nil, fmt.Errorf("preparing walker: %w", err)
	}

	sweeper := &sweep.Sweeper{
		Walker:         w,
		Store:          a.store,
		IDM:            a.idm,
		Gate:           a.gate,
		Logger:         a.logger,
		Deletion:       a.cfg.Deletion,
		MinGroupOwners: a.cfg.MinGroupOwners,
		DryRun:         dryRun,
	}

	summary := &RunSummary{}
	summary.Sweep, err = sweeper.Run(ctx)
	if err != nil {
		return summary, fmt.Errorf("sweep aborted: %w", err)
	}

	notifier := &notify.Notifier{
		Store:        a.store,
		IDM:          a.idm,
		Mailer:       &notify.LogMailer{},
		Logger:       a.logger,
		From:         a.cfg.Email.Sender,
		WarningHours: toInt64s(a.cfg.Deletion.WarningHours),
	}
	if !dryRun {
		summary.Notify, err = notifier.Run(ctx)
		if err != nil {
			return summary, fmt.Errorf("notifying stakeholders: %w", err)
		}
	}

	if !dryRun {
		if _, err := a.store.PurgeExpired(ctx, time.Now(), NonStagedTTL); err != nil {
			return summary, fmt.Errorf("purging after sweep: %w", err)
		}
	}

	drainer := &drain.Drainer{
		Store:     a.store,
		Logger:    a.logger,
		Handler:   a.cfg.Archive.Handler,
		Threshold: a.cfg.Archive.Threshold,
		Force:     forceDrain,
	}
	if !dryRun {
		summary.Drain, err = drainer.Run(ctx)
		if err != nil {
			return summary, fmt.Errorf("draining: %w", err)
		}
	}

	return summary, nil
}

func toInt64s(xs []int) []int64 {
	out := make([]int64, len(xs))
	for i, x := range xs {
		out[i] = int64(x)
	}
	return out
}
