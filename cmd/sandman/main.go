// Command sandman is the periodic batch process: it sweeps one or more
// vault-governed trees, warning owners ahead of deletion, soft-deleting
// expired untracked files, hard-deleting files whose limbo grace has
// elapsed, and draining files staged for archival to the downstream
// handler.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/wtsi-hgi/hgi-vault/internal/app"
	"github.com/wtsi-hgi/hgi-vault/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	flagDryRun     bool
	flagForceDrain bool
	flagStatsFile  string
)

var rootCmd = &cobra.Command{
	Use:   "sandman DIR...",
	Short: "Sweep vault-governed trees and drain the archival queue",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		a, err := app.NewSandmanApp(cfg)
		if err != nil {
			return fmt.Errorf("initializing sandman: %w", err)
		}
		defer a.Close()

		summary, err := a.Run(context.Background(), args, flagDryRun, flagForceDrain)
		if summary != nil && flagStatsFile != "" {
			if werr := writeStats(flagStatsFile, summary); werr != nil {
				fmt.Fprintf(os.Stderr, "writing --stats file: %v\n", werr)
			}
		}
		if err != nil {
			return err
		}
		printSummary(summary)
		return nil
	},
}

func writeStats(path string, summary *app.RunSummary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if summary.Sweep != nil {
		fmt.Fprintf(f, "warned\t%d\n", summary.Sweep.Warned)
		fmt.Fprintf(f, "staged\t%d\n", summary.Sweep.Staged)
		fmt.Fprintf(f, "deleted\t%d\n", summary.Sweep.Deleted)
		fmt.Fprintf(f, "permanently_deleted\t%d\n", summary.Sweep.PermanentlyDeleted)
		fmt.Fprintf(f, "untracked\t%d\n", summary.Sweep.Untracked)
		fmt.Fprintf(f, "skipped\t%d\n", summary.Sweep.Skipped)
		fmt.Fprintf(f, "errors\t%d\n", summary.Sweep.Errors)
	}
	if summary.Notify != nil {
		fmt.Fprintf(f, "notifications_sent\t%d\n", summary.Notify.Sent)
		fmt.Fprintf(f, "notifications_failed\t%d\n", summary.Notify.Failed)
	}
	if summary.Drain != nil {
		fmt.Fprintf(f, "drained\t%d\n", summary.Drain.Drained)
		fmt.Fprintf(f, "drained_bytes\t%d\n", summary.Drain.Bytes)
	}
	return nil
}

func printSummary(summary *app.RunSummary) {
	if summary == nil || summary.Sweep == nil {
		return
	}
	s := summary.Sweep
	fmt.Printf("swept: %d warned, %d staged, %d deleted, %d permanently deleted, %d untracked, %d skipped, %d errors\n",
		s.Warned, s.Staged, s.Deleted, s.PermanentlyDeleted, s.Untracked, s.Skipped, s.Errors)
	if summary.Notify != nil {
		fmt.Printf("notified: %d sent, %d failed\n", summary.Notify.Sent, summary.Notify.Failed)
	}
	if summary.Drain != nil {
		fmt.Printf("drained: %d files, %d bytes\n", summary.Drain.Drained, summary.Drain.Bytes)
	}
}

func init() {
	rootCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "log decisions without mutating the filesystem or persistence")
	rootCmd.Flags().BoolVar(&flagForceDrain, "force-drain", false, "drain the staging queue regardless of the archive.threshold")
	rootCmd.Flags().StringVar(&flagStatsFile, "stats", "", "write a tab-separated summary of this run to the given file")
}
