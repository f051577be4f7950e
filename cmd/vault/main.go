// Command vault is the user-facing annotation tool: it marks regular
// files for retention (keep), archival (archive/--stash), restores
// soft-deleted files (recover), and removes a file's vault annotation
// (untrack).
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wtsi-hgi/hgi-vault/internal/app"
	"github.com/wtsi-hgi/hgi-vault/internal/config"
	"github.com/wtsi-hgi/hgi-vault/internal/vault"

	"github.com/spf13/cobra"
)

const (
	exitOK             = 0
	exitPerFileFailure = 1
	exitInvalidArgs    = 2
	exitNoVault        = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := rootCmd.Execute(); err != nil {
		return exitCodeFor(err)
	}
	return exitOK
}

func exitCodeFor(err error) int {
	var noVault *vault.NoSuchVaultError
	if errors.As(err, &noVault) {
		return exitNoVault
	}
	if errors.Is(err, errPerFileFailure) {
		return exitPerFileFailure
	}
	return exitInvalidArgs
}

var errPerFileFailure = errors.New("one or more files failed")

func newVaultApp() (*app.VaultApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return app.NewVaultApp(cfg)
}

var (
	flagFOFN     string
	flagView     string
	flagViewStaged string
	flagAbsolute bool
	flagStash    bool
	flagAll      bool
)

var rootCmd = &cobra.Command{
	Use:   "vault",
	Short: "Annotate files for retention, archival, or recovery",
}

var keepCmd = &cobra.Command{
	Use:   "keep FILE...",
	Short: "Mark files to be kept indefinitely",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := resolvePaths(args)
		if err != nil {
			return err
		}
		a, err := newVaultApp()
		if err != nil {
			return err
		}
		results, err := a.Keep(paths)
		printResults(results)
		if cmd.Flags().Changed("view") {
			printView(a, paths, vault.Keep, flagView)
		}
		return wrapResultErr(err)
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive FILE...",
	Short: "Mark files for archival",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := resolvePaths(args)
		if err != nil {
			return err
		}
		a, err := newVaultApp()
		if err != nil {
			return err
		}
		results, err := a.Archive(paths, flagStash)
		printResults(results)
		branch := vault.Archive
		if flagStash {
			branch = vault.Stash
		}
		if cmd.Flags().Changed("view") {
			printView(a, paths, branch, flagView)
		}
		if cmd.Flags().Changed("view-staged") {
			printView(a, paths, vault.Staged, flagViewStaged)
		}
		return wrapResultErr(err)
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover [FILE...]",
	Short: "Restore files from limbo",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !flagAll && len(args) == 0 {
			return fmt.Errorf("recover requires --all or at least one file")
		}
		paths, err := resolvePaths(args)
		if err != nil {
			return err
		}
		a, err := newVaultApp()
		if err != nil {
			return err
		}
		results, err := a.Recover(paths, flagAll)
		printResults(results)
		if cmd.Flags().Changed("view") {
			printView(a, paths, vault.Limbo, flagView)
		}
		return wrapResultErr(err)
	},
}

var untrackCmd = &cobra.Command{
	Use:   "untrack FILE...",
	Short: "Remove a file's vault annotation",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := resolvePaths(args)
		if err != nil {
			return err
		}
		a, err := newVaultApp()
		if err != nil {
			return err
		}
		results, err := a.Untrack(paths)
		printResults(results)
		return wrapResultErr(err)
	},
}

func wrapResultErr(err error) error {
	if err == nil {
		return nil
	}
	fmt.Fprintln(os.Stderr, err)
	return errPerFileFailure
}

// printView lists branch's entries covering the given paths' vault(s)
// and prints them, narrowed by the --view context string.
func printView(a *app.VaultApp, paths []string, branch vault.Branch, ctxName string) {
	ctx, err := parseListContext(ctxName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}

	roots := map[string]bool{}
	for _, p := range paths {
		if v, err := vault.Locate(p); err == nil {
			roots[v] = true
		}
	}
	if len(roots) == 0 {
		if cwd, err := os.Getwd(); err == nil {
			roots[cwd] = true
		}
	}

	for root := range roots {
		entries, err := a.List(root, branch, ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "listing %s: %v\n", branch, err)
			continue
		}
		for _, e := range entries {
			if flagAbsolute {
				fmt.Println(e.Source)
			} else {
				fmt.Println(relativeToCwd(e.Source))
			}
		}
	}
}

func relativeToCwd(p string) string {
	cwd, err := os.Getwd()
	if err != nil {
		return p
	}
	if rel, err := filepath.Rel(cwd, p); err == nil {
		return rel
	}
	return p
}

func parseListContext(name string) (app.ListContext, error) {
	switch name {
	case "", "all":
		return app.ListAll, nil
	case "here":
		return app.ListHere, nil
	case "mine":
		return app.ListMine, nil
	default:
		return 0, fmt.Errorf("unknown --view context %q: want all, here, or mine", name)
	}
}

func printResults(results []app.FileResult) {
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", r.Path, r.Err)
			continue
		}
		fmt.Println(r.Path)
	}
}

// resolvePaths returns args as given, or reads a newline-delimited
// file-of-filenames from --fofn when args is empty.
func resolvePaths(args []string) ([]string, error) {
	if flagFOFN == "" {
		return args, nil
	}
	if len(args) > 0 {
		return nil, fmt.Errorf("cannot combine --fofn with positional file arguments")
	}

	f, err := os.Open(flagFOFN)
	if err != nil {
		return nil, fmt.Errorf("opening --fofn %s: %w", flagFOFN, err)
	}
	defer f.Close()

	var paths []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		paths = append(paths, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading --fofn %s: %w", flagFOFN, err)
	}
	return paths, nil
}

func init() {
	for _, cmd := range []*cobra.Command{keepCmd, archiveCmd, recoverCmd, untrackCmd} {
		cmd.Flags().StringVar(&flagFOFN, "fofn", "", "read file list from a file-of-filenames instead of positional arguments")
		cmd.Flags().BoolVar(&flagAbsolute, "absolute", false, "print absolute paths instead of relative ones")
	}
	keepCmd.Flags().StringVar(&flagView, "view", "", "list the keep branch after annotating (all|here|mine)")
	archiveCmd.Flags().StringVar(&flagView, "view", "", "list the archive branch after annotating (all|here|mine)")
	archiveCmd.Flags().StringVar(&flagViewStaged, "view-staged", "", "list the staged branch after annotating (all|here|mine)")
	archiveCmd.Flags().BoolVar(&flagStash, "stash", false, "keep the source in place after staging, instead of deleting it")
	recoverCmd.Flags().StringVar(&flagView, "view", "", "list the limbo branch after recovering (all|here|mine)")
	recoverCmd.Flags().BoolVar(&flagAll, "all", false, "recover every file in limbo under the current vault")

	rootCmd.AddCommand(keepCmd, archiveCmd, recoverCmd, untrackCmd)
}
