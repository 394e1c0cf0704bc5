package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/brensch/jsonlpack/internal/app"
	"github.com/brensch/jsonlpack/internal/catalog"
	"github.com/brensch/jsonlpack/internal/config"
	"github.com/brensch/jsonlpack/internal/db"
	"github.com/brensch/jsonlpack/internal/extractor"
	"github.com/brensch/jsonlpack/internal/orchestrator"
	"github.com/brensch/jsonlpack/internal/walker"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// TUILogFile receives logs while the interactive view owns the terminal.
const TUILogFile = "jsonlpack.log"

var (
	runStart         string
	runEnd           string
	runSkipCompleted bool
	runDryRun        bool
	runFailOnError   bool
	runNoTUI         bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract, summarize and bundle every folder in the selected window",
	Long: `Walks the root directory in lexical order. For every directory inside the
window it extracts each file with the configured tool into the mirrored output
directory, renames the results to N.jsonl, writes <folder>.json, packs the
record files into <folder>.tar.gz and removes them.

--start names the first directory to process; earlier ones are passed over.
--end names the last one; the walk halts after it. Both match a directory's
own name at any depth. Without either flag, on an interactive terminal, the
folder picker is shown.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()

		if err := walker.CheckRoot(cfg.RootDir); err != nil {
			return err
		}
		if abs, err := filepath.Abs(cfg.RootDir); err == nil {
			cfg.RootDir = abs
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		events := db.NewEventLog(getDB(), cfg.RootDir, logger)
		var completed map[string]bool
		if runSkipCompleted || cfg.SkipCompleted {
			var err error
			completed, err = events.Completed(ctx)
			if err != nil {
				return fmt.Errorf("load completed folders: %w", err)
			}
			logger.Info("Skipping completed folders.", slog.Int("count", len(completed)))
		}

		var res *orchestrator.Result
		var err error
		if interactive(cmd) {
			res, err = runInteractive(ctx, cfg, events, completed)
		} else {
			win := walker.Window{Start: runStart, End: runEnd}
			res, err = newRunner(cfg, events, logger).Run(ctx, orchestrator.Options{Window: win, Completed: completed, DryRun: runDryRun})
		}
		if errors.Is(err, app.ErrNoSelection) {
			logger.Info("No folder range selected; nothing to do.")
			return nil
		}

		if res != nil && !runDryRun {
			if cerr := catalog.Update(cfg.CatalogFile(), res.Entries, logger); cerr != nil {
				logger.Error("Failed to update catalog.", "error", cerr)
				err = errors.Join(err, cerr)
			}
		}
		if res != nil {
			printRunSummary(cmd.OutOrStdout(), res)
		}
		if err != nil {
			return err
		}
		if res != nil && res.Err != nil && runFailOnError {
			return fmt.Errorf("run finished with folder errors: %w", res.Err)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runStart, "start", "s", "", "Name of the first directory to process")
	runCmd.Flags().StringVarP(&runEnd, "end", "e", "", "Name of the last directory to process")
	runCmd.Flags().BoolVar(&runSkipCompleted, "skip-completed", false, "Pass over directories whose latest run finished cleanly")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "List the window without creating directories or running the extractor")
	runCmd.Flags().BoolVar(&runFailOnError, "fail-on-error", false, "Exit non-zero when any folder failed")
	runCmd.Flags().BoolVar(&runNoTUI, "no-tui", false, "Never show the interactive folder picker")
}

func newRunner(cfg config.Config, events *db.EventLog, logger *slog.Logger) *orchestrator.Runner {
	return orchestrator.New(cfg, extractor.New(cfg.Extractor, logger), events, logger)
}

// interactive reports whether the picker should be shown.
func interactive(cmd *cobra.Command) bool {
	if runNoTUI || cmd.Flags().Changed("start") || cmd.Flags().Changed("end") {
		return false
	}
	return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
}

func runInteractive(ctx context.Context, cfg config.Config, events *db.EventLog, completed map[string]bool) (*orchestrator.Result, error) {
	logger := getLogger()
	folders, err := walker.TopLevelFolders(cfg.RootDir)
	if err != nil {
		return nil, err
	}

	// Keep log lines from tearing the view.
	runLogger := logger
	if logsToTerminal() {
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
		logPath := filepath.Join(cfg.OutputDir, TUILogFile)
		f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", logPath, err)
		}
		defer f.Close()
		runLogger = newLogger(f)
		logger.Info("Logging to file while the interactive view is open.", slog.String("path", logPath))
	}
	events.Logger = runLogger

	run := func(ctx context.Context, win walker.Window, progress chan<- orchestrator.Progress) (*orchestrator.Result, error) {
		r := newRunner(cfg, events, runLogger)
		r.Progress = progress
		return r.Run(ctx, orchestrator.Options{Window: win, Completed: completed, DryRun: runDryRun})
	}

	model := app.NewAppModel(ctx, folders, run)
	defer model.Close()
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return nil, fmt.Errorf("interactive view: %w", err)
	}
	if !model.Selected {
		return nil, app.ErrNoSelection
	}
	// Quitting mid-run cancels it; Wait collects what was finished.
	model.Close()
	return model.Wait()
}

func printRunSummary(w io.Writer, res *orchestrator.Result) {
	var failed, skipped int
	for _, f := range res.Folders {
		switch {
		case f.Err != nil:
			failed++
		case f.Skipped:
			skipped++
		}
	}
	fmt.Fprintf(w, "Folders: %d (failed %d, skipped %d)  Records: %s\n",
		len(res.Folders), failed, skipped, humanize.Comma(res.Records()))
	for _, f := range res.Folders {
		if f.Err != nil {
			fmt.Fprintf(w, "  FAILED %s: %v\n", f.RelPath, f.Err)
		}
	}
}
