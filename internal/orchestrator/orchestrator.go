package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/brensch/jsonlpack/internal/bundle"
	"github.com/brensch/jsonlpack/internal/catalog"
	"github.com/brensch/jsonlpack/internal/config"
	"github.com/brensch/jsonlpack/internal/db"
	"github.com/brensch/jsonlpack/internal/index"
	"github.com/brensch/jsonlpack/internal/summary"
	"github.com/brensch/jsonlpack/internal/walker"
)

// DirectoryCreateError reports an output directory that could not be created.
// The corresponding source subtree is not processed.
type DirectoryCreateError struct {
	Dir string
	Err error
}

func (e *DirectoryCreateError) Error() string {
	return fmt.Sprintf("create output directory %s: %v", e.Dir, e.Err)
}

func (e *DirectoryCreateError) Unwrap() error { return e.Err }

// AllocationError reports that an archive's output directory could not be
// snapshotted or its extracted files could not be numbered.
type AllocationError struct {
	Archive string
	Err     error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("number files from %s: %v", filepath.Base(e.Archive), e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// Extractor unpacks one archive into a target directory.
type Extractor interface {
	Extract(ctx context.Context, archive, targetDir string) error
}

// Bundler packs and removes an output directory's record files.
type Bundler interface {
	Bundle(dir string) (string, error)
	Cleanup(dir string) error
}

// Recorder persists folder events.
type Recorder interface {
	Record(ctx context.Context, ev db.FolderEvent) error
}

// Options selects what a run processes.
type Options struct {
	Window walker.Window
	// Completed lists rel paths to pass over, typically from the event log.
	Completed map[string]bool
	DryRun    bool
}

// FolderResult is the outcome for one visited directory.
type FolderResult struct {
	walker.Pair
	Archives    int
	Failed      int // Archives the extractor rejected
	Unnumbered  int // Archives whose output could not be snapshotted or renamed
	Renamed     int
	Summary     *summary.Document
	SummaryPath string
	BundlePath  string
	BundleBytes int64
	Skipped     bool
	Err         error
	Duration    time.Duration
}

// Result is the outcome of a run. Err joins every per-folder error.
type Result struct {
	Folders []FolderResult
	Entries []catalog.Entry
	Err     error
}

// Records sums the record counts of every summarized folder.
func (r *Result) Records() int64 {
	var n int64
	for _, f := range r.Folders {
		if f.Summary != nil {
			n += f.Summary.RecordCount
		}
	}
	return n
}

// Runner walks the root corpus and processes each directory in the window.
type Runner struct {
	Cfg        config.Config
	Extractor  Extractor
	Allocator  *index.Allocator
	Summarizer *summary.Summarizer
	Bundler    Bundler
	Recorder   Recorder // optional
	Logger     *slog.Logger
	Progress   chan<- Progress // optional
}

// New wires a Runner from cfg. recorder may be nil.
func New(cfg config.Config, extractor Extractor, recorder Recorder, logger *slog.Logger) *Runner {
	return &Runner{
		Cfg:        cfg,
		Extractor:  extractor,
		Allocator:  index.New(cfg.RecordSuffix, ReservedName, logger),
		Summarizer: summary.New(cfg.RecordSuffix, cfg.SampleLimit, logger),
		Bundler:    bundle.New(cfg.RecordSuffix, logger),
		Recorder:   recorder,
		Logger:     logger,
	}
}

// ReservedName reports the summary and bundle names owned by an output directory.
func ReservedName(dir, name string) bool {
	return name == summary.DocumentName(dir) || name == bundle.ArchiveName(dir)
}

// Run processes every directory in opts.Window. The returned error is fatal
// (missing root, cancellation); per-folder failures are in Result.Err.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	logger := r.Logger.With(slog.String("root", r.Cfg.RootDir), slog.String("output", r.Cfg.OutputDir))
	logger.Info("Starting run...", slog.String("start", opts.Window.Start), slog.String("end", opts.Window.End), slog.Bool("dry_run", opts.DryRun))
	started := time.Now()

	total, err := CountWindow(r.Cfg.RootDir, opts.Window)
	if err != nil {
		return nil, err
	}
	logger.Info("Window resolved.", slog.Int("folders", total))

	res := &Result{}
	done := 0
	walkErr := walker.Walk(r.Cfg.RootDir, r.Cfg.OutputDir, opts.Window, func(p walker.Pair) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		fr := r.processDir(ctx, p, opts)
		done++
		res.Folders = append(res.Folders, fr)
		if fr.Err != nil {
			res.Err = errors.Join(res.Err, fmt.Errorf("%s: %w", p.RelPath, fr.Err))
		}
		if fr.BundlePath != "" && fr.Summary != nil {
			res.Entries = append(res.Entries, catalog.NewEntry(
				filepath.ToSlash(p.RelPath), fr.Summary.FolderPath, fr.Summary.RecordCount,
				len(fr.Summary.Malformed), fr.Summary.Fields, fr.SummaryPath, fr.BundlePath, fr.BundleBytes, time.Now()))
		}
		r.sendProgress(ctx, Progress{Folder: p.Name, RelPath: p.RelPath, Stage: finalStage(fr), Done: done, Total: total, Err: fr.Err})

		var dce *DirectoryCreateError
		if errors.As(fr.Err, &dce) {
			return fs.SkipDir
		}
		// A cancelled extraction leaves the folder half-done; stop here.
		if err := ctx.Err(); err != nil {
			return err
		}
		return nil
	})

	elapsed := time.Since(started)
	if walkErr != nil {
		logger.Error("Run stopped.", "error", walkErr, slog.Int("folders", done), slog.Duration("duration", elapsed))
		return res, walkErr
	}
	if res.Err != nil {
		logger.Warn("Run finished with errors.", slog.Int("folders", done), slog.Int64("records", res.Records()), slog.Duration("duration", elapsed), "error", res.Err)
	} else {
		logger.Info("Run finished.", slog.Int("folders", done), slog.Int64("records", res.Records()), slog.Duration("duration", elapsed))
	}
	return res, nil
}

// CountWindow returns how many directories Walk would visit for win.
func CountWindow(root string, win walker.Window) (int, error) {
	n := 0
	err := walker.Walk(root, root, win, func(walker.Pair) error {
		n++
		return nil
	})
	return n, err
}

// processDir runs extract, allocate, summarize, bundle and cleanup for one
// directory. Bundle runs only after the summary is written; cleanup only after
// the bundle succeeds.
func (r *Runner) processDir(ctx context.Context, p walker.Pair, opts Options) (fr FolderResult) {
	l := r.Logger.With(slog.String("folder", p.RelPath))
	fr = FolderResult{Pair: p}
	start := time.Now()
	defer func() { fr.Duration = time.Since(start) }()

	if opts.DryRun {
		files, err := walker.Files(p.SourceDir)
		fr.Archives = len(files)
		fr.Skipped = true
		fr.Err = err
		l.Info("Would process folder.", slog.String("source", p.SourceDir), slog.String("target", p.OutputDir), slog.Int("archives", len(files)))
		return fr
	}
	if opts.Completed[filepath.ToSlash(p.RelPath)] {
		l.Info("Skipping folder, already completed.")
		r.record(ctx, l, db.FolderEvent{RelPath: p.RelPath, Event: db.EventSkip, Message: "Already completed"})
		fr.Skipped = true
		return fr
	}

	l.Info("Processing folder.", slog.String("source", p.SourceDir), slog.String("target", p.OutputDir))
	r.record(ctx, l, db.FolderEvent{RelPath: p.RelPath, Event: db.EventFolderStart, OutputPath: p.OutputDir})
	r.sendProgress(ctx, Progress{Folder: p.Name, RelPath: p.RelPath, Stage: StageStart})

	if err := os.MkdirAll(p.OutputDir, 0o755); err != nil {
		fr.Err = &DirectoryCreateError{Dir: p.OutputDir, Err: err}
		l.Error("Failed to create output directory, skipping subtree.", "error", err)
		r.recordError(ctx, l, p, fr.Err, time.Since(start))
		return fr
	}

	files, err := walker.Files(p.SourceDir)
	if err != nil {
		fr.Err = err
		l.Error("Failed to list source files.", "error", err)
		r.recordError(ctx, l, p, err, time.Since(start))
		return fr
	}
	fr.Archives = len(files)

	var errs error
	for i, name := range files {
		if err := ctx.Err(); err != nil {
			errs = errors.Join(errs, err)
			break
		}
		r.sendProgress(ctx, Progress{Folder: p.Name, RelPath: p.RelPath, Stage: StageExtract, Archive: name, Done: i + 1, Total: len(files)})
		n, err := r.extractOne(ctx, l, p, name)
		fr.Renamed += n
		if err != nil {
			var ae *AllocationError
			if errors.As(err, &ae) {
				fr.Unnumbered++
			} else {
				fr.Failed++
			}
			errs = errors.Join(errs, err)
		}
	}
	if err := ctx.Err(); err != nil {
		fr.Err = errors.Join(errs, err)
		return fr
	}

	r.sendProgress(ctx, Progress{Folder: p.Name, RelPath: p.RelPath, Stage: StageSummarize})
	doc, err := r.Summarizer.Summarize(p.OutputDir)
	if err != nil {
		fr.Err = errors.Join(errs, fmt.Errorf("summarize: %w", err))
		l.Error("Failed to summarize folder.", "error", err)
		r.recordError(ctx, l, p, fr.Err, time.Since(start))
		return fr
	}
	summaryPath, err := summary.Write(p.OutputDir, doc)
	if err != nil {
		fr.Err = errors.Join(errs, err)
		l.Error("Failed to write summary.", "error", err)
		r.recordError(ctx, l, p, fr.Err, time.Since(start))
		return fr
	}
	fr.Summary, fr.SummaryPath = doc, summaryPath
	records := doc.RecordCount
	r.record(ctx, l, db.FolderEvent{RelPath: p.RelPath, Event: db.EventSummarizeEnd, OutputPath: summaryPath, RecordCount: &records,
		Message: fmt.Sprintf("%d fields, %d malformed", len(doc.Fields), len(doc.Malformed))})

	r.sendProgress(ctx, Progress{Folder: p.Name, RelPath: p.RelPath, Stage: StageBundle})
	archive, err := r.Bundler.Bundle(p.OutputDir)
	if err != nil {
		// Record files stay in place for a retry.
		fr.Err = errors.Join(errs, err)
		l.Error("Failed to bundle folder, keeping record files.", "error", err)
		r.recordError(ctx, l, p, fr.Err, time.Since(start))
		return fr
	}
	fr.BundlePath = archive
	if info, err := os.Stat(archive); err == nil {
		fr.BundleBytes = info.Size()
	}
	r.record(ctx, l, db.FolderEvent{RelPath: p.RelPath, Event: db.EventBundleEnd, OutputPath: archive})

	if err := r.Bundler.Cleanup(p.OutputDir); err != nil {
		errs = errors.Join(errs, fmt.Errorf("cleanup: %w", err))
		l.Error("Failed to remove record files.", "error", err)
	} else {
		r.record(ctx, l, db.FolderEvent{RelPath: p.RelPath, Event: db.EventCleanupEnd})
	}

	fr.Err = errs
	elapsed := time.Since(start)
	if errs != nil {
		r.recordError(ctx, l, p, errs, elapsed)
		l.Warn("Folder finished with errors.", slog.Int("failed_archives", fr.Failed), slog.Duration("duration", elapsed))
		return fr
	}
	r.record(ctx, l, db.FolderEvent{RelPath: p.RelPath, Event: db.EventFolderEnd, OutputPath: archive, RecordCount: &records, Duration: &elapsed})
	l.Info("Folder finished.", slog.Int("archives", fr.Archives), slog.Int("renamed", fr.Renamed), slog.Int64("records", records), slog.Duration("duration", elapsed))
	return fr
}

// extractOne extracts a single archive and numbers whatever it produced.
// On extraction failure nothing is renamed.
func (r *Runner) extractOne(ctx context.Context, l *slog.Logger, p walker.Pair, name string) (int, error) {
	archive := filepath.Join(p.SourceDir, name)
	before, err := r.Allocator.Snapshot(p.OutputDir)
	if err != nil {
		return 0, &AllocationError{Archive: archive, Err: err}
	}

	started := time.Now()
	if err := r.Extractor.Extract(ctx, archive, p.OutputDir); err != nil {
		elapsed := time.Since(started)
		l.Error("Extraction failed, continuing with next archive.", slog.String("archive", archive), "error", err)
		r.record(ctx, l, db.FolderEvent{RelPath: p.RelPath, Event: db.EventExtractError, OutputPath: archive, Message: err.Error(), Duration: &elapsed})
		return 0, err
	}

	renamed, err := r.Allocator.Allocate(p.OutputDir, before)
	if err != nil {
		l.Error("Failed to number extracted files.", slog.String("archive", archive), "error", err)
		return len(renamed), &AllocationError{Archive: archive, Err: err}
	}
	l.Debug("Archive extracted.", slog.String("archive", name), slog.Int("files", len(renamed)), slog.Duration("duration", time.Since(started)))
	return len(renamed), nil
}

func (r *Runner) record(ctx context.Context, l *slog.Logger, ev db.FolderEvent) {
	if r.Recorder == nil {
		return
	}
	ev.RelPath = filepath.ToSlash(ev.RelPath)
	// Events are still written while a cancelled run unwinds.
	if err := r.Recorder.Record(context.WithoutCancel(ctx), ev); err != nil {
		l.Warn("Failed to record event.", slog.String("event", ev.Event), "error", err)
	}
}

func (r *Runner) recordError(ctx context.Context, l *slog.Logger, p walker.Pair, err error, elapsed time.Duration) {
	r.record(ctx, l, db.FolderEvent{RelPath: p.RelPath, Event: db.EventError, Message: err.Error(), Duration: &elapsed})
}
