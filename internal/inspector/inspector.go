package inspector

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/brensch/jsonlpack/internal/bundle"
	"github.com/brensch/jsonlpack/internal/summary"
)

// ErrCountMismatch is reported when a bundle's line total disagrees with its
// summary's record count.
var ErrCountMismatch = errors.New("bundle line count does not match summary record count")

// Report describes one output directory's bundle and summary.
type Report struct {
	Dir          string
	Archive      string
	ArchiveBytes int64
	Entries      []bundle.Entry
	Lines        int64
	Summary      *summary.Document
	SummaryErr   error
}

// Consistent reports whether the summary was readable and agrees with the bundle.
func (r *Report) Consistent() bool {
	return r.SummaryErr == nil && r.Summary != nil && r.Summary.RecordCount == r.Lines
}

// Inspect reads the bundle and summary of a single output directory.
func Inspect(dir string) (*Report, error) {
	archive := filepath.Join(dir, bundle.ArchiveName(dir))
	info, err := os.Stat(archive)
	if err != nil {
		return nil, fmt.Errorf("stat bundle: %w", err)
	}
	entries, err := bundle.List(archive)
	if err != nil {
		return nil, err
	}
	r := &Report{Dir: dir, Archive: archive, ArchiveBytes: info.Size(), Entries: entries}
	for _, e := range entries {
		r.Lines += e.Lines
	}
	r.Summary, r.SummaryErr = summary.Read(filepath.Join(dir, summary.DocumentName(dir)))
	return r, nil
}

// InspectTree inspects every directory under root that holds a bundle.
// Directories that fail are logged and reported in the joined error.
func InspectTree(root string, logger *slog.Logger) ([]*Report, error) {
	var reports []*Report
	var errs error
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logger.Warn("Skipping unreadable directory.", slog.String("dir", path), "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if _, err := os.Stat(filepath.Join(path, bundle.ArchiveName(path))); err != nil {
			return nil
		}
		r, err := Inspect(path)
		if err != nil {
			logger.Error("Failed to inspect bundle.", slog.String("dir", path), "error", err)
			errs = errors.Join(errs, fmt.Errorf("%s: %w", path, err))
			return nil
		}
		reports = append(reports, r)
		return nil
	})
	if walkErr != nil {
		return reports, fmt.Errorf("walk %s: %w", root, walkErr)
	}
	return reports, errs
}

// Print writes a report. With verbose set every bundle entry is listed.
func Print(w io.Writer, r *Report, verbose bool) {
	fmt.Fprintf(w, "--- %s ---\n", r.Dir)
	fmt.Fprintf(w, "Bundle:  %s (%s, %d files, %s lines)\n",
		filepath.Base(r.Archive), humanize.Bytes(uint64(r.ArchiveBytes)), len(r.Entries), humanize.Comma(r.Lines))
	if verbose {
		for _, e := range r.Entries {
			fmt.Fprintf(w, "  %-16s %10s %12s lines\n", e.Name, humanize.Bytes(uint64(e.Size)), humanize.Comma(e.Lines))
		}
	}
	switch {
	case r.SummaryErr != nil:
		fmt.Fprintf(w, "Summary: unreadable: %v\n", r.SummaryErr)
	case r.Consistent():
		fmt.Fprintf(w, "Summary: %s records, %d fields [%s] (matches bundle)\n",
			humanize.Comma(r.Summary.RecordCount), len(r.Summary.Fields), strings.Join(r.Summary.Fields, ", "))
	default:
		fmt.Fprintf(w, "Summary: %s records, bundle has %s lines: %v\n",
			humanize.Comma(r.Summary.RecordCount), humanize.Comma(r.Lines), ErrCountMismatch)
	}
}

// Check returns an error naming every inconsistent report.
func Check(reports []*Report) error {
	var errs error
	for _, r := range reports {
		if !r.Consistent() {
			errs = errors.Join(errs, fmt.Errorf("%s: %w", r.Dir, ErrCountMismatch))
		}
	}
	return errs
}
