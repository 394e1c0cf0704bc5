// Package bundle packs an output directory's numbered record files into a
// single gzip-compressed tar archive and removes them afterwards.
package bundle

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"

	"github.com/brensch/jsonlpack/internal/index"
)

// BundleError reports a failure while creating an archive. Record files are
// left untouched when it is returned.
type BundleError struct {
	Dir string
	Err error
}

func (e *BundleError) Error() string {
	return fmt.Sprintf("bundle %s: %v", e.Dir, e.Err)
}

func (e *BundleError) Unwrap() error { return e.Err }

// Entry describes one member of a bundle archive.
type Entry struct {
	Name  string
	Size  int64
	Lines int64
}

// Bundler archives record files ending in Suffix.
type Bundler struct {
	Suffix string
	Logger *slog.Logger
}

// New creates a Bundler for files ending in suffix.
func New(suffix string, logger *slog.Logger) *Bundler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bundler{Suffix: suffix, Logger: logger}
}

// ArchiveName is the bundle file name for an output directory.
func ArchiveName(dir string) string {
	return filepath.Base(filepath.Clean(dir)) + ".tar.gz"
}

// Bundle writes <folder>.tar.gz in dir containing every record file under its
// bare name, in sorted order. An existing archive is replaced. The archive is
// only renamed into place after the tar and gzip streams close cleanly.
func (b *Bundler) Bundle(dir string) (string, error) {
	files, err := index.RecordFiles(dir, b.Suffix)
	if err != nil {
		return "", &BundleError{Dir: dir, Err: err}
	}

	path := filepath.Join(dir, ArchiveName(dir))
	tmp, err := os.CreateTemp(dir, ".bundle-*.tmp")
	if err != nil {
		return "", &BundleError{Dir: dir, Err: fmt.Errorf("create temp archive: %w", err)}
	}
	tmpName := tmp.Name()

	bw := bufio.NewWriterSize(tmp, 256*1024)
	gz := gzip.NewWriter(bw)
	tw := tar.NewWriter(gz)

	var total int64
	for _, name := range files {
		n, err := addFile(tw, dir, name)
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return "", &BundleError{Dir: dir, Err: err}
		}
		total += n
	}

	err = errors.Join(tw.Close(), gz.Close(), bw.Flush(), tmp.Close())
	if err != nil {
		os.Remove(tmpName)
		return "", &BundleError{Dir: dir, Err: fmt.Errorf("finalize archive: %w", err)}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", &BundleError{Dir: dir, Err: fmt.Errorf("rename archive into place: %w", err)}
	}

	var compressed uint64
	if info, err := os.Stat(path); err == nil {
		compressed = uint64(info.Size())
	}
	b.Logger.Info("Bundle written.",
		slog.String("archive", path),
		slog.Int("files", len(files)),
		slog.String("raw_size", humanize.Bytes(uint64(total))),
		slog.String("archive_size", humanize.Bytes(compressed)))
	return path, nil
}

func addFile(tw *tar.Writer, dir, name string) (int64, error) {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", name, err)
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return 0, fmt.Errorf("header for %s: %w", name, err)
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return 0, fmt.Errorf("write header for %s: %w", name, err)
	}
	n, err := io.Copy(tw, f)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", name, err)
	}
	return n, nil
}

// Cleanup deletes every record file in dir. All files are attempted; failures
// are joined.
func (b *Bundler) Cleanup(dir string) error {
	files, err := index.RecordFiles(dir, b.Suffix)
	if err != nil {
		return err
	}
	var errs error
	for _, name := range files {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			b.Logger.Warn("Failed to remove record file.", slog.String("dir", dir), slog.String("file", name), "error", err)
			errs = errors.Join(errs, err)
		}
	}
	b.Logger.Debug("Record files removed.", slog.String("dir", dir), slog.Int("count", len(files)))
	return errs
}

// List reads an archive and returns its entries with line counts.
func List(archive string) ([]Entry, error) {
	f, err := os.Open(archive)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", archive, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("gzip reader %s: %w", archive, err)
	}
	defer gz.Close()

	var entries []Entry
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return entries, fmt.Errorf("read archive %s: %w", archive, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		lines, err := countLines(tr)
		if err != nil {
			return entries, fmt.Errorf("read entry %s: %w", hdr.Name, err)
		}
		entries = append(entries, Entry{Name: hdr.Name, Size: hdr.Size, Lines: lines})
	}
	return entries, nil
}

// countLines counts lines the way the summarizer does: a trailing line
// without a newline still counts.
func countLines(r io.Reader) (int64, error) {
	buf := make([]byte, 64*1024)
	var lines int64
	var last byte = '\n'
	for {
		n, err := r.Read(buf)
		if n > 0 {
			lines += int64(bytes.Count(buf[:n], []byte{'\n'}))
			last = buf[n-1]
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return lines, err
		}
	}
	if last != '\n' {
		lines++
	}
	return lines, nil
}
