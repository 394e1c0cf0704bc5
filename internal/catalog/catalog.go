// Package catalog keeps a parquet file with one row per processed folder,
// merged across runs so the latest summary for each folder wins.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

// Entry is one folder's row in the catalog.
type Entry struct {
	RelPath        string `parquet:"name=rel_path, type=BYTE_ARRAY, convertedtype=UTF8"`
	FolderPath     string `parquet:"name=folder_path, type=BYTE_ARRAY, convertedtype=UTF8"`
	RecordCount    int64  `parquet:"name=record_count, type=INT64"`
	MalformedCount int64  `parquet:"name=malformed_count, type=INT64"`
	FieldCount     int64  `parquet:"name=field_count, type=INT64"`
	Fields         string `parquet:"name=fields, type=BYTE_ARRAY, convertedtype=UTF8"` // comma separated, sorted
	SummaryPath    string `parquet:"name=summary_path, type=BYTE_ARRAY, convertedtype=UTF8"`
	BundlePath     string `parquet:"name=bundle_path, type=BYTE_ARRAY, convertedtype=UTF8"`
	BundleBytes    int64  `parquet:"name=bundle_bytes, type=INT64"`
	ProcessedAt    int64  `parquet:"name=processed_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// NewEntry builds a row stamped with the given time.
func NewEntry(relPath, folderPath string, records int64, malformed int, fields []string, summaryPath, bundlePath string, bundleBytes int64, at time.Time) Entry {
	return Entry{
		RelPath:        relPath,
		FolderPath:     folderPath,
		RecordCount:    records,
		MalformedCount: int64(malformed),
		FieldCount:     int64(len(fields)),
		Fields:         strings.Join(fields, ","),
		SummaryPath:    summaryPath,
		BundlePath:     bundlePath,
		BundleBytes:    bundleBytes,
		ProcessedAt:    at.UnixMilli(),
	}
}

// Read loads every row. A missing file yields no rows and no error.
func Read(path string) ([]Entry, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(Entry), 1)
	if err != nil {
		return nil, fmt.Errorf("read catalog footer %s: %w", path, err)
	}
	defer pr.ReadStop()

	entries := make([]Entry, int(pr.GetNumRows()))
	if len(entries) == 0 {
		return nil, nil
	}
	if err := pr.Read(&entries); err != nil {
		return nil, fmt.Errorf("read catalog rows %s: %w", path, err)
	}
	return entries, nil
}

// Write replaces the catalog with entries, sorted by rel path.
func Write(path string, entries []Entry) error {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RelPath < sorted[j].RelPath })

	tmp := path + ".tmp"
	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		return fmt.Errorf("create catalog %s: %w", tmp, err)
	}
	pw, err := writer.NewParquetWriter(fw, new(Entry), 1)
	if err != nil {
		fw.Close()
		os.Remove(tmp)
		return fmt.Errorf("create catalog writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, e := range sorted {
		if err := pw.Write(e); err != nil {
			pw.WriteStop()
			fw.Close()
			os.Remove(tmp)
			return fmt.Errorf("write catalog row %s: %w", e.RelPath, err)
		}
	}
	if err := errors.Join(pw.WriteStop(), fw.Close()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize catalog: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename catalog into place: %w", err)
	}
	return nil
}

// Merge overlays updates onto existing by rel path.
func Merge(existing, updates []Entry) []Entry {
	byPath := make(map[string]Entry, len(existing)+len(updates))
	for _, e := range existing {
		byPath[e.RelPath] = e
	}
	for _, e := range updates {
		byPath[e.RelPath] = e
	}
	merged := make([]Entry, 0, len(byPath))
	for _, e := range byPath {
		merged = append(merged, e)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].RelPath < merged[j].RelPath })
	return merged
}

// Update merges updates into the catalog at path.
func Update(path string, updates []Entry, logger *slog.Logger) error {
	if len(updates) == 0 {
		logger.Debug("No catalog updates.", slog.String("path", path))
		return nil
	}
	existing, err := Read(path)
	if err != nil {
		return err
	}
	merged := Merge(existing, updates)
	if err := Write(path, merged); err != nil {
		return err
	}
	logger.Info("Catalog updated.",
		slog.String("path", path),
		slog.Int("updated", len(updates)),
		slog.Int("total", len(merged)))
	return nil
}
