package summary

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/brensch/jsonlpack/internal/index"
)

// Document is the per-folder summary written next to the bundle. Keys match
// the summaries produced by the earlier migration script so both can be read.
type Document struct {
	FolderPath  string   `json:"文件夹路径"`
	RecordCount int64    `json:"条目数"`
	Fields      []string `json:"字段"`
	Samples     []string `json:"10条样例"`

	Files     []string          `json:"-"` // Record files read, in order
	Malformed []MalformedRecord `json:"-"`
}

// MalformedRecord is a line that was counted but could not be read as a JSON object.
type MalformedRecord struct {
	File string
	Line int // 1-based
	Err  error
}

func (m MalformedRecord) Error() string {
	return fmt.Sprintf("decode %s line %d: %v", m.File, m.Line, m.Err)
}

var errNotObject = errors.New("record is not a JSON object")

// Summarizer reads the numbered record files of one output directory.
type Summarizer struct {
	Suffix      string
	SampleLimit int
	Logger      *slog.Logger
}

// New creates a Summarizer for files ending in suffix.
func New(suffix string, sampleLimit int, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{Suffix: suffix, SampleLimit: sampleLimit, Logger: logger}
}

// DocumentName is the summary file name for an output directory.
func DocumentName(dir string) string {
	return filepath.Base(filepath.Clean(dir)) + ".json"
}

// Summarize scans every record file in dir in sorted order.
//
// Every line counts as a record, malformed or not. Sample candidates are the
// first SampleLimit lines of each file, and the collected list is capped at
// SampleLimit overall, so a short first file does not let a later file
// contribute beyond its own first SampleLimit lines.
func (s *Summarizer) Summarize(dir string) (*Document, error) {
	files, err := index.RecordFiles(dir, s.Suffix)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		FolderPath: "/" + filepath.Base(filepath.Clean(dir)),
		Files:      files,
		Samples:    []string{},
	}
	fields := make(map[string]struct{})

	for _, name := range files {
		if err := s.scanFile(filepath.Join(dir, name), name, doc, fields); err != nil {
			return nil, err
		}
	}

	doc.Fields = make([]string, 0, len(fields))
	for f := range fields {
		doc.Fields = append(doc.Fields, f)
	}
	sort.Strings(doc.Fields)

	s.Logger.Info("Folder summarized.",
		slog.String("dir", dir),
		slog.Int("files", len(files)),
		slog.Int64("records", doc.RecordCount),
		slog.Int("fields", len(doc.Fields)),
		slog.Int("malformed", len(doc.Malformed)))
	return doc, nil
}

func (s *Summarizer) scanFile(path, name string, doc *Document, fields map[string]struct{}) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	// bufio.Reader rather than Scanner: record lines have no length bound.
	r := bufio.NewReaderSize(f, 64*1024)
	for lineIdx := 0; ; lineIdx++ {
		line, readErr := r.ReadBytes('\n')
		if len(line) == 0 && readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return fmt.Errorf("read %s: %w", path, readErr)
		}

		doc.RecordCount++
		if lineIdx < s.SampleLimit && len(doc.Samples) < s.SampleLimit {
			doc.Samples = append(doc.Samples, strings.TrimSpace(string(line)))
		}

		keys, err := topLevelKeys(line)
		if err != nil {
			m := MalformedRecord{File: name, Line: lineIdx + 1, Err: err}
			doc.Malformed = append(doc.Malformed, m)
			s.Logger.Warn("Malformed record.", slog.String("file", name), slog.Int("line", m.Line), "error", err)
		} else {
			for _, k := range keys {
				fields[k] = struct{}{}
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return fmt.Errorf("read %s: %w", path, readErr)
		}
	}
}

func topLevelKeys(line []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errNotObject
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	return keys, nil
}

// Write stores doc as <folder>.json in dir and returns its path.
// The file is written to a temporary name first and renamed into place.
func Write(dir string, doc *Document) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}

	path := filepath.Join(dir, DocumentName(dir))
	tmp, err := os.CreateTemp(dir, ".summary-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create summary temp file: %w", err)
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(buf.Bytes())
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("write summary %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename summary into place: %w", err)
	}
	return path, nil
}

// Read loads a previously written summary document.
func Read(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read summary %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode summary %s: %w", path, err)
	}
	return &doc, nil
}
