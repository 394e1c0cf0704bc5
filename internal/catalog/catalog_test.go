package catalog

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRead_missingFile(t *testing.T) {
	entries, err := Read(filepath.Join(t.TempDir(), "catalog.parquet"))
	if err != nil || entries != nil {
		t.Fatalf("Read(missing) = %v, %v; want nil, nil", entries, err)
	}
}

func TestUpdate_mergesAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.parquet")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	first := []Entry{
		NewEntry("b", "/b", 10, 0, []string{"x"}, "/out/b/b.json", "/out/b/b.tar.gz", 100, at),
		NewEntry("a", "/a", 5, 1, []string{"k", "v"}, "/out/a/a.json", "/out/a/a.tar.gz", 50, at),
	}
	if err := Update(path, first, logger); err != nil {
		t.Fatalf("first Update: %v", err)
	}

	later := at.Add(time.Hour)
	second := []Entry{NewEntry("b", "/b", 12, 0, []string{"x", "y"}, "/out/b/b.json", "/out/b/b.tar.gz", 120, later)}
	if err := Update(path, second, logger); err != nil {
		t.Fatalf("second Update: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2: %+v", len(got), got)
	}
	if got[0].RelPath != "a" || got[0].Fields != "k,v" || got[0].MalformedCount != 1 {
		t.Errorf("row a = %+v", got[0])
	}
	if got[1].RelPath != "b" || got[1].RecordCount != 12 || got[1].FieldCount != 2 || got[1].ProcessedAt != later.UnixMilli() {
		t.Errorf("row b = %+v", got[1])
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp catalog left behind")
	}
}

func TestUpdate_noEntriesWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.parquet")
	if err := Update(path, nil, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("catalog should not be created without entries")
	}
}

func TestMerge(t *testing.T) {
	existing := []Entry{{RelPath: "a", RecordCount: 1}, {RelPath: "c", RecordCount: 3}}
	updates := []Entry{{RelPath: "b", RecordCount: 2}, {RelPath: "a", RecordCount: 9}}
	got := Merge(existing, updates)
	if len(got) != 3 || got[0].RecordCount != 9 || got[1].RelPath != "b" || got[2].RelPath != "c" {
		t.Errorf("Merge = %+v", got)
	}
}
