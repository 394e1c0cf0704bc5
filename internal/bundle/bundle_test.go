package bundle

import (
	"archive/tar"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func quietBundler() *Bundler {
	return New(".jsonl", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func setupDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "folderA")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func readArchive(t *testing.T, path string) map[string]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	out := map[string]string{}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatal(err)
		}
		out[hdr.Name] = string(data)
	}
	return out
}

func TestBundle_roundTripAndCleanup(t *testing.T) {
	dir := setupDir(t, map[string]string{
		"1.jsonl":      "{\"a\":1}\n",
		"2.jsonl":      "{\"b\":2}\n{\"c\":3}",
		"folderA.json": "{}",
	})
	b := quietBundler()

	path, err := b.Bundle(dir)
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}
	if filepath.Base(path) != "folderA.tar.gz" {
		t.Errorf("archive = %s", path)
	}

	got := readArchive(t, path)
	if len(got) != 2 || got["1.jsonl"] != "{\"a\":1}\n" || got["2.jsonl"] != "{\"b\":2}\n{\"c\":3}" {
		t.Errorf("archive contents = %v", got)
	}

	if err := b.Cleanup(dir); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if strings.Join(names, ",") != "folderA.json,folderA.tar.gz" {
		t.Errorf("remaining files = %v", names)
	}
}

func TestBundle_emptyDirProducesEmptyArchive(t *testing.T) {
	dir := setupDir(t, nil)
	path, err := quietBundler().Bundle(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := readArchive(t, path); len(got) != 0 {
		t.Errorf("expected empty archive, got %v", got)
	}
}

func TestBundle_replacesExistingArchive(t *testing.T) {
	dir := setupDir(t, map[string]string{"1.jsonl": "x\n", "folderA.tar.gz": "stale"})
	path, err := quietBundler().Bundle(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := readArchive(t, path); got["1.jsonl"] != "x\n" {
		t.Errorf("archive = %v", got)
	}
}

func TestBundle_missingDirIsBundleError(t *testing.T) {
	_, err := quietBundler().Bundle(filepath.Join(t.TempDir(), "absent"))
	var be *BundleError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want *BundleError", err)
	}
}

func TestList(t *testing.T) {
	dir := setupDir(t, map[string]string{
		"1.jsonl": "a\nb\nc\n",
		"2.jsonl": "d\ne",
		"3.jsonl": "",
	})
	path, err := quietBundler().Bundle(dir)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := List(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %+v", entries)
	}
	want := map[string]int64{"1.jsonl": 3, "2.jsonl": 2, "3.jsonl": 0}
	for _, e := range entries {
		if e.Lines != want[e.Name] {
			t.Errorf("%s lines = %d, want %d", e.Name, e.Lines, want[e.Name])
		}
	}
	if entries[0].Name != "1.jsonl" || entries[2].Name != "3.jsonl" {
		t.Errorf("entries not sorted: %+v", entries)
	}
}
