package index

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func newTestAllocator() *Allocator {
	reserved := func(dir, name string) bool {
		base := filepath.Base(dir)
		return name == base+".json" || name == base+".tar.gz"
	}
	return New(".jsonl", reserved, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte(n+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestAllocate_appendsAfterExisting(t *testing.T) {
	dir := t.TempDir()
	a := newTestAllocator()
	writeFiles(t, dir, "1.jsonl", "2.jsonl")

	before, err := a.Snapshot(dir)
	if err != nil {
		t.Fatal(err)
	}
	writeFiles(t, dir, "export_part.txt")

	renamed, err := a.Allocate(dir, before)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(renamed) != 1 || renamed[0].To != "3.jsonl" || renamed[0].Index != 3 {
		t.Fatalf("renamed = %+v, want export_part.txt -> 3.jsonl", renamed)
	}
	data, err := os.ReadFile(filepath.Join(dir, "3.jsonl"))
	if err != nil || string(data) != "export_part.txt\n" {
		t.Errorf("3.jsonl content = %q, %v", data, err)
	}
	data, _ = os.ReadFile(filepath.Join(dir, "1.jsonl"))
	if string(data) != "1.jsonl\n" {
		t.Errorf("existing 1.jsonl was touched: %q", data)
	}
}

func TestAllocate_sortedOrderAndReserved(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "folderA")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	a := newTestAllocator()
	before, _ := a.Snapshot(dir)
	writeFiles(t, dir, "zeta.json", "alpha.json", "folderA.json", "folderA.tar.gz")
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}

	renamed, err := a.Allocate(dir, before)
	if err != nil {
		t.Fatal(err)
	}
	if len(renamed) != 2 {
		t.Fatalf("renamed %d files, want 2: %+v", len(renamed), renamed)
	}
	if renamed[0].From != "alpha.json" || renamed[0].To != "1.jsonl" {
		t.Errorf("first rename = %+v", renamed[0])
	}
	if renamed[1].From != "zeta.json" || renamed[1].To != "2.jsonl" {
		t.Errorf("second rename = %+v", renamed[1])
	}
	want := []string{"1.jsonl", "2.jsonl", "folderA.json", "folderA.tar.gz", "nested"}
	if got := listDir(t, dir); len(got) != len(want) {
		t.Errorf("dir = %v, want %v", got, want)
	}
}

func TestAllocate_newNumericNamesNeverCollide(t *testing.T) {
	dir := t.TempDir()
	a := newTestAllocator()
	writeFiles(t, dir, "1.jsonl", "2.jsonl")
	before, _ := a.Snapshot(dir)
	// The tool happens to emit names that look like numbered slots.
	writeFiles(t, dir, "10.jsonl", "3.jsonl")

	if _, err := a.Allocate(dir, before); err != nil {
		t.Fatal(err)
	}
	files, err := a.RecordFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 4 {
		t.Fatalf("expected 4 record files, got %v", files)
	}
	seen := map[int]bool{}
	for _, f := range files {
		n, ok := ParseIndex(f)
		if !ok {
			t.Fatalf("unnumbered file %s", f)
		}
		if seen[n] {
			t.Fatalf("duplicate index %d", n)
		}
		seen[n] = true
	}
	if !seen[11] || !seen[12] {
		t.Errorf("new files should land after max index 10, got %v", files)
	}
}

func TestAllocate_repeatedCyclesKeepIndicesUnique(t *testing.T) {
	dir := t.TempDir()
	a := newTestAllocator()
	for cycle := 0; cycle < 5; cycle++ {
		before, err := a.Snapshot(dir)
		if err != nil {
			t.Fatal(err)
		}
		writeFiles(t, dir, "a.out", "b.out")
		if _, err := a.Allocate(dir, before); err != nil {
			t.Fatal(err)
		}
	}
	files, _ := a.RecordFiles(dir)
	if len(files) != 10 {
		t.Fatalf("expected 10 record files, got %d: %v", len(files), files)
	}
	next, err := a.NextIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	if next != 11 {
		t.Errorf("NextIndex = %d, want 11", next)
	}
}

func TestNextIndex(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  int
	}{
		{name: "empty", want: 1},
		{name: "gapped", files: []string{"1.jsonl", "7.jsonl"}, want: 8},
		{name: "ignores other suffixes", files: []string{"9.json", "2.jsonl"}, want: 3},
		{name: "ignores unparseable record names", files: []string{"notes.jsonl", "4.jsonl"}, want: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFiles(t, dir, tt.files...)
			got, err := newTestAllocator().NextIndex(dir)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("NextIndex = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseIndex(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"12.jsonl", 12, true},
		{"3.part.jsonl", 3, true},
		{"0.jsonl", 0, false},
		{"-1.jsonl", 0, false},
		{"abc.jsonl", 0, false},
		{".jsonl", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseIndex(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseIndex(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
