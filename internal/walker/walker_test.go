package walker

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// buildTree creates root/<dirs...> and returns the root path.
func buildTree(t *testing.T, dirs ...string) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "corpus")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(d)), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func collect(t *testing.T, root, out string, win Window) []string {
	t.Helper()
	var visited []string
	err := Walk(root, out, win, func(p Pair) error {
		visited = append(visited, filepath.ToSlash(p.RelPath))
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	return visited
}

var tree = []string{"a", "a/a1", "b", "b/b1", "b/b2", "c", "d"}

func TestWalk_window(t *testing.T) {
	root := buildTree(t, tree...)
	out := filepath.Join(t.TempDir(), "out")

	tests := []struct {
		name string
		win  Window
		want string
	}{
		{name: "full", win: Window{}, want: ".,a,a/a1,b,b/b1,b/b2,c,d"},
		{name: "from start", win: Window{Start: "b"}, want: "b,b/b1,b/b2,c,d"},
		{name: "through end", win: Window{End: "b"}, want: ".,a,a/a1,b"},
		{name: "start and end", win: Window{Start: "b", End: "c"}, want: "b,b/b1,b/b2,c"},
		{name: "start equals end", win: Window{Start: "c", End: "c"}, want: "c"},
		{name: "nested start", win: Window{Start: "b1"}, want: "b/b1,b/b2,c,d"},
		{name: "unknown start", win: Window{Start: "zzz"}, want: ""},
		{name: "unknown end", win: Window{Start: "c", End: "zzz"}, want: "c,d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(collect(t, root, out, tt.win), ",")
			if got != tt.want {
				t.Errorf("visited %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWalk_pairsMirrorRelativePaths(t *testing.T) {
	root := buildTree(t, "x/y")
	out := filepath.Join(t.TempDir(), "mirror")

	var pairs []Pair
	if err := Walk(root, out, Window{}, func(p Pair) error {
		pairs = append(pairs, p)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 3 {
		t.Fatalf("got %d pairs, want 3", len(pairs))
	}
	if pairs[0].Name != "corpus" || pairs[0].OutputDir != out || pairs[0].SourceDir != root {
		t.Errorf("root pair = %+v", pairs[0])
	}
	last := pairs[2]
	if last.Name != "y" || last.SourceDir != filepath.Join(root, "x", "y") || last.OutputDir != filepath.Join(out, "x", "y") {
		t.Errorf("leaf pair = %+v", last)
	}
	if _, err := os.Stat(out); !errors.Is(err, fs.ErrNotExist) {
		t.Error("Walk must not create output directories itself")
	}
}

func TestWalk_skipDir(t *testing.T) {
	root := buildTree(t, tree...)
	var visited []string
	err := Walk(root, t.TempDir(), Window{}, func(p Pair) error {
		visited = append(visited, filepath.ToSlash(p.RelPath))
		if p.Name == "b" {
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(visited, ","); got != ".,a,a/a1,b,c,d" {
		t.Errorf("visited %q", got)
	}
}

func TestWalk_endHaltsEvenWhenSkipped(t *testing.T) {
	root := buildTree(t, tree...)
	var visited []string
	err := Walk(root, t.TempDir(), Window{End: "b"}, func(p Pair) error {
		visited = append(visited, p.Name)
		if p.Name == "b" {
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if visited[len(visited)-1] != "b" {
		t.Errorf("walk continued past end: %v", visited)
	}
}

func TestWalk_errorStops(t *testing.T) {
	root := buildTree(t, tree...)
	boom := errors.New("boom")
	var count int
	err := Walk(root, t.TempDir(), Window{}, func(p Pair) error {
		count++
		if p.Name == "a1" {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if count != 3 {
		t.Errorf("fn called %d times, want 3", count)
	}
}

func TestWalk_rootMissing(t *testing.T) {
	err := Walk(filepath.Join(t.TempDir(), "absent"), t.TempDir(), Window{}, func(Pair) error {
		t.Fatal("fn must not be called")
		return nil
	})
	if !errors.Is(err, ErrRootMissing) {
		t.Fatalf("err = %v, want ErrRootMissing", err)
	}
}

func TestTopLevelFolders(t *testing.T) {
	root := buildTree(t, "delta", "alpha", "charlie/nested")
	if err := os.WriteFile(filepath.Join(root, "stray.zip"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := TopLevelFolders(root)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, ",") != "alpha,charlie,delta" {
		t.Errorf("TopLevelFolders = %v", got)
	}

	if _, err := TopLevelFolders(filepath.Join(root, "stray.zip")); !errors.Is(err, ErrRootMissing) {
		t.Errorf("file root should report ErrRootMissing, got %v", err)
	}
}

func TestFiles(t *testing.T) {
	root := buildTree(t, "sub")
	for _, n := range []string{"b.zip", "a.zip"} {
		if err := os.WriteFile(filepath.Join(root, n), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got, err := Files(root)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, ",") != "a.zip,b.zip" {
		t.Errorf("Files = %v", got)
	}
}
