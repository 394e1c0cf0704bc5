package walker

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ErrRootMissing is returned when the root corpus directory does not exist.
var ErrRootMissing = errors.New("root directory does not exist")

// Pair maps one source directory to its mirrored output directory.
type Pair struct {
	Name      string // Base name of the source directory
	RelPath   string // Path relative to the root, "." for the root itself
	SourceDir string
	OutputDir string
}

// Window is the inclusive range of directories actively processed.
// Empty Start means from the beginning; empty End means through the end.
type Window struct {
	Start string
	End   string
}

// Func is called for every directory inside the window.
// Returning fs.SkipDir skips that directory's subtree; fs.SkipAll stops the walk.
// Any other error stops the walk and is returned by Walk.
type Func func(p Pair) error

// CheckRoot returns ErrRootMissing unless root is an existing directory.
func CheckRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrRootMissing, root)
		}
		return fmt.Errorf("stat root %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrRootMissing, root)
	}
	return nil
}

// TopLevelFolders lists the immediate subdirectories of root, sorted by name.
func TopLevelFolders(root string) ([]string, error) {
	if err := CheckRoot(root); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read root %s: %w", root, err)
	}
	var folders []string
	for _, e := range entries {
		if e.IsDir() {
			folders = append(folders, e.Name())
		}
	}
	sort.Strings(folders)
	return folders, nil
}

// Walk visits root and every directory beneath it in lexical pre-order,
// calling fn for each directory inside win.
//
// Directories before the first one named win.Start are passed over but still
// descended into, so the start marker may match at any depth. Once the
// directory named win.End has been handed to fn the walk halts; nothing after
// it is visited, its own subdirectories included.
func Walk(root, outputRoot string, win Window, fn Func) error {
	if err := CheckRoot(root); err != nil {
		return err
	}
	rootName := filepath.Base(filepath.Clean(root))
	if abs, err := filepath.Abs(root); err == nil {
		rootName = filepath.Base(abs)
	}

	active := win.Start == ""
	return fs.WalkDir(os.DirFS(root), ".", func(rel string, d fs.DirEntry, err error) error {
		if err != nil {
			if rel == "." {
				return fmt.Errorf("read root %s: %w", root, err)
			}
			// An unreadable subdirectory is skipped, not fatal for the whole walk.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		name := d.Name()
		if rel == "." {
			name = rootName
		}
		if !active {
			if name != win.Start {
				return nil
			}
			active = true
		}

		p := Pair{
			Name:      name,
			RelPath:   filepath.FromSlash(rel),
			SourceDir: filepath.Join(root, filepath.FromSlash(rel)),
			OutputDir: filepath.Join(outputRoot, filepath.FromSlash(rel)),
		}
		err = fn(p)
		if win.End != "" && name == win.End && (err == nil || errors.Is(err, fs.SkipDir)) {
			return fs.SkipAll
		}
		return err
	})
}

// Files lists the regular files directly inside dir, sorted by name.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, e.Name())
		}
	}
	return files, nil
}
