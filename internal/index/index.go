// Package index assigns sequential numbered names to freshly extracted files.
//
// Numbering is append-only: indices already present in a directory are never
// reused or renumbered, so repeated extract+allocate cycles (including resumed
// runs over the same output directory) keep every index unique.
package index

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Renamed records one file moved into a numbered slot.
type Renamed struct {
	From  string
	To    string
	Index int
}

// Snapshot is the set of entry names present in a directory before extraction.
type Snapshot map[string]struct{}

// Allocator numbers new files in an output directory as {N}{Suffix}.
type Allocator struct {
	Suffix string
	// Reserved reports names that must never be renamed, e.g. the folder's
	// summary document and bundle archive.
	Reserved func(dir, name string) bool
	Logger   *slog.Logger

	locks sync.Map // dir -> *sync.Mutex
}

// New creates an Allocator for record files ending in suffix.
func New(suffix string, reserved func(dir, name string) bool, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{Suffix: suffix, Reserved: reserved, Logger: logger}
}

// Lock acquires the per-directory lock that guards read-max/rename.
// The returned func releases it.
func (a *Allocator) Lock(dir string) func() {
	m, _ := a.locks.LoadOrStore(filepath.Clean(dir), &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Snapshot lists every entry currently in dir.
func (a *Allocator) Snapshot(dir string) (Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", dir, err)
	}
	snap := make(Snapshot, len(entries))
	for _, e := range entries {
		snap[e.Name()] = struct{}{}
	}
	return snap, nil
}

// NextIndex returns one more than the highest index among record files in dir,
// or 1 when there are none.
func (a *Allocator) NextIndex(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", dir, err)
	}
	return a.maxIndex(dir, entries) + 1, nil
}

// Allocate renames every regular file in dir that is absent from before and
// not reserved, in lexical order, to the next free indices.
func (a *Allocator) Allocate(dir string, before Snapshot) ([]Renamed, error) {
	unlock := a.Lock(dir)
	defer unlock()

	entries, err := os.ReadDir(dir) // sorted by name
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	next := a.maxIndex(dir, entries)

	var renamed []Renamed
	for _, e := range entries {
		name := e.Name()
		if _, existed := before[name]; existed {
			continue
		}
		if a.Reserved != nil && a.Reserved(dir, name) {
			continue
		}
		if !e.Type().IsRegular() {
			a.Logger.Warn("Skipping non-regular extracted entry.", slog.String("dir", dir), slog.String("name", name))
			continue
		}
		next++
		target := strconv.Itoa(next) + a.Suffix
		if err := os.Rename(filepath.Join(dir, name), filepath.Join(dir, target)); err != nil {
			return renamed, fmt.Errorf("rename %s to %s: %w", name, target, err)
		}
		a.Logger.Info("Renamed extracted file.", slog.String("dir", dir), slog.String("from", name), slog.String("to", target))
		renamed = append(renamed, Renamed{From: name, To: target, Index: next})
	}
	return renamed, nil
}

// RecordFiles lists the numbered record files in dir, sorted by name.
func (a *Allocator) RecordFiles(dir string) ([]string, error) {
	return RecordFiles(dir, a.Suffix)
}

// RecordFiles lists files in dir ending in suffix, sorted by name.
func RecordFiles(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ParseIndex extracts N from a name of the form "N.<anything>".
func ParseIndex(name string) (int, bool) {
	prefix, _, _ := strings.Cut(name, ".")
	n, err := strconv.Atoi(prefix)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (a *Allocator) maxIndex(dir string, entries []os.DirEntry) int {
	max := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, a.Suffix) {
			continue
		}
		n, ok := ParseIndex(name)
		if !ok {
			a.Logger.Debug("Record file without numeric index ignored for numbering.", slog.String("dir", dir), slog.String("name", name))
			continue
		}
		if n > max {
			max = n
		}
	}
	return max
}
