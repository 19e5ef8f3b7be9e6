// Package index keeps a per-root file index current and reports batched
// file-system changes for watch mode.
package index

import (
	"path/filepath"
	"sort"
	"strings"
)

// EventType classifies a changed path.
type EventType int

const (
	Add EventType = iota
	Change
	Delete
)

func (t EventType) String() string {
	switch t {
	case Add:
		return "add"
	case Change:
		return "change"
	case Delete:
		return "delete"
	}
	return "unknown"
}

// Event is a single changed file. Path is absolute.
type Event struct {
	Path string
	Type EventType
}

// Batch is one debounced group of events for a root together with the index
// as it stands after those events were applied.
type Batch struct {
	Root     string
	Events   []Event
	Snapshot *Snapshot
}

// Snapshot is an immutable set of files under a root. Paths are relative and
// slash separated. Updates produce a new Snapshot; the receiver is never mutated.
type Snapshot struct {
	root  string
	files []string
	set   map[string]struct{}
}

// NewSnapshot builds a snapshot for root from relative paths.
func NewSnapshot(root string, files []string) *Snapshot {
	s := &Snapshot{root: root, set: make(map[string]struct{}, len(files))}
	for _, f := range files {
		f = filepath.ToSlash(f)
		if _, ok := s.set[f]; ok {
			continue
		}
		s.set[f] = struct{}{}
		s.files = append(s.files, f)
	}
	sort.Strings(s.files)
	return s
}

// Root returns the absolute root directory.
func (s *Snapshot) Root() string { return s.root }

// Files returns the sorted relative paths. Callers must not modify the slice.
func (s *Snapshot) Files() []string { return s.files }

// Len returns the number of files.
func (s *Snapshot) Len() int { return len(s.files) }

// Has reports whether rel is in the snapshot.
func (s *Snapshot) Has(rel string) bool {
	_, ok := s.set[filepath.ToSlash(rel)]
	return ok
}

// Abs returns the absolute path of a relative snapshot entry.
func (s *Snapshot) Abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// Rel converts an absolute path under the root into snapshot form.
// ok is false when path lies outside the root.
func (s *Snapshot) Rel(path string) (string, bool) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Apply returns a new snapshot with events applied. Deleting a directory
// removes every file beneath it.
func (s *Snapshot) Apply(events []Event) *Snapshot {
	set := make(map[string]struct{}, len(s.set))
	for f := range s.set {
		set[f] = struct{}{}
	}
	for _, ev := range events {
		rel, ok := s.Rel(ev.Path)
		if !ok {
			continue
		}
		switch ev.Type {
		case Add, Change:
			set[rel] = struct{}{}
		case Delete:
			delete(set, rel)
			prefix := rel + "/"
			for f := range set {
				if strings.HasPrefix(f, prefix) {
					delete(set, f)
				}
			}
		}
	}
	files := make([]string, 0, len(set))
	for f := range set {
		files = append(files, f)
	}
	return NewSnapshot(s.root, files)
}
