// Package project pairs a root's configuration with its current file index.
package project

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/fakeyudi/testwatch/internal/config"
	"github.com/fakeyudi/testwatch/internal/index"
)

// Context is the per-root bundle used to select and run tests. A Context is
// never mutated after Build; an index change produces a new one.
type Context struct {
	Root  config.Root
	Files *index.Snapshot
	Tests []string // relative, slash separated, sorted
}

// Build creates a Context for root from snap. Tests are the snapshot files
// matching the root's test globs, or the global ones when the root has none.
func Build(global config.Config, root config.Root, snap *index.Snapshot) *Context {
	patterns := root.TestMatch
	if len(patterns) == 0 {
		patterns = global.TestMatch
	}
	var tests []string
	for _, f := range snap.Files() {
		if matchAny(patterns, f) {
			tests = append(tests, f)
		}
	}
	return &Context{Root: root, Files: snap, Tests: tests}
}

// Dir returns the absolute root directory.
func (c *Context) Dir() string { return c.Files.Root() }

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// IsValidPath reports whether a changed file should trigger a rerun for root.
// Coverage output, snapshot artifacts and ignored paths never do.
func IsValidPath(global config.Config, root config.Root, path string) bool {
	rel := path
	if r, err := filepath.Rel(root.Dir, path); err == nil && !strings.HasPrefix(r, "..") {
		rel = r
	}
	rel = filepath.ToSlash(rel)

	if inCoverageDir(global.CoverageDirectory, path, rel) {
		return false
	}
	if isSnapshotPath(rel) {
		return false
	}
	if matchAny(global.IgnorePatterns, rel) || matchAny(root.IgnorePatterns, rel) {
		return false
	}
	return true
}

func inCoverageDir(dir, path, rel string) bool {
	if dir == "" {
		return false
	}
	if filepath.IsAbs(dir) {
		r, err := filepath.Rel(dir, path)
		return err == nil && !strings.HasPrefix(r, "..")
	}
	cov := filepath.ToSlash(filepath.Clean(dir))
	if cov == "." {
		return false
	}
	return rel == cov || strings.HasPrefix(rel, cov+"/")
}

func isSnapshotPath(rel string) bool {
	if strings.HasSuffix(rel, ".snap") || strings.Contains(rel, "__snapshots__/") {
		return true
	}
	if strings.HasSuffix(rel, ".golden") && (strings.HasPrefix(rel, "testdata/") || strings.Contains(rel, "/testdata/")) {
		return true
	}
	return false
}
