package index

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/denormal/go-gitignore"
	"golang.org/x/sync/errgroup"
)

// skipDirs are never indexed regardless of ignore files.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
}

// ignorer decides whether a path under a root is excluded from the index.
type ignorer struct {
	root string
	repo gitignore.GitIgnore // nil when the root has no ignore rules
}

func newIgnorer(root string) *ignorer {
	ig := &ignorer{root: root}
	if repo, err := gitignore.NewRepository(root); err == nil {
		ig.repo = repo
	}
	return ig
}

func (ig *ignorer) ignored(path string, isDir bool) bool {
	if isDir && skipDirs[filepath.Base(path)] && path != ig.root {
		return true
	}
	if ig.repo == nil || path == ig.root {
		return false
	}
	if m := ig.repo.Absolute(path, isDir); m != nil {
		return m.Ignore()
	}
	return false
}

// Crawl walks root and returns a snapshot of every file not excluded by
// .gitignore rules or the built-in skip list.
func Crawl(root string) (*Snapshot, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}

	ig := newIgnorer(abs)
	var files []string
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if ig.ignored(path, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(abs, path)
		if err != nil {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("crawl %s: %w", abs, err)
	}
	return NewSnapshot(abs, files), nil
}

// CrawlAll crawls every root in parallel. Snapshots are returned in the order
// of roots; the first failure cancels the rest.
func CrawlAll(ctx context.Context, roots []string) ([]*Snapshot, error) {
	snaps := make([]*Snapshot, len(roots))
	g, gctx := errgroup.WithContext(ctx)
	for i, root := range roots {
		i, root := i, root
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			snap, err := Crawl(root)
			if err != nil {
				return err
			}
			snaps[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snaps, nil
}
