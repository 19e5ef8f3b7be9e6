package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fakeyudi/testwatch/internal/config"
	"github.com/fakeyudi/testwatch/internal/index"
	"github.com/fakeyudi/testwatch/internal/project"
)

// resolveRoots picks the roots to work on: the directories given on the
// command line, else the configured roots, else the working directory.
// Relative directories are made absolute.
func resolveRoots(c config.Config, dirs []string) ([]config.Root, error) {
	var roots []config.Root
	switch {
	case len(dirs) > 0:
		for _, d := range dirs {
			roots = append(roots, config.Root{Dir: d})
		}
	case len(c.Roots) > 0:
		roots = append(roots, c.Roots...)
	default:
		roots = []config.Root{{Dir: "."}}
	}
	for i := range roots {
		abs, err := filepath.Abs(roots[i].Dir)
		if err != nil {
			return nil, fmt.Errorf("resolve root %q: %w", roots[i].Dir, err)
		}
		roots[i].Dir = abs
	}
	return roots, nil
}

// loadContexts crawls every root and builds its context.
func loadContexts(ctx context.Context, c config.Config, roots []config.Root) ([]*project.Context, error) {
	dirs := make([]string, len(roots))
	for i, r := range roots {
		dirs[i] = r.Dir
	}
	snaps, err := index.CrawlAll(ctx, dirs)
	if err != nil {
		return nil, fmt.Errorf("indexing roots: %w", err)
	}
	contexts := make([]*project.Context, len(roots))
	for i, r := range roots {
		r.Dir = snaps[i].Root()
		contexts[i] = project.Build(c, r, snaps[i])
	}
	return contexts, nil
}

// splitArgs separates root directories from the arguments after "--",
// which are passed through to the test command.
func splitArgs(dash int, args []string) (dirs, passthrough []string) {
	if dash < 0 {
		return args, nil
	}
	return args[:dash], args[dash:]
}
