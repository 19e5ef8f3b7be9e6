// Package search answers which test files of a project context match a
// filter or relate to a set of changed files.
package search

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/fakeyudi/testwatch/internal/project"
)

// Source searches the tests of one context.
type Source struct {
	ctx *project.Context
}

// New returns a Source for ctx.
func New(ctx *project.Context) *Source {
	return &Source{ctx: ctx}
}

// Binding pairs a context with its search source.
type Binding struct {
	Context *project.Context
	Source  *Source
}

// Bind builds one Binding per context, in order.
func Bind(contexts []*project.Context) []Binding {
	out := make([]Binding, len(contexts))
	for i, c := range contexts {
		out[i] = Binding{Context: c, Source: New(c)}
	}
	return out
}

// All returns every test in the context.
func (s *Source) All() []string {
	return s.ctx.Tests
}

// FindMatchingTests returns tests whose relative path matches the regular
// expression pattern. An empty pattern matches everything.
func (s *Source) FindMatchingTests(pattern string) ([]string, error) {
	if pattern == "" {
		return s.ctx.Tests, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid path pattern %q: %w", pattern, err)
	}
	var out []string
	for _, t := range s.ctx.Tests {
		if re.MatchString(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// FindRelatedTests returns tests that changed themselves or share a directory
// with a changed file. changed holds paths relative to the context root.
func (s *Source) FindRelatedTests(changed []string) []string {
	dirs := make(map[string]bool, len(changed))
	files := make(map[string]bool, len(changed))
	for _, c := range changed {
		c = strings.TrimPrefix(path.Clean(strings.ReplaceAll(c, "\\", "/")), "./")
		files[c] = true
		dirs[path.Dir(c)] = true
	}
	var out []string
	for _, t := range s.ctx.Tests {
		if files[t] || dirs[path.Dir(t)] {
			out = append(out, t)
		}
	}
	return out
}
