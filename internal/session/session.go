// Package session holds the mutable state of a watch session and the
// immutable run requests derived from it.
package session

import (
	"strings"

	"github.com/fakeyudi/testwatch/internal/config"
)

// Mode selects which tests a run considers.
type Mode int

const (
	// ModeWatch runs the tests matching the active filters, or the tests
	// related to changed files when no filter is set.
	ModeWatch Mode = iota
	// ModeWatchAll runs every test.
	ModeWatchAll
)

func (m Mode) String() string {
	if m == ModeWatchAll {
		return "watchAll"
	}
	return "watch"
}

// Filters are the interactive path and test-name patterns.
type Filters struct {
	PathPattern string
	NamePattern string
}

// Active reports whether any filter is set.
func (f Filters) Active() bool {
	return f.PathPattern != "" || f.NamePattern != ""
}

// Banner tracks whether the next completed run prints the full usage.
type Banner struct {
	ShouldShowFull bool
	IsFullShown    bool
}

// UpdateSnapshot controls snapshot rewriting for a run.
type UpdateSnapshot string

const (
	UpdateNone UpdateSnapshot = "none"
	UpdateNew  UpdateSnapshot = "new"
	UpdateAll  UpdateSnapshot = "all"
)

// Overrides are per-run adjustments requested by a command.
type Overrides struct {
	UpdateSnapshot UpdateSnapshot
}

// RunRequest is the frozen configuration of one run. It contains no
// reference types, so copies never alias.
type RunRequest struct {
	Mode                  Mode
	Filters               Filters
	OnlyChanged           bool
	UpdateSnapshot        UpdateSnapshot
	CollectCoverage       bool
	CoverageDirectory     string
	Command               string
	SnapshotFailureMarker string
}

// NewRunRequest merges cfg, the current filters and mode, and overrides.
func NewRunRequest(cfg config.Config, mode Mode, filters Filters, o *Overrides) RunRequest {
	req := RunRequest{
		Mode:                  mode,
		Filters:               filters,
		OnlyChanged:           mode == ModeWatch && !filters.Active() && cfg.SCMEnabled(),
		UpdateSnapshot:        UpdateNew,
		CollectCoverage:       cfg.Coverage(),
		CoverageDirectory:     cfg.CoverageDirectory,
		Command:               cfg.Command,
		SnapshotFailureMarker: cfg.SnapshotFailureMarker,
	}
	if o != nil && o.UpdateSnapshot != "" {
		req.UpdateSnapshot = o.UpdateSnapshot
	}
	return req
}

// State is owned by the watch controller and only changed from its event loop.
type State struct {
	Mode               Mode
	Filters            Filters
	IsRunning          bool
	HasSnapshotFailure bool
	Banner             Banner
}

// NewState returns the state of a fresh session.
func NewState(mode Mode, filters Filters) State {
	return State{
		Mode:    mode,
		Filters: normalize(filters),
		Banner:  Banner{ShouldShowFull: true},
	}
}

// SetFilters replaces mode and both filters in one step.
func (s *State) SetFilters(mode Mode, filters Filters) {
	s.Mode, s.Filters = mode, normalize(filters)
}

func normalize(f Filters) Filters {
	return Filters{
		PathPattern: strings.TrimSpace(f.PathPattern),
		NamePattern: strings.TrimSpace(f.NamePattern),
	}
}
