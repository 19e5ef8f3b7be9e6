package watch

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/testwatch/internal/session"
)

var (
	boldStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// ActiveFilters summarizes the set filters, or returns "" when none is set.
func ActiveFilters(f session.Filters) string {
	if !f.Active() {
		return ""
	}
	var parts []string
	if f.PathPattern != "" {
		parts = append(parts, "filename "+boldStyle.Render("/"+f.PathPattern+"/"))
	}
	if f.NamePattern != "" {
		parts = append(parts, "test name "+boldStyle.Render("/"+f.NamePattern+"/"))
	}
	return boldStyle.Render("Active Filters: ") + strings.Join(parts, ", ")
}

// Usage renders the full command banner for the given session state.
func Usage(f session.Filters, mode session.Mode, snapshotFailure, scm bool, keys KeyMap) string {
	var lines []string
	if f.Active() {
		lines = append(lines, "", ActiveFilters(f), hint(keys.ClearFilters))
	}
	lines = append(lines, "", boldStyle.Render("Watch Usage"))
	if mode != session.ModeWatchAll {
		lines = append(lines, hint(keys.RunAll))
	}
	if scm && (f.Active() || mode == session.ModeWatchAll) {
		lines = append(lines, hint(keys.RunRelated))
	}
	if snapshotFailure {
		lines = append(lines, hint(keys.UpdateSnapshot))
	}
	lines = append(lines,
		hint(keys.PathFilter),
		hint(keys.NameFilter),
		hint(keys.Quit),
		hint(keys.OpenCoverage),
		hint(keys.Rerun),
	)
	return strings.Join(lines, "\n") + "\n"
}

// ToggleUsageHint is the one-line banner shown after most runs.
func ToggleUsageHint(keys KeyMap) string {
	h := keys.ShowMore.Help()
	return "\n" + boldStyle.Render("Watch Usage: ") +
		dimStyle.Render("Press ") + h.Key + dimStyle.Render(" to "+h.Desc+".") + "\n"
}

func hint(b key.Binding) string {
	h := b.Help()
	return dimStyle.Render(" › Press ") + h.Key + dimStyle.Render(" to "+h.Desc+".")
}
