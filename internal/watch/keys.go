package watch

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds the command bindings of the watch session. Help text of each
// binding feeds the usage banner.
type KeyMap struct {
	ForceQuit      key.Binding
	Quit           key.Binding
	Rerun          key.Binding
	UpdateSnapshot key.Binding
	RunAll         key.Binding
	RunRelated     key.Binding
	OpenCoverage   key.Binding
	PathFilter     key.Binding
	NameFilter     key.Binding
	ClearFilters   key.Binding
	ShowMore       key.Binding
}

// DefaultKeyMap returns the standard bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		ForceQuit: key.NewBinding(
			key.WithKeys("ctrl+c", "ctrl+d"),
			key.WithHelp("ctrl+c", "quit"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "quit watch mode"),
		),
		Rerun: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("Enter", "trigger a test run"),
		),
		UpdateSnapshot: key.NewBinding(
			key.WithKeys("u"),
			key.WithHelp("u", "update failing snapshots"),
		),
		RunAll: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "run all tests"),
		),
		RunRelated: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "only run tests related to changed files"),
		),
		OpenCoverage: key.NewBinding(
			key.WithKeys("v"),
			key.WithHelp("v", "open coverage report"),
		),
		PathFilter: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "filter by a filename regex pattern"),
		),
		NameFilter: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "filter by a test name regex pattern"),
		),
		ClearFilters: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear filters"),
		),
		ShowMore: key.NewBinding(
			key.WithKeys("w"),
			key.WithHelp("w", "show more"),
		),
	}
}

// interrupts are the commands that, during a run, only interrupt it.
func (k KeyMap) interrupts() []key.Binding {
	return []key.Binding{k.Quit, k.Rerun, k.RunAll, k.RunRelated, k.PathFilter, k.NameFilter}
}
