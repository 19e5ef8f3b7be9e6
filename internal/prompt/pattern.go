package prompt

import (
	"fmt"
	"io"
	"regexp"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/fakeyudi/testwatch/internal/runner"
	"github.com/fakeyudi/testwatch/internal/search"
)

// Entities of the two filter prompts.
const (
	EntityFilename = "filename"
	EntityTestName = "test name"
)

var (
	boldStyle = lipgloss.NewStyle().Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// PatternPrompt draws a regex filter prompt on top of a shared Prompt.
type PatternPrompt struct {
	out    io.Writer
	prompt *Prompt
	entity string

	results *runner.Results
	sources []search.Binding
}

// NewPatternPrompt returns a PatternPrompt for entity writing to out.
func NewPatternPrompt(out io.Writer, p *Prompt, entity string) *PatternPrompt {
	return &PatternPrompt{out: out, prompt: p, entity: entity}
}

// Entity returns what the pattern filters, e.g. "filename".
func (pp *PatternPrompt) Entity() string { return pp.entity }

// Run clears the screen, prints header and the pattern mode usage, then
// starts capturing input.
func (pp *PatternPrompt) Run(onSuccess func(pattern string), onCancel func(), header string) {
	fmt.Fprint(pp.out, ansi.HideCursor)
	fmt.Fprint(pp.out, ansi.EraseEntireScreen+ansi.CursorHomePosition)
	if header != "" {
		fmt.Fprintln(pp.out, header)
	}
	fmt.Fprint(pp.out, Usage(pp.entity))
	fmt.Fprint(pp.out, ansi.ShowCursor)
	pp.prompt.Enter(pp.onChange, onSuccess, onCancel)
}

// Usage is the help block shown above a pattern prompt.
func Usage(entity string) string {
	return "\n" + boldStyle.Render("Pattern Mode Usage") + "\n" +
		" " + dimStyle.Render("› Press") + " Esc " + dimStyle.Render("to exit pattern mode.") + "\n" +
		" " + dimStyle.Render("› Press") + " Enter " + dimStyle.Render("to filter by a "+entity+" regex pattern.") + "\n\n"
}

func (pp *PatternPrompt) onChange(pattern string) {
	line := " pattern › " + pattern
	fmt.Fprint(pp.out, "\r"+ansi.EraseScreenBelow+line)

	n, ok := pp.countMatches(pattern)
	if !ok {
		return
	}
	noun := "files"
	if n == 1 {
		noun = "file"
	}
	fmt.Fprintf(pp.out, "\n\n %s", dimStyle.Render(fmt.Sprintf("Pattern matches %d %s", n, noun)))
	fmt.Fprint(pp.out, ansi.CursorUp(2)+ansi.CursorHorizontalAbsolute(ansi.StringWidth(line)+1))
}

// countMatches counts the test files matching pattern across all cached
// sources. Only the filename prompt counts, and only for a valid pattern.
func (pp *PatternPrompt) countMatches(pattern string) (int, bool) {
	if pp.entity != EntityFilename || pattern == "" || len(pp.sources) == 0 {
		return 0, false
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return 0, false
	}
	total := 0
	for _, b := range pp.sources {
		tests, err := b.Source.FindMatchingTests(pattern)
		if err != nil {
			return 0, false
		}
		total += len(tests)
	}
	return total, true
}

// UpdateCachedResults keeps the results of the last completed run.
func (pp *PatternPrompt) UpdateCachedResults(res *runner.Results) {
	pp.results = res
}

// CachedResults returns the results passed to UpdateCachedResults.
func (pp *PatternPrompt) CachedResults() *runner.Results { return pp.results }

// SetSearchSources replaces the bindings used for match counts.
func (pp *PatternPrompt) SetSearchSources(sources []search.Binding) {
	pp.sources = sources
}
