// Package report renders run results for the terminal and for machines.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/testwatch/internal/runner"
)

var (
	passStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("82")).
			Padding(0, 1)

	failStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("196")).
			Padding(0, 1)

	labelStyle  = lipgloss.NewStyle().Bold(true)
	passedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

// Renderer serializes run results to bytes.
type Renderer interface {
	Render(res *runner.Results) ([]byte, error)
}

// JSONRenderer renders results as indented JSON.
type JSONRenderer struct{}

func (r *JSONRenderer) Render(res *runner.Results) ([]byte, error) {
	return json.MarshalIndent(res, "", "  ")
}

// TextRenderer renders one status line per unit followed by the summary.
type TextRenderer struct{}

func (r *TextRenderer) Render(res *runner.Results) ([]byte, error) {
	var sb strings.Builder
	for _, tr := range res.TestResults {
		badge := passStyle.Render("PASS")
		if !tr.Passed {
			badge = failStyle.Render("FAIL")
		}
		fmt.Fprintf(&sb, "%s %s %s\n", badge, unitName(tr), dimStyle.Render(round(tr.Duration)))
	}
	if len(res.TestResults) > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(Summary(res))
	sb.WriteString("\n")
	return []byte(sb.String()), nil
}

// Summary returns the "Tests:" and "Time:" lines for res.
func Summary(res *runner.Results) string {
	total := res.NumPassed + res.NumFailed
	var parts []string
	if res.NumFailed > 0 {
		parts = append(parts, failedStyle.Render(fmt.Sprintf("%d failed", res.NumFailed)))
	}
	if res.NumPassed > 0 {
		parts = append(parts, passedStyle.Render(fmt.Sprintf("%d passed", res.NumPassed)))
	}
	parts = append(parts, fmt.Sprintf("%d total", total))

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", labelStyle.Render("Tests:"), strings.Join(parts, ", "))
	fmt.Fprintf(&sb, "%s  %s", labelStyle.Render("Time:"), round(res.Duration))
	if res.Snapshot.Failure {
		sb.WriteString("\n" + warnStyle.Render("Snapshot failures detected."))
	}
	if res.Interrupted {
		sb.WriteString("\n" + warnStyle.Render("Run interrupted."))
	}
	return sb.String()
}

func unitName(tr runner.TestResult) string {
	if tr.Dir == "." {
		return tr.Root
	}
	return tr.Root + "/" + tr.Dir
}

func round(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(10 * time.Millisecond).String()
}
