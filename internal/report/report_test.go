package report_test

import (
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"
	"pgregory.net/rapid"

	"github.com/fakeyudi/testwatch/internal/report"
	"github.com/fakeyudi/testwatch/internal/runner"
)

func genResults(t *rapid.T) *runner.Results {
	n := rapid.IntRange(0, 6).Draw(t, "units")
	res := &runner.Results{
		Interrupted: rapid.Bool().Draw(t, "interrupted"),
		Duration:    time.Duration(rapid.Int64Range(0, int64(time.Minute)).Draw(t, "duration")),
	}
	for i := 0; i < n; i++ {
		tr := runner.TestResult{
			Root:     "app",
			Dir:      rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "dir"),
			Files:    []string{"x_test.go"},
			Passed:   rapid.Bool().Draw(t, "passed"),
			Duration: time.Duration(rapid.Int64Range(0, int64(time.Second)).Draw(t, "unit_duration")),
		}
		if tr.Passed {
			res.NumPassed++
		} else {
			res.NumFailed++
		}
		res.TestResults = append(res.TestResults, tr)
	}
	return res
}

// Feature: testwatch, Property 9: The summary always reports the total number of units
func TestSummaryCountsUnits(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		res := genResults(t)
		got := ansi.Strip(report.Summary(res))
		total := len(res.TestResults)
		if !strings.Contains(got, "Tests:") {
			t.Fatalf("missing Tests: line in %q", got)
		}
		if !strings.Contains(got, " "+strconv.Itoa(total)+" total") {
			t.Fatalf("summary %q does not report %d total", got, total)
		}
		if res.Interrupted != strings.Contains(got, "Run interrupted.") {
			t.Fatalf("interrupted marker mismatch in %q", got)
		}
	})
}

func TestTextRendererListsUnits(t *testing.T) {
	res := &runner.Results{
		TestResults: []runner.TestResult{
			{Root: "app", Dir: "api", Passed: true},
			{Root: "app", Dir: ".", Passed: false},
		},
		NumPassed: 1,
		NumFailed: 1,
		Snapshot:  runner.Snapshot{Failure: true},
	}
	b, err := (&report.TextRenderer{}).Render(res)
	if err != nil {
		t.Fatal(err)
	}
	got := ansi.Strip(string(b))
	for _, want := range []string{"PASS", "app/api", "FAIL", "1 failed, 1 passed, 2 total", "Snapshot failures detected."} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestJSONRendererRoundTrip(t *testing.T) {
	res := &runner.Results{NumPassed: 3, Duration: time.Second}
	b, err := (&report.JSONRenderer{}).Render(res)
	if err != nil {
		t.Fatal(err)
	}
	var back runner.Results
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back.NumPassed != 3 || back.Duration != time.Second {
		t.Errorf("round trip: got %+v", back)
	}
}
