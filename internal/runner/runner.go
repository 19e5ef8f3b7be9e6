// Package runner executes the tests selected by a run request.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/cbroglie/mustache"
	"github.com/rs/zerolog/log"

	"github.com/fakeyudi/testwatch/internal/project"
	"github.com/fakeyudi/testwatch/internal/scm"
	"github.com/fakeyudi/testwatch/internal/search"
	"github.com/fakeyudi/testwatch/internal/session"
)

// ErrNoCommand is returned when the request carries no command template.
var ErrNoCommand = errors.New("no test command configured")

const (
	noRelatedMessage = "No tests found related to files changed since last commit."
	noTestsMessage   = "No tests found."
)

// Runner runs one test job.
type Runner interface {
	// Run executes job and returns its results. Failing tests are reported in
	// Results, not as an error; an error means the run itself could not happen.
	Run(ctx context.Context, job Job) (*Results, error)
}

// Job is everything a single run needs. Contexts is a private copy.
type Job struct {
	Request  session.RunRequest
	Contexts []*project.Context
	Args     []string
	Out      io.Writer
	Token    *Token
	Repeat   func() // asks the controller for another run
}

// Snapshot summarizes snapshot state across a run.
type Snapshot struct {
	Failure bool `json:"failure"`
}

// TestResult is the outcome of one unit: the tests of one directory.
type TestResult struct {
	Root            string        `json:"root"`
	Dir             string        `json:"dir"`
	Files           []string      `json:"files"`
	Passed          bool          `json:"passed"`
	SnapshotFailure bool          `json:"snapshot_failure,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// Results is the aggregate of a run.
type Results struct {
	Snapshot    Snapshot      `json:"snapshot"`
	TestResults []TestResult  `json:"test_results"`
	NumPassed   int           `json:"num_passed"`
	NumFailed   int           `json:"num_failed"`
	Interrupted bool          `json:"interrupted"`
	Duration    time.Duration `json:"duration"`
}

// Success reports whether every unit that ran passed.
func (r *Results) Success() bool {
	return r.NumFailed == 0
}

// Exec runs the configured command template once per unit through a shell.
type Exec struct {
	Shell        string                             // defaults to "sh"
	ChangedFiles func(dir string) ([]string, error) // defaults to scm.ChangedFiles
}

type unit struct {
	ctx   *project.Context
	rel   string
	files []string
}

// Run implements Runner.
//
// The command template sees these variables: dir (absolute unit directory),
// rel (unit directory relative to the root), files (quoted test files),
// testNamePattern (quoted), updateSnapshot, coverage, coverageFile,
// coverageDirectory and args (quoted CLI arguments).
func (e *Exec) Run(ctx context.Context, job Job) (*Results, error) {
	req := job.Request
	if strings.TrimSpace(req.Command) == "" {
		return nil, ErrNoCommand
	}
	tmpl, err := mustache.ParseString(req.Command)
	if err != nil {
		return nil, fmt.Errorf("parse command template: %w", err)
	}
	out := job.Out
	if out == nil {
		out = io.Discard
	}
	token := job.Token
	if token == nil {
		token = NewToken()
	}

	start := time.Now()
	units, err := e.selectUnits(out, req, job.Contexts)
	if err != nil {
		return nil, err
	}

	res := &Results{}
	if len(units) == 0 {
		if req.OnlyChanged {
			fmt.Fprintln(out, noRelatedMessage)
		} else {
			fmt.Fprintln(out, noTestsMessage)
		}
		res.Duration = time.Since(start)
		return res, nil
	}

	for _, u := range units {
		if token.Interrupted() || ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		tr, err := e.runUnit(ctx, tmpl, req, job.Args, out, u)
		if err != nil {
			if ctx.Err() != nil {
				res.Interrupted = true
				break
			}
			return nil, err
		}
		res.TestResults = append(res.TestResults, tr)
		if tr.Passed {
			res.NumPassed++
		} else {
			res.NumFailed++
		}
		if tr.SnapshotFailure {
			res.Snapshot.Failure = true
		}
	}
	res.Duration = time.Since(start)

	log.Debug().
		Str("run", token.ID().String()).
		Int("passed", res.NumPassed).
		Int("failed", res.NumFailed).
		Bool("interrupted", res.Interrupted).
		Dur("duration", res.Duration).
		Msg("run finished")
	return res, nil
}

func (e *Exec) selectUnits(out io.Writer, req session.RunRequest, contexts []*project.Context) ([]unit, error) {
	changedFiles := e.ChangedFiles
	if changedFiles == nil {
		changedFiles = scm.ChangedFiles
	}

	var units []unit
	for _, pc := range contexts {
		src := search.New(pc)
		var tests []string
		switch {
		case req.OnlyChanged:
			changed, err := changedFiles(pc.Dir())
			if err != nil {
				if !errors.Is(err, scm.ErrNotRepository) {
					return nil, fmt.Errorf("changed files in %s: %w", pc.Dir(), err)
				}
				fmt.Fprintf(os.Stderr, "Warning: %s is not a git repository; running all tests\n", pc.Dir())
				log.Warn().Str("root", pc.Dir()).Msg("related run without repository")
				tests = src.All()
				break
			}
			tests = src.FindRelatedTests(changed)
		case req.Mode == session.ModeWatch && req.Filters.PathPattern != "":
			var err error
			tests, err = src.FindMatchingTests(req.Filters.PathPattern)
			if err != nil {
				return nil, err
			}
		default:
			tests = src.All()
		}
		units = append(units, groupByDir(pc, tests)...)
	}
	return units, nil
}

func groupByDir(pc *project.Context, tests []string) []unit {
	byDir := make(map[string][]string)
	for _, t := range tests {
		d := path.Dir(t)
		byDir[d] = append(byDir[d], t)
	}
	dirs := make([]string, 0, len(byDir))
	for d := range byDir {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	units := make([]unit, 0, len(dirs))
	for _, d := range dirs {
		units = append(units, unit{ctx: pc, rel: d, files: byDir[d]})
	}
	return units
}

func (e *Exec) runUnit(ctx context.Context, tmpl *mustache.Template, req session.RunRequest, args []string, out io.Writer, u unit) (TestResult, error) {
	root := u.ctx.Dir()
	dir := filepath.Join(root, filepath.FromSlash(u.rel))
	covDir := req.CoverageDirectory
	if covDir != "" && !filepath.IsAbs(covDir) {
		covDir = filepath.Join(root, covDir)
	}

	vars := map[string]any{
		"dir":               shellescape.Quote(dir),
		"rel":               shellescape.Quote(u.rel),
		"files":             quoteAll(u.files),
		"testNamePattern":   "",
		"updateSnapshot":    req.UpdateSnapshot == session.UpdateAll,
		"coverage":          req.CollectCoverage,
		"coverageFile":      "",
		"coverageDirectory": shellescape.Quote(covDir),
		"args":              quoteAll(args),
	}
	if req.Filters.NamePattern != "" {
		vars["testNamePattern"] = shellescape.Quote(req.Filters.NamePattern)
	}
	if req.CollectCoverage && covDir != "" {
		reportDir := filepath.Join(covDir, u.ctx.Root.DisplayName())
		if err := os.MkdirAll(reportDir, 0o755); err != nil {
			return TestResult{}, fmt.Errorf("create coverage directory: %w", err)
		}
		vars["coverageFile"] = shellescape.Quote(filepath.Join(reportDir, coverageName(u.rel)))
	}

	line, err := tmpl.Render(vars)
	if err != nil {
		return TestResult{}, fmt.Errorf("render command: %w", err)
	}

	shell := e.Shell
	if shell == "" {
		shell = "sh"
	}
	var captured bytes.Buffer
	cmd := exec.CommandContext(ctx, shell, "-c", line)
	cmd.Dir = root
	cmd.Stdout = io.MultiWriter(out, &captured)
	cmd.Stderr = io.MultiWriter(out, &captured)

	log.Debug().Str("dir", dir).Str("command", line).Msg("running unit")
	start := time.Now()
	runErr := cmd.Run()
	tr := TestResult{
		Root:     u.ctx.Root.DisplayName(),
		Dir:      u.rel,
		Files:    u.files,
		Passed:   runErr == nil,
		Duration: time.Since(start),
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return TestResult{}, fmt.Errorf("run %q: %w", line, runErr)
		}
		if ctx.Err() != nil {
			return TestResult{}, ctx.Err()
		}
		marker := req.SnapshotFailureMarker
		tr.SnapshotFailure = marker != "" && bytes.Contains(captured.Bytes(), []byte(marker))
	}
	return tr, nil
}

func quoteAll(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = shellescape.Quote(s)
	}
	return strings.Join(quoted, " ")
}

func coverageName(rel string) string {
	if rel == "." {
		return "root.out"
	}
	return strings.ReplaceAll(rel, "/", "_") + ".out"
}
