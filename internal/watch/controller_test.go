package watch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/fakeyudi/testwatch/internal/config"
	"github.com/fakeyudi/testwatch/internal/index"
	"github.com/fakeyudi/testwatch/internal/project"
	"github.com/fakeyudi/testwatch/internal/runner"
	"github.com/fakeyudi/testwatch/internal/session"
)

// ── Fakes ────────────

type fakeRunner struct {
	jobs    []runner.Job
	results *runner.Results
	err     error
}

func (f *fakeRunner) Run(_ context.Context, job runner.Job) (*runner.Results, error) {
	f.jobs = append(f.jobs, job)
	if f.err != nil {
		return nil, f.err
	}
	if f.results != nil {
		return f.results, nil
	}
	return &runner.Results{}, nil
}

type fakeOpener struct {
	opened []string
	err    error
}

func (f *fakeOpener) Open(path string) error {
	f.opened = append(f.opened, path)
	return f.err
}

// ── Helpers ────────────

type harness struct {
	c      *Controller
	runner *fakeRunner
	opener *fakeOpener
	out    *bytes.Buffer
	errOut *bytes.Buffer
	dirs   []string
}

func setupDirs(t *testing.T) []string {
	t.Helper()
	var dirs []string
	for _, name := range []string{"api", "web"} {
		dir := filepath.Join(t.TempDir(), name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		dirs = append(dirs, dir)
	}
	return dirs
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	return newHarnessIn(setupDirs(t), mutate)
}

// newHarnessIn builds a controller over two roots, api and web, each holding
// one package with one test.
func newHarnessIn(dirs []string, mutate func(*Options)) *harness {
	cfg := config.Defaults()
	var contexts []*project.Context
	for _, dir := range dirs {
		snap := index.NewSnapshot(dir, []string{"pkg/a.go", "pkg/a_test.go"})
		contexts = append(contexts, project.Build(cfg, config.Root{Dir: dir, Name: filepath.Base(dir)}, snap))
	}
	h := &harness{
		runner: &fakeRunner{},
		opener: &fakeOpener{},
		out:    &bytes.Buffer{},
		errOut: &bytes.Buffer{},
		dirs:   dirs,
	}
	opts := Options{
		Config:   cfg,
		Contexts: contexts,
		Args:     []string{"--verbose"},
		Runner:   h.runner,
		Opener:   h.opener,
		Out:      h.out,
		Err:      h.errOut,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.c = NewController(context.Background(), opts)
	return h
}

func keyMsg(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "backspace":
		return tea.KeyMsg{Type: tea.KeyBackspace}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case "ctrl+d":
		return tea.KeyMsg{Type: tea.KeyCtrlD}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

func (h *harness) press(k string) tea.Cmd {
	_, cmd := h.c.Update(keyMsg(k))
	return cmd
}

func (h *harness) typeText(s string) {
	for _, r := range s {
		h.press(string(r))
	}
}

// complete runs cmd and feeds its completion back into the loop.
func (h *harness) complete(t *testing.T, cmd tea.Cmd) {
	t.Helper()
	require.NotNil(t, cmd, "expected a run to start")
	msg, ok := cmd().(runFinishedMsg)
	require.True(t, ok, "expected a run completion")
	h.c.Update(msg)
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func (h *harness) output() string {
	return ansi.Strip(h.out.String())
}

// ── Run lifecycle ────────────

// Feature: testwatch, Property 1: At most one run is in flight
func TestStartRunSingleFlight(t *testing.T) {
	h := newHarness(t, nil)
	rapid.Check(t, func(t *rapid.T) {
		h.c.state.IsRunning = false
		first := h.c.StartRun(nil)
		if first == nil {
			t.Fatalf("idle controller refused to start")
		}
		n := rapid.IntRange(1, 10).Draw(t, "extra_starts")
		for i := 0; i < n; i++ {
			if h.c.StartRun(nil) != nil {
				t.Fatalf("second run started while one is active")
			}
			if rapid.Bool().Draw(t, "send_rerun") {
				if _, cmd := h.c.Update(rerunMsg{}); cmd != nil {
					t.Fatalf("repeat request started a run while one is active")
				}
			}
		}
		if !h.c.state.IsRunning {
			t.Fatalf("isRunning cleared without completion")
		}
	})
}

func TestRunJobCarriesFrozenRequest(t *testing.T) {
	h := newHarness(t, nil)
	h.c.state.SetFilters(session.ModeWatch, session.Filters{PathPattern: "pkg"})
	cmd := h.c.StartRun(&session.Overrides{UpdateSnapshot: session.UpdateAll})
	require.NotNil(t, cmd)
	cmd()

	require.Len(t, h.runner.jobs, 1)
	job := h.runner.jobs[0]
	assert.Equal(t, "pkg", job.Request.Filters.PathPattern)
	assert.Equal(t, session.UpdateAll, job.Request.UpdateSnapshot)
	assert.False(t, job.Request.OnlyChanged)
	assert.Equal(t, []string{"--verbose"}, job.Args)
	assert.Same(t, h.c.token, job.Token)

	h.c.state.SetFilters(session.ModeWatchAll, session.Filters{})
	assert.Equal(t, "pkg", job.Request.Filters.PathPattern, "request must not follow later state")
	assert.Contains(t, h.output(), startingNotice)
}

// Feature: testwatch, Property 3: Completion replaces the token; stale tokens are inert
func TestCompletionReplacesToken(t *testing.T) {
	h := newHarness(t, nil)
	cmd := h.press("enter")
	stale := h.c.token
	h.complete(t, cmd)

	assert.NotSame(t, stale, h.c.token)
	assert.False(t, h.c.state.IsRunning)

	next := h.press("enter")
	require.NotNil(t, next)
	stale.Interrupt()
	assert.False(t, h.c.token.Interrupted())
	next()
	assert.False(t, h.runner.jobs[1].Token.Interrupted())
}

func TestRunFailureKeepsSessionAlive(t *testing.T) {
	h := newHarness(t, nil)
	h.c.state.HasSnapshotFailure = true
	h.runner.err = errors.New("boom")

	h.complete(t, h.press("enter"))
	assert.Contains(t, ansi.Strip(h.errOut.String()), "Run failed: boom")
	assert.True(t, h.c.state.HasSnapshotFailure, "failure must not touch snapshot state")
	assert.Contains(t, h.output(), "Watch Usage")
	assert.False(t, h.c.state.IsRunning)

	h.runner.err = nil
	assert.NotNil(t, h.press("enter"), "session must accept further runs")
}

func TestCompletionRecordsSnapshotFailureAndCachesResults(t *testing.T) {
	h := newHarness(t, nil)
	res := &runner.Results{Snapshot: runner.Snapshot{Failure: true}, NumFailed: 1}
	h.runner.results = res

	h.complete(t, h.press("enter"))
	assert.True(t, h.c.state.HasSnapshotFailure)
	assert.Same(t, res, h.c.pathPrompt.CachedResults())
	assert.Same(t, res, h.c.namePrompt.CachedResults())
	assert.Contains(t, h.output(), "Press u to update failing snapshots.")
}

// ── Keys ────────────

// Feature: testwatch, Property 4: Interrupt keys only interrupt an active run
func TestInterruptKeysWhileRunning(t *testing.T) {
	for _, k := range []string{"q", "enter", "a", "o", "p", "t"} {
		t.Run(k, func(t *testing.T) {
			h := newHarness(t, nil)
			require.NotNil(t, h.c.StartRun(nil))
			tok := h.c.token
			before := h.c.state

			cmd := h.press(k)
			assert.Nil(t, cmd, "no new run and no quit while running")
			assert.True(t, tok.Interrupted())
			assert.Equal(t, before, h.c.state, "state must not change")
			assert.False(t, h.c.prompt.IsEntering())
		})
	}
}

func TestIdleKeysStartRuns(t *testing.T) {
	for _, k := range []string{"enter", "a", "o", "u"} {
		t.Run(k, func(t *testing.T) {
			h := newHarness(t, nil)
			cmd := h.press(k)
			require.NotNil(t, cmd)
			assert.True(t, h.c.state.IsRunning)
			h.complete(t, cmd)
			assert.Len(t, h.runner.jobs, 1)
		})
	}
}

func TestQuitKeys(t *testing.T) {
	h := newHarness(t, nil)
	assert.True(t, isQuit(h.press("q")))

	h = newHarness(t, nil)
	require.NotNil(t, h.c.StartRun(nil))
	assert.True(t, isQuit(h.press("ctrl+c")), "quit combination exits even while running")

	h = newHarness(t, nil)
	h.press("p")
	require.True(t, h.c.prompt.IsEntering())
	assert.True(t, isQuit(h.press("ctrl+d")), "quit combination exits even while capturing")
}

func TestUpdateSnapshotOverride(t *testing.T) {
	h := newHarness(t, nil)
	h.press("u")()
	require.Len(t, h.runner.jobs, 1)
	assert.Equal(t, session.UpdateAll, h.runner.jobs[0].Request.UpdateSnapshot)
}

// Feature: testwatch, Property 6: Run-all clears both filters and selects watchAll
func TestRunAllClearsFilters(t *testing.T) {
	dirs := setupDirs(t)
	rapid.Check(t, func(t *rapid.T) {
		h := newHarnessIn(dirs, nil)
		h.c.state.SetFilters(session.ModeWatch, session.Filters{
			PathPattern: rapid.StringMatching(`[a-z]{0,5}`).Draw(t, "path"),
			NamePattern: rapid.StringMatching(`[a-z]{0,5}`).Draw(t, "name"),
		})
		cmd := h.press("a")
		if cmd == nil {
			t.Fatalf("run-all did not start a run")
		}
		if h.c.state.Filters.Active() || h.c.state.Mode != session.ModeWatchAll {
			t.Fatalf("state after run-all: %+v", h.c.state)
		}
		cmd()
		req := h.runner.jobs[0].Request
		if req.Mode != session.ModeWatchAll || req.Filters.Active() || req.OnlyChanged {
			t.Fatalf("request after run-all: %+v", req)
		}
	})
}

func TestRunRelated(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Mode = session.ModeWatchAll })
	cmd := h.press("o")
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, session.ModeWatch, h.c.state.Mode)
	assert.True(t, h.runner.jobs[0].Request.OnlyChanged)

	off := newHarness(t, func(o *Options) { o.Config.SCM = config.Bool(false) })
	assert.Nil(t, off.press("o"), "run-related is inert without source control")
}

func TestClearFilters(t *testing.T) {
	h := newHarness(t, nil)
	assert.Nil(t, h.press("c"), "nothing to clear")

	h.c.state.SetFilters(session.ModeWatch, session.Filters{NamePattern: "Foo"})
	require.NotNil(t, h.press("c"))
	assert.False(t, h.c.state.Filters.Active())
	assert.Equal(t, session.ModeWatch, h.c.state.Mode)
}

func TestUnknownKeyIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	before := h.c.state
	assert.Nil(t, h.press("z"))
	assert.Equal(t, before, h.c.state)
}

// ── Coverage ────────────

func TestOpenCoverageWithoutCoverageJustReruns(t *testing.T) {
	h := newHarness(t, nil)
	cmd := h.press("v")
	require.NotNil(t, cmd)
	assert.Empty(t, h.opener.opened)
	cmd()
	assert.Len(t, h.runner.jobs, 1)
}

func TestOpenCoverageOpensFirstReport(t *testing.T) {
	covDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(covDir, "web"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(covDir, "api"), 0o755))

	h := newHarness(t, func(o *Options) {
		o.Config.CollectCoverage = config.Bool(true)
		o.Config.CoverageDirectory = covDir
	})
	require.NotNil(t, h.press("v"))
	assert.Equal(t, []string{filepath.Join(covDir, "api", "index.html")}, h.opener.opened)
}

func TestOpenCoverageMissingDirectoryIsReported(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Config.CollectCoverage = config.Bool(true)
		o.Config.CoverageDirectory = "does-not-exist"
	})
	cmd := h.press("v")
	assert.NotNil(t, cmd, "run must start even when the lookup fails")
	assert.Empty(t, h.opener.opened)
	assert.Contains(t, h.errOut.String(), "read coverage directory")
}

func TestOpenCoverageOpenerErrorIsReported(t *testing.T) {
	covDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(covDir, "api"), 0o755))
	h := newHarness(t, func(o *Options) {
		o.Config.CollectCoverage = config.Bool(true)
		o.Config.CoverageDirectory = covDir
	})
	h.opener.err = errors.New("no browser")
	assert.NotNil(t, h.press("v"))
	assert.Contains(t, h.errOut.String(), "no browser")
}

// ── Banner ────────────

func TestBannerFullThenAbbreviated(t *testing.T) {
	h := newHarness(t, nil)

	h.complete(t, h.press("enter"))
	first := h.output()
	assert.Contains(t, first, "Watch Usage\n")
	assert.Contains(t, first, "Press a to run all tests.")
	assert.NotContains(t, first, "Press w to show more.")
	assert.True(t, h.c.state.Banner.IsFullShown)

	h.out.Reset()
	h.complete(t, h.press("enter"))
	second := h.output()
	assert.Contains(t, second, "Watch Usage: Press w to show more.")
	assert.NotContains(t, second, "Press a to run all tests.")
	assert.False(t, h.c.state.Banner.IsFullShown)
}

func TestShowMoreOnlyWhenAbbreviated(t *testing.T) {
	h := newHarness(t, nil)
	h.complete(t, h.press("enter"))

	h.out.Reset()
	h.press("w")
	assert.Empty(t, h.out.String(), "full banner already shown")

	h.complete(t, h.press("enter"))
	h.out.Reset()
	h.press("w")
	assert.Contains(t, h.out.String(), ansi.CursorUp(1)+ansi.EraseScreenBelow)
	assert.Contains(t, h.output(), "Press a to run all tests.")
	assert.True(t, h.c.state.Banner.IsFullShown)
	assert.True(t, h.c.state.Banner.ShouldShowFull)

	h.out.Reset()
	h.complete(t, h.press("enter"))
	assert.Contains(t, h.output(), "Press a to run all tests.", "show more requests the full banner next time")
}

// ── Prompts ────────────

// Feature: testwatch, Property 5: Submitting a filter prompt sets that filter and clears the other
func TestFilterPromptSubmit(t *testing.T) {
	dirs := setupDirs(t)
	rapid.Check(t, func(t *rapid.T) {
		h := newHarnessIn(dirs, nil)
		usePath := rapid.Bool().Draw(t, "path_prompt")
		text := rapid.StringMatching(` {0,2}[a-z_/]{1,8} {0,2}`).Draw(t, "text")
		h.c.state.SetFilters(session.ModeWatchAll, session.Filters{PathPattern: "old", NamePattern: "Old"})

		if usePath {
			h.press("p")
		} else {
			h.press("t")
		}
		if !h.c.prompt.IsEntering() {
			t.Fatalf("prompt did not open")
		}
		h.typeText(text)
		if len(h.runner.jobs) != 0 {
			t.Fatalf("keys leaked to the command table while capturing")
		}
		cmd := h.press("enter")
		if cmd == nil {
			t.Fatalf("submit did not start a run")
		}

		want := strings.TrimSpace(text)
		f := h.c.state.Filters
		if usePath && (f.PathPattern != want || f.NamePattern != "") {
			t.Fatalf("path submit: got %+v, want path %q", f, want)
		}
		if !usePath && (f.NamePattern != want || f.PathPattern != "") {
			t.Fatalf("name submit: got %+v, want name %q", f, want)
		}
		if h.c.state.Mode != session.ModeWatch {
			t.Fatalf("mode after submit: %v", h.c.state.Mode)
		}
		if h.c.prompt.IsEntering() {
			t.Fatalf("prompt still capturing after submit")
		}
	})
}

func TestFilterPromptCancelRedrawsUsage(t *testing.T) {
	h := newHarness(t, nil)
	h.c.state.SetFilters(session.ModeWatch, session.Filters{NamePattern: "Foo"})
	h.press("p")
	out := h.output()
	assert.Contains(t, out, "Active Filters: test name /Foo/")
	assert.Contains(t, out, "Pattern Mode Usage")

	h.typeText("api")
	h.out.Reset()
	assert.Nil(t, h.press("esc"))
	assert.False(t, h.c.prompt.IsEntering())
	assert.Equal(t, "Foo", h.c.state.Filters.NamePattern, "cancel keeps filters")
	assert.Contains(t, h.output(), "Watch Usage")
}

func TestCapturingRoutesCommandKeysToPrompt(t *testing.T) {
	h := newHarness(t, nil)
	h.press("t")
	for _, k := range []string{"q", "a", "u", "o", "v", "w", "c"} {
		assert.Nil(t, h.press(k), "key %q must be captured", k)
	}
	assert.Equal(t, "qauovwc", h.c.prompt.Value())
	assert.Empty(t, h.runner.jobs)
}

// ── Changes ────────────

func batchFor(dir string, rels ...string) index.Batch {
	events := make([]index.Event, len(rels))
	for i, r := range rels {
		events[i] = index.Event{Path: filepath.Join(dir, filepath.FromSlash(r)), Type: index.Change}
	}
	return index.Batch{
		Root:     dir,
		Events:   events,
		Snapshot: index.NewSnapshot(dir, append([]string{"pkg/a.go", "pkg/a_test.go"}, rels...)),
	}
}

// Feature: testwatch, Property 7: Only batches with a relevant path rebuild and rerun
func TestChangeBatchFiltering(t *testing.T) {
	irrelevant := []string{"coverage/api/index.html", "pkg/__snapshots__/a.snap", "pkg/testdata/out.golden", "tmp/x.go"}
	relevant := []string{"pkg/b.go", "pkg/c_test.go", "main.go"}
	dirs := setupDirs(t)
	rapid.Check(t, func(t *rapid.T) {
		h := newHarnessIn(dirs, func(o *Options) { o.Config.IgnorePatterns = []string{"tmp/**"} })
		rels := rapid.SliceOfN(rapid.SampledFrom(irrelevant), 1, 5).Draw(t, "irrelevant")
		withRelevant := rapid.Bool().Draw(t, "with_relevant")
		if withRelevant {
			rels = append(rels, rapid.SampledFrom(relevant).Draw(t, "relevant"))
		}
		before := h.c.contexts[0]

		_, cmd := h.c.Update(changeMsg{root: 0, batch: batchFor(h.dirs[0], rels...)})

		if withRelevant {
			if cmd == nil || !h.c.state.IsRunning {
				t.Fatalf("relevant batch did not start a run")
			}
			if h.c.contexts[0] == before {
				t.Fatalf("context not rebuilt")
			}
			return
		}
		if cmd != nil || h.c.state.IsRunning {
			t.Fatalf("irrelevant batch started a run")
		}
		if h.c.contexts[0] != before {
			t.Fatalf("irrelevant batch rebuilt the context")
		}
	})
}

func TestChangeOnlyTouchesItsRoot(t *testing.T) {
	h := newHarness(t, nil)
	ctx0, bind0 := h.c.contexts[0], h.c.bindings[0]
	oldContexts := h.c.contexts

	_, cmd := h.c.Update(changeMsg{root: 1, batch: batchFor(h.dirs[1], "pkg/new_test.go")})
	require.NotNil(t, cmd)

	assert.Same(t, ctx0, h.c.contexts[0])
	assert.Same(t, bind0.Context, h.c.bindings[0].Context)
	assert.Same(t, bind0.Source, h.c.bindings[0].Source)
	assert.NotSame(t, oldContexts[1], h.c.contexts[1])
	assert.Contains(t, h.c.contexts[1].Tests, "pkg/new_test.go")
	assert.Same(t, h.c.contexts[1], h.c.bindings[1].Context)
	assert.NotContains(t, oldContexts[1].Tests, "pkg/new_test.go", "published slice must not be mutated")

	cmd()
	assert.Contains(t, h.runner.jobs[0].Contexts[1].Tests, "pkg/new_test.go")
}

func TestChangeAbortsCaptureWithoutCancelling(t *testing.T) {
	h := newHarness(t, nil)
	h.press("p")
	h.typeText("ap")
	h.out.Reset()

	_, cmd := h.c.Update(changeMsg{root: 0, batch: batchFor(h.dirs[0], "pkg/b.go")})
	require.NotNil(t, cmd)
	assert.False(t, h.c.prompt.IsEntering())
	assert.NotContains(t, h.output(), "Watch Usage", "cancel callback must not run")
	assert.Empty(t, h.c.state.Filters.PathPattern)
}

func TestChangeForUnknownRootIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	_, cmd := h.c.Update(changeMsg{root: 7, batch: batchFor(h.dirs[0], "pkg/b.go")})
	assert.Nil(t, cmd)
}

func TestRepeatRequestRerunsWhenIdle(t *testing.T) {
	h := newHarness(t, nil)
	var sent []tea.Msg
	h.c.send = func(m tea.Msg) { sent = append(sent, m) }

	cmd := h.press("enter")
	cmd()
	h.runner.jobs[0].Repeat()
	require.Len(t, sent, 1)

	_, again := h.c.Update(sent[0])
	assert.Nil(t, again, "repeat while running is dropped")
}
