// Package watch implements the interactive watch session: a single event
// loop that reruns tests on file changes and operator commands.
package watch

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/rs/zerolog/log"

	"github.com/fakeyudi/testwatch/internal/config"
	"github.com/fakeyudi/testwatch/internal/index"
	"github.com/fakeyudi/testwatch/internal/project"
	"github.com/fakeyudi/testwatch/internal/prompt"
	"github.com/fakeyudi/testwatch/internal/report"
	"github.com/fakeyudi/testwatch/internal/runner"
	"github.com/fakeyudi/testwatch/internal/search"
	"github.com/fakeyudi/testwatch/internal/session"
)

const startingNotice = "Determining test suites to run..."

type (
	// changeMsg carries one index batch for the context at root.
	changeMsg struct {
		root  int
		batch index.Batch
	}

	runFinishedMsg struct {
		token   *runner.Token
		results *runner.Results
		err     error
	}

	// rerunMsg is a repeat request from the runner.
	rerunMsg struct{}
)

// Options configure a Controller.
type Options struct {
	Config      config.Config
	Contexts    []*project.Context
	Args        []string
	Runner      runner.Runner
	Opener      Opener
	Out         io.Writer
	Err         io.Writer
	Interactive bool
	Mode        session.Mode
	Filters     session.Filters
}

// Controller owns the session state. All of its state is changed from
// Update only, so it needs no locking.
type Controller struct {
	ctx         context.Context
	cfg         config.Config
	state       session.State
	contexts    []*project.Context
	bindings    []search.Binding
	args        []string
	runner      runner.Runner
	opener      Opener
	out, errOut io.Writer
	interactive bool
	keys        KeyMap

	token      *runner.Token
	prompt     *prompt.Prompt
	pathPrompt *prompt.PatternPrompt
	namePrompt *prompt.PatternPrompt

	send     func(tea.Msg)
	pending  []tea.Cmd
	quitting bool

	exitHookInstalled bool
}

// NewController builds a Controller. No run is started until Init.
func NewController(ctx context.Context, opts Options) *Controller {
	out, errOut := opts.Out, opts.Err
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = out
	}
	opener := opts.Opener
	if opener == nil {
		opener = SystemOpener{}
	}
	p := prompt.New()
	c := &Controller{
		ctx:         ctx,
		cfg:         opts.Config,
		state:       session.NewState(opts.Mode, opts.Filters),
		contexts:    slices.Clone(opts.Contexts),
		args:        slices.Clone(opts.Args),
		runner:      opts.Runner,
		opener:      opener,
		out:         out,
		errOut:      errOut,
		interactive: opts.Interactive,
		keys:        DefaultKeyMap(),
		token:       runner.NewToken(),
		prompt:      p,
		pathPrompt:  prompt.NewPatternPrompt(out, p, prompt.EntityFilename),
		namePrompt:  prompt.NewPatternPrompt(out, p, prompt.EntityTestName),
	}
	c.bindings = search.Bind(c.contexts)
	c.pathPrompt.SetSearchSources(c.bindings)
	c.namePrompt.SetSearchSources(c.bindings)
	return c
}

// Init starts the first run.
func (c *Controller) Init() tea.Cmd {
	return c.StartRun(nil)
}

// Update is the session's dispatch loop.
func (c *Controller) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		c.handleKey(msg)
	case changeMsg:
		c.handleChange(msg.root, msg.batch)
	case runFinishedMsg:
		c.finishRun(msg)
	case rerunMsg:
		c.requestRun(nil)
	}
	return c, c.flush()
}

// View is unused; the session writes to its output directly.
func (c *Controller) View() string { return "" }

// StartRun starts a run unless one is active, in which case it returns nil.
// The returned command performs the run and reports its completion.
func (c *Controller) StartRun(overrides *session.Overrides) tea.Cmd {
	if c.state.IsRunning {
		log.Debug().Msg("run already active, start request dropped")
		return nil
	}
	c.token = runner.NewToken()
	if c.interactive {
		fmt.Fprint(c.out, ansi.EraseEntireScreen+ansi.CursorHomePosition)
	}
	fmt.Fprintln(c.out, startingNotice)

	req := session.NewRunRequest(c.cfg, c.state.Mode, c.state.Filters, overrides)
	c.state.IsRunning = true

	job := runner.Job{
		Request:  req,
		Contexts: slices.Clone(c.contexts),
		Args:     slices.Clone(c.args),
		Out:      c.out,
		Token:    c.token,
		Repeat:   c.repeat,
	}
	ctx, r, tok := c.ctx, c.runner, c.token
	log.Debug().
		Str("run", tok.ID().String()).
		Stringer("mode", req.Mode).
		Bool("only_changed", req.OnlyChanged).
		Msg("starting run")
	return func() tea.Msg {
		res, err := r.Run(ctx, job)
		return runFinishedMsg{token: tok, results: res, err: err}
	}
}

func (c *Controller) requestRun(overrides *session.Overrides) {
	if cmd := c.StartRun(overrides); cmd != nil {
		c.pending = append(c.pending, cmd)
	}
}

func (c *Controller) repeat() {
	if c.send != nil {
		c.send(rerunMsg{})
	}
}

func (c *Controller) flush() tea.Cmd {
	cmds := c.pending
	c.pending = nil
	switch len(cmds) {
	case 0:
		return nil
	case 1:
		return cmds[0]
	default:
		return tea.Batch(cmds...)
	}
}

func (c *Controller) finishRun(msg runFinishedMsg) {
	c.state.IsRunning = false
	c.token = runner.NewToken()

	if msg.err != nil {
		fmt.Fprintln(c.errOut, errorStyle.Render("Run failed: "+msg.err.Error()))
		log.Error().Err(msg.err).Str("run", msg.token.ID().String()).Msg("run failed")
	} else if msg.results != nil {
		c.state.HasSnapshotFailure = msg.results.Snapshot.Failure
		if b, err := (&report.TextRenderer{}).Render(msg.results); err == nil {
			c.out.Write(b) //nolint:errcheck
		}
	}

	if c.state.Banner.ShouldShowFull {
		fmt.Fprint(c.out, c.usage())
		c.state.Banner.ShouldShowFull = false
		c.state.Banner.IsFullShown = true
	} else {
		fmt.Fprint(c.out, ToggleUsageHint(c.keys))
		c.state.Banner.IsFullShown = false
	}

	c.pathPrompt.UpdateCachedResults(msg.results)
	c.namePrompt.UpdateCachedResults(msg.results)
}

func (c *Controller) usage() string {
	return Usage(c.state.Filters, c.state.Mode, c.state.HasSnapshotFailure, c.cfg.SCMEnabled(), c.keys)
}

func (c *Controller) handleKey(msg tea.KeyMsg) {
	if key.Matches(msg, c.keys.ForceQuit) {
		c.quit()
		return
	}
	if c.prompt.IsEntering() {
		c.prompt.Put(msg)
		return
	}
	if c.state.IsRunning && key.Matches(msg, c.keys.interrupts()...) {
		c.token.Interrupt()
		log.Debug().Str("run", c.token.ID().String()).Str("key", msg.String()).Msg("run interrupted")
		return
	}

	switch {
	case key.Matches(msg, c.keys.Quit):
		c.quit()
	case key.Matches(msg, c.keys.Rerun):
		c.requestRun(nil)
	case key.Matches(msg, c.keys.UpdateSnapshot):
		c.requestRun(&session.Overrides{UpdateSnapshot: session.UpdateAll})
	case key.Matches(msg, c.keys.RunAll):
		c.state.SetFilters(session.ModeWatchAll, session.Filters{})
		c.requestRun(nil)
	case key.Matches(msg, c.keys.RunRelated):
		if c.cfg.SCMEnabled() {
			c.state.SetFilters(session.ModeWatch, session.Filters{})
			c.requestRun(nil)
		}
	case key.Matches(msg, c.keys.OpenCoverage):
		c.openCoverage()
		c.requestRun(nil)
	case key.Matches(msg, c.keys.PathFilter):
		c.pathPrompt.Run(func(pattern string) {
			c.state.SetFilters(session.ModeWatch, session.Filters{PathPattern: pattern})
			c.requestRun(nil)
		}, c.cancelPrompt, ActiveFilters(c.state.Filters))
	case key.Matches(msg, c.keys.NameFilter):
		c.namePrompt.Run(func(pattern string) {
			c.state.SetFilters(session.ModeWatch, session.Filters{NamePattern: pattern})
			c.requestRun(nil)
		}, c.cancelPrompt, ActiveFilters(c.state.Filters))
	case key.Matches(msg, c.keys.ClearFilters):
		if c.state.Filters.Active() {
			c.state.SetFilters(session.ModeWatch, session.Filters{})
			c.requestRun(nil)
		}
	case key.Matches(msg, c.keys.ShowMore):
		if !c.state.Banner.IsFullShown {
			fmt.Fprint(c.out, ansi.CursorUp(1)+ansi.EraseScreenBelow)
			fmt.Fprint(c.out, c.usage())
			c.state.Banner.ShouldShowFull = true
			c.state.Banner.IsFullShown = true
		}
	}
}

func (c *Controller) cancelPrompt() {
	fmt.Fprint(c.out, ansi.HideCursor)
	fmt.Fprint(c.out, ansi.EraseEntireScreen+ansi.CursorHomePosition)
	fmt.Fprint(c.out, c.usage())
	fmt.Fprint(c.out, ansi.ShowCursor)
}

func (c *Controller) quit() {
	c.quitting = true
	c.pending = append(c.pending, tea.Quit)
}

// openCoverage opens the coverage report. Failures are reported and never
// end the session.
func (c *Controller) openCoverage() {
	if !c.cfg.Coverage() {
		return
	}
	dir := c.cfg.CoverageDirectory
	if !filepath.IsAbs(dir) && len(c.contexts) > 0 {
		dir = filepath.Join(c.contexts[0].Dir(), dir)
	}
	reportPath, err := FindCoverageReport(dir)
	if err != nil {
		fmt.Fprintln(c.errOut, errorStyle.Render(err.Error()))
		log.Warn().Err(err).Str("dir", dir).Msg("coverage report lookup failed")
		return
	}
	if err := c.opener.Open(reportPath); err != nil {
		fmt.Fprintln(c.errOut, errorStyle.Render(err.Error()))
		log.Warn().Err(err).Str("report", reportPath).Msg("open coverage report failed")
	}
}
