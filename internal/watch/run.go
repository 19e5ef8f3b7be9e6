package watch

import (
	"context"
	"errors"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/fakeyudi/testwatch/internal/index"
)

// Session is everything Run needs beyond the controller options.
type Session struct {
	Options
	// Watchers deliver index batches, one per context and in the same order.
	Watchers []*index.Watcher
	// Input is the keystroke source; os.Stdin when nil.
	Input io.Reader
}

// Run arms the session loop, kicks off the first run and blocks until the
// operator quits or ctx is cancelled. Quitting is not an error.
func Run(ctx context.Context, s Session) error {
	in := s.Input
	if in == nil {
		in = os.Stdin
	}
	restore, interactive, err := rawInput(in)
	if err != nil {
		return err
	}
	defer restore()

	opts := s.Options
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	if interactive {
		opts.Out = newCRLFWriter(opts.Out)
		opts.Err = newCRLFWriter(opts.Err)
	}
	opts.Interactive = interactive

	c := NewController(ctx, opts)
	p := tea.NewProgram(c,
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(opts.Out),
		tea.WithoutRenderer(),
	)
	c.send = p.Send
	defer c.installExitHook()()

	for i, w := range s.Watchers {
		go forward(p, i, w)
	}

	_, err = p.Run()
	switch {
	case err == nil, errors.Is(err, tea.ErrInterrupted):
		return nil
	case errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil:
		log.Debug().Err(ctx.Err()).Msg("watch session cancelled")
		return nil
	default:
		return err
	}
}

func forward(p *tea.Program, root int, w *index.Watcher) {
	for batch := range w.Batches() {
		p.Send(changeMsg{root: root, batch: batch})
	}
}
