package watch

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/term"
)

// rawInput puts in into raw mode when it is a terminal, so keystrokes arrive
// unbuffered. The returned restore func is never nil.
func rawInput(in io.Reader) (restore func(), interactive bool, err error) {
	f, ok := in.(term.File)
	if !ok || !term.IsTerminal(f.Fd()) {
		return func() {}, false, nil
	}
	state, err := term.MakeRaw(f.Fd())
	if err != nil {
		return func() {}, false, fmt.Errorf("enter raw mode: %w", err)
	}
	return func() { _ = term.Restore(f.Fd(), state) }, true, nil
}

// crlfWriter turns bare "\n" into "\r\n". Raw mode disables the terminal's
// own output translation. Writes are serialized because the runner streams
// test output from outside the event loop.
type crlfWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newCRLFWriter(w io.Writer) *crlfWriter {
	return &crlfWriter{w: w}
}

func (cw *crlfWriter) Write(p []byte) (int, error) {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	buf := make([]byte, 0, len(p)+8)
	for i, b := range p {
		if b == '\n' && (i == 0 || p[i-1] != '\r') {
			buf = append(buf, '\r')
		}
		buf = append(buf, b)
	}
	if _, err := cw.w.Write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

// installExitHook returns the cleanup to run when the session ends. It
// clears prompt artifacts left by a capture that was in progress. Only the
// first call installs the hook; later calls get a no-op.
func (c *Controller) installExitHook() func() {
	if c.exitHookInstalled {
		return func() {}
	}
	c.exitHookInstalled = true
	return func() {
		if c.prompt.IsEntering() {
			fmt.Fprint(c.out, ansi.CursorDown(1)+ansi.EraseScreenBelow)
			c.prompt.Abort()
		}
	}
}
