// Package prompt implements the modal one-line text capture used by the
// watch session's filter commands.
package prompt

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// Prompt captures one line of text. While IsEntering is true it expects to
// receive every keystroke through Put.
type Prompt struct {
	input    textinput.Model
	entering bool

	onChange  func(value string)
	onSuccess func(value string)
	onCancel  func()
}

// New returns an idle Prompt.
func New() *Prompt {
	ti := textinput.New()
	ti.Prompt = ""
	return &Prompt{input: ti}
}

// Enter starts a capture with an empty buffer. onChange is called right away
// so the caller can draw the empty prompt line.
func (p *Prompt) Enter(onChange, onSuccess func(value string), onCancel func()) {
	p.input.Reset()
	p.input.Focus()
	p.entering = true
	p.onChange = onChange
	p.onSuccess = onSuccess
	p.onCancel = onCancel
	p.changed()
}

// Put feeds one keystroke to the capture. Enter submits the trimmed buffer,
// Esc cancels, anything else edits the buffer.
func (p *Prompt) Put(msg tea.KeyMsg) {
	if !p.entering {
		return
	}
	switch msg.Type {
	case tea.KeyEnter:
		value := strings.TrimSpace(p.input.Value())
		cb := p.onSuccess
		p.finish()
		if cb != nil {
			cb(value)
		}
	case tea.KeyEsc:
		cb := p.onCancel
		p.finish()
		if cb != nil {
			cb()
		}
	default:
		before := p.input.Value()
		p.input, _ = p.input.Update(msg)
		if p.input.Value() != before {
			p.changed()
		}
	}
}

// Abort ends the capture without calling any callback.
func (p *Prompt) Abort() {
	p.finish()
}

// IsEntering reports whether a capture is in progress.
func (p *Prompt) IsEntering() bool { return p.entering }

// Value returns the current buffer.
func (p *Prompt) Value() string { return p.input.Value() }

func (p *Prompt) changed() {
	if p.onChange != nil {
		p.onChange(p.input.Value())
	}
}

func (p *Prompt) finish() {
	p.entering = false
	p.input.Blur()
	p.input.Reset()
	p.onChange, p.onSuccess, p.onCancel = nil, nil, nil
}
