package runner

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Token is the cancellation token of a single run. The controller issues a
// fresh token per run; interrupting an old token never reaches a newer run.
type Token struct {
	id          uuid.UUID
	interrupted atomic.Bool
}

// NewToken returns an uninterrupted token with a fresh id.
func NewToken() *Token {
	return &Token{id: uuid.New()}
}

// ID identifies the run the token belongs to.
func (t *Token) ID() uuid.UUID { return t.id }

// Interrupt marks the run as interrupted. It is idempotent.
func (t *Token) Interrupt() { t.interrupted.Store(true) }

// Interrupted reports whether Interrupt has been called.
func (t *Token) Interrupted() bool { return t.interrupted.Load() }
