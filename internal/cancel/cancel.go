// Package cancel implements the cancel-token primitive: a single-producer,
// many-consumer one-shot latch polled at I/O suspension points inside a
// transaction worker.
package cancel

import (
	"context"

	"github.com/endlessm/eam/internal/busproto"
)

// Token wraps a context.Context as the cancel latch for one transaction.
// Once tripped (Cancel called, or the parent context is done) it stays
// tripped; Check converts a tripped token into a *busproto.Error tagged
// Cancelled.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Token derived from parent.
func New(parent context.Context) *Token {
	ctx, cancelFn := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancelFn}
}

// Context returns the underlying context, for passing to blocking calls
// that accept one (HTTP requests, exec.CommandContext).
func (t *Token) Context() context.Context {
	return t.ctx
}

// Cancel trips the token. Idempotent.
func (t *Token) Cancel() {
	t.cancel()
}

// Cancelled reports whether the token has been tripped.
func (t *Token) Cancelled() bool {
	return t.ctx.Err() != nil
}

// Check returns a tagged Cancelled error if the token has been tripped,
// else nil. Call this at every suspension point named in the concurrency
// model: between archive entries, between download chunks, around child
// process waits, between recursive copy/remove entries.
func (t *Token) Check() error {
	if t.ctx.Err() != nil {
		return busproto.NewError(busproto.ErrCancelled, t.ctx.Err())
	}
	return nil
}
