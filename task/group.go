// Package task provides a Group for composing the long-lived loops of a
// server process, waiting on them collectively, and tearing them down on
// the first failure.
package task

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Group is a set of functions which are run concurrently, and which are
// collectively waited on until all have returned. The first function to
// return a non-nil error cancels the Group Context, signalling the
// remaining functions to exit. Functions queued to a Group must be
// preemptable via its Context. Group methods are not thread-safe.
type Group struct {
	// ctx is cancelled by the first function returning non-nil error,
	// by an explicit Cancel, or by cancellation of the parent Context.
	ctx      context.Context
	cancelFn context.CancelFunc

	queued  []queued
	eg      *errgroup.Group
	started bool
}

// queued pairs a runnable with a description used to annotate its error.
type queued struct {
	desc string
	fn   func() error
}

// NewGroup returns an empty Group rooted at the Context.
func NewGroup(ctx context.Context) *Group {
	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	return &Group{ctx: ctx, eg: eg, cancelFn: cancel}
}

// Context of the Group. Queued functions should monitor it and return on
// its cancellation.
func (g *Group) Context() context.Context { return g.ctx }

// Cancel the Group Context.
func (g *Group) Cancel() { g.cancelFn() }

// Queue a described function for later execution by GoRun.
// Queue panics if GoRun was already invoked.
func (g *Group) Queue(desc string, fn func() error) {
	if g.started {
		panic("Queue called after GoRun")
	}
	g.queued = append(g.queued, queued{desc: desc, fn: fn})
}

// GoRun starts all queued functions. It may be invoked at most once.
func (g *Group) GoRun() {
	if g.started {
		panic("GoRun already called")
	}
	g.started = true

	for i := range g.queued {
		var t = g.queued[i]
		g.eg.Go(func() error { return errors.WithMessage(t.fn(), t.desc) })
	}
}

// Wait blocks until all started functions have returned, and returns the
// first non-nil error encountered. GoRun must have been called first.
func (g *Group) Wait() error {
	if !g.started {
		panic("Wait called before GoRun")
	}
	return g.eg.Wait()
}
