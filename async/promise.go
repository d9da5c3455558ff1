// Package async implements a small Promise primitive for handing the
// outcome of an asynchronous operation back to its submitter.
package async

import (
	"context"
	"time"
)

// Promise is resolved exactly once with the error outcome of an
// asynchronous operation. Waiters block until resolution.
type Promise struct {
	ch  chan struct{}
	err error
}

// NewPromise returns an unresolved Promise.
func NewPromise() *Promise { return &Promise{ch: make(chan struct{})} }

// Resolve the Promise with |err|, waking all current and future waiters.
// Resolve must be called at most once.
func (p *Promise) Resolve(err error) {
	p.err = err
	close(p.ch)
}

// Wait blocks until the Promise is resolved, and returns its error.
func (p *Promise) Wait() error {
	<-p.ch
	return p.err
}

// WaitContext blocks until the Promise is resolved or the Context is
// cancelled, whichever comes first.
func (p *Promise) WaitContext(ctx context.Context) error {
	select {
	case <-p.ch:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitWithPeriodicTask repeatedly invokes |fn| with period |period| until
// the Promise is resolved, then returns its error.
func (p *Promise) WaitWithPeriodicTask(period time.Duration, fn func()) error {
	var ticker = time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-p.ch:
			return p.err
		case <-ticker.C:
			fn()
		}
	}
}
