package async

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestPromiseResolveWakesWaiters(t *testing.T) {
	var p = NewPromise()
	var done = make(chan error, 2)

	go func() { done <- p.Wait() }()
	go func() { done <- p.Wait() }()

	p.Resolve(errors.New("outcome"))

	require.EqualError(t, <-done, "outcome")
	require.EqualError(t, <-done, "outcome")
	require.EqualError(t, p.Wait(), "outcome") // Late waiters also observe it.
}

func TestPromiseWaitContextCancellation(t *testing.T) {
	var p = NewPromise()
	var ctx, cancel = context.WithCancel(context.Background())

	cancel()
	require.Equal(t, context.Canceled, p.WaitContext(ctx))

	p.Resolve(nil)
	require.NoError(t, p.WaitContext(context.Background()))
}

func TestPromiseWaitWithPeriodicTask(t *testing.T) {
	var p = NewPromise()
	var ticks = make(chan struct{}, 16)

	go func() {
		<-ticks
		<-ticks
		p.Resolve(nil)
	}()

	require.NoError(t, p.WaitWithPeriodicTask(
		time.Millisecond, func() { ticks <- struct{}{} }))
}
