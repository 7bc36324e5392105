package dispatch

import (
	"context"
	"runtime/debug"
	"sync"
)

// Future is the result of work that may finish later. It settles exactly
// once with an error value (nil for success).
type Future struct {
	done chan struct{}
	once sync.Once
	err  error
}

// ResolveFunc settles a Future. Calls after the first are ignored.
type ResolveFunc func(err error)

// NewFuture returns a pending Future and the function that settles it.
func NewFuture() (*Future, ResolveFunc) {
	f := &Future{done: make(chan struct{})}
	return f, f.resolve
}

// Resolved returns a Future that is already settled with err.
func Resolved(err error) *Future {
	f := &Future{done: make(chan struct{})}
	f.resolve(err)
	return f
}

// Go runs fn on a new goroutine and returns a Future settled with its
// result. A panic in fn settles the Future with a *PanicError.
func Go(fn func() error) *Future {
	f, resolve := NewFuture()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resolve(&PanicError{Value: r, Stack: debug.Stack()})
			}
		}()
		resolve(fn())
	}()
	return f
}

func (f *Future) resolve(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done returns a channel that is closed once the Future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the Future has settled.
func (f *Future) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Err returns the settled error, or nil while the Future is pending.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Await blocks until the Future settles or ctx is done.
func (f *Future) Await(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
