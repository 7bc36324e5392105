package script

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/broker/internal/broker/dispatch"
)

// ErrExecutorClosed is returned for operations submitted to, or queued on,
// a closed executor.
var ErrExecutorClosed = errors.New("lua executor is closed")

// call is a Lua operation waiting for the executor goroutine.
type call struct {
	fn      func(L *lua.LState) error
	resolve dispatch.ResolveFunc
}

// Executor serializes all Lua operations through a single goroutine.
//
// gopher-lua's LState is NOT goroutine-safe. Every operation on L is queued
// and run by the goroutine started in NewExecutor, and its outcome is
// reported through a dispatch.Future.
type Executor struct {
	L     *lua.LState
	queue chan *call

	// mu is held for reading while a call is enqueued so Close can wait
	// for submitters before the final drain.
	mu        sync.RWMutex
	closed    atomic.Bool
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewExecutor creates an executor for L and starts its goroutine.
// The queue size determines how many operations can be buffered.
func NewExecutor(L *lua.LState, queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = 100
	}
	e := &Executor{
		L:       L,
		queue:   make(chan *call, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Executor) run() {
	defer close(e.stopped)
	for {
		select {
		case <-e.done:
			e.drainQueue()
			return
		case c := <-e.queue:
			c.resolve(e.executeCall(c))
		}
	}
}

// executeCall runs a single Lua operation with panic recovery.
func (e *Executor) executeCall(c *call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				err = v
			default:
				err = fmt.Errorf("lua panic: %v", v)
			}
		}
	}()
	return c.fn(e.L)
}

// drainQueue settles every queued call with ErrExecutorClosed.
func (e *Executor) drainQueue() {
	for {
		select {
		case c := <-e.queue:
			c.resolve(ErrExecutorClosed)
		default:
			return
		}
	}
}

// Submit queues fn and returns a Future settled with its result. It waits
// for queue space until ctx ends or the executor closes.
func (e *Executor) Submit(ctx context.Context, fn func(L *lua.LState) error) *dispatch.Future {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed.Load() {
		return dispatch.Resolved(ErrExecutorClosed)
	}

	fut, resolve := dispatch.NewFuture()
	c := &call{fn: fn, resolve: resolve}

	select {
	case <-ctx.Done():
		return dispatch.Resolved(ctx.Err())
	case <-e.done:
		return dispatch.Resolved(ErrExecutorClosed)
	case e.queue <- c:
		return fut
	}
}

// Execute runs fn on the executor goroutine and waits for it.
func (e *Executor) Execute(ctx context.Context, fn func(L *lua.LState) error) error {
	return e.Submit(ctx, fn).Await(ctx)
}

// Close stops the executor once the running operation finishes. Queued
// operations fail with ErrExecutorClosed.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})

	// Wait out submitters that saw the executor open.
	e.mu.Lock()
	e.mu.Unlock() //nolint:staticcheck

	<-e.stopped
	e.drainQueue()
}

// IsClosed returns true if the executor has been closed.
func (e *Executor) IsClosed() bool {
	return e.closed.Load()
}
