package dispatch

import (
	"context"
	"errors"
	"runtime/debug"
	"time"
)

// Executor runs a single handler with panic recovery and timing.
type Executor struct {
	panicHandler PanicHandler
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorPanicHandler sets the panic handler for the executor.
func WithExecutorPanicHandler(h PanicHandler) ExecutorOption {
	return func(e *Executor) {
		e.panicHandler = h
	}
}

// NewExecutor creates a new executor with the given options.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs handler with event and returns the result.
// A context that is already done skips the handler.
func (e *Executor) Execute(ctx context.Context, event any, handler Handler) (result Result) {
	select {
	case <-ctx.Done():
		return Result{
			Error:   ctx.Err(),
			Skipped: true,
		}
	default:
	}

	start := time.Now()

	defer func() {
		result.Duration = time.Since(start)

		if r := recover(); r != nil {
			stack := debug.Stack()

			result.Success = false
			result.Panicked = true
			result.PanicValue = r
			result.PanicStack = stack
			result.Error = &PanicError{Value: r, Stack: stack}

			e.notifyPanic(event, r, stack)
		}
	}()

	if err := handler.Handle(ctx, event); err != nil {
		// Panics recovered on another goroutine by Go arrive as errors.
		var pe *PanicError
		if errors.As(err, &pe) {
			result.Panicked = true
			result.PanicValue = pe.Value
			result.PanicStack = pe.Stack
			e.notifyPanic(event, pe.Value, pe.Stack)
		}
		result.Error = err
		return result
	}

	result.Success = true
	return result
}

func (e *Executor) notifyPanic(event, value any, stack []byte) {
	if e.panicHandler == nil {
		return
	}
	defer func() {
		// A panicking panic handler must not take the walk down with it.
		_ = recover()
	}()
	e.panicHandler(event, value, stack)
}
