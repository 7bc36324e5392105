package dispatch

import (
	"context"
	"sync/atomic"
	"time"
)

// Dispatcher runs handlers in the caller's goroutine and keeps counters.
// It is safe for concurrent use by independent broadcasts.
type Dispatcher struct {
	executor *Executor

	dispatched  atomic.Uint64
	succeeded   atomic.Uint64
	failed      atomic.Uint64
	panicked    atomic.Uint64
	skipped     atomic.Uint64
	totalTimeNs atomic.Int64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPanicHandler sets the panic handler for the dispatcher.
func WithPanicHandler(h PanicHandler) Option {
	return func(d *Dispatcher) {
		d.executor = NewExecutor(WithExecutorPanicHandler(h))
	}
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		executor: NewExecutor(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes handler with event and blocks until it settles.
func (d *Dispatcher) Dispatch(ctx context.Context, event any, handler Handler) Result {
	d.dispatched.Add(1)

	result := d.executor.Execute(ctx, event, handler)

	d.totalTimeNs.Add(result.Duration.Nanoseconds())

	switch {
	case result.Skipped:
		d.skipped.Add(1)
	case result.IsPanic():
		d.panicked.Add(1)
	case result.IsError():
		d.failed.Add(1)
	case result.IsSuccess():
		d.succeeded.Add(1)
	}

	return result
}

// Stats returns dispatch statistics.
// Counters are read individually, so a snapshot taken during dispatch may be
// slightly inconsistent.
func (d *Dispatcher) Stats() Stats {
	dispatched := d.dispatched.Load()
	totalNs := d.totalTimeNs.Load()

	var avgNs int64
	if dispatched > 0 {
		avgNs = totalNs / int64(dispatched)
	}

	return Stats{
		Dispatched:    dispatched,
		Succeeded:     d.succeeded.Load(),
		Failed:        d.failed.Load(),
		Panicked:      d.panicked.Load(),
		Skipped:       d.skipped.Load(),
		TotalDuration: time.Duration(totalNs),
		AvgDuration:   time.Duration(avgNs),
	}
}

// Stats contains dispatcher statistics.
type Stats struct {
	// Dispatched is the total number of dispatch calls.
	Dispatched uint64

	// Succeeded is the number of successful handler executions.
	Succeeded uint64

	// Failed is the number of handlers that returned errors.
	Failed uint64

	// Panicked is the number of handlers that panicked.
	Panicked uint64

	// Skipped is the number of handlers skipped because the context was done.
	Skipped uint64

	// TotalDuration is the cumulative time spent in handlers.
	TotalDuration time.Duration

	// AvgDuration is the average handler execution time.
	AvgDuration time.Duration
}
