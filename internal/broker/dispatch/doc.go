// Package dispatch runs individual subscriber invocations for the broker.
//
// The broker walks matched subscriptions one at a time. For each one it asks
// a Dispatcher to run the handler, and the Dispatcher takes care of panic
// recovery, context checks, timing and counters. Sequencing, counters and
// cancellation stay in the broker.
//
// # Futures
//
// A Future is the uniform awaitable result of an invocation. Handlers that
// finish synchronously are represented by an already settled Future
// (Resolved), handlers that do work elsewhere return a pending one (Go or
// NewFuture). The broker also hands a Future back from every broadcast as its
// completion signal.
//
//	f := dispatch.Go(func() error {
//	    return doWork()
//	})
//	if err := f.Await(ctx); err != nil {
//	    // handle
//	}
//
// # Panic Recovery
//
// Both Executor.Execute and Go recover panics. A recovered panic becomes a
// *PanicError, which matches ErrPanic with errors.Is.
package dispatch
