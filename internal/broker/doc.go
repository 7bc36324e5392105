// Package broker provides an in-process publish/subscribe broker with
// hierarchical channels, wildcard subscriptions, priorities and cancellable
// sequential dispatch.
//
// # Architecture
//
//	                 ┌─────────────────────────────────────┐
//	                 │               Broker                │
//	                 │  - Subscribe / Unsubscribe          │
//	                 │  - Broadcast (one goroutine each)   │
//	                 │  - Introspection, Stats, Close      │
//	                 └─────────────────────────────────────┘
//	                                   │
//	        ┌──────────────────────────┼──────────────────────────┐
//	        ▼                          ▼                          ▼
//	┌────────────────┐       ┌──────────────────┐       ┌──────────────────┐
//	│    Registry    │       │ channel.Matcher  │       │ dispatch         │
//	│  - by id       │       │  - trie of names │       │  - panic recovery│
//	│  - by channel  │       │  - specificity   │       │  - Future        │
//	└────────────────┘       └──────────────────┘       └──────────────────┘
//
// # Channels
//
// Channels are colon-delimited, for example "orders:eu:refunded". A "*"
// segment in a subscription matches one segment, and a trailing "*" also
// matches everything below it. See package channel for the exact rules.
//
// # Dispatch Order
//
// A broadcast walks the matching channels most specific first. Within a
// channel, subscriptions run by ascending priority (default 5), ties in
// subscription order. Exactly one handler runs at a time; the walk waits for
// each handler, including AsyncHandlerFunc futures, before starting the next.
//
// A handler can stop the rest of the walk with Event.Cancel. The broadcast
// still completes successfully.
//
// # Invocation Limits
//
// WithCount(n) removes a subscription after n successful invocations. The
// counter is decremented before the handler runs.
//
// # Failures
//
// Handler errors and panics are logged and passed to the WithErrorHandler
// hook. Under ContinueOnFailure (the default) the walk carries on and the
// broadcast completes with nil. Under StopOnFailure the walk stops and the
// broadcast completes with the *HandlerError.
//
// # Basic Usage
//
//	b := broker.New(broker.WithLogger(logger))
//	defer b.Close(context.Background())
//
//	id, err := b.SubscribeFunc("orders:*", func(ctx context.Context, evt *broker.Event) error {
//	    fmt.Println(evt.Channel, evt.Arg(0))
//	    return nil
//	}, broker.WithPriority(1))
//
//	done, err := b.Broadcast(ctx, "orders:created", order)
//	if err == nil {
//	    err = done.Await(ctx)
//	}
//
//	b.Unsubscribe(id)
//
// # Deduplication
//
// Subscribing the same handler twice on a channel returns the first id.
// Handlers are compared with ==, so pointer handlers and *Callback values
// deduplicate while plain HandlerFunc values do not. Ref(id) subscribes the
// handler of an existing subscription; on that subscription's own channel it
// resolves to the same id, which together with WithForce changes its options.
package broker
