package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/broker/internal/broker/channel"
	"github.com/dshills/broker/internal/broker/dispatch"
	"github.com/dshills/broker/internal/logging"
)

// Completion is the asynchronous completion signal of one broadcast.
type Completion = dispatch.Future

// Broker is an in-process publish/subscribe broker. A Broker is safe for
// concurrent use; the zero value is not usable, use New.
type Broker struct {
	cfg        config
	log        *logging.Logger
	registry   *Registry
	dispatcher *dispatch.Dispatcher

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup

	broadcasts    atomic.Uint64
	completed     atomic.Uint64
	cancellations atomic.Uint64
	autoRemoved   atomic.Uint64
	running       atomic.Int64
}

// New creates a broker with the given options.
func New(opts ...Option) *Broker {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	b := &Broker{
		cfg:      cfg,
		log:      cfg.logger.WithComponent("broker"),
		registry: NewRegistry(cfg.defaultPriority, cfg.newID),
	}
	b.dispatcher = dispatch.NewDispatcher(dispatch.WithPanicHandler(b.recovered))
	return b
}

// Subscribe registers target on channel and returns the subscription id.
//
// If the handler is already subscribed on channel, no new subscription is
// created and the existing id is returned; WithForce replaces its options.
// Ref(id) targets reuse the referenced subscription's handler.
func (b *Broker) Subscribe(ch string, target Target, opts ...SubscribeOption) (string, error) {
	return b.SubscribeWith(ch, target, NewOptions(opts...))
}

// SubscribeFunc is Subscribe for a plain function.
func (b *Broker) SubscribeFunc(ch string, fn HandlerFunc, opts ...SubscribeOption) (string, error) {
	return b.Subscribe(ch, Func(fn), opts...)
}

// SubscribeWith is Subscribe with an Options value.
func (b *Broker) SubscribeWith(ch string, target Target, o Options) (string, error) {
	name := channel.Name(ch)
	if !name.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, ch)
	}
	if err := target.validate(); err != nil {
		return "", err
	}
	if b.isClosed() {
		return "", ErrClosed
	}

	sub, created, err := b.registry.Subscribe(name, target, o)
	if err != nil {
		return "", err
	}

	switch {
	case created:
		b.log.Debug("subscribed %s to %s (priority %d)", sub.ID, sub.Channel, sub.Priority)
	case o.Force:
		b.log.Debug("updated subscription %s on %s (priority %d)", sub.ID, sub.Channel, sub.Priority)
	}
	return sub.ID, nil
}

// Unsubscribe removes the subscription with the given id and returns a copy
// of it. It reports false when no such subscription exists.
func (b *Broker) Unsubscribe(id string) (Subscription, bool, error) {
	if id == "" {
		return Subscription{}, false, ErrInvalidID
	}

	sub, ok := b.registry.Remove(id)
	if ok {
		b.log.Debug("unsubscribed %s from %s", sub.ID, sub.Channel)
	}
	return sub, ok, nil
}

// UnsubscribeHandler removes the subscription of h registered on the exact
// channel ch. It reports false when h is not subscribed there.
func (b *Broker) UnsubscribeHandler(ch string, h Handler) (Subscription, bool, error) {
	name := channel.Name(ch)
	if !name.IsValid() {
		return Subscription{}, false, fmt.Errorf("%w: %q", ErrInvalidChannel, ch)
	}
	if h == nil || isNilHandler(h) {
		return Subscription{}, false, ErrNilHandler
	}

	sub, ok := b.registry.RemoveHandler(name, h)
	if ok {
		b.log.Debug("unsubscribed %s from %s", sub.ID, sub.Channel)
	}
	return sub, ok, nil
}

// Broadcast sends payload to every subscription matching ch.
//
// The channel is validated and the matching subscriptions are captured
// before Broadcast returns, but no handler runs on the caller's goroutine:
// the walk always happens on its own goroutine, even with no subscribers.
// The returned Completion settles with nil when the walk ends or is
// cancelled by a subscriber, with ctx.Err() if ctx stops it, or with a
// *HandlerError under StopOnFailure.
func (b *Broker) Broadcast(ctx context.Context, ch string, payload ...any) (*Completion, error) {
	name := channel.Name(ch)
	if !name.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, ch)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.inflight.Add(1)
	b.mu.Unlock()

	evt := &Event{
		ID:      uuid.NewString(),
		Channel: ch,
		Time:    time.Now(),
		Payload: payload,
	}
	seq := b.registry.Sequence(name)

	b.broadcasts.Add(1)
	b.running.Add(1)

	return dispatch.Go(func() error {
		defer b.inflight.Done()
		defer b.running.Add(-1)
		defer b.completed.Add(1)

		return b.walk(ctx, evt, seq)
	}), nil
}

// BroadcastSync broadcasts and waits for the walk to finish.
func (b *Broker) BroadcastSync(ctx context.Context, ch string, payload ...any) error {
	done, err := b.Broadcast(ctx, ch, payload...)
	if err != nil {
		return err
	}
	return done.Await(ctx)
}

// Subscription returns a copy of the subscription with the given id.
func (b *Broker) Subscription(id string) (Subscription, bool) {
	return b.registry.Get(id)
}

// Subscriptions returns every subscription keyed by id.
func (b *Broker) Subscriptions() map[string]Subscription {
	return b.registry.All()
}

// SubscriptionsOn returns the subscriptions registered on exactly ch,
// keyed by id. Patterns are not expanded.
func (b *Broker) SubscriptionsOn(ch string) map[string]Subscription {
	return b.registry.ByChannel(channel.Name(ch))
}

// ChannelNames returns the names of every channel with subscriptions,
// sorted.
func (b *Broker) ChannelNames() []string {
	return b.registry.ChannelNames()
}

// Channels returns every channel with its subscriptions in dispatch order.
func (b *Broker) Channels() map[string][]Subscription {
	return b.registry.Channels()
}

// Match returns the subscribed channel names a broadcast on ch would reach,
// in dispatch order.
func (b *Broker) Match(ch string) []string {
	names := b.registry.Match(channel.Name(ch))
	result := make([]string, len(names))
	for i, n := range names {
		result[i] = string(n)
	}
	return result
}

// Clear removes every channel and subscription. Broadcasts already walking
// skip the subscriptions they have not reached yet.
func (b *Broker) Clear() {
	b.registry.Clear()
	b.log.Debug("cleared all subscriptions")
}

// Close stops accepting subscriptions and broadcasts and waits for in-flight
// broadcasts to finish or ctx to end.
func (b *Broker) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Broker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Stats returns broker statistics.
func (b *Broker) Stats() Stats {
	ds := b.dispatcher.Stats()
	return Stats{
		Broadcasts:      b.broadcasts.Load(),
		Completed:       b.completed.Load(),
		InFlight:        b.running.Load(),
		Invocations:     ds.Dispatched,
		Succeeded:       ds.Succeeded,
		Failed:          ds.Failed,
		Panicked:        ds.Panicked,
		Skipped:         ds.Skipped,
		Cancellations:   b.cancellations.Load(),
		AutoRemoved:     b.autoRemoved.Load(),
		Subscriptions:   b.registry.Count(),
		Channels:        b.registry.ChannelCount(),
		HandlerDuration: ds.TotalDuration,
		AvgHandlerTime:  ds.AvgDuration,
	}
}

// Stats contains broker statistics.
type Stats struct {
	// Broadcasts is the number of accepted broadcasts.
	Broadcasts uint64

	// Completed is the number of broadcasts whose walk has ended.
	Completed uint64

	// InFlight is the number of broadcasts currently walking.
	InFlight int64

	// Invocations is the number of handler invocations attempted.
	Invocations uint64

	// Succeeded, Failed and Panicked break Invocations down by outcome.
	Succeeded uint64
	Failed    uint64
	Panicked  uint64

	// Skipped counts invocations not attempted because the broadcast
	// context was done.
	Skipped uint64

	// Cancellations is the number of broadcasts cancelled by a subscriber.
	Cancellations uint64

	// AutoRemoved is the number of subscriptions removed by their count.
	AutoRemoved uint64

	// Subscriptions and Channels describe the current registry.
	Subscriptions int
	Channels      int

	// HandlerDuration is the cumulative time spent in handlers.
	HandlerDuration time.Duration

	// AvgHandlerTime is the average handler execution time.
	AvgHandlerTime time.Duration
}
