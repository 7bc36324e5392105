package broker

import (
	"context"
	"time"

	"github.com/dshills/broker/internal/broker/channel"
)

// Subscription is a read-only copy of a registered subscription.
type Subscription struct {
	// ID is the unique subscription identifier.
	ID string

	// Channel is the name or pattern the subscription was registered on.
	Channel string

	// Priority orders the subscription within its channel, lower first.
	Priority int

	// Limited is true when the subscription has an invocation limit.
	Limited bool

	// Remaining is the number of invocations left when Limited is true.
	Remaining int

	// Receiver is the value bound at subscribe time.
	Receiver any

	// Handler is the handler invoked on dispatch.
	Handler Handler

	// Created is when the subscription was registered.
	Created time.Time
}

// subscription is the live record stored in the registry. Mutable fields are
// guarded by the registry lock.
type subscription struct {
	id      string
	channel channel.Name
	handler Handler
	created time.Time
	seq     uint64

	priority  int
	limited   bool
	remaining int
	receiver  any
}

func newSubscription(id string, name channel.Name, h Handler, seq uint64) *subscription {
	return &subscription{
		id:      id,
		channel: name,
		handler: h,
		created: time.Now(),
		seq:     seq,
	}
}

// apply replaces the option-driven fields with o.
func (s *subscription) apply(o Options, defaultPriority int) {
	s.priority = defaultPriority
	if o.Priority != nil {
		s.priority = *o.Priority
	}
	s.limited = o.Count != nil
	s.remaining = 0
	if o.Count != nil {
		s.remaining = *o.Count
	}
	s.receiver = o.Receiver
}

func (s *subscription) snapshot() Subscription {
	return Subscription{
		ID:        s.id,
		Channel:   string(s.channel),
		Priority:  s.priority,
		Limited:   s.limited,
		Remaining: s.remaining,
		Receiver:  s.receiver,
		Handler:   s.handler,
		Created:   s.created,
	}
}

// Handle lets the dispatcher invoke the subscription directly.
func (s *subscription) Handle(ctx context.Context, event any) error {
	return s.handler.Handle(ctx, event.(*Event))
}

// before orders subscriptions within a channel: priority, then insertion.
func (s *subscription) before(other *subscription) bool {
	if s.priority != other.priority {
		return s.priority < other.priority
	}
	return s.seq < other.seq
}
