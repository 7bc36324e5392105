package broker

import (
	"sync/atomic"
	"time"
)

// Event is created once per broadcast and passed to every subscriber it
// reaches.
type Event struct {
	// ID uniquely identifies the broadcast.
	ID string

	// Channel is the concrete channel that was broadcast, not the
	// subscription's pattern.
	Channel string

	// Time is when the broadcast was issued.
	Time time.Time

	// Payload holds the broadcast values in order.
	Payload []any

	// Subscription is the subscription currently being invoked.
	Subscription Subscription

	cancelled atomic.Bool
}

// Cancel stops the broadcast after the current subscriber returns.
// Cancelling does not fail the broadcast or unsubscribe anyone.
func (e *Event) Cancel() {
	e.cancelled.Store(true)
}

// Cancelled reports whether a subscriber cancelled the broadcast.
func (e *Event) Cancelled() bool {
	return e.cancelled.Load()
}

// Arg returns the i-th payload value, or nil when out of range.
func (e *Event) Arg(i int) any {
	if i < 0 || i >= len(e.Payload) {
		return nil
	}
	return e.Payload[i]
}

// Receiver returns the value bound to the current subscription.
func (e *Event) Receiver() any {
	return e.Subscription.Receiver
}
