package broker

import (
	"context"
	"fmt"
)

// Version is the broker version.
const Version = "0.0.1"

// Version returns the broker version.
func (b *Broker) Version() string {
	return Version
}

// String describes the broker.
func (b *Broker) String() string {
	return fmt.Sprintf("Broker version [%s]", Version)
}

// On is SubscribeFunc.
func (b *Broker) On(ch string, fn HandlerFunc, opts ...SubscribeOption) (string, error) {
	return b.SubscribeFunc(ch, fn, opts...)
}

// Off removes a subscription. With a nil handler, channelOrID is a
// subscription id; otherwise it is the channel h was subscribed on.
func (b *Broker) Off(channelOrID string, h Handler) (Subscription, bool, error) {
	if h == nil {
		return b.Unsubscribe(channelOrID)
	}
	return b.UnsubscribeHandler(channelOrID, h)
}

// Emit is Broadcast.
func (b *Broker) Emit(ctx context.Context, ch string, payload ...any) (*Completion, error) {
	return b.Broadcast(ctx, ch, payload...)
}
