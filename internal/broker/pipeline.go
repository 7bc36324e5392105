package broker

import (
	"context"
	"fmt"

	"github.com/dshills/broker/internal/broker/dispatch"
)

// walk invokes seq one subscription at a time for evt. Each invocation is
// awaited before the next begins. It returns nil when the sequence is
// exhausted or a subscriber cancels, ctx.Err() when ctx ends the walk, and
// the *HandlerError that stopped it under StopOnFailure.
func (b *Broker) walk(ctx context.Context, evt *Event, seq []*subscription) error {
	for _, sub := range seq {
		// An abandoned async handler may still be reading evt.
		if err := ctx.Err(); err != nil {
			return err
		}

		snap, ok, exhausted := b.registry.begin(sub)
		if exhausted {
			b.autoRemoved.Add(1)
			b.log.Debug("removed exhausted subscription %s from %s", sub.id, sub.channel)
		}
		if !ok {
			continue
		}

		evt.Subscription = snap
		result := b.dispatcher.Dispatch(ctx, evt, sub)

		if result.Skipped {
			return result.Error
		}

		if !result.IsSuccess() {
			if err := b.fail(evt, sub, result); err != nil {
				return err
			}
			continue
		}

		if b.registry.finish(sub) {
			b.autoRemoved.Add(1)
		}
		if evt.Cancelled() {
			b.cancellations.Add(1)
			return nil
		}
	}
	return nil
}

// fail reports a failed invocation and returns the error that should end
// the walk, if any.
func (b *Broker) fail(evt *Event, sub *subscription, result dispatch.Result) error {
	herr := &HandlerError{
		SubscriptionID: sub.id,
		Pattern:        string(sub.channel),
		Channel:        evt.Channel,
		Err:            result.Error,
	}

	// Panics are logged by the dispatcher's panic hook.
	if !result.IsPanic() {
		b.log.WithFields(map[string]any{
			"subscription": sub.id,
			"pattern":      string(sub.channel),
			"channel":      evt.Channel,
		}).WithError(result.Error).Warn("handler failed")
	}

	if b.cfg.errorHandler != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("error handler panicked: %v", r)
				}
			}()
			b.cfg.errorHandler(herr)
		}()
	}

	if b.cfg.policy == StopOnFailure {
		return herr
	}
	return nil
}

// recovered is the dispatcher's panic hook. It runs on the walk goroutine
// before the failure is reported through fail.
func (b *Broker) recovered(event, value any, stack []byte) {
	evt, _ := event.(*Event)
	if evt == nil {
		return
	}

	b.log.WithFields(map[string]any{
		"subscription": evt.Subscription.ID,
		"pattern":      evt.Subscription.Channel,
		"channel":      evt.Channel,
		"panic":        fmt.Sprint(value),
		"stack":        string(stack),
	}).Error("handler panicked")

	if b.cfg.panicHandler != nil {
		b.cfg.panicHandler(evt, value, stack)
	}
}
