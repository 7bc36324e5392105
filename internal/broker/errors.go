package broker

import (
	"errors"

	"github.com/dshills/broker/internal/broker/dispatch"
)

// Sentinel errors for the broker. Argument errors are returned before any
// state changes.
var (
	// ErrInvalidChannel is returned when a channel name is empty or malformed.
	ErrInvalidChannel = errors.New("invalid channel")

	// ErrNilHandler is returned when a nil handler is provided.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrInvalidTarget is returned when a Target holds neither a handler nor an id.
	ErrInvalidTarget = errors.New("invalid subscription target")

	// ErrInvalidID is returned when an empty subscription id is provided.
	ErrInvalidID = errors.New("invalid subscription id")

	// ErrInvalidOptions is returned for malformed subscribe options.
	ErrInvalidOptions = errors.New("invalid subscribe options")

	// ErrInvalidPriority is returned when an explicit priority is not numeric.
	ErrInvalidPriority = errors.New("priority must be numeric")

	// ErrInvalidCount is returned when an explicit count is not a
	// number in the range of int.
	ErrInvalidCount = errors.New("count must be a number")

	// ErrSubscriptionNotFound is returned when Ref names an unknown subscription.
	// Unsubscribing an unknown subscription is not an error.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrClosed is returned by Subscribe and Broadcast after Close.
	ErrClosed = errors.New("broker is closed")

	// ErrHandlerPanic matches failures caused by a panicking handler.
	ErrHandlerPanic = dispatch.ErrPanic
)

// HandlerError describes one failed handler invocation during a broadcast.
type HandlerError struct {
	// SubscriptionID is the ID of the subscription whose handler failed.
	SubscriptionID string

	// Pattern is the channel the subscription was registered on.
	Pattern string

	// Channel is the concrete channel that was broadcast.
	Channel string

	// Err is the underlying error. For panics it matches ErrHandlerPanic.
	Err error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return "handler error for subscription " + e.SubscriptionID + " (" + e.Pattern + ") on channel " + e.Channel + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}
