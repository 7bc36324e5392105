package broker

import (
	"context"
	"reflect"

	"github.com/dshills/broker/internal/broker/dispatch"
)

// Handler handles events broadcast on a matching channel.
type Handler interface {
	Handle(ctx context.Context, evt *Event) error
}

// HandlerFunc adapts a function to the Handler interface.
//
// Go functions cannot be compared, so subscribing the same HandlerFunc twice
// creates two subscriptions. Use NewCallback when a function needs a stable
// identity.
type HandlerFunc func(ctx context.Context, evt *Event) error

// Handle calls f(ctx, evt).
func (f HandlerFunc) Handle(ctx context.Context, evt *Event) error {
	return f(ctx, evt)
}

// AsyncHandlerFunc is a handler that starts its work and returns a Future.
// The broadcast waits for the Future to settle before moving on.
type AsyncHandlerFunc func(ctx context.Context, evt *Event) *dispatch.Future

// Handle starts f and waits for its result. A nil Future counts as success.
func (f AsyncHandlerFunc) Handle(ctx context.Context, evt *Event) error {
	fut := f(ctx, evt)
	if fut == nil {
		return nil
	}
	return fut.Await(ctx)
}

// Callback is a handler function with pointer identity, so repeated
// subscriptions of the same Callback on a channel are deduplicated.
type Callback struct {
	fn HandlerFunc
}

// NewCallback wraps fn in a Callback.
func NewCallback(fn HandlerFunc) *Callback {
	return &Callback{fn: fn}
}

// Handle calls the wrapped function.
func (c *Callback) Handle(ctx context.Context, evt *Event) error {
	return c.fn(ctx, evt)
}

// Target names what a subscription invokes: a handler, or the handler of an
// existing subscription referenced by id.
type Target struct {
	handler Handler
	id      string
}

// Handle targets h.
func Handle(h Handler) Target {
	return Target{handler: h}
}

// Func targets fn.
func Func(fn HandlerFunc) Target {
	if fn == nil {
		return Target{}
	}
	return Target{handler: fn}
}

// Ref targets the existing subscription id.
func Ref(id string) Target {
	return Target{id: id}
}

// IsRef reports whether the target references an existing subscription.
func (t Target) IsRef() bool {
	return t.id != ""
}

// Handler returns the handler, or nil for a reference target.
func (t Target) Handler() Handler {
	return t.handler
}

// ID returns the referenced subscription id, or "".
func (t Target) ID() string {
	return t.id
}

func (t Target) validate() error {
	switch {
	case t.id != "" && t.handler != nil:
		return ErrInvalidTarget
	case t.id != "":
		return nil
	case t.handler == nil || isNilHandler(t.handler):
		return ErrNilHandler
	default:
		return nil
	}
}

func isNilHandler(h Handler) bool {
	v := reflect.ValueOf(h)
	switch v.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Map, reflect.Chan, reflect.Interface, reflect.Slice:
		return v.IsNil()
	}
	return false
}

// sameHandler reports whether a and b are the same comparable handler.
// Handlers of non-comparable types are never equal.
func sameHandler(a, b Handler) (same bool) {
	if a == nil || b == nil {
		return false
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	defer func() {
		// Comparable structs may still hold uncomparable interface values.
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}
