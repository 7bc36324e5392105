package broker

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/dshills/broker/internal/logging"
)

// DefaultPriority is used when a subscription does not set a priority.
// Lower values are dispatched first.
const DefaultPriority = 5

// FailurePolicy decides what a broadcast does when a handler fails.
type FailurePolicy int

const (
	// ContinueOnFailure reports the failure and moves on to the next
	// subscriber. The broadcast still completes successfully.
	ContinueOnFailure FailurePolicy = iota

	// StopOnFailure reports the failure, stops the walk and completes the
	// broadcast with the *HandlerError.
	StopOnFailure
)

// String returns the policy name.
func (p FailurePolicy) String() string {
	switch p {
	case ContinueOnFailure:
		return "continue"
	case StopOnFailure:
		return "stop"
	default:
		return "unknown"
	}
}

// ParseFailurePolicy parses "continue" or "stop".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continue":
		return ContinueOnFailure, nil
	case "stop":
		return StopOnFailure, nil
	default:
		return ContinueOnFailure, fmt.Errorf("unknown failure policy %q", s)
	}
}

// Option configures a Broker.
type Option func(*config)

type config struct {
	logger          *logging.Logger
	policy          FailurePolicy
	errorHandler    func(*HandlerError)
	panicHandler    func(evt *Event, value any, stack []byte)
	defaultPriority int
	newID           func() string
}

func defaultConfig() config {
	return config{
		logger:          logging.Nop(),
		policy:          ContinueOnFailure,
		defaultPriority: DefaultPriority,
		newID:           uuid.NewString,
	}
}

// WithLogger sets the logger used for broker diagnostics.
func WithLogger(l *logging.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithFailurePolicy sets the handler failure policy.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(c *config) {
		c.policy = p
	}
}

// WithErrorHandler registers a hook called for every failed invocation,
// on the goroutine running the broadcast.
func WithErrorHandler(fn func(*HandlerError)) Option {
	return func(c *config) {
		c.errorHandler = fn
	}
}

// WithPanicHandler registers a hook called with the recovered value and
// stack when a handler panics. It runs before the failure reaches the
// error handler, and a panic inside it is discarded.
func WithPanicHandler(fn func(evt *Event, value any, stack []byte)) Option {
	return func(c *config) {
		c.panicHandler = fn
	}
}

// WithDefaultPriority changes the priority given to subscriptions that do
// not set one.
func WithDefaultPriority(p int) Option {
	return func(c *config) {
		c.defaultPriority = p
	}
}

// WithIDGenerator replaces the subscription id generator.
func WithIDGenerator(fn func() string) Option {
	return func(c *config) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// Options are the caller-supplied settings of one subscribe call. They are
// copied into the subscription and never retained.
type Options struct {
	// Priority orders subscriptions within a channel, lower first.
	// Nil means the broker's default priority.
	Priority *int

	// Count limits how many times the subscription is invoked before it is
	// removed automatically. Nil means unlimited.
	Count *int

	// Receiver is an opaque value handed back to the handler through
	// Event.Receiver on every invocation.
	Receiver any

	// Force replaces the options of an existing duplicate subscription.
	Force bool
}

// SubscribeOption sets one field of Options.
type SubscribeOption func(*Options)

// WithPriority sets the subscription priority.
func WithPriority(p int) SubscribeOption {
	return func(o *Options) {
		o.Priority = &p
	}
}

// WithCount limits the number of invocations.
func WithCount(n int) SubscribeOption {
	return func(o *Options) {
		o.Count = &n
	}
}

// WithReceiver binds v to the subscription.
func WithReceiver(v any) SubscribeOption {
	return func(o *Options) {
		o.Receiver = v
	}
}

// WithForce makes a duplicate subscribe replace the existing options.
func WithForce() SubscribeOption {
	return func(o *Options) {
		o.Force = true
	}
}

// NewOptions applies opts to a zero Options.
func NewOptions(opts ...SubscribeOption) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// OptionsFromMap builds Options from loosely typed input such as a decoded
// JSON object or a script table. Recognised keys are "priority", "count",
// "context" (or "receiver") and "force".
//
// An explicit priority or count must be numeric, finite and within the
// range of int. It is floored to an integer. A count at or below zero is
// accepted; such a subscription is removed at its first match without
// being invoked. Any other key is rejected.
func OptionsFromMap(m map[string]any) (Options, error) {
	var o Options
	for key, value := range m {
		switch key {
		case "priority":
			n, ok := toInt(value)
			if !ok {
				return Options{}, fmt.Errorf("%w: got %T", ErrInvalidPriority, value)
			}
			o.Priority = &n
		case "count":
			n, ok := toInt(value)
			if !ok {
				return Options{}, fmt.Errorf("%w: got %v", ErrInvalidCount, value)
			}
			o.Count = &n
		case "context", "receiver":
			o.Receiver = value
		case "force":
			b, ok := value.(bool)
			if !ok {
				return Options{}, fmt.Errorf("%w: force must be a boolean, got %T", ErrInvalidOptions, value)
			}
			o.Force = b
		default:
			return Options{}, fmt.Errorf("%w: unknown key %q", ErrInvalidOptions, key)
		}
	}
	return o, nil
}

// toInt floors a numeric value to an int. Values outside the range of int
// are rejected rather than wrapped.
func toInt(v any) (int, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		if n < math.MinInt || n > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case uint:
		if n > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		if uint64(n) > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case uint64:
		if n > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case float32:
		f = float64(n)
	case float64:
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	f = math.Floor(f)
	// float64(math.MaxInt) rounds up to a power of two, so it is excluded.
	if f < math.MinInt || f >= math.MaxInt {
		return 0, false
	}
	return int(f), true
}
