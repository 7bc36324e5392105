package broker

import (
	"context"
	"sync"
)

var (
	defaultMu     sync.Mutex
	defaultBroker *Broker
)

// Default returns the process-wide broker, creating it on first use.
func Default() *Broker {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultBroker == nil {
		defaultBroker = New()
	}
	return defaultBroker
}

// SetDefault replaces the process-wide broker and returns the previous one.
// The previous broker is not closed.
func SetDefault(b *Broker) *Broker {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	prev := defaultBroker
	defaultBroker = b
	return prev
}

// ResetDefault closes and forgets the process-wide broker. The next call to
// Default creates a fresh one.
func ResetDefault(ctx context.Context) error {
	defaultMu.Lock()
	b := defaultBroker
	defaultBroker = nil
	defaultMu.Unlock()

	if b == nil {
		return nil
	}
	return b.Close(ctx)
}
