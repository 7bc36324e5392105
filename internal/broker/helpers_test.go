package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recorder collects the order in which handlers run.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *recorder) handler(name string) HandlerFunc {
	return func(ctx context.Context, evt *Event) error {
		r.record(name)
		return nil
	}
}

func (r *recorder) callback(name string) *Callback {
	return NewCallback(r.handler(name))
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newTestBroker(t *testing.T, opts ...Option) *Broker {
	t.Helper()
	b := New(opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, b.Close(ctx))
	})
	return b
}

func broadcast(t *testing.T, b *Broker, ch string, payload ...any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.BroadcastSync(ctx, ch, payload...))
}
