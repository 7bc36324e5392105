package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/broker/internal/broker"
	"github.com/dshills/broker/internal/watcher"
)

func newTestHost(t *testing.T, opts ...broker.Option) (*broker.Broker, *Host) {
	t.Helper()
	b := broker.New(opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.Close(ctx)
	})
	h := NewHost(b, WithCallTimeout(time.Second))
	t.Cleanup(h.Close)
	return b, h
}

// collect forwards every payload broadcast on ch to the returned channel.
func collect(t *testing.T, b *broker.Broker, ch string) <-chan []any {
	t.Helper()
	out := make(chan []any, 16)
	_, err := b.SubscribeFunc(ch, func(ctx context.Context, evt *broker.Event) error {
		out <- evt.Payload
		return nil
	})
	require.NoError(t, err)
	return out
}

func receive(t *testing.T, ch <-chan []any) []any {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
		return nil
	}
}

func TestHost_HandlerReceivesEvent(t *testing.T) {
	b, h := newTestHost(t)
	seen := collect(t, b, "seen")

	require.NoError(t, h.LoadString(context.Background(), "orders", `
		broker.on("orders:*", function(e, n, label)
			broker.emit("seen", e.channel, e.pattern, n * 2, label)
		end)
	`))

	require.NoError(t, b.BroadcastSync(context.Background(), "orders:new", 21, "x"))

	assert.Equal(t, []any{"orders:new", "orders:*", float64(42), "x"}, receive(t, seen))
}

func TestHost_ContextAndSubscriptionFields(t *testing.T) {
	b, h := newTestHost(t)
	seen := collect(t, b, "seen")

	require.NoError(t, h.LoadString(context.Background(), "ctx", `
		local self = { name = "svc" }
		id = broker.on("ping", function(e)
			broker.emit("seen", e.context.name, e.subscription == id, type(e.time))
		end, { context = self })
	`))

	require.NoError(t, b.BroadcastSync(context.Background(), "ping"))
	assert.Equal(t, []any{"svc", true, "number"}, receive(t, seen))
}

func TestHost_SameFunctionDeduplicated(t *testing.T) {
	b, h := newTestHost(t)

	require.NoError(t, h.LoadString(context.Background(), "dedupe", `
		local f = function() end
		local a = broker.on("x", f)
		local b = broker.on("x", f)
		assert(a == b, "expected same id")
		local c = broker.on("y", f)
		assert(c ~= a, "other channel gets its own subscription")
	`))

	assert.Len(t, b.Subscriptions(), 2)
}

func TestHost_Options(t *testing.T) {
	b, h := newTestHost(t)

	require.NoError(t, h.LoadString(context.Background(), "opts", `
		broker.on("x", function() end, { priority = 1.7, count = 2 })
	`))

	subs := b.SubscriptionsOn("x")
	require.Len(t, subs, 1)
	for _, sub := range subs {
		assert.Equal(t, 1, sub.Priority)
		assert.True(t, sub.Limited)
		assert.Equal(t, 2, sub.Remaining)
	}
}

func TestHost_InvalidOptions(t *testing.T) {
	_, h := newTestHost(t)

	tests := map[string]string{
		"priority": `broker.on("x", function() end, { priority = "high" })`,
		"count":    `broker.on("x", function() end, { count = "three" })`,
		"key":      `broker.on("x", function() end, { ttl = 5 })`,
		"channel":  `broker.on("a::b", function() end)`,
		"target":   `broker.on("x", 42)`,
		"ref":      `broker.on("x", "no-such-id")`,
	}
	for name, code := range tests {
		t.Run(name, func(t *testing.T) {
			err := h.LoadString(context.Background(), name, code)
			var serr *Error
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, name, serr.Script)
		})
	}
	assert.Empty(t, h.Scripts())
}

func TestHost_Off(t *testing.T) {
	b, h := newTestHost(t)

	require.NoError(t, h.LoadString(context.Background(), "off", `
		local f = function() end
		local g = function() end
		local id = broker.on("a", f)
		broker.on("b", g)

		assert(broker.off(id) == true)
		assert(broker.off(id) == false)
		assert(broker.off("b", f) == false, "f is not on b")
		assert(broker.off("b", g) == true)
		assert(broker.off("b", function() end) == false)
	`))

	assert.Empty(t, b.Subscriptions())
}

func TestHost_RefOnOtherChannel(t *testing.T) {
	b, h := newTestHost(t)
	seen := collect(t, b, "seen")

	require.NoError(t, h.LoadString(context.Background(), "ref", `
		local id = broker.on("a", function(e) broker.emit("seen", e.channel) end)
		local other = broker.on("b", id)
		assert(other ~= id)
		assert(broker.on("a", id) == id, "same channel resolves to the existing subscription")
	`))

	require.NoError(t, b.BroadcastSync(context.Background(), "b"))
	assert.Equal(t, []any{"b"}, receive(t, seen))
}

func TestHost_Cancel(t *testing.T) {
	b, h := newTestHost(t)

	var called bool
	_, err := b.SubscribeFunc("x", func(ctx context.Context, evt *broker.Event) error {
		called = true
		return nil
	}, broker.WithPriority(9))
	require.NoError(t, err)

	require.NoError(t, h.LoadString(context.Background(), "cancel", `
		broker.on("x", function(e) e.cancel() end, { priority = 1 })
	`))

	require.NoError(t, b.BroadcastSync(context.Background(), "x"))
	assert.False(t, called)
}

func TestHost_HandlerError(t *testing.T) {
	b, h := newTestHost(t, broker.WithFailurePolicy(broker.StopOnFailure))

	require.NoError(t, h.LoadString(context.Background(), "fail", `
		broker.on("x", function() error("boom") end)
	`))

	err := b.BroadcastSync(context.Background(), "x")
	var herr *broker.HandlerError
	require.ErrorAs(t, err, &herr)
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "fail", serr.Script)
	assert.Contains(t, err.Error(), "boom")
}

func TestHost_HandlerTimeout(t *testing.T) {
	b := broker.New(broker.WithFailurePolicy(broker.StopOnFailure))
	defer b.Close(context.Background())
	h := NewHost(b, WithCallTimeout(50*time.Millisecond))
	defer h.Close()

	require.NoError(t, h.LoadString(context.Background(), "spin", `
		broker.on("x", function() while true do end end)
	`))

	err := b.BroadcastSync(context.Background(), "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHost_Introspection(t *testing.T) {
	b, h := newTestHost(t)

	_, err := b.SubscribeFunc("go:side", func(ctx context.Context, evt *broker.Event) error { return nil })
	require.NoError(t, err)

	require.NoError(t, h.LoadString(context.Background(), "inspect", `
		local id = broker.on("a:*", function() end, { priority = 2, count = 3 })
		broker.on("a:b", function() end)

		local s = broker.get(id)
		assert(s.id == id and s.channel == "a:*" and s.priority == 2 and s.count == 3)
		assert(broker.get("missing") == nil)

		local chans = broker.channels()
		assert(#chans == 3 and chans[1] == "a:*" and chans[2] == "a:b" and chans[3] == "go:side")

		assert(#broker.list() == 3)
		assert(#broker.list("a:*") == 1)
		assert(#broker.list("nothing") == 0)

		local m = broker.match("a:b")
		assert(m[1] == "a:b" and m[2] == "a:*")

		assert(broker.version == "0.0.1")
	`))
}

func TestHost_Sandbox(t *testing.T) {
	_, h := newTestHost(t)

	require.NoError(t, h.LoadString(context.Background(), "sandbox", `
		assert(io == nil, "io")
		assert(os == nil, "os")
		assert(debug == nil, "debug")
		assert(require == nil, "require")
		assert(load == nil and loadstring == nil and dofile == nil, "loaders")
		assert(string.upper("x") == "X")
		assert(math.floor(1.5) == 1)
		print("sandbox ok")
	`))
}

func TestHost_ScriptOwnership(t *testing.T) {
	b, h := newTestHost(t)

	_, err := b.SubscribeFunc("x", func(ctx context.Context, evt *broker.Event) error { return nil })
	require.NoError(t, err)

	require.NoError(t, h.LoadString(context.Background(), "one", `broker.on("x", function() end)`))
	require.NoError(t, h.LoadString(context.Background(), "two", `broker.on("x", function() end)`))

	one, ok := h.Script("one")
	require.True(t, ok)
	assert.Len(t, one.Subscriptions(), 1)
	assert.Len(t, b.SubscriptionsOn("x"), 3)

	require.NoError(t, h.Unload("one"))
	assert.Len(t, b.SubscriptionsOn("x"), 2)
	assert.Equal(t, []string{"two"}, h.Scripts())

	assert.ErrorIs(t, h.Unload("one"), ErrScriptNotFound)
}

func TestHost_ClosedScriptHandler(t *testing.T) {
	b, h := newTestHost(t)

	require.NoError(t, h.LoadString(context.Background(), "s", `broker.on("x", function() end)`))
	s, _ := h.Script("s")

	var handler broker.Handler
	for _, sub := range s.Subscriptions() {
		handler = sub.Handler
	}
	require.NotNil(t, handler)

	s.Close()
	assert.Empty(t, b.Subscriptions())

	err := handler.Handle(context.Background(), &broker.Event{Channel: "x"})
	assert.ErrorIs(t, err, ErrScriptClosed)
}

func writeScript(t *testing.T, path, code string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(code), 0o644))
}

func TestHost_LoadFileAndReload(t *testing.T) {
	b, h := newTestHost(t)
	path := filepath.Join(t.TempDir(), "handlers.lua")

	writeScript(t, path, `broker.on("v1", function() end)`)
	require.NoError(t, h.Load(context.Background(), path))
	assert.Len(t, b.SubscriptionsOn("v1"), 1)

	writeScript(t, path, `broker.on("v2", function() end)`)
	require.NoError(t, h.Load(context.Background(), path))
	assert.Empty(t, b.SubscriptionsOn("v1"))
	assert.Len(t, b.SubscriptionsOn("v2"), 1)

	// A broken reload keeps the running version.
	writeScript(t, path, `broker.on(`)
	require.Error(t, h.Load(context.Background(), path))
	assert.Len(t, b.SubscriptionsOn("v2"), 1)

	abs, _ := filepath.Abs(path)
	assert.Equal(t, []string{abs}, h.Scripts())

	require.NoError(t, h.Unload(path))
	assert.Empty(t, b.Subscriptions())
}

func TestHost_LoadMissingFile(t *testing.T) {
	_, h := newTestHost(t)
	err := h.Load(context.Background(), filepath.Join(t.TempDir(), "missing.lua"))
	assert.Error(t, err)
	assert.Empty(t, h.Scripts())
}

func TestHost_Closed(t *testing.T) {
	b, h := newTestHost(t)
	require.NoError(t, h.LoadString(context.Background(), "s", `broker.on("x", function() end)`))

	h.Close()
	assert.Empty(t, b.Subscriptions())
	assert.Empty(t, h.Scripts())
	assert.ErrorIs(t, h.LoadString(context.Background(), "s", ``), ErrHostClosed)
}

func TestHost_Watch(t *testing.T) {
	b, h := newTestHost(t)
	path := filepath.Join(t.TempDir(), "handlers.lua")
	writeScript(t, path, `broker.on("before", function() end)`)
	require.NoError(t, h.Load(context.Background(), path))

	w, err := watcher.New(watcher.WithDebounce(20 * time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Add(path))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Watch(ctx, w) }()
	defer func() {
		cancel()
		<-done
		_ = w.Close()
	}()

	writeScript(t, path, `broker.on("after", function() end)`)
	require.Eventually(t, func() bool {
		return len(b.SubscriptionsOn("after")) == 1 && len(b.SubscriptionsOn("before")) == 0
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		return len(h.Scripts()) == 0 && len(b.Subscriptions()) == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestHost_WatchStopsWhenWatcherCloses(t *testing.T) {
	_, h := newTestHost(t)
	w, err := watcher.New()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- h.Watch(context.Background(), w) }()

	require.NoError(t, w.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return")
	}
}

func TestConvert_RoundTrip(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	in := map[string]any{
		"name": "x",
		"n":    float64(3),
		"ok":   true,
		"list": []any{"a", float64(2)},
	}
	assert.Equal(t, in, fromLValue(toLValue(L, in)))
	assert.Nil(t, fromLValue(lua.LNil))
	assert.Equal(t, lua.LString("boom"), toLValue(L, errors.New("boom")))
}
