package script

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/broker/internal/broker"
	"github.com/dshills/broker/internal/broker/dispatch"
	"github.com/dshills/broker/internal/logging"
)

// DefaultCallTimeout bounds a single run of Lua code.
const DefaultCallTimeout = 5 * time.Second

// Script is one Lua state bound to a broker. All Lua runs on the script's
// executor goroutine.
type Script struct {
	name    string
	broker  *broker.Broker
	log     *logging.Logger
	exec    *Executor
	timeout time.Duration

	// ctx scopes broadcasts started by the script and ends with Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	handlers map[*lua.LFunction]*luaHandler
}

func newScript(name string, b *broker.Broker, log *logging.Logger, timeout time.Duration) *Script {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	log = log.WithField("script", name)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Script{
		name:     name,
		broker:   b,
		log:      log,
		timeout:  timeout,
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[*lua.LFunction]*luaHandler),
	}

	L := newState(log)
	s.registerModule(L)
	s.exec = NewExecutor(L, 0)
	return s
}

// Name returns the script name.
func (s *Script) Name() string {
	return s.name
}

// runFile executes the file named by the script.
func (s *Script) runFile(ctx context.Context) error {
	return s.runChunk(ctx, func(L *lua.LState) error { return L.DoFile(s.name) })
}

// runString executes code.
func (s *Script) runString(ctx context.Context, code string) error {
	return s.runChunk(ctx, func(L *lua.LState) error { return L.DoString(code) })
}

func (s *Script) runChunk(ctx context.Context, do func(L *lua.LState) error) error {
	return s.exec.Execute(ctx, func(L *lua.LState) error {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		L.SetContext(callCtx)
		defer L.RemoveContext()

		if err := do(L); err != nil {
			return &Error{Script: s.name, Err: err}
		}
		return nil
	})
}

// Subscriptions returns the subscriptions whose handler belongs to this
// script, keyed by id.
func (s *Script) Subscriptions() map[string]broker.Subscription {
	result := make(map[string]broker.Subscription)
	for id, sub := range s.broker.Subscriptions() {
		if h, ok := sub.Handler.(*luaHandler); ok && h.script == s {
			result[id] = sub
		}
	}
	return result
}

// Close removes the script's subscriptions and releases its Lua state.
// A handler that is running finishes first.
func (s *Script) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	for id := range s.Subscriptions() {
		_, _, _ = s.broker.Unsubscribe(id)
	}

	s.cancel()
	s.exec.Close()
	s.exec.L.Close()
	s.log.Debug("closed")
}

func (s *Script) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// handlerFor returns the handler for fn, creating it on first use so that
// the same Lua function always maps to the same broker handler.
func (s *Script) handlerFor(fn *lua.LFunction) *luaHandler {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handlers[fn]
	if !ok {
		h = &luaHandler{script: s, fn: fn}
		s.handlers[fn] = h
	}
	return h
}

func (s *Script) lookupHandler(fn *lua.LFunction) (*luaHandler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handlers[fn]
	return h, ok
}

// luaHandler invokes a Lua function on its script's executor.
type luaHandler struct {
	script *Script
	fn     *lua.LFunction
}

// Handle queues the call and waits for it.
func (h *luaHandler) Handle(ctx context.Context, evt *broker.Event) error {
	return broker.AsyncHandlerFunc(h.start).Handle(ctx, evt)
}

// start queues the Lua call for evt. The function receives an event table
// followed by the broadcast payload.
func (h *luaHandler) start(ctx context.Context, evt *broker.Event) *dispatch.Future {
	s := h.script
	if s.isClosed() {
		return dispatch.Resolved(ErrScriptClosed)
	}

	return s.exec.Submit(ctx, func(L *lua.LState) error {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		L.SetContext(callCtx)
		defer L.RemoveContext()

		L.Push(h.fn)
		L.Push(eventTable(L, evt))
		for _, arg := range evt.Payload {
			L.Push(toLValue(L, arg))
		}

		if err := L.PCall(1+len(evt.Payload), 0, nil); err != nil {
			if ctxErr := callCtx.Err(); ctxErr != nil {
				return &Error{Script: s.name, Err: ctxErr}
			}
			return &Error{Script: s.name, Err: err}
		}
		return nil
	})
}

// eventTable builds the first argument passed to Lua handlers.
func eventTable(L *lua.LState, evt *broker.Event) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("id", lua.LString(evt.ID))
	tbl.RawSetString("channel", lua.LString(evt.Channel))
	tbl.RawSetString("subscription", lua.LString(evt.Subscription.ID))
	tbl.RawSetString("pattern", lua.LString(evt.Subscription.Channel))
	tbl.RawSetString("time", toLValue(L, evt.Time))
	if r := evt.Receiver(); r != nil {
		tbl.RawSetString("context", toLValue(L, r))
	}
	tbl.RawSetString("cancel", L.NewFunction(func(L *lua.LState) int {
		evt.Cancel()
		return 0
	}))
	return tbl
}

// registerModule installs the global broker table.
func (s *Script) registerModule(L *lua.LState) {
	mod := L.NewTable()
	L.SetField(mod, "on", L.NewFunction(s.luaOn))
	L.SetField(mod, "off", L.NewFunction(s.luaOff))
	L.SetField(mod, "emit", L.NewFunction(s.luaEmit))
	L.SetField(mod, "get", L.NewFunction(s.luaGet))
	L.SetField(mod, "list", L.NewFunction(s.luaList))
	L.SetField(mod, "channels", L.NewFunction(s.luaChannels))
	L.SetField(mod, "match", L.NewFunction(s.luaMatch))
	L.SetField(mod, "version", lua.LString(broker.Version))
	L.SetGlobal("broker", mod)
}

// on(channel, fn|id [, opts]) -> id
func (s *Script) luaOn(L *lua.LState) int {
	ch := L.CheckString(1)

	var target broker.Target
	switch v := L.CheckAny(2).(type) {
	case *lua.LFunction:
		target = broker.Handle(s.handlerFor(v))
	case lua.LString:
		target = broker.Ref(string(v))
	default:
		L.ArgError(2, "function or subscription id expected")
		return 0
	}

	var opts broker.Options
	if tbl := L.OptTable(3, nil); tbl != nil {
		var err error
		if opts, err = optionsFromTable(tbl); err != nil {
			L.ArgError(3, err.Error())
			return 0
		}
	}

	id, err := s.broker.SubscribeWith(ch, target, opts)
	if err != nil {
		L.RaiseError("on: %s", err.Error())
		return 0
	}

	L.Push(lua.LString(id))
	return 1
}

// off(id) -> bool
// off(channel, fn) -> bool
func (s *Script) luaOff(L *lua.LState) int {
	key := L.CheckString(1)

	var (
		ok  bool
		err error
	)
	if L.GetTop() < 2 || L.Get(2) == lua.LNil {
		_, ok, err = s.broker.Unsubscribe(key)
	} else {
		h, known := s.lookupHandler(L.CheckFunction(2))
		if !known {
			L.Push(lua.LFalse)
			return 1
		}
		_, ok, err = s.broker.UnsubscribeHandler(key, h)
	}
	if err != nil {
		L.RaiseError("off: %s", err.Error())
		return 0
	}

	L.Push(lua.LBool(ok))
	return 1
}

// emit(channel, ...) -> nil
// The broadcast runs after emit returns.
func (s *Script) luaEmit(L *lua.LState) int {
	ch := L.CheckString(1)

	n := L.GetTop()
	payload := make([]any, 0, n-1)
	for i := 2; i <= n; i++ {
		payload = append(payload, fromLValue(L.Get(i)))
	}

	done, err := s.broker.Broadcast(s.ctx, ch, payload...)
	if err != nil {
		L.RaiseError("emit: %s", err.Error())
		return 0
	}

	go func() {
		err := done.Await(context.Background())
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.WithError(err).Debug("broadcast on %s ended early", ch)
		}
	}()
	return 0
}

// get(id) -> table|nil
func (s *Script) luaGet(L *lua.LState) int {
	sub, ok := s.broker.Subscription(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(subscriptionTable(L, sub))
	return 1
}

// list([channel]) -> array of subscription tables
func (s *Script) luaList(L *lua.LState) int {
	channels := s.broker.Channels()
	if L.GetTop() >= 1 {
		ch := L.CheckString(1)
		channels = map[string][]broker.Subscription{ch: channels[ch]}
	}
	L.Push(subscriptionList(L, channels))
	return 1
}

// channels() -> sorted array of channel names
func (s *Script) luaChannels(L *lua.LState) int {
	L.Push(stringList(L, s.broker.ChannelNames()))
	return 1
}

// match(channel) -> patterns in dispatch order
func (s *Script) luaMatch(L *lua.LState) int {
	L.Push(stringList(L, s.broker.Match(L.CheckString(1))))
	return 1
}

func (s *Script) String() string {
	return fmt.Sprintf("script(%s)", s.name)
}
