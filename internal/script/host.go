package script

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dshills/broker/internal/broker"
	"github.com/dshills/broker/internal/logging"
	"github.com/dshills/broker/internal/watcher"
)

// HostOption configures a Host.
type HostOption func(*Host)

// WithLogger sets the host logger. Scripts log through it with a script
// field.
func WithLogger(l *logging.Logger) HostOption {
	return func(h *Host) {
		if l != nil {
			h.log = l
		}
	}
}

// WithCallTimeout bounds each run of Lua code, including handler calls.
func WithCallTimeout(d time.Duration) HostOption {
	return func(h *Host) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// Host runs Lua scripts against a broker.
type Host struct {
	broker  *broker.Broker
	log     *logging.Logger
	timeout time.Duration

	mu      sync.Mutex
	scripts map[string]*Script
	closed  bool
}

// NewHost creates a host for b.
func NewHost(b *broker.Broker, opts ...HostOption) *Host {
	h := &Host{
		broker:  b,
		log:     logging.Nop(),
		timeout: DefaultCallTimeout,
		scripts: make(map[string]*Script),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.WithComponent("script")
	return h
}

// Load runs the Lua file at path. If a script is already loaded from path
// it is replaced once the new one has run successfully; on failure the old
// script stays in place.
func (h *Host) Load(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	return h.load(ctx, abs, func(s *Script) error { return s.runFile(ctx) })
}

// LoadString runs code as a script called name, replacing any script of
// that name the same way Load does.
func (h *Host) LoadString(ctx context.Context, name, code string) error {
	return h.load(ctx, name, func(s *Script) error { return s.runString(ctx, code) })
}

func (h *Host) load(ctx context.Context, name string, run func(*Script) error) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHostClosed
	}
	h.mu.Unlock()

	s := newScript(name, h.broker, h.log, h.timeout)
	if err := run(s); err != nil {
		s.Close()
		return err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.Close()
		return ErrHostClosed
	}
	old := h.scripts[name]
	h.scripts[name] = s
	h.mu.Unlock()

	if old != nil {
		old.Close()
		h.log.Info("reloaded %s", name)
	} else {
		h.log.Info("loaded %s", name)
	}
	return nil
}

// Unload closes the script called name and removes its subscriptions.
func (h *Host) Unload(name string) error {
	h.mu.Lock()
	s, ok := h.scripts[name]
	if !ok && !filepath.IsAbs(name) {
		if abs, err := filepath.Abs(name); err == nil {
			name = abs
			s, ok = h.scripts[name]
		}
	}
	if ok {
		delete(h.scripts, name)
	}
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrScriptNotFound, name)
	}
	s.Close()
	h.log.Info("unloaded %s", name)
	return nil
}

// Script returns the script called name.
func (h *Host) Script(name string) (*Script, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.scripts[name]
	return s, ok
}

// Scripts returns the loaded script names, sorted.
func (h *Host) Scripts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	names := make([]string, 0, len(h.scripts))
	for name := range h.scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Watch reloads scripts as w reports changes to them and unloads scripts
// whose file disappears. A file that reappears is loaded again. Watch
// returns when ctx ends or w is closed.
func (h *Host) Watch(ctx context.Context, w *watcher.Watcher) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			h.handleChange(ctx, ev)

		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			h.log.WithError(err).Warn("watch error")
		}
	}
}

func (h *Host) handleChange(ctx context.Context, ev watcher.Event) {
	if ev.Op.Gone() {
		if _, ok := h.Script(ev.Path); ok {
			_ = h.Unload(ev.Path)
		}
		return
	}

	if err := h.Load(ctx, ev.Path); err != nil {
		h.log.WithError(err).Error("reload of %s failed, keeping previous version", ev.Path)
	}
}

// Close unloads every script. Later loads fail with ErrHostClosed.
func (h *Host) Close() {
	h.mu.Lock()
	h.closed = true
	scripts := h.scripts
	h.scripts = make(map[string]*Script)
	h.mu.Unlock()

	for _, s := range scripts {
		s.Close()
	}
}
