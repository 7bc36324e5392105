// Package app wires the broker daemon together: configuration, logging,
// the broker, the Lua script host, the script watcher and the metrics
// endpoint. It owns their lifecycle.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/broker/internal/broker"
	"github.com/dshills/broker/internal/broker/metrics"
	"github.com/dshills/broker/internal/config"
	"github.com/dshills/broker/internal/logging"
	"github.com/dshills/broker/internal/script"
	"github.com/dshills/broker/internal/watcher"
)

// Options configures the application. Non-empty fields override the
// loaded configuration.
type Options struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string

	// EnvFile is the dotenv file. Empty uses config.DefaultEnvFile.
	EnvFile string

	// LogLevel sets the logging verbosity.
	LogLevel string

	// LogFormat is json, console or auto.
	LogFormat string

	// Scripts are added to the configured script paths.
	Scripts []string

	// Watch enables script reloading.
	Watch bool
}

// Application is the central coordinator for the daemon components.
type Application struct {
	config  *config.Config
	log     *logging.Logger
	broker  *broker.Broker
	scripts *script.Host
	watcher *watcher.Watcher

	metricsSrv *http.Server
	metricsLn  net.Listener

	running      atomic.Bool
	shutdownOnce sync.Once
	wg           sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New loads configuration and initializes all components in dependency
// order.
func New(opts Options) (*Application, error) {
	var loadOpts []config.LoadOption
	if opts.EnvFile != "" {
		loadOpts = append(loadOpts, config.WithEnvFile(opts.EnvFile))
	}
	cfg, err := config.Load(opts.ConfigPath, loadOpts...)
	if err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}
	return NewWithConfig(cfg, opts)
}

// NewWithConfig initializes the application from an already loaded
// configuration. Options override it the same way as in New.
func NewWithConfig(cfg *config.Config, opts Options) (*Application, error) {
	applyOptions(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}

	app := &Application{config: cfg}
	if err := app.bootstrap(); err != nil {
		app.shutdown(context.Background())
		return nil, err
	}
	return app, nil
}

func applyOptions(cfg *config.Config, opts Options) {
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.Log.Format = opts.LogFormat
	}
	cfg.Scripts.Paths = append(cfg.Scripts.Paths, opts.Scripts...)
	if opts.Watch {
		cfg.Scripts.Watch = true
	}
}

// bootstrap initializes all components in dependency order.
func (app *Application) bootstrap() error {
	cfg := app.config

	// 1. Logging
	app.log = logging.New(cfg.LoggingConfig())

	// 2. Broker
	opts := append(cfg.BrokerOptions(),
		broker.WithLogger(app.log.WithComponent("broker")))
	app.broker = broker.New(opts...)

	// 3. Scripts
	app.scripts = script.NewHost(app.broker, script.WithLogger(app.log))
	for _, path := range cfg.Scripts.Paths {
		if err := app.scripts.Load(context.Background(), path); err != nil {
			return &InitError{Component: "scripts", Err: err}
		}
	}

	// 4. Watcher
	if cfg.Scripts.Watch && len(cfg.Scripts.Paths) > 0 {
		w, err := watcher.New(
			watcher.WithDebounce(cfg.Scripts.Debounce.Std()),
			watcher.WithLogger(app.log.WithComponent("watcher")),
		)
		if err != nil {
			return &InitError{Component: "watcher", Err: err}
		}
		app.watcher = w
		for _, path := range cfg.Scripts.Paths {
			if err := w.Add(path); err != nil && !errors.Is(err, watcher.ErrAlreadyWatching) {
				return &InitError{Component: "watcher", Err: err}
			}
		}
	}

	// 5. Metrics
	if cfg.Metrics.Addr != "" {
		ln, err := net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			return &InitError{Component: "metrics", Err: err}
		}
		reg := metrics.NewRegistry(cfg.Metrics.Namespace, app.broker)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		app.metricsLn = ln
		app.metricsSrv = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	app.log.Info("broker %s ready with %d script(s)", broker.Version, len(app.scripts.Scripts()))
	return nil
}

// Run starts the background components and blocks until ctx ends or
// Shutdown is called. It shuts the application down before returning.
func (app *Application) Run(ctx context.Context) error {
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	app.mu.Lock()
	app.cancel = cancel
	app.mu.Unlock()

	errs := make(chan error, 2)

	if app.watcher != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			if err := app.scripts.Watch(ctx, app.watcher); err != nil && !errors.Is(err, context.Canceled) {
				errs <- &ComponentError{Component: "watcher", Action: "watch", Err: err}
			}
		}()
	}

	if app.metricsSrv != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.log.Info("serving metrics on %s", app.metricsLn.Addr())
			if err := app.metricsSrv.Serve(app.metricsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- &ComponentError{Component: "metrics", Action: "serve", Err: err}
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
		app.log.WithError(runErr).Error("component failed")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), app.config.Broker.ShutdownTimeout.Std())
	defer cancelShutdown()
	if err := app.shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Emit broadcasts on ch and waits for the walk to finish.
func (app *Application) Emit(ctx context.Context, ch string, payload ...any) error {
	return app.broker.BroadcastSync(ctx, ch, payload...)
}

// Shutdown stops a running application. Run returns once cleanup is done.
func (app *Application) Shutdown() {
	app.stop()
}

func (app *Application) stop() {
	app.mu.Lock()
	cancel := app.cancel
	app.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close releases an application that was never run.
func (app *Application) Close(ctx context.Context) error {
	if app.running.Load() {
		app.Shutdown()
		return nil
	}
	return app.shutdown(ctx)
}

// shutdown performs cleanup in reverse initialization order.
func (app *Application) shutdown(ctx context.Context) error {
	var err error
	app.shutdownOnce.Do(func() {
		// 1. Metrics
		if app.running.Load() && app.metricsSrv != nil {
			_ = app.metricsSrv.Shutdown(ctx)
		} else if app.metricsLn != nil {
			_ = app.metricsLn.Close()
		}

		// 2. Watcher; ends the watch loop
		if app.watcher != nil {
			_ = app.watcher.Close()
		}
		app.stop()
		app.wg.Wait()

		// 3. Scripts
		if app.scripts != nil {
			app.scripts.Close()
		}

		// 4. Broker
		if app.broker != nil {
			if cerr := app.broker.Close(ctx); cerr != nil {
				err = ErrShutdownTimeout
			}
		}

		if app.log != nil {
			app.log.Info("shutdown complete")
		}
	})
	return err
}

// Config returns the effective configuration.
func (app *Application) Config() *config.Config {
	return app.config
}

// Broker returns the broker.
func (app *Application) Broker() *broker.Broker {
	return app.broker
}

// Scripts returns the script host.
func (app *Application) Scripts() *script.Host {
	return app.scripts
}

// MetricsAddr returns the metrics listen address, or nil when disabled.
func (app *Application) MetricsAddr() net.Addr {
	if app.metricsLn == nil {
		return nil
	}
	return app.metricsLn.Addr()
}
