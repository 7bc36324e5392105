// Package main is the entry point for the broker daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/dshills/broker/internal/app"
	"github.com/dshills/broker/internal/broker"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type cliOptions struct {
	app.Options
	emit bool
	args []string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	application, err := app.New(opts.Options)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.emit {
		ch, payload := opts.args[0], parsePayload(opts.args[1:])
		if err := application.Emit(ctx, ch, payload...); err != nil {
			fmt.Fprintf(os.Stderr, "Error: emit %s: %v\n", ch, err)
			_ = application.Close(context.Background())
			return 1
		}

		// Nothing else can produce events; exit once the broadcast is done.
		cfg := application.Config()
		if !cfg.Scripts.Watch && cfg.Metrics.Addr == "" {
			if err := application.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return 1
			}
			return 0
		}
	}

	if err := application.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func parseFlags() cliOptions {
	var opts cliOptions
	var scripts stringList
	var showVersion bool

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to configuration file (.toml, .yaml)")
	flag.StringVar(&opts.ConfigPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.EnvFile, "env-file", "", "Path to dotenv file (default .env)")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&opts.LogFormat, "log-format", "", "Log format (json, console, auto)")
	flag.Var(&scripts, "script", "Lua script to load (repeatable)")
	flag.BoolVar(&opts.Watch, "watch", false, "Reload scripts when they change")
	flag.BoolVar(&opts.emit, "emit", false, "Broadcast on the channel given as the first argument, with the remaining arguments as payload")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "broker - in-process publish/subscribe broker with Lua subscribers\n\n")
		fmt.Fprintf(os.Stderr, "Usage: broker [options] [-emit channel [payload...]]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  broker -script handlers.lua -watch             Run scripts, reload on change\n")
		fmt.Fprintf(os.Stderr, "  broker -script handlers.lua -emit orders:new 42  Broadcast once and exit\n")
		fmt.Fprintf(os.Stderr, "  broker -config broker.toml                     Use a config file\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("broker %s (core %s)\n", version, broker.Version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	opts.Scripts = scripts
	opts.args = flag.Args()

	if opts.emit && len(opts.args) == 0 {
		fmt.Fprintf(os.Stderr, "Error: -emit needs a channel argument\n")
		os.Exit(2)
	}
	if !opts.emit && len(opts.args) > 0 {
		fmt.Fprintf(os.Stderr, "Error: unexpected arguments %q\n", opts.args)
		os.Exit(2)
	}

	return opts
}

// parsePayload decodes each argument as a YAML scalar or flow value, so
// 42 is a number, true a bool and {a: 1} a map. Arguments that do not
// decode are passed as strings.
func parsePayload(args []string) []any {
	payload := make([]any, 0, len(args))
	for _, arg := range args {
		var v any
		if err := yaml.Unmarshal([]byte(arg), &v); err != nil || v == nil {
			v = arg
		}
		payload = append(payload, v)
	}
	return payload
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}
