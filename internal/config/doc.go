// Package config loads broker daemon configuration.
//
// Configuration is resolved in layers, later layers overriding earlier ones:
//
//  1. Built-in defaults (Default)
//  2. A TOML or YAML file, chosen by extension
//  3. A .env file, if present
//  4. BROKER_* environment variables
//
// Command-line flags are applied by the caller after Load returns.
//
// # Environment Variables
//
//	BROKER_LOG_LEVEL          debug, info, warn, error
//	BROKER_LOG_FORMAT         json, console, auto
//	BROKER_FAILURE_POLICY     continue, stop
//	BROKER_DEFAULT_PRIORITY   integer
//	BROKER_SHUTDOWN_TIMEOUT   duration, e.g. 5s
//	BROKER_SCRIPTS_PATHS      comma separated list of Lua files
//	BROKER_SCRIPTS_WATCH      true, false
//	BROKER_SCRIPTS_DEBOUNCE   duration
//	BROKER_METRICS_ADDR       listen address, empty disables
//	BROKER_METRICS_NAMESPACE  metric name prefix
package config
