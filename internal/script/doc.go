// Package script hosts Lua scripts that subscribe and broadcast on a
// broker.
//
// Each script gets its own sandboxed gopher-lua state. Only the base,
// table, string and math libraries are opened; print goes to the logger.
// The state is owned by an Executor goroutine, so handlers invoked from
// broadcast goroutines are queued there and the broadcast waits for them.
//
// # Lua API
//
// A global broker table is installed:
//
//	broker.on(channel, fn [, opts])   -> id
//	broker.on(channel, id [, opts])   -> id, subscribe an existing handler
//	broker.off(id)                    -> bool
//	broker.off(channel, fn)           -> bool
//	broker.emit(channel, ...)         broadcast, runs after emit returns
//	broker.get(id)                    -> subscription table or nil
//	broker.list([channel])            -> array of subscription tables
//	broker.channels()                 -> sorted channel names
//	broker.match(channel)             -> patterns a broadcast would reach
//	broker.version
//
// opts accepts priority, count, context and force. Handlers are called as
// fn(event, ...) where event has id, channel, subscription, pattern, time,
// context and a cancel function that stops the broadcast after the
// handler returns. Raising an error marks the invocation failed.
//
// Subscribing the same Lua function twice on a channel returns the
// existing subscription.
//
// # Reloading
//
// Host.Load replaces a script only after its replacement ran without
// error. Host.Watch drives reloads from a watcher.Watcher.
package script
