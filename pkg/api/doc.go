// Package api contains the core building blocks used by the strand process
// engine: the persisted data model (ProcessInfo, ProcessMessage,
// ProcessLogEntry), the declarative shape description, callback routing
// types, and the Observer used for logging and metrics.
//
// Most users interact with the higher-level strand package, which re-exports
// selected types and helpers from this package. The api package is intended
// for advanced use cases, custom integrations, or contributors extending the
// engine itself.
//
// # Shapes
//
// A ShapeDefinition describes the structure of a process as a graph of
// perform, receive, and parallel nodes. Definitions are immutable once
// constructed and are compiled into a net when registered with a manager.
// The same compiled net is shared by every instance of the process.
//
// # Callbacks
//
// A CallbackInfo identifies a single wait point of a single process
// instance. It round-trips to a human-readable string so that external
// systems can store it opaquely and later fire a CallbackEvent against it.
//
// # Observability
//
// The Observer interface receives process lifecycle notifications. The
// package ships a no-op observer, a slog-backed LoggingObserver, a
// CompositeObserver for fan-out, and BasicMetrics for cheap counters.
package api
