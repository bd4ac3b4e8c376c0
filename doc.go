// Package strand provides a lightweight, embeddable process engine for Go.
//
// Strand executes long-lived business processes as token games over a
// small Petri-net dialect: a process shape is a graph of places and
// transitions, an instance is a marking of that graph plus an
// application-supplied state object, and progress happens by firing
// transitions until the instance either completes or parks on one or more
// wait states. Between events an instance holds no thread, lock or
// connection; it is a row in a store.
//
// # Core Concepts
//
//  1. Shape and Net
//  2. Engine
//  3. Callbacks and Dispatch
//  4. Freeze and Thaw
//  5. LocalRunner and Bundle
//
// # Shape and Net
//
// A shape is a declarative description of a process: an ordered sequence
// of nodes, where each node performs an action, receives an external
// event, or forks into parallel branches joined with AND or OR semantics.
// Shapes are written with the fluent ShapeBuilder or loaded from YAML
// documents, and compiled once at registration into an immutable net
// shared by every instance.
//
// Each receive node declares a control name and an event name; together
// they form the wait id "<control>_<event>" the instance parks on. An OR
// join completes with the first branch whose wait is satisfied and
// atomically cancels the pending waits of its sibling branches; an event
// arriving later for a cancelled wait is absorbed silently.
//
// # Engine
//
// The Engine starts instances, persists them at every quiescent point,
// and resumes them when callback events arrive. Resumes of one instance
// are serialized by a non-blocking per-row lock: a contending resume does
// not wait, it leaves its message on the queue for redelivery. Stores can
// be in-memory (tests, development) or SQLite (embedded durability).
//
// # Callbacks and Dispatch
//
// Business logic hands external services a CallbackInfo, an opaque token
// that round-trips through a human-readable string. The service answers
// by sending a CallbackEvent through the dispatch layer, which queues it
// on a durable, at-least-once queue; a consumer worker delivers it to the
// engine. Services that can only echo their own identifier register a
// correlation instead and answer through the CorrelationService.
//
// # Freeze and Thaw
//
// A resume that keeps failing consumes its retry budget; at the limit the
// message freezes and the instance stops retrying until an operator calls
// Thaw, which replays the frozen message through the ordinary resume
// path. Until then, redeliveries of the frozen message are consumed
// without effect.
//
// # LocalRunner and Bundle
//
// LocalRunner wires an in-memory engine, queue and consumer into a
// process-local helper for development and tests. Bundle does the same
// over a shared SQLite database for deployments where instances and
// queued events must survive a restart.
package strand
