// Package engine is the façade tying a session store to the processor
// pipeline.
//
// # Lifecycle of a turn
//
//  1. CompileWorkingContext loads the session's events, routes system
//     instruction events into the instruction lists, maps the rest to
//     messages and runs the processors (flow.DefaultProcessors unless an
//     explicit list is given). Every step leaves a trace on the result.
//  2. The caller sends the context to a model (see the model packages) and
//     adds the reply with WorkingContext.AddMessage.
//  3. PersistWorkingContext appends only the messages added since compile,
//     so loaded history is never written twice.
//
// Compact condenses old history through the store, and Handoff derives a
// reduced context for delegating to another agent.
//
// # Callbacks
//
// Callbacks hook into before/after compile, before/after persist, after
// compaction and errors. A before_persist callback can reject a batch, for
// example with NewEventValidationCallback.
//
// # Concurrency
//
// The engine performs no locking. Hosts must serialize operations for one
// session id; different sessions may be used concurrently as far as the
// store allows.
package engine
