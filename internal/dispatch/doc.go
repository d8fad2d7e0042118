// Package dispatch implements the request-dispatch core that sits between a
// transport-agnostic caller and independently authored business-logic
// handlers.
//
// Given a request descriptor (method, query, body, headers, context), the
// dispatcher resolves a registered route, validates and type-coerces the
// declared parameters, builds an isolated frozen execution context, runs the
// handler chain serially or in parallel under per-handler timeouts, and
// returns a uniform success/error envelope.
//
// Core components:
//
// Dispatcher: the orchestrator. Handle never panics and never returns an
// error; every failure maps to one entry of the error taxonomy and comes
// back as an envelope.
//
// routeTable: ordered route-group resolution with a bounded result cache.
// The cache evicts oldest-inserted-first; this is deliberate and documented,
// not an LRU.
//
// PipelineInput: the per-request execution context. It is deep-cloned with
// cycle safety and frozen into an immutable Value tree, so no handler can
// mutate state visible to any other handler in the chain.
//
// executor: the serial/parallel chain runner. Handler faults, panics, and
// timeouts are isolated per handler. A timeout abandons the logical wait
// only; the handler's in-flight work is not preempted, which handler
// authors must account for.
//
// Collaborators (Validator, AutoLoader, PreValidationMiddleware) are
// consumed through interfaces; concrete implementations live outside this
// package.
package dispatch
