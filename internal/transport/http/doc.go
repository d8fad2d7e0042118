// Package http bridges net/http to the transport-agnostic dispatch core: it
// translates incoming requests into dispatch descriptors, renders the
// response envelope, and carries the ambient request logging and metrics
// middleware. The core itself never sees the wire.
package http
