// Package coalesce multiplexes any number of concurrent logical callers
// onto a single lazily-established, lazily-torn-down connection to one
// remote peer.
//
// A `Coordinator` owns exactly one `RemoteEndpoint` at a time. Callers
// never touch the endpoint lifecycle themselves: they hand their work to
// `Coordinator.WithConnection` and the coordinator guarantees the work
// runs against a live endpoint, establishing one if needed.
//
// ## How it works
//
// The first caller since the last teardown starts an establishment through
// the `EndpointFactory`. Every caller that arrives while that establishment
// is still in flight *joins* it instead of starting its own: there is never
// more than one connect attempt outstanding, and every joined caller
// receives the same outcome, success or failure.
//
// When the last active caller returns, the endpoint is not released
// immediately. A short *linger* delay absorbs call bursts so the connection
// is not churned; only if no caller shows up within the delay is the
// endpoint closed. A caller arriving inside the window cancels the pending
// teardown and reuses the cached endpoint, after re-checking it is still
// alive.
//
// ## Design Principles
//
// The coordinator is a pure in-memory primitive: it owns no wire format and
// persists nothing. It is deliberately not a pool: one peer, one
// connection, unbounded sharing. The endpoint handed to `work` MUST be safe
// for concurrent use, which holds for the multiplexed transports this
// library ships factories for (QUIC connections, gRPC client connections,
// see `pkg/dialer`).
//
// Establishment is bounded by a hard timeout, and callers can withdraw at
// any time through their `context.Context`; a withdrawn caller only tears
// the attempt down when it was the last one interested in it. There is no
// automatic retry: a failed establishment fails every waiter identically,
// and the next `WithConnection` call decides whether to try again.
package coalesce
