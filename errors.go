package coalesce

import "errors"

var (
	ErrInvalidCfg = errors.New("coalesce: invalid options")
	ErrNoFactory  = errors.New("coalesce: an EndpointFactory is required")
	ErrNoTarget   = errors.New("coalesce: a non-empty target is required")

	// ErrClosed is returned by `WithConnection` once `Shutdown` has been
	// called; the coordinator is terminal and will never hand out an
	// endpoint again.
	ErrClosed = errors.New("coalesce: coordinator is shut down")

	// ErrEstablishTimeout is returned to every caller joined on an
	// establishment attempt that did not produce a live endpoint within
	// the establish timeout.
	ErrEstablishTimeout = errors.New("coalesce: establishment timed out")

	// ErrEstablishFailed wraps the factory error when establishment
	// fails for a non-timeout reason. Every joined caller receives it.
	ErrEstablishFailed = errors.New("coalesce: establishment failed")
)
