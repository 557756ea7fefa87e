package coalesce

import "context"

// RemoteEndpoint is an opaque handle to a connection with a remote peer,
// usable for calls until it is closed or discovered dead. The coordinator
// never interprets its contents; it only creates it (through an
// `EndpointFactory`), checks its liveness before reuse, and closes it.
type RemoteEndpoint interface {
	// Alive reports whether the endpoint can still be used.
	//
	// *Implementations* MUST NOT block: this is invoked on the
	// resolution critical path while the coordinator holds its lock.
	// A cheap check such as inspecting a connection context or a
	// connectivity state is expected.
	Alive() bool

	// Close releases the endpoint and any transport resources behind it.
	// It is only ever called by the coordinator that created the
	// endpoint, at most once.
	Close() error
}

// EndpointFactory establishes a `RemoteEndpoint` for a target identity.
type EndpointFactory interface {
	// Connect attempts to establish an endpoint. It MUST honour ctx
	// cancellation: when the coordinator gives up on an attempt (caller
	// withdrawal, establishment timeout, shutdown) the ctx is cancelled
	// and Connect is expected to abort and release anything it
	// half-built.
	Connect(ctx context.Context, target string) (RemoteEndpoint, error)
}

// FactoryFunc adapts a plain function to the `EndpointFactory` interface.
type FactoryFunc func(ctx context.Context, target string) (RemoteEndpoint, error)

func (fn FactoryFunc) Connect(ctx context.Context, target string) (RemoteEndpoint, error) {
	return fn(ctx, target)
}
