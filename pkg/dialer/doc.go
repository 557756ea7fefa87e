// Package dialer ships ready-made `coalesce.EndpointFactory`
// implementations for transports whose connections are safe to share
// between concurrent callers (QUIC, gRPC), plus gossip-based resolution
// of logical peer names into dialable addresses.
package dialer
