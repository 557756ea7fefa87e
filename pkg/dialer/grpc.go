package dialer

import (
	"context"
	"crypto/tls"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/coalescelib/coalesce"
)

// GRPCDialer establishes gRPC client connections as
// `coalesce.RemoteEndpoint`s. A `*grpc.ClientConn` is safe for concurrent
// use by any number of callers, so the coordinator can hand one
// connection to every in-flight operation.
type GRPCDialer struct {
	// TlsConfig enables transport security when set; otherwise the
	// connection uses insecure credentials.
	TlsConfig *tls.Config

	// DialOptions are appended after the defaults and may override
	// them.
	DialOptions []grpc.DialOption
}

var _ coalesce.EndpointFactory = (*GRPCDialer)(nil)

func (d *GRPCDialer) Connect(ctx context.Context, target string) (coalesce.RemoteEndpoint, error) {
	opts := []grpc.DialOption{
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff:           backoff.DefaultConfig,
			MinConnectTimeout: 500 * time.Millisecond,
		}),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                20 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		// The coordinator needs the connection to actually exist
		// before callers use it: block until it is ready (or ctx is
		// done).
		grpc.WithBlock(),
	}
	if d.TlsConfig != nil {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(d.TlsConfig)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts, d.DialOptions...)

	cc, err := grpc.DialContext(ctx, target, opts...)
	if err != nil {
		return nil, err
	}
	return &GRPCEndpoint{cc: cc}, nil
}

// GRPCEndpoint is the handle the coordinator passes to `work` when the
// factory is a `GRPCDialer`.
type GRPCEndpoint struct {
	cc *grpc.ClientConn
}

// ClientConn exposes the underlying connection for issuing RPCs.
func (ep *GRPCEndpoint) ClientConn() *grpc.ClientConn {
	return ep.cc
}

// Alive treats every state except Shutdown as usable: gRPC reconnects a
// transient failure on its own, so discarding the ClientConn for it
// would only cause churn.
func (ep *GRPCEndpoint) Alive() bool {
	return ep.cc.GetState() != connectivity.Shutdown
}

func (ep *GRPCEndpoint) Close() error {
	return ep.cc.Close()
}
