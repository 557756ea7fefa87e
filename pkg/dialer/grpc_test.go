package dialer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/coalescelib/coalesce"
)

func TestGRPCDialerSharesOneClientConn(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	go srv.Serve(ln)
	defer srv.Stop()

	co, err := coalesce.New(ln.Addr().String(), &GRPCDialer{},
		coalesce.WithLingerDelay(time.Minute),
	)
	require.NoError(t, err)
	defer co.Shutdown()

	var first, second *GRPCEndpoint
	require.NoError(t, co.WithConnection(context.Background(),
		func(_ context.Context, ep coalesce.RemoteEndpoint) error {
			first = ep.(*GRPCEndpoint)
			return nil
		}))
	require.True(t, first.Alive())

	require.NoError(t, co.WithConnection(context.Background(),
		func(_ context.Context, ep coalesce.RemoteEndpoint) error {
			second = ep.(*GRPCEndpoint)
			return nil
		}))
	require.Same(t, first, second, "both calls must share one ClientConn")

	require.NoError(t, co.Shutdown())
	require.False(t, first.Alive(), "shutdown must close the shared ClientConn")
}

func TestGRPCDialerTimesOutOnUnreachableTarget(t *testing.T) {
	// TCP port 1 is virtually always closed; with a blocking dial the
	// attempt keeps retrying until the coordinator gives up on it.
	co, err := coalesce.New("127.0.0.1:1", &GRPCDialer{},
		coalesce.WithEstablishTimeout(500*time.Millisecond),
	)
	require.NoError(t, err)
	defer co.Shutdown()

	err = co.WithConnection(context.Background(),
		func(context.Context, coalesce.RemoteEndpoint) error {
			t.Fatal("work must not run without an endpoint")
			return nil
		})
	require.ErrorIs(t, err, coalesce.ErrEstablishTimeout)
}
