package dialer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/quic-go/quic-go"

	"github.com/coalescelib/coalesce"
)

// DefaultALPN is offered during the TLS handshake when the dialer's
// config carries no NextProtos.
const DefaultALPN = "coalesce"

// QErrReleased is the application close code sent when the coordinator
// releases an endpoint.
const QErrReleased = quic.ApplicationErrorCode(0x0)

// QUICDialer establishes QUIC connections as `coalesce.RemoteEndpoint`s.
// A single QUIC connection multiplexes any number of concurrent streams
// and datagrams, which is exactly the sharing model the coordinator
// assumes.
type QUICDialer struct {
	// TlsConfig should be configured to ensure mTLS is enabled between
	// the peers.
	TlsConfig *tls.Config

	// QuicConfig optionally fine-tunes the QUIC layer.
	QuicConfig *quic.Config
}

var _ coalesce.EndpointFactory = (*QUICDialer)(nil)

func (d *QUICDialer) Connect(ctx context.Context, target string) (coalesce.RemoteEndpoint, error) {
	if d.TlsConfig == nil {
		return nil, ErrNoTLSConfig
	}

	addr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAddr, err)
	}

	tlsConf := d.TlsConfig.Clone()
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{DefaultALPN}
	}

	conn, err := quic.DialAddr(ctx, addr.String(), tlsConf, d.QuicConfig)
	if err != nil {
		return nil, err
	}

	return &QUICEndpoint{conn: conn}, nil
}

// QUICEndpoint is the handle the coordinator passes to `work` when the
// factory is a `QUICDialer`.
type QUICEndpoint struct {
	conn quic.Connection
}

// Conn exposes the underlying connection so work can open streams and
// exchange datagrams on it.
func (ep *QUICEndpoint) Conn() quic.Connection {
	return ep.conn
}

func (ep *QUICEndpoint) Alive() bool {
	return ep.conn.Context().Err() == nil
}

func (ep *QUICEndpoint) Close() error {
	return ep.conn.CloseWithError(QErrReleased, "released by coordinator")
}
