package dialer

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"

	"github.com/coalescelib/coalesce"
)

func generateServerCert(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate private key: %s", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		t.Fatalf("failed to generate serialNumber: %s", err)
	}
	tmpl := x509.Certificate{
		Subject: pkix.Name{
			CommonName: "self-signed",
		},
		SerialNumber:          serialNumber,
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(1 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses: []net.IP{
			{127, 0, 0, 1},
		},
		IsCA: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to generate certificate: %s", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		t.Fatalf("failed to parse certificate: %s", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(cert)

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		Leaf:        cert,
		PrivateKey:  key,
	}, pool
}

func startQUICServer(t *testing.T) string {
	t.Helper()
	cert, _ := serverCertOnce(t)

	udpLn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)

	tr := &quic.Transport{Conn: udpLn}
	ln, err := tr.Listen(&tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{DefaultALPN},
	}, nil)
	require.NoError(t, err)

	go func() {
		for {
			if _, err := ln.Accept(context.Background()); err != nil {
				return
			}
		}
	}()

	t.Cleanup(func() {
		ln.Close()
		tr.Close()
		udpLn.Close()
	})

	return udpLn.LocalAddr().String()
}

var cachedCert *tls.Certificate
var cachedPool *x509.CertPool

func serverCertOnce(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()
	if cachedCert == nil {
		cert, pool := generateServerCert(t)
		cachedCert, cachedPool = &cert, pool
	}
	return *cachedCert, cachedPool
}

func TestQUICDialerRequiresTLS(t *testing.T) {
	d := &QUICDialer{}
	_, err := d.Connect(context.Background(), "127.0.0.1:6174")
	require.ErrorIs(t, err, ErrNoTLSConfig)
}

func TestQUICDialerSharesOneConnection(t *testing.T) {
	addr := startQUICServer(t)
	_, pool := serverCertOnce(t)

	co, err := coalesce.New(addr, &QUICDialer{
		TlsConfig: &tls.Config{RootCAs: pool},
	},
		coalesce.WithLingerDelay(time.Minute),
		coalesce.WithEstablishTimeout(10*time.Second),
	)
	require.NoError(t, err)
	defer co.Shutdown()

	var first, second *QUICEndpoint
	require.NoError(t, co.WithConnection(context.Background(),
		func(_ context.Context, ep coalesce.RemoteEndpoint) error {
			first = ep.(*QUICEndpoint)
			return nil
		}))
	require.True(t, first.Alive())

	require.NoError(t, co.WithConnection(context.Background(),
		func(_ context.Context, ep coalesce.RemoteEndpoint) error {
			second = ep.(*QUICEndpoint)
			return nil
		}))
	require.Same(t, first, second, "both calls must share one QUIC connection")

	require.NoError(t, co.Shutdown())
	require.Eventually(t, func() bool {
		return !first.Alive()
	}, 5*time.Second, 50*time.Millisecond, "shutdown must close the shared connection")
}

func TestQUICDialerRejectsMalformedTarget(t *testing.T) {
	_, pool := serverCertOnce(t)
	d := &QUICDialer{TlsConfig: &tls.Config{RootCAs: pool}}
	_, err := d.Connect(context.Background(), "not-an-address")
	require.ErrorIs(t, err, ErrInvalidAddr)
}
