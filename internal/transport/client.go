package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Peer is a single directly-dialed remote node: its id and an established
// mTLS connection. Envelopes are signed by PeerFabric before Relay.
type Peer struct {
	nodeID string
	conn   *grpc.ClientConn
}

// DialPeer opens a long-lived mTLS connection to a remote transport server.
// certFile/keyFile are this node's own client certificate; caFile verifies
// the remote server's certificate.
func DialPeer(ctx context.Context, nodeID, addr, certFile, keyFile, caFile string) (*Peer, error) {
	tlsCfg, err := buildClientTLS(certFile, keyFile, caFile)
	if err != nil {
		return nil, fmt.Errorf("transport client TLS config: %w", err)
	}

	conn, err := grpc.DialContext(ctx, addr,
		grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg)),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("dial peer %s (%s): %w", nodeID, addr, err)
	}

	return &Peer{nodeID: nodeID, conn: conn}, nil
}

// Relay sends a signed envelope to this peer and returns its ack.
func (p *Peer) Relay(ctx context.Context, env *Envelope) (*Ack, error) {
	return relayClient(ctx, p.conn, env)
}

// Close tears down the underlying connection.
func (p *Peer) Close() error {
	return p.conn.Close()
}

func buildClientTLS(certFile, keyFile, caFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert/key: %w", err)
	}

	caData, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA file %q: %w", caFile, err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caData) {
		return nil, fmt.Errorf("failed to parse CA certificate from %q", caFile)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caPool,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// relayTimeout bounds a single outbound Relay call so a wedged peer cannot
// stall a Publish indefinitely.
func relayTimeout() time.Duration { return 5 * time.Second }
