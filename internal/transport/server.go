package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
)

// Dispatcher receives a verified inbound envelope's channel and payload —
// in practice PeerFabric re-publishing into its local fabric.Fabric.
type Dispatcher interface {
	Dispatch(channel string, payload []byte)
}

// Server implements the Transport gRPC service: mTLS-authenticated, Ed25519
// envelope-signed Relay calls forwarded to a Dispatcher.
type Server struct {
	nodeID       string
	trustedPeers map[string]ed25519.PublicKey
	envelopeTTL  time.Duration
	dispatcher   Dispatcher
	log          *zap.Logger
	startTime    time.Time
}

// NewServer creates a transport server. trustedPeers maps node ID to Ed25519
// public key for envelope verification.
func NewServer(nodeID string, trustedPeers map[string]ed25519.PublicKey, envelopeTTL time.Duration, dispatcher Dispatcher, log *zap.Logger) *Server {
	return &Server{
		nodeID:       nodeID,
		trustedPeers: trustedPeers,
		envelopeTTL:  envelopeTTL,
		dispatcher:   dispatcher,
		log:          log,
		startTime:    time.Now(),
	}
}

// Relay implements relayHandler.Relay: verifies the envelope and, on
// success, forwards its channel/payload to the dispatcher.
func (s *Server) Relay(ctx context.Context, env *Envelope) (*Ack, error) {
	ok, reason := verify(env, s.trustedPeers, s.envelopeTTL)
	if !ok {
		s.log.Warn("transport envelope rejected",
			zap.String("node_id", env.NodeID),
			zap.String("reason", reason),
			zap.String("peer_addr", peerFromContext(ctx)))
		return &Ack{Accepted: false, RejectionReason: reason}, nil
	}

	s.dispatcher.Dispatch(env.Channel, env.Payload)

	s.log.Debug("transport envelope accepted",
		zap.String("node_id", env.NodeID),
		zap.String("channel", env.Channel),
		zap.Int("bytes", len(env.Payload)))

	return &Ack{Accepted: true}, nil
}

// Uptime reports how long the server has been running.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// ListenAndServe starts the gRPC mTLS server on addr. Blocks until ctx is
// cancelled.
func ListenAndServe(ctx context.Context, addr string, certFile, keyFile, caFile string, srv *Server, log *zap.Logger) error {
	tlsCfg, err := buildServerTLS(certFile, keyFile, caFile)
	if err != nil {
		return fmt.Errorf("transport TLS config: %w", err)
	}

	creds := credentials.NewTLS(tlsCfg)
	grpcSrv := grpc.NewServer(
		grpc.Creds(creds),
		grpc.MaxRecvMsgSize(1<<20),
		grpc.MaxSendMsgSize(1<<20),
		grpc.ForceServerCodec(jsonCodec{}),
	)
	registerTransportServer(grpcSrv, srv)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport listen %s: %w", addr, err)
	}

	log.Info("transport server listening", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		grpcSrv.GracefulStop()
	}()

	if err := grpcSrv.Serve(lis); err != nil {
		return fmt.Errorf("transport grpc serve: %w", err)
	}
	return nil
}

// buildServerTLS constructs a TLS 1.3-only mTLS config: server cert from
// certFile/keyFile, client certs required and verified against caFile.
func buildServerTLS(certFile, keyFile, caFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load server cert/key: %w", err)
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
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    caPool,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

func peerFromContext(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return "unknown"
	}
	return p.Addr.String()
}
