// Package operator implements a local Unix-domain-socket debug control
// surface for a running swarm coordinator.
//
// Protocol: newline-delimited JSON over a Unix domain socket, one request
// in and one response out per line.
//
// Commands (JSON request -> JSON response):
//
//	{"cmd":"release","peer_id":"node-b"}
//	  -> Releases node-b's quarantine.
//	  -> Response: {"ok":true,"peer_id":"node-b"}
//
//	{"cmd":"quarantine","peer_id":"node-b"}
//	  -> Forces node-b into quarantine.
//	  -> Response: {"ok":true,"peer_id":"node-b"}
//
//	{"cmd":"consensus"}
//	  -> Forces an immediate consensus round and returns its result.
//	  -> Response: {"ok":true,"consensus":{...ConsensusResult...}}
//
//	{"cmd":"status"}
//	  -> Returns the coordinator's lifecycle status and peer count.
//	  -> Response: {"ok":true,"status":"harmonizing","peers":3}
//
//	{"cmd":"peers"}
//	  -> Returns every tracked peer.
//	  -> Response: {"ok":true,"peer_list":[...]}
//
// This is a local debug aid only: it can release or force a quarantine
// decision and trigger an extra consensus round, but it never writes
// leader-authoritative state directly.
package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/seleneswarm/swarmcore/internal/protocol"
	"github.com/seleneswarm/swarmcore/internal/swarm"
)

const (
	maxConcurrentConns = 4
	maxRequestBytes    = 4096
	connTimeout        = 10 * time.Second
)

// Request is the JSON structure for operator commands.
type Request struct {
	Cmd    string `json:"cmd"` // release | quarantine | consensus | status | peers
	PeerID string `json:"peer_id,omitempty"`
}

// Response is the JSON structure for operator command responses.
type Response struct {
	OK        bool                     `json:"ok"`
	Error     string                   `json:"error,omitempty"`
	PeerID    string                   `json:"peer_id,omitempty"`
	Status    string                   `json:"status,omitempty"`
	Peers     int                      `json:"peers,omitempty"`
	PeerList  []protocol.SwarmNode     `json:"peer_list,omitempty"`
	Consensus *protocol.ConsensusResult `json:"consensus,omitempty"`
}

// Server is the operator Unix domain socket server.
type Server struct {
	socketPath string
	coord      *swarm.Coordinator
	log        *zap.Logger
	sem        chan struct{}
}

// NewServer creates an operator Server bound to coord.
func NewServer(socketPath string, coord *swarm.Coordinator, log *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		coord:      coord,
		log:        log,
		sem:        make(chan struct{}, maxConcurrentConns),
	}
}

// ListenAndServe starts the operator socket server, removing any stale
// socket file first. Blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("operator: remove stale socket %q: %w", s.socketPath, err)
	}

	if dir := filepath.Dir(s.socketPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("operator: mkdir %q: %w", dir, err)
		}
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("operator: listen %q: %w", s.socketPath, err)
	}
	defer lis.Close()

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("operator: chmod %q: %w", s.socketPath, err)
	}

	s.log.Info("operator socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("operator: accept error", zap.Error(err))
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn("operator: max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(ctx, c)
		}(conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.log.Warn("operator: read error", zap.Error(err))
		return
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, Response{OK: false, Error: "invalid JSON: " + err.Error()})
		return
	}

	resp := s.dispatch(ctx, req)
	s.writeResponse(conn, resp)
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Cmd {
	case "release":
		return s.cmdRelease(req)
	case "quarantine":
		return s.cmdQuarantine(req)
	case "consensus":
		return s.cmdConsensus(ctx)
	case "status":
		return s.cmdStatus()
	case "peers":
		return s.cmdPeers()
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func (s *Server) cmdRelease(req Request) Response {
	if req.PeerID == "" {
		return Response{OK: false, Error: "peer_id required for release"}
	}
	s.coord.Release(req.PeerID)
	s.log.Info("operator: peer released", zap.String("peer_id", req.PeerID))
	return Response{OK: true, PeerID: req.PeerID}
}

func (s *Server) cmdQuarantine(req Request) Response {
	if req.PeerID == "" {
		return Response{OK: false, Error: "peer_id required for quarantine"}
	}
	s.coord.Quarantine(req.PeerID)
	s.log.Info("operator: peer quarantined", zap.String("peer_id", req.PeerID))
	return Response{OK: true, PeerID: req.PeerID}
}

func (s *Server) cmdConsensus(ctx context.Context) Response {
	result := s.coord.ForceConsensusRound(ctx)
	s.log.Info("operator: forced consensus round",
		zap.String("leader", result.Leader),
		zap.Bool("consensus_achieved", result.ConsensusAchieved))
	return Response{OK: true, Consensus: &result}
}

func (s *Server) cmdStatus() Response {
	return Response{OK: true, Status: string(s.coord.Status()), Peers: len(s.coord.Peers())}
}

func (s *Server) cmdPeers() Response {
	return Response{OK: true, PeerList: s.coord.Peers()}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}
