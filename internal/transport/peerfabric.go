package transport

import (
	"context"
	"crypto/ed25519"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seleneswarm/swarmcore/internal/fabric"
)

// PeerFabric decorates a local fabric.Fabric with a gRPC+mTLS relay to a
// fixed set of directly-dialed peers: every Publish is delivered to local
// subscribers exactly as InMemory would, and additionally forwarded over
// the wire so a peer's own local fabric sees the same Publish. Key/value
// and hash operations pass straight through to the embedded fabric, since
// discovery and heartbeat state is not itself gossiped by this transport;
// only pub/sub channel traffic crosses the wire.
type PeerFabric struct {
	fabric.Fabric

	nodeID  string
	priv    ed25519.PrivateKey
	log     *zap.Logger
	relayTO time.Duration

	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewPeerFabric wraps local with a relay identified by nodeID and signing
// key priv. Peers are added after construction via AddPeer, since dialing
// requires each peer's own address and the cluster's peer set changes as
// discovery runs.
func NewPeerFabric(local fabric.Fabric, nodeID string, priv ed25519.PrivateKey, log *zap.Logger) *PeerFabric {
	return &PeerFabric{
		Fabric:  local,
		nodeID:  nodeID,
		priv:    priv,
		log:     log,
		relayTO: relayTimeout(),
		peers:   make(map[string]*Peer),
	}
}

// AddPeer registers a dialed peer connection for outbound relay.
func (pf *PeerFabric) AddPeer(p *Peer) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	pf.peers[p.nodeID] = p
}

// RemovePeer closes and forgets a peer connection, e.g. after it is
// quarantined.
func (pf *PeerFabric) RemovePeer(nodeID string) {
	pf.mu.Lock()
	p, ok := pf.peers[nodeID]
	delete(pf.peers, nodeID)
	pf.mu.Unlock()
	if ok {
		_ = p.Close()
	}
}

// Publish delivers payload to local subscribers via the embedded fabric and
// fans it out to every connected peer over gRPC. A peer relay failure is
// logged and does not fail the local publish, matching the fabric's own
// at-most-once, best-effort delivery contract.
func (pf *PeerFabric) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := pf.Fabric.Publish(ctx, channel, payload); err != nil {
		return err
	}

	pf.mu.RLock()
	targets := make([]*Peer, 0, len(pf.peers))
	for _, p := range pf.peers {
		targets = append(targets, p)
	}
	pf.mu.RUnlock()

	if len(targets) == 0 {
		return nil
	}

	env := newEnvelope(pf.nodeID, channel, payload, pf.priv)
	for _, p := range targets {
		go pf.relay(p, env)
	}
	return nil
}

func (pf *PeerFabric) relay(p *Peer, env *Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), pf.relayTO)
	defer cancel()

	ack, err := p.Relay(ctx, env)
	if err != nil {
		pf.log.Warn("transport relay failed", zap.String("peer", p.nodeID), zap.Error(err))
		return
	}
	if !ack.Accepted {
		pf.log.Warn("transport relay rejected", zap.String("peer", p.nodeID), zap.String("reason", ack.RejectionReason))
	}
}

// Dispatch implements Dispatcher: an inbound, already-verified envelope
// from Server.Relay is republished into the local fabric so it reaches
// local subscribers (e.g. protocol.Bus.Listen) indistinguishably from a
// same-process Publish. It is not re-forwarded to other peers; each sender
// relays directly to every peer it knows, so there is no need to flood.
func (pf *PeerFabric) Dispatch(channel string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), pf.relayTO)
	defer cancel()
	if err := pf.Fabric.Publish(ctx, channel, payload); err != nil {
		pf.log.Warn("transport local republish failed", zap.String("channel", channel), zap.Error(err))
	}
}

// Close tears down every peer connection before closing the embedded
// fabric.
func (pf *PeerFabric) Close() error {
	pf.mu.Lock()
	peers := pf.peers
	pf.peers = make(map[string]*Peer)
	pf.mu.Unlock()

	for _, p := range peers {
		_ = p.Close()
	}
	return pf.Fabric.Close()
}
