package swarm

import (
	"sort"
	"sync"
	"time"

	"github.com/seleneswarm/swarmcore/internal/protocol"
)

// peerCache is the discovery cycle's view of the swarm. Only
// discoveryCycle calls upsert/markLost; quarantine and release are also
// called from the immune scan and operator overrides.
type peerCache struct {
	mu    sync.Mutex
	peers map[string]protocol.SwarmNode

	// suspicion counts consecutive identity-challenge failures per peer.
	// A suspected peer is excluded from consensus rounds but is not yet
	// quarantined; a successful challenge clears it.
	suspicion map[string]int
}

func newPeerCache() *peerCache {
	return &peerCache{
		peers:     make(map[string]protocol.SwarmNode),
		suspicion: make(map[string]int),
	}
}

// upsert records a freshly observed heartbeat and reports whether this is
// the first time the peer was seen. A peer already quarantined keeps that
// status; discovery never un-quarantines on its own.
func (c *peerCache) upsert(hb protocol.Heartbeat) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, known := c.peers[hb.NodeID.ID]
	status := protocol.StatusActive
	if known && existing.Status == protocol.StatusQuarantined {
		status = protocol.StatusQuarantined
	}
	c.peers[hb.NodeID.ID] = protocol.SwarmNode{
		NodeID:   hb.NodeID,
		Vitals:   hb.Vitals,
		Soul:     hb.Soul,
		LastSeen: hb.Timestamp,
		Role:     protocol.RoleFollower,
		Status:   status,
	}
	return !known
}

// markLost flips a previously active peer to lost. Returns true only on
// the transition edge, so callers emit exactly one event per loss.
func (c *peerCache) markLost(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.peers[id]
	if !ok || node.Status == protocol.StatusLost {
		return false
	}
	node.Status = protocol.StatusLost
	c.peers[id] = node
	return true
}

// quarantine marks a peer quarantined, excluding it from consensus input
// until released. Called from the identity-challenge escalation path, the
// immune scan's isolation responses, and operator overrides.
func (c *peerCache) quarantine(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.peers[id]
	if !ok {
		return
	}
	node.Status = protocol.StatusQuarantined
	c.peers[id] = node
}

// release clears a quarantine, returning the peer to active (it will be
// re-confirmed lost or active on the next discovery cycle regardless).
// Called from operator overrides (Coordinator.Release).
func (c *peerCache) release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.peers[id]
	if !ok || node.Status != protocol.StatusQuarantined {
		return
	}
	node.Status = protocol.StatusActive
	c.peers[id] = node
	delete(c.suspicion, id)
}

// suspect records one more identity-challenge failure for a peer and
// returns the consecutive-failure count.
func (c *peerCache) suspect(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspicion[id]++
	return c.suspicion[id]
}

// clearSuspicion resets a peer's challenge-failure count after a
// successful challenge.
func (c *peerCache) clearSuspicion(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.suspicion, id)
}

// isSuspected reports whether a peer currently has unresolved challenge
// failures.
func (c *peerCache) isSuspected(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspicion[id] > 0
}

// Get returns a peer's cached entry.
func (c *peerCache) Get(id string) (protocol.SwarmNode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.peers[id]
	return n, ok
}

// Len returns the number of peers currently tracked, any status.
func (c *peerCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peers)
}

// Snapshot returns every tracked peer, sorted by node id for deterministic
// iteration order.
func (c *peerCache) Snapshot() []protocol.SwarmNode {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.SwarmNode, 0, len(c.peers))
	for _, n := range c.peers {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID.ID < out[j].NodeID.ID })
	return out
}

// ActiveNodeIDs returns the NodeId of every peer not lost, quarantined,
// or under unresolved identity suspicion — the "known nodes" the consensus
// cycle feeds the harmonic engine.
func (c *peerCache) ActiveNodeIDs() []protocol.NodeId {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.NodeId, 0, len(c.peers))
	for _, n := range c.peers {
		if n.Status == protocol.StatusActive && c.suspicion[n.NodeID.ID] == 0 {
			out = append(out, n.NodeID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// staleSeenAt is a small helper for tests and the discovery cycle: the
// cutoff before which a record is considered stale regardless of fabric
// key expiry, guarding against clock skew between coordinators.
func staleSeenAt(now time.Time, maxAge time.Duration) time.Time {
	return now.Add(-maxAge)
}
