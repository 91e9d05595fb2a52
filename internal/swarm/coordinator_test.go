package swarm

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/seleneswarm/swarmcore/internal/config"
	"github.com/seleneswarm/swarmcore/internal/fabric"
	"github.com/seleneswarm/swarmcore/internal/heartbeat"
	"github.com/seleneswarm/swarmcore/internal/observability"
	"github.com/seleneswarm/swarmcore/internal/ports"
	"github.com/seleneswarm/swarmcore/internal/protocol"
	"github.com/seleneswarm/swarmcore/internal/replicationlog"
	"github.com/seleneswarm/swarmcore/internal/soul"
	"github.com/seleneswarm/swarmcore/internal/species"
)

func testConfig(nodeID string) *config.Config {
	cfg := config.Defaults()
	cfg.NodeID = nodeID
	cfg.Personality.Name = nodeID
	cfg.Fabric.Prefix = "swarmtest-" + nodeID
	cfg.Heartbeat.Interval = 20 * time.Millisecond
	cfg.Discovery.Frequency = 40 * time.Millisecond
	cfg.Discovery.MaxNodeTimeout = time.Minute
	cfg.Discovery.BatchSize = 4
	cfg.Consensus.CheckInterval = 80 * time.Millisecond
	cfg.Consensus.VoteCollectionTimeout = 20 * time.Millisecond
	cfg.Consensus.CacheTTL = time.Millisecond // force a fresh round every call
	cfg.Species.ChallengeTimeout = 20 * time.Millisecond
	cfg.Immune.ScanInterval = 50 * time.Millisecond
	return &cfg
}

func testDependencies(t *testing.T, f fabric.Fabric) Dependencies {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quantum.db")
	log, err := replicationlog.Open(path, ports.NewDeterministicVerifier(), 10)
	if err != nil {
		t.Fatalf("opening replication log: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	return Dependencies{
		Fabric:         f,
		Verifier:       ports.NewDeterministicVerifier(),
		Audit:          ports.NewMemoryAudit(),
		ReplicationLog: log,
		Metrics:        observability.NewMetrics(),
	}
}

func TestCoordinator_Awaken_AdvancesToConsciousThenSleepReturnsToDormant(t *testing.T) {
	f := fabric.New()
	cfg := testConfig("node-a")
	c := New(cfg, testDependencies(t, f))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Awaken(ctx); err != nil {
		t.Fatalf("Awaken: %v", err)
	}
	if c.Status() != StatusConscious {
		t.Fatalf("expected status conscious right after Awaken, got %s", c.Status())
	}

	if err := c.Awaken(ctx); err == nil {
		t.Fatalf("expected a second Awaken on an already-awake coordinator to fail")
	}

	c.Sleep(ctx)
	if c.Status() != StatusDormant {
		t.Fatalf("expected status dormant after Sleep, got %s", c.Status())
	}
}

func TestCoordinator_DiscoveryCycle_FindsSeededPeerAndChallengesIt(t *testing.T) {
	f := fabric.New()
	cfg := testConfig("node-a")
	c := New(cfg, testDependencies(t, f))

	peerID := protocol.NodeId{ID: "node-b", Birth: time.Now()}
	peerSoul := soul.New(peerID)
	peerResponder := species.NewResponder(f, cfg.Fabric.Prefix, peerID, peerSoul)
	peerPub := heartbeat.NewPublisher(f, cfg.Fabric.Prefix, peerID, 20*time.Millisecond, 1)
	peerPub.Publish(protocol.Vitals{Health: protocol.HealthHealthy}, peerSoul.GetState())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Both sides of the SPECIES-ID exchange must be listening: node-a's
	// challenger to receive the reply, node-b's responder to answer it.
	go c.challenger.Listen(ctx)
	go peerResponder.Listen(ctx)
	time.Sleep(10 * time.Millisecond)

	c.discoveryCycle(ctx)

	peers := c.Peers()
	if len(peers) != 1 {
		t.Fatalf("expected 1 discovered peer, got %d: %+v", len(peers), peers)
	}
	if peers[0].NodeID.ID != "node-b" {
		t.Fatalf("expected discovered peer node-b, got %q", peers[0].NodeID.ID)
	}
	if peers[0].Status != protocol.StatusActive {
		t.Fatalf("expected a verified peer to remain active, got status %s", peers[0].Status)
	}
}

func TestCoordinator_DiscoveryCycle_MarksVanishedPeerLost(t *testing.T) {
	f := fabric.New()
	cfg := testConfig("node-a")
	cfg.Discovery.MaxNodeTimeout = 0 // every cached peer is immediately stale
	c := New(cfg, testDependencies(t, f))

	peerID := protocol.NodeId{ID: "node-b", Birth: time.Now()}
	peerPub := heartbeat.NewPublisher(f, cfg.Fabric.Prefix, peerID, 20*time.Millisecond, 1)
	peerPub.Publish(protocol.Vitals{Health: protocol.HealthHealthy}, protocol.SoulState{Harmony: 0.5})
	c.peers.upsert(heartbeatFor("node-b"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.discoveryCycle(ctx)

	node, ok := c.peers.Get("node-b")
	if !ok {
		t.Fatalf("expected node-b to still be tracked (as lost)")
	}
	if node.Status != protocol.StatusLost {
		t.Fatalf("expected node-b marked lost due to stale timestamp, got %s", node.Status)
	}
}

func TestCoordinator_ConsensusCycle_SingleNodeElectsSelfLeader(t *testing.T) {
	f := fabric.New()
	cfg := testConfig("node-a")
	c := New(cfg, testDependencies(t, f))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.consensusCycle(ctx)

	if c.Status() != StatusHarmonizing {
		t.Fatalf("expected a committed single-node round to advance to harmonizing, got %s", c.Status())
	}
	if got := c.replicationLog.CommitIndex(); got != 0 {
		t.Fatalf("expected commit index unchanged with no peers to replicate to, got %d", got)
	}
}

func TestCoordinator_VerifyNewPeer_SuspectsFirstThenEscalatesToQuarantine(t *testing.T) {
	f := fabric.New()
	cfg := testConfig("node-a")
	cfg.Species.MaxChallengeFailures = 2
	c := New(cfg, testDependencies(t, f))

	peerID := protocol.NodeId{ID: "node-b", Birth: time.Now()}
	peerPub := heartbeat.NewPublisher(f, cfg.Fabric.Prefix, peerID, 20*time.Millisecond, 1)
	peerPub.Publish(protocol.Vitals{Health: protocol.HealthHealthy}, protocol.SoulState{Harmony: 0.5})
	c.peers.upsert(heartbeatFor("node-b"))

	ctx := context.Background()

	// No responder is listening, so every challenge times out. The first
	// failure only suspects the peer: still active in the cache, but out
	// of the consensus set.
	c.verifyNewPeer(ctx, "node-b")
	node, _ := c.peers.Get("node-b")
	if node.Status != protocol.StatusActive {
		t.Fatalf("expected first challenge failure to leave peer active, got %s", node.Status)
	}
	if !c.peers.isSuspected("node-b") {
		t.Fatalf("expected peer suspected after first challenge failure")
	}
	if got := len(c.peers.ActiveNodeIDs()); got != 0 {
		t.Fatalf("expected suspected peer excluded from the consensus set, got %d nodes", got)
	}

	// The second consecutive failure reaches MaxChallengeFailures and
	// escalates to quarantine.
	c.verifyNewPeer(ctx, "node-b")
	node, _ = c.peers.Get("node-b")
	if node.Status != protocol.StatusQuarantined {
		t.Fatalf("expected repeated failures to escalate to quarantine, got %s", node.Status)
	}
}

func TestCoordinator_QuarantineAndRelease_AffectPeerCache(t *testing.T) {
	f := fabric.New()
	cfg := testConfig("node-a")
	c := New(cfg, testDependencies(t, f))

	peer := heartbeatFor("node-b")
	c.peers.upsert(peer)

	c.Quarantine("node-b")
	node, _ := c.peers.Get("node-b")
	if node.Status != protocol.StatusQuarantined {
		t.Fatalf("expected node-b quarantined, got %s", node.Status)
	}

	c.Release("node-b")
	node, _ = c.peers.Get("node-b")
	if node.Status != protocol.StatusActive {
		t.Fatalf("expected node-b active after release, got %s", node.Status)
	}
}

func TestSeverityForAction_InvertsImmuneResponseMapping(t *testing.T) {
	cases := []struct {
		action protocol.ResponseAction
		want   protocol.Severity
	}{
		{protocol.ActionIsolation, protocol.SeverityCritical},
		{protocol.ActionNeutralization, protocol.SeverityHigh},
		{protocol.ActionAdaptation, protocol.SeverityMedium},
		{protocol.ActionObservation, protocol.SeverityLow},
	}
	for _, tc := range cases {
		if got := severityForAction(tc.action); got != tc.want {
			t.Errorf("severityForAction(%s) = %s, want %s", tc.action, got, tc.want)
		}
	}
}

func TestPeerIDFromThreatID_ParsesGeneratedFormat(t *testing.T) {
	id, ok := peerIDFromThreatID("threat-node-b-1234567890")
	if !ok {
		t.Fatalf("expected successful parse")
	}
	if id != "node-b" {
		t.Fatalf("expected peer id node-b, got %q", id)
	}

	if _, ok := peerIDFromThreatID("not-a-threat-id"); ok {
		t.Fatalf("expected parse to fail for a non-threat-id string")
	}
}
