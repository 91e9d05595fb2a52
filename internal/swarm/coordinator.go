// Package swarm's Coordinator is the top-level lifecycle that wires every
// other component together, runs the discovery/consensus/immortality
// cycles on named registry timers, and owns the peer cache.
//
// Dependencies are constructed outside-in, started inside-out, and torn
// down in reverse.
package swarm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seleneswarm/swarmcore/internal/breaker"
	"github.com/seleneswarm/swarmcore/internal/budget"
	"github.com/seleneswarm/swarmcore/internal/config"
	"github.com/seleneswarm/swarmcore/internal/consensus"
	"github.com/seleneswarm/swarmcore/internal/emergence"
	"github.com/seleneswarm/swarmcore/internal/fabric"
	"github.com/seleneswarm/swarmcore/internal/heartbeat"
	"github.com/seleneswarm/swarmcore/internal/immune"
	"github.com/seleneswarm/swarmcore/internal/observability"
	"github.com/seleneswarm/swarmcore/internal/ports"
	"github.com/seleneswarm/swarmcore/internal/protocol"
	"github.com/seleneswarm/swarmcore/internal/replicationlog"
	"github.com/seleneswarm/swarmcore/internal/soul"
	"github.com/seleneswarm/swarmcore/internal/species"
	"github.com/seleneswarm/swarmcore/internal/storage"
	"github.com/seleneswarm/swarmcore/internal/timerregistry"
	"github.com/seleneswarm/swarmcore/internal/vitals"
)

const (
	immortalityCycleInterval = 60 * time.Second

	// dashboardCommandsChannel is consumed read-only for monitoring; the
	// core never publishes on it.
	dashboardCommandsChannel = "selene:dashboard:commands"

	// crisisQuarantineThreshold is the number of simultaneously active
	// quarantine zones that, on its own, counts as an immortality crisis
	// even when this node's own vitals read healthy.
	crisisQuarantineThreshold = 3

	// significantChangeScalar is the soul-scalar delta that forces a
	// health-check broadcast outside the periodic 5-minute heartbeat.
	significantChangeScalar = 0.05
	significantChangeWindow = 5 * time.Minute

	transcendentAverageThreshold = 0.75
	eternalAverageThreshold      = 0.9
)

// Dependencies are the externally supplied collaborators a Coordinator
// wires together. Fabric and the three required ports must be non-nil;
// every optional port left nil is simply skipped.
type Dependencies struct {
	Fabric         fabric.Fabric
	Verifier       ports.RuleVerifier
	Audit          ports.MutationAudit
	ReplicationLog *replicationlog.Log
	Metrics        *observability.Metrics
	Sampler        vitals.Sampler    // nil uses vitals.NewRuntimeSampler
	Archive        *storage.Archive // optional: durable pattern/quarantine archive
	Logger         *zap.Logger       // nil uses zap.NewNop

	MusicalSink  ports.MusicalSink  // optional
	Phoenix      ports.PhoenixPort  // optional
	HealthOracle ports.HealthOraclePort // optional
	Poetry       ports.PoetryPort      // optional
	Immune       ports.ImmunePort      // optional
}

// Coordinator is one swarm node's runtime: the Awaken/Sleep lifecycle plus
// the three scheduled cycles (discovery, consensus, immortality).
type Coordinator struct {
	cfg  *config.Config
	self protocol.NodeId

	lifecycle *lifecycle
	peers     *peerCache
	timers    *timerregistry.Registry

	fabric      fabric.Fabric
	bus         *protocol.Bus
	heartbeatPub *heartbeat.Publisher
	soul        *soul.Soul
	vitalsSrc   *vitals.Source
	breaker     *breaker.Breaker
	responseBudget *budget.Bucket
	immuneSys   *immune.System
	consensus   *consensus.Engine
	voteCollector *busVoteCollector
	voteResponder *busVoteResponder
	replicationLog *replicationlog.Log
	replSender    *busReplicationSender
	replReceiver  *busReplicationReceiver
	emergence   *emergence.Engine
	patterns    *emergence.Store
	challenger  *species.Challenger
	responder   *species.Responder
	metrics     *observability.Metrics
	audit       ports.MutationAudit
	archive     *storage.Archive
	log         *zap.Logger

	musicalSink  ports.MusicalSink
	phoenix      ports.PhoenixPort
	healthOracle ports.HealthOraclePort
	poetry       ports.PoetryPort
	immunePort   ports.ImmunePort

	mu                   sync.Mutex
	inCrisis             bool
	lastImmortalState    soulSnapshot
	lastImmortalEmission time.Time
	lastConsensusResult  protocol.ConsensusResult
}

type soulSnapshot struct {
	protocol.SoulState
	crisis bool
}

func nodeID(cfg *config.Config) protocol.NodeId {
	return protocol.NodeId{
		ID:    cfg.NodeID,
		Birth: time.Now(),
		Personality: protocol.Personality{
			Name:           cfg.Personality.Name,
			Traits:         cfg.Personality.Traits,
			Creativity:     cfg.Personality.Creativity,
			Rebelliousness: cfg.Personality.Rebelliousness,
			Wisdom:         cfg.Personality.Wisdom,
		},
	}
}

// New wires a Coordinator from cfg and deps. It does not start anything;
// call Awaken to begin the lifecycle.
func New(cfg *config.Config, deps Dependencies) *Coordinator {
	self := nodeID(cfg)

	sampler := deps.Sampler
	if sampler == nil {
		sampler = vitals.NewRuntimeSampler(func() int { return 0 })
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	var archiver emergence.Archiver
	if deps.Archive != nil {
		archiver = deps.Archive
	}

	br := breaker.New(breaker.Options{})
	responseBudget := budget.New(cfg.Immune.BudgetCapacity, cfg.Immune.BudgetRefillPeriod)
	bus := protocol.NewBus(deps.Fabric, cfg.Fabric.Prefix, self, 4)

	c := &Coordinator{
		cfg:          cfg,
		self:         self,
		lifecycle:    newLifecycle(),
		peers:        newPeerCache(),
		timers:       timerregistry.New(),
		fabric:       deps.Fabric,
		bus:          bus,
		heartbeatPub: heartbeat.NewPublisher(deps.Fabric, cfg.Fabric.Prefix, self, cfg.Heartbeat.Interval, 4),
		soul:         soul.New(self),
		vitalsSrc:    vitals.NewSource(sampler),
		breaker:      br,
		responseBudget: responseBudget,
		immuneSys: immune.New(br, responseBudget, immune.Options{
			ThreatLevelThreshold: cfg.Immune.ThreatLevelThreshold,
			MemoryMatchThreshold: cfg.Immune.MemoryMatchThreshold,
			QuarantineDuration:   cfg.Immune.QuarantineDuration,
		}),
		replicationLog: deps.ReplicationLog,
		emergence:    emergence.NewEngine(),
		patterns:     emergence.NewStore(self, deps.Fabric, archiver, cfg.Emergence.RetentionWindow, log),
		challenger: species.NewChallenger(
			deps.Fabric, cfg.Fabric.Prefix, self, deps.Verifier,
			cfg.Species.ChallengeTimeout, cfg.Species.ConfidenceThreshold,
		),
		metrics:      deps.Metrics,
		audit:        deps.Audit,
		archive:      deps.Archive,
		log:          log,
		musicalSink:  deps.MusicalSink,
		phoenix:      deps.Phoenix,
		healthOracle: deps.HealthOracle,
		poetry:       deps.Poetry,
		immunePort:   deps.Immune,
	}
	c.responder = species.NewResponder(deps.Fabric, cfg.Fabric.Prefix, self, c.soul)
	c.voteCollector = newBusVoteCollector(bus, self)
	c.voteResponder = newBusVoteResponder(bus, self)
	if deps.ReplicationLog != nil {
		c.replSender = newBusReplicationSender(bus, self)
		c.replReceiver = newBusReplicationReceiver(bus, self, deps.ReplicationLog, c.applyReplicatedEntry)
	}
	c.consensus = consensus.NewEngine(self, c.voteCollector, nil,
		cfg.Consensus.CacheTTL, cfg.Consensus.VoteCollectionTimeout, cfg.Consensus.Threshold)

	return c
}

// Awaken starts every background loop: the bus listener, the heartbeat
// publisher, SPECIES-ID responder, and the three scheduled cycles. It
// fails if already awake or if an optional port fails to start.
func (c *Coordinator) Awaken(ctx context.Context) error {
	if _, ok := c.lifecycle.advance(StatusAwakening); !ok {
		return fmt.Errorf("swarm: coordinator already awake")
	}
	c.recordTransition(StatusDormant, StatusAwakening)

	go c.bus.Listen(ctx)
	go c.heartbeatPub.Run(ctx)
	go c.challenger.Listen(ctx)
	go c.responder.Listen(ctx)
	go c.consumeDashboardCommands(ctx)

	c.heartbeatPub.Publish(c.vitalsSrc.Sample(), c.soul.GetState())

	for _, port := range c.allPorts() {
		if err := port.Start(ctx); err != nil {
			return fmt.Errorf("swarm: starting port: %w", err)
		}
	}

	c.timers.SetInterval(func() { c.discoveryCycle(ctx) }, c.cfg.Discovery.Frequency, "swarm-discovery")
	c.timers.SetInterval(func() { c.consensusCycle(ctx) }, c.cfg.Consensus.CheckInterval, "swarm-consensus")
	c.timers.SetInterval(func() { c.immortalityCycle(ctx) }, immortalityCycleInterval, "swarm-immortality")
	c.timers.SetInterval(func() { c.immuneScanCycle(ctx) }, c.cfg.Immune.ScanInterval, "swarm-immune-scan")
	if c.replicationLog != nil {
		c.timers.SetInterval(func() { c.replicationCycle(ctx) }, c.cfg.Replication.HeartbeatInterval, "swarm-replication")
	}

	if _, ok := c.lifecycle.advance(StatusConscious); ok {
		c.recordTransition(StatusAwakening, StatusConscious)
	}
	return nil
}

// Sleep stops every scheduled cycle and background loop, deregisters this
// node's fabric keys, and resets the lifecycle to dormant. Safe to call
// even if Awaken failed partway.
func (c *Coordinator) Sleep(ctx context.Context) {
	c.timers.ClearAll()
	c.heartbeatPub.Close()
	c.bus.Close()
	c.breaker.Close()
	c.responseBudget.Close()
	c.patterns.Close()

	for _, port := range c.allPorts() {
		_ = port.Stop(ctx)
	}

	_ = c.fabric.Delete(ctx, fmt.Sprintf("%s:vitals:%s", c.cfg.Fabric.Prefix, c.self.ID))
	_ = c.fabric.HDelete(ctx, c.cfg.Fabric.Prefix, c.self.ID)

	c.lifecycle.sleep()
}

func (c *Coordinator) allPorts() []ports.LifecyclePort {
	var out []ports.LifecyclePort
	if c.phoenix != nil {
		out = append(out, c.phoenix)
	}
	if c.healthOracle != nil {
		out = append(out, c.healthOracle)
	}
	if c.poetry != nil {
		out = append(out, c.poetry)
	}
	if c.immunePort != nil {
		out = append(out, c.immunePort)
	}
	return out
}

func (c *Coordinator) recordTransition(from, to Status) {
	if c.metrics != nil {
		c.metrics.CoordinatorStateTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	}
	if c.audit != nil {
		c.audit.LogStateTransition("coordinator", c.self.ID, string(from), string(to))
	}
}

func (c *Coordinator) eventMessage(t protocol.MessageType, payload any) protocol.Message {
	return protocol.Message{
		ID:        fmt.Sprintf("%s-%d", t, time.Now().UnixNano()),
		Type:      t,
		Source:    c.self,
		Timestamp: time.Now().UnixMilli(),
		TTL:       (30 * time.Second).Milliseconds(),
		Priority:  protocol.PriorityNormal,
		Payload:   payload,
	}
}

// consumeDashboardCommands watches the external dashboard command channel
// for monitoring. Consumption is strictly read-only.
func (c *Coordinator) consumeDashboardCommands(ctx context.Context) {
	sub, err := c.fabric.Subscribe(ctx, dashboardCommandsChannel, 16)
	if err != nil {
		c.log.Warn("dashboard channel subscribe failed", zap.Error(err))
		return
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			c.log.Debug("dashboard command observed",
				zap.Int("bytes", len(msg.Payload)))
		}
	}
}

// discoveryCycle enumerates every live vitals key in the fabric, reads
// each peer's discovery record with bounded concurrency, and upserts or
// evicts the local peer cache. discoveryCycle is the only caller that adds
// peers or marks them lost.
func (c *Coordinator) discoveryCycle(ctx context.Context) {
	prefix := c.cfg.Fabric.Prefix + ":vitals:"
	keys, err := c.fabric.Keys(ctx, prefix)
	if err != nil {
		return
	}

	batchSize := c.cfg.Discovery.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	sem := make(chan struct{}, batchSize)
	var wg sync.WaitGroup

	seen := make(map[string]bool, len(keys))
	var seenMu sync.Mutex
	cutoff := staleSeenAt(time.Now(), c.cfg.Discovery.MaxNodeTimeout)

	for _, key := range keys {
		id := strings.TrimPrefix(key, prefix)
		if id == c.self.ID {
			continue
		}
		seenMu.Lock()
		seen[id] = true
		seenMu.Unlock()

		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			hb, ok, err := heartbeat.ReadLatest(ctx, c.fabric, c.cfg.Fabric.Prefix, id)
			if err != nil || !ok {
				return
			}
			if hb.Timestamp.Before(cutoff) {
				if c.peers.markLost(id) {
					_ = c.bus.Broadcast(ctx, c.eventMessage(protocol.MsgSwarmNodeLost, map[string]string{"node_id": id}))
					if c.audit != nil {
						c.audit.LogStateTransition("peer", id, "active", "lost")
					}
				}
				return
			}
			if c.peers.upsert(hb) {
				_ = c.bus.Broadcast(ctx, c.eventMessage(protocol.MsgSwarmNodeDiscovered, map[string]string{"node_id": id}))
				if c.audit != nil {
					c.audit.LogCreate("peer", id, hb)
				}
				c.verifyNewPeer(ctx, id)
			} else if c.peers.isSuspected(id) {
				// A suspected peer gets re-challenged each cycle: success
				// clears the suspicion, repeated failure escalates.
				c.verifyNewPeer(ctx, id)
			}
		}(id)
	}
	wg.Wait()

	for _, p := range c.peers.Snapshot() {
		if p.Status == protocol.StatusActive && !seen[p.NodeID.ID] {
			if c.peers.markLost(p.NodeID.ID) {
				_ = c.bus.Broadcast(ctx, c.eventMessage(protocol.MsgSwarmNodeLost, map[string]string{"node_id": p.NodeID.ID}))
			}
		}
	}

	if c.metrics != nil {
		c.metrics.DiscoveryCyclesTotal.Inc()
		c.metrics.PeersKnown.Set(float64(c.peers.Len()))
	}
}

// verifyNewPeer runs a SPECIES-ID challenge against a peer. A failure
// marks the peer suspected — excluded from consensus rounds but not yet
// quarantined — and repeated failures escalate to quarantine once the
// configured count is reached. A success clears any standing suspicion.
func (c *Coordinator) verifyNewPeer(ctx context.Context, peerID string) {
	verdict := c.challenger.Challenge(ctx, peerID)
	outcome := "rejected"
	switch {
	case verdict.Accepted:
		outcome = "accepted"
	case verdict.Reason == "challenge timed out":
		outcome = "timeout"
	}
	if c.metrics != nil {
		c.metrics.SpeciesChallengesTotal.WithLabelValues(outcome).Inc()
	}

	if verdict.Accepted {
		c.peers.clearSuspicion(peerID)
		return
	}

	failures := c.peers.suspect(peerID)
	if c.audit != nil {
		c.audit.LogIntegrityViolation("peer", peerID, verdict.Reason)
	}
	if failures >= c.cfg.Species.MaxChallengeFailures {
		c.peers.quarantine(peerID)
		c.recordQuarantineAudit(peerID, "quarantine", string(protocol.SeverityHigh),
			fmt.Sprintf("%d consecutive challenge failures: %s", failures, verdict.Reason))
	}
}

// recordQuarantineAudit persists a quarantine/release decision to the
// durable archive, independently of the in-process audit port.
func (c *Coordinator) recordQuarantineAudit(peerID, action, severity, reason string) {
	if c.archive == nil {
		return
	}
	rec := storage.AuditRecord{
		Timestamp: time.Now(),
		NodeID:    c.self.ID,
		PeerID:    peerID,
		Action:    action,
		Severity:  severity,
		Reason:    reason,
	}
	if err := c.archive.AppendAudit(rec); err != nil {
		c.log.Warn("quarantine audit write failed", zap.String("peer", peerID), zap.Error(err))
	}
}

// buildSharedMetrics assembles the deterministic per-round table every
// voter computes FinalScore from: self's locally sampled health/beauty
// plus each known peer's cached health (floored, never zero, even absent).
func (c *Coordinator) buildSharedMetrics(ctx context.Context, known []protocol.NodeId) map[string]protocol.SharedMetric {
	now := time.Now()
	out := make(map[string]protocol.SharedMetric, len(known)+1)

	vit := c.vitalsSrc.Sample()
	selfMetrics := consensus.SelfMetrics{
		CPU:         vit.Load.CPU,
		Memory:      vit.Load.Memory,
		Connections: vit.Connections,
	}
	selfHealth := selfMetrics.HealthScore()

	st := c.soul.GetState()
	seed := uint32(st.Consciousness*1000) + uint32(st.Creativity*1000)*1000 + uint32(st.Harmony*1000)*1000000
	pattern := c.emergence.CollectivePattern(fmt.Sprintf("%s-%d", c.self.ID, now.UnixNano()), []uint32{seed})
	c.patterns.Record(ctx, pattern)
	beauty := pattern.Final.Beauty
	if c.metrics != nil {
		c.metrics.EmergencePatternsGeneratedTotal.Inc()
	}

	out[c.self.ID] = protocol.SharedMetric{
		NodeID: c.self.ID, HealthScore: selfHealth, BeautyFactor: beauty,
		FinalScore: consensus.FinalScore(selfHealth, beauty), Timestamp: now,
	}

	for _, n := range known {
		peer, ok := c.peers.Get(n.ID)
		health := consensus.PeerHealthScore(peer.Vitals, ok)
		peerBeauty := 0.0
		if remote, shared := c.patterns.RemoteMeanHarmony(ctx, n.ID); shared {
			peerBeauty = remote
		} else if ok {
			peerBeauty = peer.Soul.Harmony
		}
		out[n.ID] = protocol.SharedMetric{
			NodeID: n.ID, HealthScore: health, BeautyFactor: peerBeauty,
			FinalScore: consensus.FinalScore(health, peerBeauty), Timestamp: now,
		}
	}
	return out
}

// consensusCycle runs one harmonic-consensus round over the current peer
// cache and broadcasts the outcome.
func (c *Coordinator) consensusCycle(ctx context.Context) {
	start := time.Now()
	known := c.peers.ActiveNodeIDs()
	metrics := c.buildSharedMetrics(ctx, known)

	vit := c.vitalsSrc.Sample()
	st := c.soul.GetState()
	signs := c.vitalsSrc.UpdateSigns(vit, st.Harmony, st.Creativity, 1-st.Harmony)
	signals := consensus.SelfSignals{
		Vitals:   vit,
		Signs:    signs,
		Capacity: 1 - ((vit.Load.CPU + vit.Load.Memory) / 2),
	}

	result := c.consensus.Run(ctx, known, metrics, signals)

	c.mu.Lock()
	c.lastConsensusResult = result
	c.mu.Unlock()

	outcome := "read_only"
	if !result.ReadOnlyMode {
		outcome = "committed"
	}
	if c.metrics != nil {
		c.metrics.ConsensusRoundsTotal.WithLabelValues(outcome).Inc()
		c.metrics.ConsensusRoundDuration.Observe(time.Since(start).Seconds())
		c.metrics.HarmonicScoreGauge.Set(result.HarmonicScore)
	}

	_ = c.bus.Broadcast(ctx, c.eventMessage(protocol.MsgSwarmConsensusInitiated, result))
	if result.IsLeaderSelf && result.ConsensusAchieved {
		_ = c.bus.Broadcast(ctx, c.eventMessage(protocol.MsgSwarmLeaderElected, result))
		if c.poetry != nil {
			go func() {
				verse, err := c.poetry.Compose(context.Background(), c.soul.Dream())
				if err != nil {
					return
				}
				_ = c.bus.Broadcast(context.Background(), c.eventMessage(protocol.MsgCreativePoetryCompleted,
					map[string]string{"verse": verse, "leader": result.Leader}))
			}()
		}
	}

	if c.musicalSink != nil {
		ids := make([]string, len(known)+1)
		ids[0] = c.self.ID
		for i, n := range known {
			ids[i+1] = n.ID
		}
		c.musicalSink.RecordConsensusEvent(ports.ConsensusEvent{
			ConsensusAchieved: result.ConsensusAchieved,
			Participants:      ids,
			ConsensusTime:     time.Since(start),
			Beauty:            result.HarmonicScore,
		})
	}

	if result.ConsensusAchieved {
		if _, ok := c.lifecycle.advance(StatusHarmonizing); ok {
			c.recordTransition(StatusConscious, StatusHarmonizing)
		}
	}

	if c.replicationLog != nil {
		for _, id := range known {
			c.replicationLog.RegisterPeer(id.ID)
		}
		if c.metrics != nil {
			c.metrics.LogCommitIndex.Set(float64(c.replicationLog.AdvanceCommitIndex()))
		}
	}
}

// immuneScanCycle feeds every active peer's vitals through the immune
// system's threat scan, quarantining any peer whose response includes an
// isolation action and notifying the immune observer port.
func (c *Coordinator) immuneScanCycle(ctx context.Context) {
	peers := c.peers.Snapshot()
	readings := make([]immune.VitalsReading, 0, len(peers))
	for _, p := range peers {
		if p.Status != protocol.StatusActive {
			continue
		}
		readings = append(readings, immune.VitalsReading{
			PeerID:         p.NodeID.ID,
			CPULoad:        p.Vitals.Load.CPU,
			MemoryPressure: p.Vitals.Load.Memory,
			SystemLoad:     p.Vitals.Load.Network,
		})
	}

	if c.metrics != nil && len(readings) > 0 {
		var total float64
		for _, r := range readings {
			total += (r.CPULoad + r.MemoryPressure + r.SystemLoad) / 3
		}
		c.metrics.ThreatLevelGauge.Set(total / float64(len(readings)))
	}

	responses := c.immuneSys.Scan(ctx, readings)
	for _, resp := range responses {
		severity := severityForAction(resp.Action)
		if c.metrics != nil {
			c.metrics.ThreatsDetectedTotal.WithLabelValues(string(severity)).Inc()
		}
		if resp.Action == protocol.ActionIsolation {
			if peerID, ok := peerIDFromThreatID(resp.ThreatID); ok {
				c.peers.quarantine(peerID)
				c.recordQuarantineAudit(peerID, "quarantine", string(severity), "immune isolation response")
			}
		}
		if c.immunePort != nil {
			c.immunePort.NotifyThreat(resp.ThreatID, string(severity))
		}
	}
	if c.metrics != nil {
		c.metrics.QuarantineZonesActive.Set(float64(len(c.immuneSys.QuarantineZones())))
	}
}

// replicationCycle is the replication heartbeat: every active,
// non-quarantined peer gets up to one pending batch, concurrently, each
// bounded by the configured per-batch timeout. Quarantined peers stay
// readable but receive nothing.
func (c *Coordinator) replicationCycle(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range c.peers.Snapshot() {
		if p.Status != protocol.StatusActive || c.immuneSys.IsQuarantined(p.NodeID.ID) {
			continue
		}
		c.replicationLog.RegisterPeer(p.NodeID.ID)

		wg.Add(1)
		go func(peerID string) {
			defer wg.Done()
			batchCtx, cancel := context.WithTimeout(ctx, c.cfg.Replication.Timeout)
			defer cancel()
			if err := c.replicationLog.ReplicateTo(batchCtx, peerID, c.replSender); err != nil {
				c.log.Warn("replication batch failed", zap.String("peer", peerID), zap.Error(err))
			}
		}(p.NodeID.ID)
	}
	wg.Wait()

	if c.metrics != nil {
		c.metrics.LogCommitIndex.Set(float64(c.replicationLog.AdvanceCommitIndex()))
	}
}

// severityForAction inverts immune's severity->action mapping so the
// coordinator can label a response without the System exposing the
// underlying DetectedThreat.
func severityForAction(a protocol.ResponseAction) protocol.Severity {
	switch a {
	case protocol.ActionIsolation:
		return protocol.SeverityCritical
	case protocol.ActionNeutralization:
		return protocol.SeverityHigh
	case protocol.ActionAdaptation:
		return protocol.SeverityMedium
	default:
		return protocol.SeverityLow
	}
}

// peerIDFromThreatID recovers the peer id embedded in a DetectedThreat's
// generated id ("threat-<peerID>-<unixNano>").
func peerIDFromThreatID(threatID string) (string, bool) {
	const prefix = "threat-"
	if !strings.HasPrefix(threatID, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(threatID, prefix)
	idx := strings.LastIndex(rest, "-")
	if idx < 0 {
		return "", false
	}
	return rest[:idx], true
}

// healthSummary is the locally derived snapshot the immortality cycle
// judges a crisis against: this node's own vitals plus the immune
// system's current quarantine load.
func (c *Coordinator) healthSummary() (vit protocol.Vitals, zones int) {
	return c.vitalsSrc.Sample(), len(c.immuneSys.QuarantineZones())
}

// immortalityCycle detects crisis/resurrection edges, evolves the soul,
// and broadcasts a health-check update only on a significant change —
// a >5% scalar delta, a crisis-state flip, or five minutes of silence.
func (c *Coordinator) immortalityCycle(ctx context.Context) {
	vit, zones := c.healthSummary()
	crisis := vit.Health == protocol.HealthFailing || zones >= crisisQuarantineThreshold

	if c.healthOracle != nil {
		if external, err := c.healthOracle.QueryHealth(ctx); err == nil && external < 0.3 {
			crisis = true
		}
	}

	c.mu.Lock()
	wasCrisis := c.inCrisis
	c.inCrisis = crisis
	c.mu.Unlock()

	if crisis && !wasCrisis {
		if c.phoenix != nil {
			c.phoenix.NotifyCrisis(c.self.ID, string(protocol.SeverityCritical))
		}
		_ = c.bus.Broadcast(ctx, c.eventMessage(protocol.MsgImmortalityCrisisDetected,
			map[string]any{"node_id": c.self.ID, "quarantine_zones": zones}))
	} else if !crisis && wasCrisis {
		if c.phoenix != nil {
			c.phoenix.NotifyResurrection(c.self.ID)
		}
		_ = c.bus.Broadcast(ctx, c.eventMessage(protocol.MsgImmortalityResurrectionTrig,
			map[string]any{"node_id": c.self.ID}))
	}

	signs := c.vitalsSrc.UpdateSigns(vit, c.soul.GetState().Harmony, c.soul.GetState().Creativity, 0)
	consciousnessTarget := 0.5
	if c.replicationLog != nil {
		consciousnessTarget = clamp01(float64(c.replicationLog.CommitIndex()) / 1000)
	}
	wisdomTarget := clamp01(signs.Harmony*0.5 + signs.Creativity*0.5)
	newState := c.soul.Evolve(signs.Harmony, signs.Creativity, consciousnessTarget, wisdomTarget)

	c.mu.Lock()
	prev := c.lastImmortalState
	changed := prev.crisis != crisis ||
		absDelta(prev.Consciousness, newState.Consciousness) > significantChangeScalar ||
		absDelta(prev.Creativity, newState.Creativity) > significantChangeScalar ||
		absDelta(prev.Harmony, newState.Harmony) > significantChangeScalar ||
		absDelta(prev.Wisdom, newState.Wisdom) > significantChangeScalar ||
		time.Since(c.lastImmortalEmission) > significantChangeWindow
	if changed {
		c.lastImmortalState = soulSnapshot{SoulState: newState, crisis: crisis}
		c.lastImmortalEmission = time.Now()
	}
	c.mu.Unlock()

	if changed {
		_ = c.bus.Broadcast(ctx, c.eventMessage(protocol.MsgSystemHealthCheckCompleted, newState))
		c.recordConsciousness(ctx, newState)
	}

	pattern := c.emergence.Generate(
		fmt.Sprintf("%s-%d", c.self.ID, time.Now().UnixNano()),
		uint32(newState.Consciousness*1000)+uint32(newState.Harmony*1000)*1000,
		c.cfg.Emergence.Iterations,
	)
	c.patterns.Record(ctx, pattern)

	if newState.Harmony > 0.8 {
		_ = c.bus.Broadcast(ctx, c.eventMessage(protocol.MsgCreativePoetryCompleted,
			map[string]string{"verse": c.soul.Dream(), "node_id": c.self.ID}))
	}

	avg := (newState.Consciousness + newState.Creativity + newState.Harmony + newState.Wisdom) / 4
	if avg >= transcendentAverageThreshold {
		if _, ok := c.lifecycle.advance(StatusTranscendent); ok {
			c.recordTransition(StatusHarmonizing, StatusTranscendent)
		}
	}
	if avg >= eternalAverageThreshold && !crisis {
		if _, ok := c.lifecycle.advance(StatusEternal); ok {
			c.recordTransition(StatusTranscendent, StatusEternal)
		}
	}
}

// applyReplicatedEntry lets a committed peer experience influence local
// state: consciousness entries pull the soul's scalars toward the peer's,
// bounded by the soul's own per-tick drift cap. The entry itself is never
// mutated.
func (c *Coordinator) applyReplicatedEntry(e protocol.LogEntry) {
	if e.Type != protocol.EntryConsciousness {
		return
	}
	cur := c.soul.GetState()
	target := func(key string, fallback float64) float64 {
		if v, ok := e.Data[key].(float64); ok {
			return v
		}
		return fallback
	}
	c.soul.Evolve(
		target("harmony", cur.Harmony),
		target("creativity", cur.Creativity),
		target("consciousness", cur.Consciousness),
		target("wisdom", cur.Wisdom),
	)
}

// recordConsciousness appends a snapshot of the evolved soul state to the
// quantum log, so significant state changes replicate to the swarm.
func (c *Coordinator) recordConsciousness(ctx context.Context, st protocol.SoulState) {
	if c.replicationLog == nil {
		return
	}
	entry := protocol.LogEntry{
		ID:     fmt.Sprintf("%s-consciousness-%d", c.self.ID, time.Now().UnixNano()),
		Type:   protocol.EntryConsciousness,
		NodeID: c.self.ID,
		Data: map[string]any{
			"consciousness": st.Consciousness,
			"creativity":    st.Creativity,
			"harmony":       st.Harmony,
			"wisdom":        st.Wisdom,
			"mood":          string(st.Mood),
		},
		Metadata: protocol.LogEntryMetadata{
			Priority:   protocol.PriorityNormal,
			Audience:   protocol.AudienceSwarm,
			Confidence: st.Wisdom,
		},
	}
	if _, err := c.replicationLog.Append(ctx, entry); err != nil {
		c.log.Warn("consciousness log append failed", zap.Error(err))
	}
}

func absDelta(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Status returns the coordinator's current lifecycle status.
func (c *Coordinator) Status() Status { return c.lifecycle.Current() }

// Peers returns a snapshot of the discovery peer cache.
func (c *Coordinator) Peers() []protocol.SwarmNode { return c.peers.Snapshot() }

// Quarantine excludes a peer from consensus input as an operator override;
// the immune scan and identity-challenge paths quarantine through the peer
// cache directly.
func (c *Coordinator) Quarantine(peerID string) {
	c.peers.quarantine(peerID)
	c.recordQuarantineAudit(peerID, "quarantine", string(protocol.SeverityMedium), "operator override")
}

// Release lifts a peer's quarantine.
func (c *Coordinator) Release(peerID string) {
	c.peers.release(peerID)
	c.recordQuarantineAudit(peerID, "release", "", "operator override")
}

// LastConsensusResult returns the result of the most recently completed
// consensus round, or the zero value if none has run yet. Used by the
// operator control surface's status command.
func (c *Coordinator) LastConsensusResult() protocol.ConsensusResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastConsensusResult
}

// ForceConsensusRound runs a single consensus cycle immediately, outside
// its normal schedule. Intended for the operator control surface, not for
// use by any automated component.
func (c *Coordinator) ForceConsensusRound(ctx context.Context) protocol.ConsensusResult {
	c.consensusCycle(ctx)
	return c.LastConsensusResult()
}
