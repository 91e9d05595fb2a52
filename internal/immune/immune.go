// Package immune implements the Quantum Immune System: a continuous
// scan loop that derives a threat level from vitals, matches against
// historical memories, and applies severity-driven responses behind a
// circuit breaker.
//
// Severity derivation is a single weighted scalar crossed against fixed
// cutoffs, evaluated highest-first.
package immune

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/seleneswarm/swarmcore/internal/breaker"
	"github.com/seleneswarm/swarmcore/internal/budget"
	"github.com/seleneswarm/swarmcore/internal/protocol"
)

const (
	levelThreshold    = 0.6
	memoryMatchCutoff = 0.8

	maxAdaptationHistory = 3
	maxQuarantineZones   = 5
	maxThreatSignatures  = 20

	defaultQuarantineDuration = 5 * time.Minute
)

// severityCutoffs maps a threat level to its categorical severity,
// evaluated highest-first.
var severityCutoffs = []struct {
	min float64
	sev protocol.Severity
}{
	{0.9, protocol.SeverityCritical},
	{0.75, protocol.SeverityHigh},
	{0.6, protocol.SeverityMedium},
	{0, protocol.SeverityLow},
}

func severityFor(level float64) protocol.Severity {
	for _, c := range severityCutoffs {
		if level >= c.min {
			return c.sev
		}
	}
	return protocol.SeverityLow
}

// VitalsReading is the subset of a peer's vitals the immune scan reads.
type VitalsReading struct {
	PeerID        string
	CPULoad       float64
	MemoryPressure float64
	SystemLoad    float64
	Markers       []protocol.BehavioralMarker
}

// Options tune the scan loop; zero values fall back to the defaults
// above.
type Options struct {
	ThreatLevelThreshold float64       // scan cutoff, default 0.6
	MemoryMatchThreshold float64       // memory reuse cutoff, default 0.8
	QuarantineDuration   time.Duration // auto-release time, default 5m
}

// System owns the immune state: pre-loaded defenses, threat signatures,
// historical memories, and active quarantine zones.
type System struct {
	breaker *breaker.Breaker
	budget  *budget.Bucket

	levelThreshold     float64
	memoryMatch        float64
	quarantineDuration time.Duration

	mu         sync.Mutex
	memories   []protocol.ImmuneMemory
	signatures []protocol.ThreatSignature
	quarantine []protocol.QuarantineZone
	defenses   []protocol.AdaptiveDefense
}

// New creates a System with the three base defenses pre-loaded: Byzantine
// isolation, network rate limiting, data integrity verification. The
// bucket rate-limits response actions by cost; nil disables the limit.
func New(b *breaker.Breaker, bucket *budget.Bucket, opts Options) *System {
	if opts.ThreatLevelThreshold <= 0 {
		opts.ThreatLevelThreshold = levelThreshold
	}
	if opts.MemoryMatchThreshold <= 0 {
		opts.MemoryMatchThreshold = memoryMatchCutoff
	}
	if opts.QuarantineDuration <= 0 {
		opts.QuarantineDuration = defaultQuarantineDuration
	}
	return &System{
		breaker: b,
		budget:  bucket,
		levelThreshold:     opts.ThreatLevelThreshold,
		memoryMatch:        opts.MemoryMatchThreshold,
		quarantineDuration: opts.QuarantineDuration,
		defenses: []protocol.AdaptiveDefense{
			{
				Name:         "byzantine-isolation",
				Condition:    protocol.ActivationCondition{Kind: "threshold", Threshold: 0.75},
				Mechanism:    protocol.DefenseMechanism{Kind: protocol.MechanismReactive, Operation: protocol.OpQuarantine},
				LearningRate: 0.1,
				Effectiveness: 0.7,
			},
			{
				Name:         "network-rate-limiting",
				Condition:    protocol.ActivationCondition{Kind: "threshold", Threshold: 0.6},
				Mechanism:    protocol.DefenseMechanism{Kind: protocol.MechanismPreventive, Operation: protocol.OpBlock},
				LearningRate: 0.1,
				Effectiveness: 0.6,
			},
			{
				Name:         "data-integrity-verification",
				Condition:    protocol.ActivationCondition{Kind: "pattern", Threshold: 0.5},
				Mechanism:    protocol.DefenseMechanism{Kind: protocol.MechanismReactive, Operation: protocol.OpAnalyze},
				LearningRate: 0.05,
				Effectiveness: 0.65,
			},
		},
	}
}

// Scan runs one immune scan cycle over the given vitals readings, emitting
// DetectedThreat/ImmuneResponse pairs. Responses are wrapped by the
// breaker; when it is open, detection still runs but responses are
// skipped.
func (s *System) Scan(ctx context.Context, readings []VitalsReading) []protocol.ImmuneResponse {
	var responses []protocol.ImmuneResponse

	for _, r := range readings {
		level := (r.CPULoad + r.MemoryPressure + r.SystemLoad) / 3
		if level <= s.levelThreshold {
			continue
		}

		threat := protocol.DetectedThreat{
			ID:         fmt.Sprintf("threat-%s-%d", r.PeerID, time.Now().UnixNano()),
			PeerID:     r.PeerID,
			Class:      classify(r),
			Level:      level,
			Severity:   severityFor(level),
			DetectedAt: time.Now(),
			Markers:    r.Markers,
		}

		resp, ok := s.respond(ctx, threat)
		if ok {
			responses = append(responses, resp)
		}
	}

	return responses
}

func classify(r VitalsReading) protocol.ThreatClass {
	switch {
	case r.SystemLoad > r.CPULoad && r.SystemLoad > r.MemoryPressure:
		return protocol.ThreatNetworkAnomaly
	case r.MemoryPressure > r.CPULoad:
		return protocol.ThreatResourceAbuse
	default:
		return protocol.ThreatResourceAbuse
	}
}

func (s *System) respond(ctx context.Context, threat protocol.DetectedThreat) (protocol.ImmuneResponse, bool) {
	if match, ok := s.matchMemory(threat); ok {
		resp, applied := s.applyResponse(ctx, threat, match.Response.Action)
		if applied {
			s.reinforce(match.ThreatID, resp)
		}
		return resp, applied
	}

	action := responseFor(threat.Severity)
	resp, applied := s.applyResponse(ctx, threat, action)
	if applied {
		s.remember(threat, resp)
	}
	return resp, applied
}

func responseFor(sev protocol.Severity) protocol.ResponseAction {
	switch sev {
	case protocol.SeverityCritical:
		return protocol.ActionIsolation
	case protocol.SeverityHigh:
		return protocol.ActionNeutralization
	case protocol.SeverityMedium:
		return protocol.ActionAdaptation
	default:
		return protocol.ActionObservation
	}
}

func (s *System) applyResponse(ctx context.Context, threat protocol.DetectedThreat, action protocol.ResponseAction) (protocol.ImmuneResponse, bool) {
	if s.budget != nil && !s.budget.ConsumeForAction(action) {
		return protocol.ImmuneResponse{}, false // budget exhausted; deferred to a later scan
	}

	var resp protocol.ImmuneResponse
	err := s.breaker.Execute(ctx, func(context.Context) error {
		resp = protocol.ImmuneResponse{
			ID:        fmt.Sprintf("response-%s", threat.ID),
			ThreatID:  threat.ID,
			Action:    action,
			Confidence: 0.75,
			AppliedAt: time.Now(),
		}
		if action == protocol.ActionIsolation {
			s.quarantinePeer(threat.PeerID, threat.ID, "critical threat isolation")
		}
		return nil
	})
	if err != nil {
		return protocol.ImmuneResponse{}, false // breaker open; scan keeps running
	}
	return resp, true
}

// matchMemory computes similarity between threat's markers and each stored
// memory's markers; a match at >= 0.8 returns the best historical
// ImmuneResponse.
func (s *System) matchMemory(threat protocol.DetectedThreat) (protocol.ImmuneMemory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best protocol.ImmuneMemory
	bestScore := 0.0
	found := false
	for _, m := range s.memories {
		score := similarity(threat.Markers, m.Markers)
		if score >= s.memoryMatch && score > bestScore {
			best, bestScore, found = m, score, true
		}
	}
	return best, found
}

func similarity(a, b []protocol.BehavioralMarker) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	byName := make(map[string]protocol.BehavioralMarker, len(b))
	for _, m := range b {
		byName[m.Name] = m
	}

	total := 0.0
	matched := 0
	for _, m := range a {
		other, ok := byName[m.Name]
		if !ok {
			continue
		}
		matched++
		diff := m.Value - other.Value
		if diff < 0 {
			diff = -diff
		}
		total += 1 - diff
	}
	if matched == 0 {
		return 0
	}
	return total / float64(matched)
}

// reinforce appends the applied action to an existing memory's adaptation
// history, capped at maxAdaptationHistory (oldest entries dropped first).
func (s *System) reinforce(threatID string, resp protocol.ImmuneResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.memories {
		if m.ThreatID != threatID {
			continue
		}
		history := append(m.AdaptationHistory, string(resp.Action))
		if len(history) > maxAdaptationHistory {
			history = history[len(history)-maxAdaptationHistory:]
		}
		s.memories[i].AdaptationHistory = history
		return
	}
}

func (s *System) remember(threat protocol.DetectedThreat, resp protocol.ImmuneResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mem := protocol.ImmuneMemory{
		ThreatID:          threat.ID,
		Class:             threat.Class,
		Markers:           threat.Markers,
		Response:          resp,
		AdaptationHistory: []string{string(resp.Action)},
	}
	s.memories = append(s.memories, mem)
}

// quarantinePeer isolates peerID until the default release deadline,
// capping active zones at maxQuarantineZones (oldest evicted first).
func (s *System) quarantinePeer(peerID, threatID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.quarantine) >= maxQuarantineZones {
		s.quarantine = s.quarantine[1:]
	}
	s.quarantine = append(s.quarantine, protocol.QuarantineZone{
		PeerID:        peerID,
		ThreatID:      threatID,
		QuarantinedAt: time.Now(),
		ReleaseAt:     time.Now().Add(s.quarantineDuration),
		Reason:        reason,
	})
}

// RegisterSignature adds a known ThreatSignature to the catalog, capped at
// maxThreatSignatures (oldest evicted first).
func (s *System) RegisterSignature(sig protocol.ThreatSignature) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.signatures) >= maxThreatSignatures {
		s.signatures = s.signatures[1:]
	}
	s.signatures = append(s.signatures, sig)
}

// Signatures returns a snapshot of the registered ThreatSignature catalog.
func (s *System) Signatures() []protocol.ThreatSignature {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.ThreatSignature, len(s.signatures))
	copy(out, s.signatures)
	return out
}

// IsQuarantined reports whether peerID is currently isolated from
// consensus/replication.
func (s *System) IsQuarantined(peerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, z := range s.quarantine {
		if z.PeerID == peerID && now.Before(z.ReleaseAt) {
			return true
		}
	}
	return false
}

// QuarantineZones returns a snapshot of all currently active zones.
func (s *System) QuarantineZones() []protocol.QuarantineZone {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var active []protocol.QuarantineZone
	for _, z := range s.quarantine {
		if now.Before(z.ReleaseAt) {
			active = append(active, z)
		}
	}
	return active
}

// Memories returns a snapshot of stored ImmuneMemory records.
func (s *System) Memories() []protocol.ImmuneMemory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.ImmuneMemory, len(s.memories))
	copy(out, s.memories)
	return out
}

// Defenses returns the current adaptive defense roster.
func (s *System) Defenses() []protocol.AdaptiveDefense {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.AdaptiveDefense, len(s.defenses))
	copy(out, s.defenses)
	return out
}
