// Package consensus implements the harmonic consensus engine: a
// quorum-protected leader election over a shared metrics snapshot, with
// signature-verified votes and a "musical" chord projection consumed by the
// MusicalSink.
//
// Every voter computes its vote from the same shared metrics table carried
// in the vote request, so a majority is deterministic given the same
// inputs. Quorum is floor(n/2)+1 over the known set including self,
// re-evaluated fresh each round.
package consensus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/seleneswarm/swarmcore/internal/protocol"
)

const (
	healthWeightCPU         = 0.4
	healthWeightMemory      = 0.3
	healthWeightConnections = 0.1
	healthWeightLatency     = 0.1
	healthWeightErrorRate   = 0.1

	minHealthScore = 0.1

	finalScoreHealthWeight = 0.7
	finalScoreBeautyWeight = 0.3

	defaultVoteTimeout        = 10 * time.Second
	defaultCacheTTL           = 60 * time.Second
	defaultConsensusThreshold = 0.51

	minHarmonyFloor   = 0.3
	minStabilityFloor = 0.2
)

// RoundState is the state machine for one consensus round.
type RoundState string

const (
	StateIdle             RoundState = "idle"
	StateCollectingMetrics RoundState = "collecting_metrics"
	StateVoting           RoundState = "voting"
	StateTallying         RoundState = "tallying"
	StateCommitted        RoundState = "committed"
	StateReadOnly         RoundState = "read_only"
)

// SelfMetrics is the raw input used to compute self's health_score.
type SelfMetrics struct {
	CPU         float64
	Memory      float64
	Connections int
	LatencyMs   float64
	ErrorRate   float64 // errors per unit time, unbounded
}

// HealthScore weighs cpu, memory, connections, latency, and error rate
// into one [0,1] scalar.
func (m SelfMetrics) HealthScore() float64 {
	score := healthWeightCPU*(1-clamp01(m.CPU)) +
		healthWeightMemory*(1-clamp01(m.Memory)) +
		healthWeightConnections*math.Min(float64(m.Connections)/100, 1) +
		healthWeightLatency*math.Max(0, 1-m.LatencyMs/1000) +
		healthWeightErrorRate*(1-math.Min(m.ErrorRate/10, 1))
	return clamp01(score)
}

// PeerHealthScore blends a peer's cached Vitals.Load and categorical health
// 0.5/0.5. Missing data yields the 0.1 floor, never a fabricated score.
func PeerHealthScore(v protocol.Vitals, hasData bool) float64 {
	if !hasData {
		return minHealthScore
	}
	loadScore := 1 - clamp01((v.Load.CPU+v.Load.Memory+v.Load.Network+v.Load.Storage)/4)
	categorical := healthLevelScore(v.Health)
	score := 0.5*loadScore + 0.5*categorical
	if score < minHealthScore {
		return minHealthScore
	}
	return score
}

func healthLevelScore(h protocol.HealthLevel) float64 {
	switch h {
	case protocol.HealthOptimal:
		return 1.0
	case protocol.HealthHealthy:
		return 0.8
	case protocol.HealthWarning:
		return 0.5
	case protocol.HealthCritical:
		return 0.2
	case protocol.HealthFailing:
		return 0.05
	default:
		return minHealthScore
	}
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

// FinalScore combines health and beauty 0.7/0.3.
func FinalScore(healthScore, beautyFactor float64) float64 {
	return finalScoreHealthWeight*healthScore + finalScoreBeautyWeight*beautyFactor
}

// VoteSignature recomputes sha256("vote:"+voter+":"+candidate+":"+timestamp).
func VoteSignature(voter, candidate string, timestamp time.Time) string {
	payload := fmt.Sprintf("vote:%s:%s:%s", voter, candidate, timestamp.UTC().Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// VerifyVote reports whether resp's signature matches its claimed voter,
// candidate, and timestamp.
func VerifyVote(resp protocol.ConsensusVoteResponse) bool {
	return VoteSignature(resp.Voter, resp.Candidate, resp.Timestamp) == resp.Signature
}

// VoteCollector gathers verified votes within a bounded window.
type VoteCollector interface {
	CollectVotes(ctx context.Context, req protocol.ConsensusVoteRequest, timeout time.Duration) []protocol.ConsensusVoteResponse
}

// HealthChecker reports a candidate's live health score, used to validate
// the tallied winner before committing.
type HealthChecker interface {
	LiveHealthScore(nodeID string) (float64, bool)
}

// Engine runs one Harmonic Consensus round at a time and caches the result.
type Engine struct {
	self      protocol.NodeId
	votes     VoteCollector
	health    HealthChecker
	cacheTTL  time.Duration
	timeout   time.Duration
	threshold float64 // consensus_threshold: minimum approval rate, on top of quorum

	mu           sync.Mutex
	cached       *protocol.ConsensusResult
	cachedAt     time.Time
	knownNodeSet string
}

// NewEngine creates an Engine. cacheTTL defaults to 60s, voteTimeout to 10s,
// threshold (consensus_threshold) defaults to 0.51.
func NewEngine(self protocol.NodeId, votes VoteCollector, health HealthChecker, cacheTTL, voteTimeout time.Duration, threshold float64) *Engine {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	if voteTimeout <= 0 {
		voteTimeout = defaultVoteTimeout
	}
	if threshold <= 0 {
		threshold = defaultConsensusThreshold
	}
	return &Engine{self: self, votes: votes, health: health, cacheTTL: cacheTTL, timeout: voteTimeout, threshold: threshold}
}

// SelfSignals carries the raw telemetry behind step 7's musical projection:
// vitals/stress/harmony are not part of SharedMetric (which only carries the
// composite scores every voter must agree on), so they are supplied
// separately by the caller at round time.
type SelfSignals struct {
	Vitals  protocol.Vitals
	Signs   protocol.VitalSigns
	Capacity float64 // [0,1], e.g. 1 - average queue/backlog pressure
}

// Run executes one consensus round (or returns the cached result if the
// known-nodes set is unchanged and the cache has not expired).
func (e *Engine) Run(ctx context.Context, knownNodes []protocol.NodeId, metrics map[string]protocol.SharedMetric, signals SelfSignals) protocol.ConsensusResult {
	nodeSetKey := fingerprintNodes(knownNodes)

	e.mu.Lock()
	if e.cached != nil && nodeSetKey == e.knownNodeSet && time.Since(e.cachedAt) < e.cacheTTL {
		cached := *e.cached
		e.mu.Unlock()
		return cached
	}
	e.mu.Unlock()

	result := e.runRound(ctx, knownNodes, metrics, signals)

	e.mu.Lock()
	e.cached = &result
	e.cachedAt = time.Now()
	e.knownNodeSet = nodeSetKey
	e.mu.Unlock()

	return result
}

func fingerprintNodes(nodes []protocol.NodeId) string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)
	key := ""
	for _, id := range ids {
		key += id + ","
	}
	return key
}

func (e *Engine) runRound(ctx context.Context, knownNodes []protocol.NodeId, metrics map[string]protocol.SharedMetric, signals SelfSignals) protocol.ConsensusResult {
	n := len(knownNodes) + 1
	quorumSize := n/2 + 1

	// Step 2: cast own vote on the highest final_score, ties broken by
	// ascending NodeId.
	candidate := highestScoring(metrics, e.self.ID)

	// Step 3/4: broadcast request, collect signed responses.
	req := protocol.ConsensusVoteRequest{
		ConsensusID: fmt.Sprintf("consensus-%d", time.Now().UnixNano()),
		Requester:   e.self,
		KnownNodes:  knownNodes,
		NodeMetrics: metrics,
		Timestamp:   time.Now(),
	}
	var responses []protocol.ConsensusVoteResponse
	if e.votes != nil {
		responses = e.votes.CollectVotes(ctx, req, e.timeout)
	}

	tally := make(map[string]int)
	verified := 0
	tally[candidate]++ // self always counts its own vote
	verified++
	for _, r := range responses {
		if r.Voter == e.self.ID {
			continue // avoid double counting if self's own vote echoes back
		}
		if !VerifyVote(r) {
			continue
		}
		tally[r.Candidate]++
		verified++
	}

	// Step 5: quorum check, pick the most-voted candidate.
	quorumAchieved := verified >= quorumSize
	if !quorumAchieved {
		return readOnlyResult(n, quorumSize, verified)
	}
	winner := mostVoted(tally)

	// consensus_threshold gate: quorum alone is not sufficient for
	// consensus_achieved — the winner must also carry a minimum share of
	// the verified votes. Quorum WAS reached, so this is not the
	// read-only fallback: read_only_mode stays false and the musical
	// projection still reflects live signals.
	approvalRate := float64(tally[winner]) / float64(verified)
	if approvalRate < e.threshold {
		note := dominantNote(n)
		return protocol.ConsensusResult{
			Leader:            winner,
			IsLeaderSelf:      winner == e.self.ID,
			TotalNodes:        n,
			ConsensusAchieved: false,
			QuorumAchieved:    true,
			QuorumSize:        quorumSize,
			VotesReceived:     verified,
			ReadOnlyMode:      false,
			DominantNote:      note,
			FrequencyHz:       noteFrequency(note),
			HarmonicScore:     harmonicScoreFor(signals),
			ChordStability:    chordStabilityFor(signals),
			Rationale:         "quorum reached but approval rate below consensus_threshold",
			Timestamp:         time.Now(),
		}
	}

	// Step 6: validate winner's live health; fall back to best local
	// final_score if stale/unhealthy.
	if e.health != nil {
		if score, ok := e.health.LiveHealthScore(winner); !ok || score < 0.5 {
			winner = candidate
		}
	}

	// Step 7: musical projection.
	note := dominantNote(n)
	harmonicScore := harmonicScoreFor(signals)
	chordStability := chordStabilityFor(signals)

	return protocol.ConsensusResult{
		Leader:            winner,
		IsLeaderSelf:      winner == e.self.ID,
		TotalNodes:        n,
		ConsensusAchieved: quorumAchieved,
		QuorumAchieved:    quorumAchieved,
		QuorumSize:        quorumSize,
		VotesReceived:     verified,
		ReadOnlyMode:      false,
		DominantNote:      note,
		FrequencyHz:       noteFrequency(note),
		HarmonicScore:     harmonicScore,
		ChordStability:    chordStability,
		Rationale:         "quorum reached, winner validated against live health",
		Timestamp:         time.Now(),
	}
}

func readOnlyResult(n, quorumSize, votes int) protocol.ConsensusResult {
	return protocol.ConsensusResult{
		Leader:            "no-leader",
		TotalNodes:        n,
		ConsensusAchieved: false,
		QuorumAchieved:    false,
		QuorumSize:        quorumSize,
		VotesReceived:     votes,
		ReadOnlyMode:      true,
		HarmonicScore:     0,
		Rationale:         "quorum not reached within the collection window",
		Timestamp:         time.Now(),
	}
}

// Candidate exposes the step-2 candidate pick so every voter — not only the
// round's initiator — can compute the same vote from the same shared
// metrics table.
func Candidate(metrics map[string]protocol.SharedMetric, selfID string) string {
	return highestScoring(metrics, selfID)
}

func highestScoring(metrics map[string]protocol.SharedMetric, selfID string) string {
	best := selfID
	bestScore := -1.0
	ids := make([]string, 0, len(metrics))
	for id := range metrics {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic ascending-id tie-break
	for _, id := range ids {
		m := metrics[id]
		if m.FinalScore > bestScore {
			best = id
			bestScore = m.FinalScore
		}
	}
	return best
}

func mostVoted(tally map[string]int) string {
	best := ""
	bestVotes := -1
	ids := make([]string, 0, len(tally))
	for id := range tally {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if tally[id] > bestVotes {
			best = id
			bestVotes = tally[id]
		}
	}
	return best
}

// noteFrequency maps each solfège note to its equal-tempered pitch in the
// fourth octave (DO = middle C).
func noteFrequency(note protocol.MusicalNote) float64 {
	switch note {
	case protocol.NoteDo:
		return 261.63
	case protocol.NoteRe:
		return 293.66
	case protocol.NoteMi:
		return 329.63
	case protocol.NoteFa:
		return 349.23
	case protocol.NoteSol:
		return 392.00
	case protocol.NoteLa:
		return 440.00
	case protocol.NoteSi:
		return 493.88
	default:
		return 0
	}
}

func dominantNote(n int) protocol.MusicalNote {
	switch n {
	case 1:
		return protocol.NoteDo
	case 2:
		return protocol.NoteSol
	case 3:
		return protocol.NoteMi
	case 4:
		return protocol.NoteFa
	case 5:
		return protocol.NoteLa
	case 6:
		return protocol.NoteRe
	default:
		return protocol.NoteSi
	}
}

const baseConsonance = 0.9

// harmonicScoreFor: base consonance x vitals health x (1-stress) x harmony x capacity.
func harmonicScoreFor(s SelfSignals) float64 {
	health := healthLevelScore(s.Vitals.Health)
	score := baseConsonance * health * (1 - clamp01(s.Signs.Stress)) * clamp01(s.Signs.Harmony) * clamp01(s.Capacity)
	if score < minHarmonyFloor {
		return minHarmonyFloor
	}
	return score
}

// chordStabilityFor: base consonance x health x (1-stress) x network
// stability x connection factor x cpu/mem stability.
func chordStabilityFor(s SelfSignals) float64 {
	health := healthLevelScore(s.Vitals.Health)
	networkStability := 1 - clamp01(s.Vitals.Load.Network)
	connectionFactor := math.Min(float64(s.Vitals.Connections)/100, 1)
	cpuMemStability := 1 - (clamp01(s.Vitals.Load.CPU)+clamp01(s.Vitals.Load.Memory))/2

	score := baseConsonance * health * (1 - clamp01(s.Signs.Stress)) * networkStability * connectionFactor * cpuMemStability
	if score < minStabilityFloor {
		return minStabilityFloor
	}
	return score
}
