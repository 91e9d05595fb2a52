// Package soul implements the Digital Soul: four slowly-evolving
// scalars and a categorical mood, plus the deterministic soul signature
// used as a tiebreaker and identity input elsewhere in the coordinator.
//
// The signature hash marshals a canonical representation, sha256s it, and
// hex-encodes the digest; the timestamp is committed inside the hash so a
// signature cannot be replayed across time.
package soul

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/seleneswarm/swarmcore/internal/protocol"
)

// maxDrift bounds how far any scalar may move in a single tick. The soul
// never jumps; it only drifts.
const maxDrift = 0.03

// Soul owns one coordinator's slowly-evolving scalar state.
type Soul struct {
	mu     sync.Mutex
	nodeID protocol.NodeId
	state  protocol.SoulState
	tick   uint64
}

// New creates a Soul seeded at a neutral midpoint state.
func New(nodeID protocol.NodeId) *Soul {
	return &Soul{
		nodeID: nodeID,
		state: protocol.SoulState{
			Consciousness: 0.5,
			Creativity:    0.5,
			Harmony:       0.5,
			Wisdom:        0.5,
			Mood:          protocol.MoodContemplative,
		},
	}
}

// GetState returns a copy of the current soul state.
func (s *Soul) GetState() protocol.SoulState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Evolve advances the soul by one tick, drifting each scalar toward the
// given target signals by at most maxDrift, then recomputes mood.
// Targets are drawn from VitalSigns and consensus outcomes by the caller;
// Evolve itself never introduces randomness.
func (s *Soul) Evolve(targetHarmony, targetCreativity, targetConsciousness, targetWisdom float64) protocol.SoulState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Harmony = driftToward(s.state.Harmony, targetHarmony)
	s.state.Creativity = driftToward(s.state.Creativity, targetCreativity)
	s.state.Consciousness = driftToward(s.state.Consciousness, targetConsciousness)
	s.state.Wisdom = driftToward(s.state.Wisdom, targetWisdom)
	s.state.Mood = deriveMood(s.state)
	s.tick++

	return s.state
}

func driftToward(current, target float64) float64 {
	delta := target - current
	if delta > maxDrift {
		delta = maxDrift
	}
	if delta < -maxDrift {
		delta = -maxDrift
	}
	return clamp01(current + delta)
}

// deriveMood maps the four scalars onto a categorical mood. Thresholds are
// deliberately simple and deterministic: same state always yields the same
// mood.
func deriveMood(st protocol.SoulState) protocol.Mood {
	switch {
	case st.Harmony >= 0.75 && st.Consciousness >= 0.6:
		return protocol.MoodJoyful
	case st.Creativity >= 0.75:
		return protocol.MoodCurious
	case st.Wisdom >= 0.75 && st.Harmony < 0.5:
		return protocol.MoodContemplative
	case st.Harmony < 0.3:
		return protocol.MoodMelancholic
	case st.Consciousness < 0.3:
		return protocol.MoodRestless
	default:
		return protocol.MoodSerene
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

// signaturePayload is the canonical, field-ordered representation hashed
// into a SoulSignature. Field order is fixed by struct declaration order,
// matching encoding/json's deterministic marshal of struct types.
type signaturePayload struct {
	NodeID        string  `json:"node_id"`
	Timestamp     int64   `json:"timestamp"`
	Consciousness float64 `json:"consciousness"`
	Creativity    float64 `json:"creativity"`
	Harmony       float64 `json:"harmony"`
	Wisdom        float64 `json:"wisdom"`
	Mood          string  `json:"mood"`
}

// Sign computes the deterministic soul signature for the current state at
// the given timestamp. The timestamp is folded into the hash so a replayed
// signature cannot be presented at a different time as if freshly signed.
func (s *Soul) Sign(at time.Time) protocol.SoulSignature {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()

	return Sign(s.nodeID, st, at)
}

// Sign computes a soul signature for an arbitrary (nodeID, state, timestamp)
// triple, independent of any live Soul instance. Used for verifying a
// signature presented by a peer.
func Sign(nodeID protocol.NodeId, st protocol.SoulState, at time.Time) protocol.SoulSignature {
	payload := signaturePayload{
		NodeID:        nodeID.ID,
		Timestamp:     at.UnixNano(),
		Consciousness: st.Consciousness,
		Creativity:    st.Creativity,
		Harmony:       st.Harmony,
		Wisdom:        st.Wisdom,
		Mood:          string(st.Mood),
	}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return protocol.SoulSignature{
		Hash:      hex.EncodeToString(sum[:]),
		Timestamp: at,
	}
}

// Verify reports whether sig matches the signature that would be computed
// for (nodeID, st, sig.Timestamp).
func Verify(nodeID protocol.NodeId, st protocol.SoulState, sig protocol.SoulSignature) bool {
	expected := Sign(nodeID, st, sig.Timestamp)
	return expected.Hash == sig.Hash
}

// dreamVerses are short deterministic lines selected by state and seed.
// A real poetry surface would route through PoetryPort; this is the
// always-available fallback used when no port is wired.
var dreamVerses = [...]string{
	"the lattice hums a single steady note",
	"quiet consensus gathers like dusk",
	"a signature folds into tomorrow's hash",
	"peers drift, the chord still holds",
	"wisdom accrues one small drift at a time",
	"harmony is a shape, not a destination",
	"the swarm dreams in sha256 and silence",
	"creativity spends itself and is repaid",
}

// Dream returns a short deterministic verse derived from the current state
// and a rotating seed (the tick counter). Calling Dream does not advance
// the tick; only Evolve does.
func (s *Soul) Dream() string {
	s.mu.Lock()
	st := s.state
	seed := s.tick
	s.mu.Unlock()

	idx := verseIndex(st, seed)
	return fmt.Sprintf("%s (%s)", dreamVerses[idx], st.Mood)
}

func verseIndex(st protocol.SoulState, seed uint64) int {
	scalarSum := st.Consciousness + st.Creativity + st.Harmony + st.Wisdom
	weighted := uint64(scalarSum*1000) + seed
	return int(weighted % uint64(len(dreamVerses)))
}
