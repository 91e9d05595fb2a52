package soul

import (
	"testing"
	"time"

	"github.com/seleneswarm/swarmcore/internal/protocol"
)

func testNode() protocol.NodeId {
	return protocol.NodeId{ID: "node-1", Birth: time.Unix(0, 0)}
}

func TestSoul_Evolve_NeverJumpsBeyondMaxDrift(t *testing.T) {
	s := New(testNode())
	before := s.GetState()

	after := s.Evolve(1.0, 1.0, 1.0, 1.0)

	if after.Harmony-before.Harmony > maxDrift+1e-9 {
		t.Fatalf("harmony jumped by more than maxDrift: %f -> %f", before.Harmony, after.Harmony)
	}
	if after.Creativity-before.Creativity > maxDrift+1e-9 {
		t.Fatalf("creativity jumped by more than maxDrift: %f -> %f", before.Creativity, after.Creativity)
	}
}

func TestSoul_Evolve_ConvergesTowardTargetOverManyTicks(t *testing.T) {
	s := New(testNode())
	var final protocol.SoulState
	for i := 0; i < 100; i++ {
		final = s.Evolve(0.9, 0.1, 0.9, 0.1)
	}
	if final.Harmony < 0.85 {
		t.Fatalf("expected harmony to converge near target 0.9, got %f", final.Harmony)
	}
	if final.Creativity > 0.15 {
		t.Fatalf("expected creativity to converge near target 0.1, got %f", final.Creativity)
	}
}

func TestSoul_Evolve_ScalarsStayWithinUnitInterval(t *testing.T) {
	s := New(testNode())
	for i := 0; i < 50; i++ {
		st := s.Evolve(-5, -5, 5, 5)
		if st.Harmony < 0 || st.Harmony > 1 {
			t.Fatalf("harmony out of bounds: %f", st.Harmony)
		}
		if st.Consciousness < 0 || st.Consciousness > 1 {
			t.Fatalf("consciousness out of bounds: %f", st.Consciousness)
		}
	}
}

func TestSign_IsDeterministicForSameInputs(t *testing.T) {
	node := testNode()
	st := protocol.SoulState{Consciousness: 0.5, Creativity: 0.5, Harmony: 0.5, Wisdom: 0.5, Mood: protocol.MoodSerene}
	at := time.Unix(1000, 0)

	a := Sign(node, st, at)
	b := Sign(node, st, at)
	if a.Hash != b.Hash {
		t.Fatalf("expected identical signatures for identical inputs, got %s vs %s", a.Hash, b.Hash)
	}
}

func TestSign_DiffersAcrossTimestamps(t *testing.T) {
	node := testNode()
	st := protocol.SoulState{Consciousness: 0.5, Creativity: 0.5, Harmony: 0.5, Wisdom: 0.5, Mood: protocol.MoodSerene}

	a := Sign(node, st, time.Unix(1000, 0))
	b := Sign(node, st, time.Unix(1001, 0))
	if a.Hash == b.Hash {
		t.Fatalf("expected signatures to differ when timestamp differs, preventing replay")
	}
}

func TestVerify_AcceptsGenuineSignatureRejectsTampered(t *testing.T) {
	node := testNode()
	st := protocol.SoulState{Consciousness: 0.4, Creativity: 0.6, Harmony: 0.7, Wisdom: 0.3, Mood: protocol.MoodCurious}
	sig := Sign(node, st, time.Unix(2000, 0))

	if !Verify(node, st, sig) {
		t.Fatalf("expected genuine signature to verify")
	}

	tampered := st
	tampered.Harmony = 0.99
	if Verify(node, tampered, sig) {
		t.Fatalf("expected tampered state to fail verification")
	}
}

func TestSoul_Dream_IsDeterministicForSameTickAndState(t *testing.T) {
	s1 := New(testNode())
	s2 := New(testNode())

	if s1.Dream() != s2.Dream() {
		t.Fatalf("expected identical fresh souls to dream identically")
	}

	s1.Evolve(0.9, 0.9, 0.9, 0.9)
	s2.Evolve(0.9, 0.9, 0.9, 0.9)
	if s1.Dream() != s2.Dream() {
		t.Fatalf("expected souls evolved identically to dream identically")
	}
}
