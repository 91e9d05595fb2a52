package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

func mustKeypair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func TestEnvelope_SignAndVerify_RoundTrips(t *testing.T) {
	pub, priv := mustKeypair(t)
	trusted := map[string]ed25519.PublicKey{"node-a": pub}

	env := newEnvelope("node-a", "swarm:heartbeat", []byte("payload"), priv)

	ok, reason := verify(env, trusted, 30*time.Second)
	if !ok {
		t.Fatalf("expected verify to succeed, got rejection %q", reason)
	}
}

func TestEnvelope_Verify_RejectsStaleTimestamp(t *testing.T) {
	pub, priv := mustKeypair(t)
	trusted := map[string]ed25519.PublicKey{"node-a": pub}

	env := newEnvelope("node-a", "swarm:heartbeat", []byte("payload"), priv)
	env.TimestampUnixNs = time.Now().Add(-time.Hour).UnixNano()
	sign(env, priv) // re-sign so only the staleness check can fail it

	ok, reason := verify(env, trusted, 30*time.Second)
	if ok || reason != "timestamp_stale" {
		t.Fatalf("expected timestamp_stale rejection, got ok=%v reason=%q", ok, reason)
	}
}

func TestEnvelope_Verify_RejectsUnknownPeer(t *testing.T) {
	_, priv := mustKeypair(t)
	env := newEnvelope("node-a", "swarm:heartbeat", []byte("payload"), priv)

	ok, reason := verify(env, map[string]ed25519.PublicKey{}, 30*time.Second)
	if ok || reason != "peer_unknown" {
		t.Fatalf("expected peer_unknown rejection, got ok=%v reason=%q", ok, reason)
	}
}

func TestEnvelope_Verify_RejectsTamperedPayload(t *testing.T) {
	pub, priv := mustKeypair(t)
	trusted := map[string]ed25519.PublicKey{"node-a": pub}

	env := newEnvelope("node-a", "swarm:heartbeat", []byte("payload"), priv)
	env.Payload = []byte("tampered")

	ok, reason := verify(env, trusted, 30*time.Second)
	if ok || reason != "signature_invalid" {
		t.Fatalf("expected signature_invalid rejection, got ok=%v reason=%q", ok, reason)
	}
}

func TestEnvelope_Verify_RejectsWrongSigningKey(t *testing.T) {
	pubA, _ := mustKeypair(t)
	_, privB := mustKeypair(t)
	trusted := map[string]ed25519.PublicKey{"node-a": pubA}

	// node-a's envelope signed with a different node's key.
	env := newEnvelope("node-a", "swarm:heartbeat", []byte("payload"), privB)

	ok, reason := verify(env, trusted, 30*time.Second)
	if ok || reason != "signature_invalid" {
		t.Fatalf("expected signature_invalid rejection, got ok=%v reason=%q", ok, reason)
	}
}
