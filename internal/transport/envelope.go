package transport

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"time"
)

// Envelope is the wire record exchanged between peers: a signed, timestamped
// wrapper around one Fabric.Publish call's channel and raw payload bytes.
// The payload itself is opaque to transport, same as fabric.Fabric's own
// contract — it is usually a JSON-encoded protocol.Message.
type Envelope struct {
	NodeID          string `json:"node_id"`
	Channel         string `json:"channel"`
	Payload         []byte `json:"payload"`
	TimestampUnixNs int64  `json:"timestamp_unix_ns"`
	Signature       []byte `json:"signature"`
}

// Ack is Relay's response.
type Ack struct {
	Accepted        bool   `json:"accepted"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// signatureMessage builds the canonical byte sequence signed by the sender
// and verified by the receiver: node_id || timestamp (8 LE) || channel ||
// payload.
func signatureMessage(env *Envelope) []byte {
	var buf []byte
	buf = append(buf, []byte(env.NodeID)...)
	ts := make([]byte, 8)
	binary.LittleEndian.PutUint64(ts, uint64(env.TimestampUnixNs))
	buf = append(buf, ts...)
	buf = append(buf, []byte(env.Channel)...)
	buf = append(buf, env.Payload...)
	return buf
}

// sign populates env.Signature in place using priv.
func sign(env *Envelope, priv ed25519.PrivateKey) {
	env.Signature = ed25519.Sign(priv, signatureMessage(env))
}

// verify checks timestamp freshness, trusted-peer membership, and the
// Ed25519 signature, in that order, so a stale or untrusted envelope is
// rejected before spending a signature verification.
func verify(env *Envelope, trustedPeers map[string]ed25519.PublicKey, ttl time.Duration) (bool, string) {
	envTime := time.Unix(0, env.TimestampUnixNs)
	age := time.Since(envTime)
	if age > ttl || age < -5*time.Second {
		return false, "timestamp_stale"
	}

	pubKey, trusted := trustedPeers[env.NodeID]
	if !trusted {
		return false, "peer_unknown"
	}

	if !ed25519.Verify(pubKey, signatureMessage(env), env.Signature) {
		return false, "signature_invalid"
	}
	return true, ""
}

func newEnvelope(self string, channel string, payload []byte, priv ed25519.PrivateKey) *Envelope {
	env := &Envelope{
		NodeID:          self,
		Channel:         channel,
		Payload:         append([]byte(nil), payload...),
		TimestampUnixNs: time.Now().UnixNano(),
	}
	sign(env, priv)
	return env
}

func (e Envelope) String() string {
	return fmt.Sprintf("Envelope{node=%s channel=%s bytes=%d}", e.NodeID, e.Channel, len(e.Payload))
}
