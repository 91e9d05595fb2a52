package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Identity is a node's transport-layer Ed25519 keypair, independent of its
// SPECIES-ID soul signature: soul signatures prove behavioral continuity
// between heartbeats, this keypair proves which node put an envelope on
// the wire.
type Identity struct {
	NodeID     string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateIdentity creates a fresh Ed25519 keypair for nodeID.
func GenerateIdentity(nodeID string) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate transport identity: %w", err)
	}
	return &Identity{NodeID: nodeID, PublicKey: pub, PrivateKey: priv}, nil
}

// EncodePublicKey renders a public key as hex, the form exchanged out of
// band when operators add a peer to each other's trusted set.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

// DecodePublicKey parses a hex-encoded Ed25519 public key.
func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has wrong length: got %d, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// TrustedPeerSet builds the node-id -> public-key map Server and PeerFabric
// verification needs from a flat list of hex-encoded peer entries.
func TrustedPeerSet(entries map[string]string) (map[string]ed25519.PublicKey, error) {
	out := make(map[string]ed25519.PublicKey, len(entries))
	for nodeID, hexKey := range entries {
		pub, err := DecodePublicKey(hexKey)
		if err != nil {
			return nil, fmt.Errorf("peer %s: %w", nodeID, err)
		}
		out[nodeID] = pub
	}
	return out, nil
}
