// Package species implements SPECIES-ID: a six-step challenge that
// proves a peer is a legitimate coordinator, backed by a pending-promise-
// per-challenge map rather than accumulating subscriber handlers.
package species

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/seleneswarm/swarmcore/internal/fabric"
	"github.com/seleneswarm/swarmcore/internal/heartbeat"
	"github.com/seleneswarm/swarmcore/internal/ports"
	"github.com/seleneswarm/swarmcore/internal/protocol"
	"github.com/seleneswarm/swarmcore/internal/soul"
)

const defaultConfidenceThreshold = 0.85

// Challenge is the step-2 payload a challenger publishes.
type Challenge struct {
	ChallengeID   string    `json:"challengeId"`
	ChallengerID  string    `json:"challengerId"`
	Timestamp     time.Time `json:"timestamp"`
	Required      string    `json:"required"`
}

// Response is the step-3 payload a peer replies with.
type Response struct {
	NodeID        string                  `json:"nodeId"`
	ChallengeID   string                  `json:"challengeId"`
	SoulState     protocol.SoulState      `json:"soulState"`
	SoulSignature protocol.SoulSignature  `json:"soulSignature"`
	Timestamp     time.Time               `json:"timestamp"`
}

// Verdict is the outcome of a completed challenge.
type Verdict struct {
	PeerID     string
	Accepted   bool
	Reason     string
	Confidence float64
}

// Challenger issues SPECIES-ID challenges against peers.
type Challenger struct {
	fabric     fabric.Fabric
	prefix     string
	self       protocol.NodeId
	verifier   ports.RuleVerifier
	timeout    time.Duration
	confidence float64

	mu      sync.Mutex
	pending map[string]chan Response
	counter uint64
}

// NewChallenger creates a Challenger. timeout defaults to 5s, confidence
// to 0.85 when zero.
func NewChallenger(f fabric.Fabric, prefix string, self protocol.NodeId, verifier ports.RuleVerifier, timeout time.Duration, confidence float64) *Challenger {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if confidence <= 0 {
		confidence = defaultConfidenceThreshold
	}
	return &Challenger{
		fabric:     f,
		prefix:     prefix,
		self:       self,
		verifier:   verifier,
		timeout:    timeout,
		confidence: confidence,
		pending:    make(map[string]chan Response),
	}
}

// Listen subscribes to this challenger's response channel and routes
// replies to the matching pending promise. Blocks until ctx is cancelled.
func (c *Challenger) Listen(ctx context.Context) error {
	sub, err := c.fabric.Subscribe(ctx, fmt.Sprintf("%s:response:%s", c.prefix, c.self.ID), 64)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		select {
		case msg := <-sub.C:
			var resp Response
			if err := json.Unmarshal(msg.Payload, &resp); err != nil {
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[resp.ChallengeID]
			c.mu.Unlock()
			if ok {
				select {
				case ch <- resp:
				default:
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Challenge executes the full six-step protocol against peerID.
func (c *Challenger) Challenge(ctx context.Context, peerID string) Verdict {
	// Step 1: peer has a valid heartbeat entry.
	hb, ok, err := heartbeat.ReadLatest(ctx, c.fabric, c.prefix, peerID)
	if err != nil || !ok {
		return Verdict{PeerID: peerID, Accepted: false, Reason: "no valid heartbeat entry"}
	}
	_ = hb

	challengeID := c.nextID()
	respCh := make(chan Response, 1)
	c.mu.Lock()
	c.pending[challengeID] = respCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, challengeID)
		c.mu.Unlock()
	}()

	// Step 2: publish the challenge.
	challenge := Challenge{
		ChallengeID:  challengeID,
		ChallengerID: c.self.ID,
		Timestamp:    time.Now(),
		Required:     "digital-soul-signature",
	}
	raw, err := json.Marshal(challenge)
	if err != nil {
		return Verdict{PeerID: peerID, Accepted: false, Reason: "failed to encode challenge"}
	}
	if err := c.fabric.Publish(ctx, fmt.Sprintf("%s:challenge:%s", c.prefix, peerID), raw); err != nil {
		return Verdict{PeerID: peerID, Accepted: false, Reason: "failed to publish challenge"}
	}

	// Step 3: wait for a bounded response.
	var resp Response
	select {
	case resp = <-respCh:
	case <-time.After(c.timeout):
		return Verdict{PeerID: peerID, Accepted: false, Reason: "challenge timed out"}
	case <-ctx.Done():
		return Verdict{PeerID: peerID, Accepted: false, Reason: "context cancelled"}
	}

	// Step 4: signature stability + timestamp window.
	node := protocol.NodeId{ID: resp.NodeID}
	if !soul.Verify(node, resp.SoulState, resp.SoulSignature) {
		return Verdict{PeerID: peerID, Accepted: false, Reason: "soul signature does not verify"}
	}
	now := time.Now()
	if resp.SoulSignature.Timestamp.Before(now.Add(-30*time.Second)) || resp.SoulSignature.Timestamp.After(now.Add(500*time.Millisecond)) {
		return Verdict{PeerID: peerID, Accepted: false, Reason: "signature timestamp outside acceptance window"}
	}

	// Step 5: soul state schema validity.
	if !validSoulState(resp.SoulState) {
		return Verdict{PeerID: peerID, Accepted: false, Reason: "soul state fails schema validation"}
	}

	// Step 6: cryptographic integrity port verification + data integrity.
	claimVerification := c.verifier.VerifyClaim(ports.Claim{
		Claim:               fmt.Sprintf("node %s is a legitimate coordinator", resp.NodeID),
		Source:              resp.NodeID,
		ConfidenceThreshold: c.confidence,
	})
	if !claimVerification.Verified {
		return Verdict{PeerID: peerID, Accepted: false, Reason: claimVerification.Reason, Confidence: claimVerification.Confidence}
	}

	respPayload, _ := json.Marshal(resp)
	integrity := c.verifier.VerifyDataIntegrity(respPayload, "species-response", challengeID)
	if !integrity.IsValid {
		return Verdict{PeerID: peerID, Accepted: false, Reason: "response data integrity check failed"}
	}

	return Verdict{PeerID: peerID, Accepted: true, Reason: "verified", Confidence: claimVerification.Confidence}
}

func (c *Challenger) nextID() string {
	c.mu.Lock()
	c.counter++
	id := fmt.Sprintf("%s-challenge-%d", c.self.ID, c.counter)
	c.mu.Unlock()
	return id
}

func validSoulState(st protocol.SoulState) bool {
	for _, v := range []float64{st.Consciousness, st.Creativity, st.Harmony, st.Wisdom} {
		if v < 0 || v > 1 {
			return false
		}
	}
	switch st.Mood {
	case protocol.MoodSerene, protocol.MoodCurious, protocol.MoodRestless, protocol.MoodMelancholic, protocol.MoodJoyful, protocol.MoodContemplative:
		return true
	default:
		return false
	}
}

// Responder answers SPECIES-ID challenges addressed to one coordinator.
type Responder struct {
	fabric fabric.Fabric
	prefix string
	self   protocol.NodeId
	soul   *soul.Soul
}

// NewResponder creates a Responder for self, signing with soul.
func NewResponder(f fabric.Fabric, prefix string, self protocol.NodeId, s *soul.Soul) *Responder {
	return &Responder{fabric: f, prefix: prefix, self: self, soul: s}
}

// Listen subscribes to this node's challenge channel and replies to every
// incoming Challenge. Blocks until ctx is cancelled.
func (r *Responder) Listen(ctx context.Context) error {
	sub, err := r.fabric.Subscribe(ctx, fmt.Sprintf("%s:challenge:%s", r.prefix, r.self.ID), 64)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		select {
		case msg := <-sub.C:
			var challenge Challenge
			if err := json.Unmarshal(msg.Payload, &challenge); err != nil {
				continue
			}
			r.respond(ctx, challenge)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Responder) respond(ctx context.Context, challenge Challenge) {
	state := r.soul.GetState()
	now := time.Now()
	sig := r.soul.Sign(now)

	resp := Response{
		NodeID:        r.self.ID,
		ChallengeID:   challenge.ChallengeID,
		SoulState:     state,
		SoulSignature: sig,
		Timestamp:     now,
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	r.fabric.Publish(ctx, fmt.Sprintf("%s:response:%s", r.prefix, challenge.ChallengerID), raw)
}
