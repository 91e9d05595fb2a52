package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/seleneswarm/swarmcore/internal/consensus"
	"github.com/seleneswarm/swarmcore/internal/protocol"
)

// decodePayload recovers a concrete T from a Message.Payload that, once it
// has round-tripped through the bus's JSON envelope, always arrives as a
// map[string]interface{} rather than the type it was sent as.
func decodePayload[T any](payload interface{}) (T, bool) {
	var out T
	raw, err := json.Marshal(payload)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false
	}
	return out, true
}

// busVoteCollector implements consensus.VoteCollector by broadcasting a
// vote request on the bus and gathering signed responses addressed to this
// round's ConsensusID until the caller's timeout expires.
type busVoteCollector struct {
	bus  *protocol.Bus
	self protocol.NodeId

	mu      sync.Mutex
	pending map[string]chan protocol.ConsensusVoteResponse
}

func newBusVoteCollector(bus *protocol.Bus, self protocol.NodeId) *busVoteCollector {
	c := &busVoteCollector{
		bus:     bus,
		self:    self,
		pending: make(map[string]chan protocol.ConsensusVoteResponse),
	}
	bus.On(protocol.MsgSwarmConsensusVoteResponse, c.handleResponse)
	return c
}

func (c *busVoteCollector) handleResponse(msg protocol.Message) {
	resp, ok := decodePayload[protocol.ConsensusVoteResponse](msg.Payload)
	if !ok {
		return
	}
	c.mu.Lock()
	ch, waiting := c.pending[resp.ConsensusID]
	c.mu.Unlock()
	if !waiting {
		return
	}
	select {
	case ch <- resp:
	default: // caller's buffer is full or already returned; drop.
	}
}

// CollectVotes broadcasts req and blocks until timeout collecting
// responses tagged with req.ConsensusID.
func (c *busVoteCollector) CollectVotes(ctx context.Context, req protocol.ConsensusVoteRequest, timeout time.Duration) []protocol.ConsensusVoteResponse {
	ch := make(chan protocol.ConsensusVoteResponse, 64)
	c.mu.Lock()
	c.pending[req.ConsensusID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ConsensusID)
		c.mu.Unlock()
	}()

	msg := protocol.Message{
		ID:        req.ConsensusID,
		Type:      protocol.MsgSwarmConsensusVoteRequest,
		Source:    c.self,
		Timestamp: time.Now().UnixMilli(),
		TTL:       timeout.Milliseconds(),
		Priority:  protocol.PriorityHigh,
		Payload:   req,
	}
	_ = c.bus.Broadcast(ctx, msg)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var responses []protocol.ConsensusVoteResponse
	for {
		select {
		case r := <-ch:
			responses = append(responses, r)
		case <-deadline.C:
			return responses
		case <-ctx.Done():
			return responses
		}
	}
}

// busVoteResponder answers a peer's vote request by independently
// computing the same candidate from the request's shared metrics table —
// the step that makes agreement deterministic instead of rumor-based.
type busVoteResponder struct {
	bus  *protocol.Bus
	self protocol.NodeId
}

func newBusVoteResponder(bus *protocol.Bus, self protocol.NodeId) *busVoteResponder {
	r := &busVoteResponder{bus: bus, self: self}
	bus.On(protocol.MsgSwarmConsensusVoteRequest, r.handle)
	return r
}

func (r *busVoteResponder) handle(msg protocol.Message) {
	if msg.Source.ID == r.self.ID {
		return
	}
	req, ok := decodePayload[protocol.ConsensusVoteRequest](msg.Payload)
	if !ok {
		return
	}

	candidate := consensus.Candidate(req.NodeMetrics, r.self.ID)
	now := time.Now()
	resp := protocol.ConsensusVoteResponse{
		Voter:       r.self.ID,
		ConsensusID: req.ConsensusID,
		Candidate:   candidate,
		Signature:   consensus.VoteSignature(r.self.ID, candidate, now),
		Timestamp:   now,
	}
	respMsg := protocol.Message{
		ID:        fmt.Sprintf("%s-vote-%s", req.ConsensusID, r.self.ID),
		Type:      protocol.MsgSwarmConsensusVoteResponse,
		Source:    r.self,
		Timestamp: now.UnixMilli(),
		TTL:       (30 * time.Second).Milliseconds(),
		Priority:  protocol.PriorityHigh,
		Payload:   resp,
	}
	_ = r.bus.Broadcast(context.Background(), respMsg)
}
