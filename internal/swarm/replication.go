package swarm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seleneswarm/swarmcore/internal/protocol"
	"github.com/seleneswarm/swarmcore/internal/replicationlog"
)

// busReplicationSender implements replicationlog.ReplicationSender over the
// bus: one batch message to the target's inbox, one ack back, bounded by
// the caller's context. Acks are demuxed by batch id through the same
// pending-channel-map shape busVoteCollector uses.
type busReplicationSender struct {
	bus  *protocol.Bus
	self protocol.NodeId

	mu      sync.Mutex
	pending map[string]chan protocol.ReplicationAck
	counter atomic.Uint64
}

func newBusReplicationSender(bus *protocol.Bus, self protocol.NodeId) *busReplicationSender {
	s := &busReplicationSender{
		bus:     bus,
		self:    self,
		pending: make(map[string]chan protocol.ReplicationAck),
	}
	bus.On(protocol.MsgQuantumLogReplicationAck, s.handleAck)
	return s
}

func (s *busReplicationSender) handleAck(msg protocol.Message) {
	ack, ok := decodePayload[protocol.ReplicationAck](msg.Payload)
	if !ok {
		return
	}
	s.mu.Lock()
	ch, waiting := s.pending[ack.BatchID]
	s.mu.Unlock()
	if !waiting {
		return
	}
	select {
	case ch <- ack:
	default:
	}
}

// SendBatch delivers a batch to peer's inbox and blocks until the peer
// acks it or ctx expires. A rejected or missing ack is an error, flipping
// the peer's replication state to failed for the next heartbeat to retry.
func (s *busReplicationSender) SendBatch(ctx context.Context, peer string, entries []protocol.LogEntry) error {
	batchID := fmt.Sprintf("%s-batch-%d", s.self.ID, s.counter.Add(1))
	ch := make(chan protocol.ReplicationAck, 1)
	s.mu.Lock()
	s.pending[batchID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, batchID)
		s.mu.Unlock()
	}()

	msg := protocol.Message{
		ID:        batchID,
		Type:      protocol.MsgQuantumLogReplicationBatch,
		Source:    s.self,
		Timestamp: time.Now().UnixMilli(),
		TTL:       (30 * time.Second).Milliseconds(),
		Priority:  protocol.PriorityHigh,
		Payload:   protocol.ReplicationBatch{BatchID: batchID, Entries: entries},
	}
	if err := s.bus.Send(ctx, peer, msg); err != nil {
		return fmt.Errorf("swarm: sending replication batch to %s: %w", peer, err)
	}

	select {
	case ack := <-ch:
		if !ack.Accepted {
			return fmt.Errorf("swarm: peer %s rejected replication batch: %s", peer, ack.Reason)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("swarm: replication batch to %s: %w", peer, ctx.Err())
	}
}

// busReplicationReceiver applies incoming batches through the local log's
// receive path (integrity check, conflict detection, merge) and acks each
// batch back to its sender. onApplied, if set, observes every successfully
// applied entry; it must never mutate the entry.
type busReplicationReceiver struct {
	bus       *protocol.Bus
	self      protocol.NodeId
	log       *replicationlog.Log
	onApplied func(protocol.LogEntry)
}

func newBusReplicationReceiver(bus *protocol.Bus, self protocol.NodeId, log *replicationlog.Log, onApplied func(protocol.LogEntry)) *busReplicationReceiver {
	r := &busReplicationReceiver{bus: bus, self: self, log: log, onApplied: onApplied}
	bus.On(protocol.MsgQuantumLogReplicationBatch, r.handleBatch)
	return r
}

func (r *busReplicationReceiver) handleBatch(msg protocol.Message) {
	if msg.Source.ID == r.self.ID {
		return
	}
	batch, ok := decodePayload[protocol.ReplicationBatch](msg.Payload)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ack := protocol.ReplicationAck{BatchID: batch.BatchID, Peer: r.self.ID, Accepted: true}
	for _, e := range batch.Entries {
		applied, _, err := r.log.Receive(ctx, e, msg.Source.ID)
		if err != nil {
			ack.Accepted = false
			ack.Reason = err.Error()
			break
		}
		if r.onApplied != nil && applied.ID != "" {
			r.onApplied(applied)
		}
	}

	ackMsg := protocol.Message{
		ID:        fmt.Sprintf("%s-ack-%s", batch.BatchID, r.self.ID),
		Type:      protocol.MsgQuantumLogReplicationAck,
		Source:    r.self,
		Timestamp: time.Now().UnixMilli(),
		TTL:       (30 * time.Second).Milliseconds(),
		Priority:  protocol.PriorityHigh,
		Payload:   ack,
	}
	_ = r.bus.Send(ctx, msg.Source.ID, ackMsg)
}
