// Package heartbeat implements the Vitals Publisher & Heartbeat pair:
// periodic liveness writes to the fabric, batched through a small
// write-behind buffer to reduce round trips.
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/seleneswarm/swarmcore/internal/fabric"
	"github.com/seleneswarm/swarmcore/internal/protocol"
)

// vitalsRecord is the value stored at swarm:vitals:<nodeId>.
type vitalsRecord struct {
	Vitals    protocol.Vitals `json:"vitals"`
	Timestamp time.Time       `json:"timestamp"`
}

// discoveryRecord is the richer value stored in the swarm hash, field
// <nodeId>, used for peer discovery.
type discoveryRecord struct {
	NodeID    protocol.NodeId   `json:"node_id"`
	Vitals    protocol.Vitals   `json:"vitals"`
	Soul      protocol.SoulState `json:"soul"`
	Timestamp time.Time         `json:"timestamp"`
}

// pendingWrite is one buffered heartbeat awaiting flush.
type pendingWrite struct {
	vitals protocol.Vitals
	soul   protocol.SoulState
	at     time.Time
}

// Publisher owns the write-behind buffer for one coordinator's heartbeat
// and vitals writes. Only this coordinator ever writes its own keys
// (single-writer).
type Publisher struct {
	fabric   fabric.Fabric
	prefix   string
	nodeID   protocol.NodeId
	interval time.Duration

	mu           sync.Mutex
	pending      []pendingWrite
	flushSize    int
	lastWritten  time.Time // monotonic ordering guard

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewPublisher creates a Publisher. interval is the heartbeat write period
// (the vitals key's TTL is 3x interval); flushSize bounds how many
// buffered writes accumulate before a size-triggered flush.
func NewPublisher(f fabric.Fabric, prefix string, nodeID protocol.NodeId, interval time.Duration, flushSize int) *Publisher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if flushSize <= 0 {
		flushSize = 4
	}
	return &Publisher{
		fabric:    f,
		prefix:    prefix,
		nodeID:    nodeID,
		interval:  interval,
		flushSize: flushSize,
		stop:      make(chan struct{}),
	}
}

// Publish enqueues one heartbeat write. Monotonic ordering is enforced: a
// write older than the last accepted timestamp for this node is dropped.
func (p *Publisher) Publish(vitals protocol.Vitals, soul protocol.SoulState) {
	now := time.Now()

	p.mu.Lock()
	if !p.lastWritten.IsZero() && !now.After(p.lastWritten) {
		p.mu.Unlock()
		return // out-of-order write for this node, dropped
	}
	p.lastWritten = now
	p.pending = append(p.pending, pendingWrite{vitals: vitals, soul: soul, at: now})
	shouldFlush := len(p.pending) >= p.flushSize
	p.mu.Unlock()

	if shouldFlush {
		p.Flush(context.Background())
	}
}

// Flush writes every buffered heartbeat to the fabric, newest-wins per
// key since readers only ever take the latest.
func (p *Publisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	latest := batch[len(batch)-1]

	vitalsKey := fmt.Sprintf("%s:vitals:%s", p.prefix, p.nodeID.ID)
	vitalsPayload, err := json.Marshal(vitalsRecord{Vitals: latest.vitals, Timestamp: latest.at})
	if err != nil {
		return err
	}
	if err := p.fabric.Set(ctx, vitalsKey, vitalsPayload, 3*p.interval); err != nil {
		return err
	}

	discovery := discoveryRecord{NodeID: p.nodeID, Vitals: latest.vitals, Soul: latest.soul, Timestamp: latest.at}
	discoveryPayload, err := json.Marshal(discovery)
	if err != nil {
		return err
	}
	return p.fabric.HSet(ctx, p.prefix, p.nodeID.ID, discoveryPayload)
}

// Run periodically flushes on interval until ctx is cancelled or Close is
// called, covering the case where Publish accumulates writes slower than
// flushSize.
func (p *Publisher) Run(ctx context.Context) {
	p.wg.Add(1)
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Flush(ctx)
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		}
	}
}

// Close stops Run and performs a final flush. Safe to call once.
func (p *Publisher) Close() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	p.wg.Wait()
	p.Flush(context.Background())
}

// ReadLatest reads the latest discovery record for nodeID.
func ReadLatest(ctx context.Context, f fabric.Fabric, prefix, nodeID string) (protocol.Heartbeat, bool, error) {
	raw, ok, err := f.HGet(ctx, prefix, nodeID)
	if err != nil || !ok {
		return protocol.Heartbeat{}, ok, err
	}
	var rec discoveryRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return protocol.Heartbeat{}, false, err
	}
	return protocol.Heartbeat{
		NodeID:    rec.NodeID,
		Timestamp: rec.Timestamp,
		Vitals:    rec.Vitals,
		Soul:      rec.Soul,
	}, true, nil
}
