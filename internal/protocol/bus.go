package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/seleneswarm/swarmcore/internal/fabric"
)

// Handler processes one delivered Message. A panicking handler is
// recovered by the Bus and must never affect any other handler.
type Handler func(Message)

// Bus implements the unified message protocol over a fabric.Fabric:
// typed handler registration, TTL-bounded delivery, at-most-once dedup by
// id, and worker-pool dispatch so one slow handler cannot starve the
// others.
type Bus struct {
	fabric fabric.Fabric
	prefix string
	nodeID NodeId

	mu       sync.RWMutex
	handlers map[MessageType][]Handler

	dedupMu sync.Mutex
	dedup   map[string]time.Time // id -> expiry, for 5x-max-ttl dedup

	work chan Message
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewBus creates a Bus with the given fabric, key prefix, owning node
// identity, and worker pool size. Callers must call Listen to start
// receiving broadcast and inbox traffic.
func NewBus(f fabric.Fabric, prefix string, nodeID NodeId, workers int) *Bus {
	if workers <= 0 {
		workers = 4
	}
	b := &Bus{
		fabric:   f,
		prefix:   prefix,
		nodeID:   nodeID,
		handlers: make(map[MessageType][]Handler),
		dedup:    make(map[string]time.Time),
		work:     make(chan Message, 256),
		stop:     make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.workerLoop()
	}
	b.wg.Add(1)
	go b.dedupSweepLoop()
	return b
}

// On registers a handler for a MessageType. Multiple handlers per type are
// all invoked; a handler's panic never prevents sibling handlers from
// running.
func (b *Bus) On(t MessageType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// BroadcastChannel is the well-known channel every peer reads.
func (b *Bus) BroadcastChannel() string { return fmt.Sprintf("%s:broadcast", b.prefix) }

// InboxChannel is one target node's private channel.
func (b *Bus) InboxChannel(nodeID string) string { return fmt.Sprintf("%s:inbox:%s", b.prefix, nodeID) }

// Broadcast publishes msg on the well-known broadcast channel.
func (b *Bus) Broadcast(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.fabric.Publish(ctx, b.BroadcastChannel(), raw)
}

// Send publishes msg on target's private inbox channel.
func (b *Bus) Send(ctx context.Context, target string, msg Message) error {
	msg.Target = &Target{ID: target}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.fabric.Publish(ctx, b.InboxChannel(target), raw)
}

// Listen subscribes to the broadcast channel and this node's own inbox,
// feeding every received Message through deliver. Blocks until ctx is
// cancelled or Close is called.
func (b *Bus) Listen(ctx context.Context) error {
	broadcastSub, err := b.fabric.Subscribe(ctx, b.BroadcastChannel(), 256)
	if err != nil {
		return err
	}
	defer broadcastSub.Unsubscribe()

	inboxSub, err := b.fabric.Subscribe(ctx, b.InboxChannel(b.nodeID.ID), 256)
	if err != nil {
		return err
	}
	defer inboxSub.Unsubscribe()

	for {
		select {
		case raw := <-broadcastSub.C:
			b.decodeAndDeliver(raw.Payload)
		case raw := <-inboxSub.C:
			b.decodeAndDeliver(raw.Payload)
		case <-ctx.Done():
			return ctx.Err()
		case <-b.stop:
			return nil
		}
	}
}

func (b *Bus) decodeAndDeliver(raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	b.deliver(msg)
}

func (b *Bus) workerLoop() {
	defer b.wg.Done()
	for {
		select {
		case msg := <-b.work:
			b.dispatch(msg)
		case <-b.stop:
			return
		}
	}
}

// dispatch invokes every registered handler for msg.Type, isolating
// panics per handler.
func (b *Bus) dispatch(msg Message) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[msg.Type]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		func(h Handler) {
			defer func() { _ = recover() }()
			h(msg)
		}(h)
	}
}

// deliver is the entry point for a message arriving off the fabric. It
// validates TTL and dedups by id before enqueueing for worker dispatch.
func (b *Bus) deliver(msg Message) {
	now := time.Now().UnixMilli()
	if msg.TTL > 0 && now-msg.Timestamp > msg.TTL {
		return // stale message, dropped silently
	}

	dedupWindow := 5 * time.Duration(msg.TTL) * time.Millisecond
	if dedupWindow <= 0 {
		dedupWindow = time.Minute
	}

	b.dedupMu.Lock()
	if expiry, ok := b.dedup[msg.ID]; ok && time.Now().Before(expiry) {
		b.dedupMu.Unlock()
		return // duplicate within the 5x max-ttl dedup window
	}
	b.dedup[msg.ID] = time.Now().Add(dedupWindow)
	b.dedupMu.Unlock()

	select {
	case b.work <- msg:
	default:
		// worker pool saturated; drop rather than block the receive loop.
	}
}

func (b *Bus) dedupSweepLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			b.dedupMu.Lock()
			for id, expiry := range b.dedup {
				if now.After(expiry) {
					delete(b.dedup, id)
				}
			}
			b.dedupMu.Unlock()
		case <-b.stop:
			return
		}
	}
}

// Close stops the worker pool and listen loop. Safe to call once.
func (b *Bus) Close() {
	select {
	case <-b.stop:
	default:
		close(b.stop)
	}
	b.wg.Wait()
}
