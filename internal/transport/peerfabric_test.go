package transport

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seleneswarm/swarmcore/internal/fabric"
)

func TestPeerFabric_Publish_NoPeersStillReachesLocalSubscribers(t *testing.T) {
	local := fabric.New()
	_, priv := mustKeypair(t)
	pf := NewPeerFabric(local, "node-a", priv, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := pf.Subscribe(ctx, "swarm:test", 4)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := pf.Publish(ctx, "swarm:test", []byte("hi")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-sub.C:
		if string(msg.Payload) != "hi" {
			t.Fatalf("expected payload hi, got %q", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected local subscriber to receive the publish")
	}
}

func TestPeerFabric_Dispatch_RepublishesIntoLocalFabric(t *testing.T) {
	local := fabric.New()
	_, priv := mustKeypair(t)
	pf := NewPeerFabric(local, "node-a", priv, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := pf.Subscribe(ctx, "swarm:inbound", 4)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	pf.Dispatch("swarm:inbound", []byte("from-peer"))

	select {
	case msg := <-sub.C:
		if string(msg.Payload) != "from-peer" {
			t.Fatalf("expected payload from-peer, got %q", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected dispatched envelope to reach local subscriber")
	}
}

func TestPeerFabric_RemovePeer_UnknownPeerIsNoop(t *testing.T) {
	local := fabric.New()
	_, priv := mustKeypair(t)
	pf := NewPeerFabric(local, "node-a", priv, zap.NewNop())

	pf.RemovePeer("ghost") // must not panic
}

func TestPeerFabric_KVOperations_DelegateToEmbeddedFabric(t *testing.T) {
	local := fabric.New()
	_, priv := mustKeypair(t)
	pf := NewPeerFabric(local, "node-a", priv, zap.NewNop())

	ctx := context.Background()
	if err := pf.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, ok, err := pf.Get(ctx, "k")
	if err != nil || !ok || string(val) != "v" {
		t.Fatalf("expected to read back value through the decorator, got val=%q ok=%v err=%v", val, ok, err)
	}
}
