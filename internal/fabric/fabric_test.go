package fabric

import (
	"context"
	"testing"
	"time"
)

func TestInMemory_SetGet_RoundTrips(t *testing.T) {
	f := New()
	defer f.Close()
	ctx := context.Background()

	if err := f.Set(ctx, "swarm:vitals:node-1", []byte("payload"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value, ok, err := f.Get(ctx, "swarm:vitals:node-1")
	if err != nil || !ok {
		t.Fatalf("expected value present, got ok=%v err=%v", ok, err)
	}
	if string(value) != "payload" {
		t.Fatalf("unexpected value: %s", value)
	}
}

func TestInMemory_Get_ExpiresAfterTTL(t *testing.T) {
	f := New()
	defer f.Close()
	ctx := context.Background()

	f.Set(ctx, "k", []byte("v"), 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok, _ := f.Get(ctx, "k")
	if ok {
		t.Fatalf("expected key to have expired")
	}
}

func TestInMemory_Keys_FiltersByPrefix(t *testing.T) {
	f := New()
	defer f.Close()
	ctx := context.Background()

	f.Set(ctx, "swarm:vitals:a", []byte("1"), 0)
	f.Set(ctx, "swarm:vitals:b", []byte("2"), 0)
	f.Set(ctx, "other:key", []byte("3"), 0)

	keys, err := f.Keys(ctx, "swarm:vitals:")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys with prefix, got %v", keys)
	}
}

func TestInMemory_HashOperations(t *testing.T) {
	f := New()
	defer f.Close()
	ctx := context.Background()

	f.HSet(ctx, "swarm", "node-1", []byte("hb1"))
	f.HSet(ctx, "swarm", "node-2", []byte("hb2"))

	v, ok, _ := f.HGet(ctx, "swarm", "node-1")
	if !ok || string(v) != "hb1" {
		t.Fatalf("unexpected HGet result: %s ok=%v", v, ok)
	}

	all, _ := f.HGetAll(ctx, "swarm")
	if len(all) != 2 {
		t.Fatalf("expected 2 hash fields, got %d", len(all))
	}

	f.HDelete(ctx, "swarm", "node-1")
	_, ok, _ = f.HGet(ctx, "swarm", "node-1")
	if ok {
		t.Fatalf("expected node-1 field to be deleted")
	}
}

func TestInMemory_PublishSubscribe_DeliversToActiveSubscriber(t *testing.T) {
	f := New()
	defer f.Close()
	ctx := context.Background()

	sub, err := f.Subscribe(ctx, "swarm:broadcast", 4)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	if err := f.Publish(ctx, "swarm:broadcast", []byte("hello")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-sub.C:
		if string(msg.Payload) != "hello" {
			t.Fatalf("unexpected payload: %s", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestInMemory_Publish_MissesSubscribersNotYetListening(t *testing.T) {
	f := New()
	defer f.Close()
	ctx := context.Background()

	if err := f.Publish(ctx, "swarm:broadcast", []byte("early")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	sub, _ := f.Subscribe(ctx, "swarm:broadcast", 4)
	defer sub.Unsubscribe()

	select {
	case msg := <-sub.C:
		t.Fatalf("did not expect a pre-subscription message, got %v", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestInMemory_Unsubscribe_StopsFurtherDelivery(t *testing.T) {
	f := New()
	defer f.Close()
	ctx := context.Background()

	sub, _ := f.Subscribe(ctx, "swarm:broadcast", 4)
	sub.Unsubscribe()

	if err := f.Publish(ctx, "swarm:broadcast", []byte("after-unsub")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg, open := <-sub.C:
		if open {
			t.Fatalf("unexpected delivery after unsubscribe: %v", msg)
		}
	case <-time.After(20 * time.Millisecond):
	}
}
