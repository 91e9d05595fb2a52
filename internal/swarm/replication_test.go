package swarm

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/seleneswarm/swarmcore/internal/fabric"
	"github.com/seleneswarm/swarmcore/internal/ports"
	"github.com/seleneswarm/swarmcore/internal/protocol"
	"github.com/seleneswarm/swarmcore/internal/replicationlog"
)

func openTestLog(t *testing.T, name string) *replicationlog.Log {
	t.Helper()
	l, err := replicationlog.Open(filepath.Join(t.TempDir(), name), ports.NewDeterministicVerifier(), 10)
	if err != nil {
		t.Fatalf("opening log: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestReplication_BatchReachesPeerLogAndAdvancesMatchIndex(t *testing.T) {
	f := fabric.New()
	defer f.Close()

	nodeA := protocol.NodeId{ID: "node-a"}
	nodeB := protocol.NodeId{ID: "node-b"}
	busA := protocol.NewBus(f, "repltest", nodeA, 2)
	busB := protocol.NewBus(f, "repltest", nodeB, 2)
	defer busA.Close()
	defer busB.Close()

	logA := openTestLog(t, "a.db")
	logB := openTestLog(t, "b.db")

	sender := newBusReplicationSender(busA, nodeA)
	newBusReplicationReceiver(busB, nodeB, logB, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go busA.Listen(ctx)
	go busB.Listen(ctx)
	time.Sleep(10 * time.Millisecond)

	logA.RegisterPeer("node-b")
	entry, err := logA.Append(ctx, protocol.LogEntry{
		ID:     "exp-1",
		Type:   protocol.EntryMemory,
		NodeID: "node-a",
		Data:   map[string]any{"text": "a shared memory"},
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	batchCtx, batchCancel := context.WithTimeout(ctx, 2*time.Second)
	defer batchCancel()
	if err := logA.ReplicateTo(batchCtx, "node-b", sender); err != nil {
		t.Fatalf("ReplicateTo failed: %v", err)
	}

	st, ok := logA.PeerState("node-b")
	if !ok || st.MatchIndex != entry.Index {
		t.Fatalf("expected match index %d for node-b, got %+v", entry.Index, st)
	}

	entries, err := logB.Entries()
	if err != nil {
		t.Fatalf("reading peer log: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "exp-1" {
		t.Fatalf("expected replicated entry exp-1 on the peer, got %+v", entries)
	}
}

func TestReplication_SenderFailsWhenNoPeerListens(t *testing.T) {
	f := fabric.New()
	defer f.Close()

	nodeA := protocol.NodeId{ID: "node-a"}
	busA := protocol.NewBus(f, "repltest", nodeA, 2)
	defer busA.Close()

	sender := newBusReplicationSender(busA, nodeA)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := sender.SendBatch(ctx, "node-ghost", []protocol.LogEntry{{ID: "exp-1"}})
	if err == nil {
		t.Fatalf("expected SendBatch to fail when no ack ever arrives")
	}
}
