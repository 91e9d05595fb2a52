package replicationlog

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/seleneswarm/swarmcore/internal/ports"
	"github.com/seleneswarm/swarmcore/internal/protocol"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quantum.db")
	l, err := Open(path, ports.NewDeterministicVerifier(), 10)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func memoryEntry(id string) protocol.LogEntry {
	return protocol.LogEntry{
		ID:     id,
		Type:   protocol.EntryMemory,
		NodeID: "node-1",
		Data:   map[string]any{"text": "a memory"},
	}
}

func TestLog_Append_AssignsMonotonicIndex(t *testing.T) {
	l := newTestLog(t)

	first, err := l.Append(context.Background(), memoryEntry("e1"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	second, err := l.Append(context.Background(), memoryEntry("e2"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if second.Index != first.Index+1 {
		t.Fatalf("expected monotonic index, got %d then %d", first.Index, second.Index)
	}
	if first.Checksum == "" {
		t.Fatalf("expected non-empty checksum on append")
	}
}

func TestLog_Append_NilDataStillPassesIntegrityCheck(t *testing.T) {
	l := newTestLog(t)
	e := memoryEntry("e-nil")
	e.Data = nil

	// A nil map marshals to "null" (non-empty bytes), so the integrity
	// verifier's empty-payload rejection does not trigger here.
	if _, err := l.Append(context.Background(), e); err != nil {
		t.Fatalf("nil Data should still marshal non-empty and pass: %v", err)
	}
}

func TestLog_Entries_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quantum.db")
	verifier := ports.NewDeterministicVerifier()

	l1, err := Open(path, verifier, 10)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := l1.Append(context.Background(), memoryEntry("persisted")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	l1.Close()

	l2, err := Open(path, verifier, 10)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer l2.Close()

	entries, err := l2.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "persisted" {
		t.Fatalf("expected persisted entry to survive reopen, got %+v", entries)
	}

	next, err := l2.Append(context.Background(), memoryEntry("after-reopen"))
	if err != nil {
		t.Fatalf("Append after reopen failed: %v", err)
	}
	if next.Index != entries[0].Index+1 {
		t.Fatalf("expected index sequence to continue after reopen, got %d", next.Index)
	}
}

type fakeSender struct {
	sent [][]protocol.LogEntry
	err  error
}

func (f *fakeSender) SendBatch(ctx context.Context, peer string, entries []protocol.LogEntry) error {
	f.sent = append(f.sent, entries)
	return f.err
}

func TestLog_ReplicateTo_AdvancesMatchIndexOnSuccess(t *testing.T) {
	l := newTestLog(t)
	l.RegisterPeer("peer-a")

	if _, err := l.Append(context.Background(), memoryEntry("e1")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	sender := &fakeSender{}
	if err := l.ReplicateTo(context.Background(), "peer-a", sender); err != nil {
		t.Fatalf("ReplicateTo failed: %v", err)
	}

	st, ok := l.PeerState("peer-a")
	if !ok {
		t.Fatalf("expected peer state to exist")
	}
	if st.Status != protocol.ReplReplicated {
		t.Fatalf("expected replicated status, got %s", st.Status)
	}
	if len(sender.sent) != 1 || len(sender.sent[0]) != 1 {
		t.Fatalf("expected exactly one batch of one entry sent, got %+v", sender.sent)
	}
}

func TestLog_ReplicateTo_CapsBatchAtMaxBatchSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quantum.db")
	l, err := Open(path, ports.NewDeterministicVerifier(), 2)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer l.Close()
	l.RegisterPeer("peer-a")

	for i := 0; i < 5; i++ {
		if _, err := l.Append(context.Background(), memoryEntry(nthEntryID(i))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	sender := &fakeSender{}
	if err := l.ReplicateTo(context.Background(), "peer-a", sender); err != nil {
		t.Fatalf("ReplicateTo failed: %v", err)
	}
	if len(sender.sent[0]) != 2 {
		t.Fatalf("expected batch capped at 2 entries, got %d", len(sender.sent[0]))
	}
}

func nthEntryID(i int) string {
	return "entry-" + string(rune('a'+i))
}

func TestLog_ReplicateTo_FailureFlipsStatusToFailed(t *testing.T) {
	l := newTestLog(t)
	l.RegisterPeer("peer-a")
	if _, err := l.Append(context.Background(), memoryEntry("e1")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	sender := &fakeSender{err: context.DeadlineExceeded}
	if err := l.ReplicateTo(context.Background(), "peer-a", sender); err == nil {
		t.Fatalf("expected ReplicateTo to propagate sender failure")
	}

	st, _ := l.PeerState("peer-a")
	if st.Status != protocol.ReplFailed {
		t.Fatalf("expected failed status after send error, got %s", st.Status)
	}
}

func TestLog_AdvanceCommitIndex_RequiresMajority(t *testing.T) {
	l := newTestLog(t)
	l.RegisterPeer("peer-a")
	l.RegisterPeer("peer-b")

	e, err := l.Append(context.Background(), memoryEntry("e1"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	sender := &fakeSender{}
	if err := l.ReplicateTo(context.Background(), "peer-a", sender); err != nil {
		t.Fatalf("ReplicateTo failed: %v", err)
	}

	// Only self + peer-a have matched; with 3 voters (self, peer-a, peer-b)
	// majority is 2, so commit index should advance.
	commit := l.AdvanceCommitIndex()
	if commit != e.Index {
		t.Fatalf("expected commit index to advance to %d with 2/3 majority, got %d", e.Index, commit)
	}
}

func TestDetectConflict_DuplicateIDDifferingChecksumIsContentConflict(t *testing.T) {
	l := newTestLog(t)
	local := []protocol.LogEntry{{ID: "dup", Checksum: "aaa"}}
	remote := protocol.LogEntry{ID: "dup", Checksum: "bbb"}

	conflict, found := l.DetectConflict(remote, local)
	if !found || conflict.Kind != protocol.ConflictContent || conflict.Resolution != "keep_local" {
		t.Fatalf("expected content conflict with keep_local resolution, got %+v found=%v", conflict, found)
	}
	if conflict.Confidence != 0.7 {
		t.Fatalf("expected confidence 0.7, got %f", conflict.Confidence)
	}
}

func TestDetectConflict_SamePositionDifferentIDIsOrderingConflict(t *testing.T) {
	l := newTestLog(t)
	local := []protocol.LogEntry{{ID: "local-1", Term: 1, Index: 5}}
	remote := protocol.LogEntry{ID: "remote-1", Term: 1, Index: 5}

	conflict, found := l.DetectConflict(remote, local)
	if !found || conflict.Kind != protocol.ConflictOrdering || conflict.Resolution != "merge" {
		t.Fatalf("expected ordering conflict with merge resolution, got %+v found=%v", conflict, found)
	}
}

func TestDetectConflict_MissingDependencyIsDependencyConflict(t *testing.T) {
	l := newTestLog(t)
	remote := protocol.LogEntry{ID: "remote-1", Dependencies: []string{"ghost"}}

	conflict, found := l.DetectConflict(remote, nil)
	if !found || conflict.Kind != protocol.ConflictDependency || conflict.Resolution != "reject_both" {
		t.Fatalf("expected dependency conflict with reject_both resolution, got %+v found=%v", conflict, found)
	}
	if conflict.Confidence != 0.8 {
		t.Fatalf("expected confidence 0.8, got %f", conflict.Confidence)
	}
}

func TestDetectConflict_NoConflictWhenDisjoint(t *testing.T) {
	l := newTestLog(t)
	local := []protocol.LogEntry{{ID: "local-1", Term: 1, Index: 1}}
	remote := protocol.LogEntry{ID: "remote-1", Term: 1, Index: 2}

	if _, found := l.DetectConflict(remote, local); found {
		t.Fatalf("expected no conflict between disjoint entries")
	}
}

func TestMerge_MemoryUnionsThemesAndAveragesConfidence(t *testing.T) {
	local := protocol.LogEntry{
		Type: protocol.EntryMemory,
		Data: map[string]any{"text": "local"},
		Metadata: protocol.LogEntryMetadata{
			Themes:     []string{"joy"},
			Emotions:   []string{"calm"},
			Confidence: 0.4,
		},
	}
	remote := protocol.LogEntry{
		Type: protocol.EntryMemory,
		Data: map[string]any{"extra": "remote"},
		Metadata: protocol.LogEntryMetadata{
			Themes:     []string{"joy", "wonder"},
			Emotions:   []string{"awe"},
			Confidence: 0.8,
		},
	}

	merged := Merge(local, remote)
	if math.Abs(merged.Metadata.Confidence-0.6) > 1e-9 {
		t.Fatalf("expected averaged confidence 0.6, got %f", merged.Metadata.Confidence)
	}
	if len(merged.Metadata.Themes) != 2 {
		t.Fatalf("expected union of themes to have 2 entries, got %v", merged.Metadata.Themes)
	}
}

func TestMerge_DreamConcatenatesVersesAndElevatesPriority(t *testing.T) {
	local := protocol.LogEntry{
		Type: protocol.EntryDream,
		Data: map[string]any{"verses": "stars fall", "intensity": 0.3},
	}
	remote := protocol.LogEntry{
		Type: protocol.EntryDream,
		Data: map[string]any{"verses": "silence grows", "intensity": 0.9},
	}

	merged := Merge(local, remote)
	if merged.Metadata.Priority != protocol.PriorityCritical {
		t.Fatalf("expected elevated priority to critical, got %s", merged.Metadata.Priority)
	}
	if merged.Data["intensity"].(float64) != 0.9 {
		t.Fatalf("expected max intensity preserved, got %v", merged.Data["intensity"])
	}
}

func TestMerge_ConsciousnessAveragesScalarsAndKeepsLocalMood(t *testing.T) {
	local := protocol.LogEntry{
		Type: protocol.EntryConsciousness,
		Data: map[string]any{"harmony": 0.2, "mood": "serene"},
	}
	remote := protocol.LogEntry{
		Type: protocol.EntryConsciousness,
		Data: map[string]any{"harmony": 0.8, "mood": "restless"},
	}

	merged := Merge(local, remote)
	if merged.Data["harmony"].(float64) != 0.5 {
		t.Fatalf("expected averaged scalar 0.5, got %v", merged.Data["harmony"])
	}
	if merged.Data["mood"] != "serene" {
		t.Fatalf("expected local mood kept, got %v", merged.Data["mood"])
	}
}

func TestLog_Receive_OrderingConflictMergesAndKeepsBothOriginals(t *testing.T) {
	l := newTestLog(t)

	local := memoryEntry("entry-a")
	local.Metadata.Emotions = []string{"calm"}
	local.Metadata.Confidence = 0.4
	local, err := l.Append(context.Background(), local)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	remote := memoryEntry("entry-b")
	remote.Term, remote.Index = local.Term, local.Index // same slot, different id
	remote.Data = map[string]any{"text": "a contending memory"}
	remote.Metadata.Emotions = []string{"awe"}
	remote.Metadata.Confidence = 0.8
	remote.Checksum = Checksum(remote.Data)

	applied, conflict, err := l.Receive(context.Background(), remote, "peer-a")
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if conflict == nil || conflict.Kind != protocol.ConflictOrdering {
		t.Fatalf("expected an ordering conflict, got %+v", conflict)
	}
	if applied.ID == "entry-a" || applied.ID == "entry-b" {
		t.Fatalf("expected merged entry under a fresh id, got %s", applied.ID)
	}
	if len(applied.Metadata.Emotions) != 2 {
		t.Fatalf("expected union of emotions, got %v", applied.Metadata.Emotions)
	}
	if math.Abs(applied.Metadata.Confidence-0.6) > 1e-9 {
		t.Fatalf("expected mean confidence 0.6, got %f", applied.Metadata.Confidence)
	}

	entries, err := l.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	byID := make(map[string]bool, len(entries))
	for _, e := range entries {
		byID[e.ID] = true
	}
	for _, id := range []string{"entry-a", "entry-b", applied.ID} {
		if !byID[id] {
			t.Fatalf("expected %s to remain in history, have %v", id, byID)
		}
	}
}

func TestLog_Receive_AppliesNonConflictingRemoteEntry(t *testing.T) {
	l := newTestLog(t)
	remote := memoryEntry("remote-1")
	remote.Term, remote.Index = 0, 0
	remote.Checksum = Checksum(remote.Data)

	applied, conflict, err := l.Receive(context.Background(), remote, "peer-a")
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if conflict != nil {
		t.Fatalf("expected no conflict for a fresh entry, got %+v", conflict)
	}
	if applied.ID != "remote-1" {
		t.Fatalf("expected applied entry id remote-1, got %s", applied.ID)
	}
}
