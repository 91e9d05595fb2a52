// Package replicationlog implements Quantum Log Replication: a
// per-coordinator append-only log of committed experience, replicated to
// peers in bounded batches and durably persisted with bbolt.
//
// Bucket layout: one bucket per concern, JSON values, sortable keys
// (term+index, zero-padded) so a bucket cursor walk is already in apply
// order.
package replicationlog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/seleneswarm/swarmcore/internal/ports"
	"github.com/seleneswarm/swarmcore/internal/protocol"
)

const (
	bucketEntries = "log_entries"
	bucketMeta    = "log_meta"

	// DefaultMaxBatchSize bounds entries sent per replication batch.
	DefaultMaxBatchSize = 10
)

// entryKey is a sortable bbolt key: zero-padded term, then index.
func entryKey(term, index uint64) []byte {
	return []byte(fmt.Sprintf("%020d_%020d", term, index))
}

// Checksum computes the stable checksum for a LogEntry's Data.
func Checksum(data map[string]any) string {
	raw, _ := json.Marshal(data)
	h := sha256.Sum256(raw)
	return hex.EncodeToString(h[:])
}

// Log is a per-coordinator append-ordered quantum log, backed by bbolt, with
// per-peer replication state tracking.
type Log struct {
	db           *bolt.DB
	verifier     ports.RuleVerifier
	maxBatchSize int

	mu          sync.Mutex
	nextIndex   uint64
	term        uint64
	commitIndex uint64
	peers       map[string]*protocol.ReplicationState
}

// Open opens (or creates) the bbolt-backed log at path.
func Open(path string, verifier ports.RuleVerifier, maxBatchSize int) (*Log, error) {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("replicationlog.Open(%q): %w", path, err)
	}

	l := &Log{
		db:           db,
		verifier:     verifier,
		maxBatchSize: maxBatchSize,
		peers:        make(map[string]*protocol.ReplicationState),
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketEntries, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("replicationlog.Open: bucket init: %w", err)
	}

	if err := l.restoreIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if l.nextIndex == 0 {
		// Indexes are 1-based: MatchIndex 0 means "nothing replicated yet"
		// and commit index 0 means "nothing committed", without underflow
		// on an empty log.
		l.nextIndex = 1
	}

	return l, nil
}

// restoreIndex finds the highest (term, index) already committed so Append
// continues the sequence after a restart.
func (l *Log) restoreIndex() error {
	return l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketEntries)).Cursor()
		k, v := c.Last()
		if k == nil {
			return nil
		}
		var e protocol.LogEntry
		if err := json.Unmarshal(v, &e); err != nil {
			return fmt.Errorf("restoreIndex: decode last entry: %w", err)
		}
		l.term = e.Term
		l.nextIndex = e.Index + 1
		l.commitIndex = e.Index
		return nil
	})
}

// Close closes the underlying bbolt file.
func (l *Log) Close() error {
	return l.db.Close()
}

// Append validates e's data integrity, assigns (term, index) and checksum,
// persists it, and queues it for replication to every peer not already
// mid-batch. Rejection from the integrity check aborts the append.
func (l *Log) Append(ctx context.Context, e protocol.LogEntry) (protocol.LogEntry, error) {
	result := l.verifier.VerifyDataIntegrity(mustMarshal(e.Data), e.NodeID, e.ID)
	if !result.IsValid {
		return protocol.LogEntry{}, fmt.Errorf("replicationlog.Append: integrity check rejected entry %s: %v", e.ID, result.Anomalies)
	}

	l.mu.Lock()
	e.Term = l.term
	e.Index = l.nextIndex
	e.Checksum = Checksum(e.Data)
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	l.nextIndex++

	for _, st := range l.peers {
		if st.Status == protocol.ReplReplicating {
			continue
		}
		st.PendingEntryIDs = append(st.PendingEntryIDs, e.ID)
		st.Status = protocol.ReplPending
	}
	l.mu.Unlock()

	raw, err := json.Marshal(e)
	if err != nil {
		return protocol.LogEntry{}, fmt.Errorf("replicationlog.Append: marshal: %w", err)
	}

	if err := l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketEntries)).Put(entryKey(e.Term, e.Index), raw)
	}); err != nil {
		return protocol.LogEntry{}, fmt.Errorf("replicationlog.Append: put: %w", err)
	}

	return e, nil
}

func mustMarshal(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

// Entries returns all persisted entries in (term, index) order.
func (l *Log) Entries() ([]protocol.LogEntry, error) {
	var entries []protocol.LogEntry
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketEntries)).ForEach(func(_, v []byte) error {
			var e protocol.LogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	return entries, err
}

// RegisterPeer initializes replication state for a newly known peer.
func (l *Log) RegisterPeer(peer string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.peers[peer]; ok {
		return
	}
	l.peers[peer] = &protocol.ReplicationState{Peer: peer, Status: protocol.ReplPending}
}

// PeerState returns a snapshot of peer's replication state.
func (l *Log) PeerState(peer string) (protocol.ReplicationState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.peers[peer]
	if !ok {
		return protocol.ReplicationState{}, false
	}
	return *st, true
}

// ReplicationSender delivers a batch of entries to one peer and reports
// whether the peer accepted them.
type ReplicationSender interface {
	SendBatch(ctx context.Context, peer string, entries []protocol.LogEntry) error
}

// ReplicateTo sends up to maxBatchSize pending entries to peer. On success
// last_replicated_index/match_index advance to the batch's highest index;
// on failure the peer's state flips to failed and is retried on the next
// heartbeat.
func (l *Log) ReplicateTo(ctx context.Context, peer string, sender ReplicationSender) error {
	l.mu.Lock()
	st, ok := l.peers[peer]
	if !ok || st.Status == protocol.ReplReplicating || len(st.PendingEntryIDs) == 0 {
		l.mu.Unlock()
		return nil
	}
	batchIDs := st.PendingEntryIDs
	if len(batchIDs) > l.maxBatchSize {
		batchIDs = batchIDs[:l.maxBatchSize]
	}
	st.Status = protocol.ReplReplicating
	l.mu.Unlock()

	batch, err := l.entriesByID(batchIDs)
	if err != nil {
		l.mu.Lock()
		st.Status = protocol.ReplFailed
		l.mu.Unlock()
		return err
	}

	sendErr := sender.SendBatch(ctx, peer, batch)

	l.mu.Lock()
	defer l.mu.Unlock()
	if sendErr != nil {
		st.Status = protocol.ReplFailed
		return sendErr
	}

	sent := len(batch)
	st.PendingEntryIDs = st.PendingEntryIDs[sent:]
	if len(batch) > 0 {
		last := batch[len(batch)-1]
		st.LastReplicatedIndex = last.Index
		st.MatchIndex = last.Index
		st.NextIndex = last.Index + 1
	}
	st.LastContact = time.Now()
	if len(st.PendingEntryIDs) == 0 {
		st.Status = protocol.ReplReplicated
	} else {
		st.Status = protocol.ReplPending
	}
	return nil
}

// allocSlot reserves the next free (term, index) for an entry that is
// persisted through applyEntry rather than Append.
func (l *Log) allocSlot() (term, index uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	term, index = l.term, l.nextIndex
	l.nextIndex++
	return term, index
}

func (l *Log) entriesByID(ids []string) ([]protocol.LogEntry, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	all, err := l.Entries()
	if err != nil {
		return nil, err
	}
	var out []protocol.LogEntry
	for _, e := range all {
		if want[e.ID] {
			out = append(out, e)
		}
	}
	return out, nil
}

// AdvanceCommitIndex recomputes the commit index as the highest index
// replicated to a majority of peers (including self, always caught up).
func (l *Log) AdvanceCommitIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	matchIndices := make([]uint64, 0, len(l.peers)+1)
	matchIndices = append(matchIndices, l.nextIndex-1) // self is always current
	for _, st := range l.peers {
		matchIndices = append(matchIndices, st.MatchIndex)
	}
	sort.Slice(matchIndices, func(i, j int) bool { return matchIndices[i] > matchIndices[j] })

	majority := len(matchIndices)/2 + 1
	if majority > len(matchIndices) {
		return l.commitIndex
	}
	candidate := matchIndices[majority-1]
	if candidate > l.commitIndex {
		l.commitIndex = candidate
	}
	return l.commitIndex
}

// CommitIndex returns the current commit index.
func (l *Log) CommitIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commitIndex
}
