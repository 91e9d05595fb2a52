package replicationlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/seleneswarm/swarmcore/internal/protocol"
)

// DetectConflict compares an incoming remote entry against the local log and
// classifies the conflict, if any, per the three recognized kinds:
//
//   - duplicate id, differing checksum      -> content    (keep_local, 0.7)
//   - same (index, term), different id      -> ordering   (merge, 0.5)
//   - missing dependency id                  -> dependency (reject_both, 0.8)
func (l *Log) DetectConflict(remote protocol.LogEntry, local []protocol.LogEntry) (protocol.Conflict, bool) {
	byID := make(map[string]protocol.LogEntry, len(local))
	byPos := make(map[[2]uint64]protocol.LogEntry, len(local))
	present := make(map[string]bool, len(local))
	for _, e := range local {
		byID[e.ID] = e
		byPos[[2]uint64{e.Term, e.Index}] = e
		present[e.ID] = true
	}

	if existing, ok := byID[remote.ID]; ok && existing.Checksum != remote.Checksum {
		return protocol.Conflict{
			Kind:       protocol.ConflictContent,
			LocalID:    existing.ID,
			RemoteID:   remote.ID,
			Resolution: "keep_local",
			Confidence: 0.7,
			DetectedAt: time.Now(),
		}, true
	}

	if existing, ok := byPos[[2]uint64{remote.Term, remote.Index}]; ok && existing.ID != remote.ID {
		return protocol.Conflict{
			Kind:       protocol.ConflictOrdering,
			LocalID:    existing.ID,
			RemoteID:   remote.ID,
			Resolution: "merge",
			Confidence: 0.5,
			DetectedAt: time.Now(),
		}, true
	}

	for _, dep := range remote.Dependencies {
		if !present[dep] {
			return protocol.Conflict{
				Kind:       protocol.ConflictDependency,
				LocalID:    "",
				RemoteID:   remote.ID,
				Resolution: "reject_both",
				Confidence: 0.8,
				DetectedAt: time.Now(),
			}, true
		}
	}

	return protocol.Conflict{}, false
}

// Receive verifies integrity for an incoming entry, checks it for conflicts
// against the local log, and either appends it (no conflict), merges it
// (merge resolution), or records the conflict for later retry.
func (l *Log) Receive(ctx context.Context, remote protocol.LogEntry, peer string) (protocol.LogEntry, *protocol.Conflict, error) {
	result := l.verifier.VerifyDataIntegrity(mustMarshal(remote.Data), remote.NodeID, remote.ID)
	if !result.IsValid {
		return protocol.LogEntry{}, nil, fmt.Errorf("replicationlog.Receive: integrity check rejected entry %s", remote.ID)
	}

	local, err := l.Entries()
	if err != nil {
		return protocol.LogEntry{}, nil, err
	}

	conflict, found := l.DetectConflict(remote, local)
	if !found {
		applied, err := l.applyEntry(remote)
		return applied, nil, err
	}

	l.mu.Lock()
	if st, ok := l.peers[peer]; ok {
		st.Status = protocol.ReplConflicted
		st.Conflicts = append(st.Conflicts, conflict)
	}
	l.mu.Unlock()

	switch conflict.Resolution {
	case "keep_local":
		return protocol.LogEntry{}, &conflict, nil
	case "merge":
		localEntry := findByID(local, conflict.LocalID)
		merged := Merge(localEntry, remote)
		// Both originals stay in history: the remote contender is
		// re-sequenced onto the next free slot instead of overwriting the
		// local entry, and the merged entry is appended after it.
		kept := remote
		kept.Term, kept.Index = l.allocSlot()
		if _, err := l.applyEntry(kept); err != nil {
			return protocol.LogEntry{}, &conflict, err
		}
		merged.Term, merged.Index = l.allocSlot()
		applied, err := l.applyEntry(merged)
		return applied, &conflict, err
	case "reject_both":
		return protocol.LogEntry{}, &conflict, nil
	default:
		return protocol.LogEntry{}, &conflict, nil
	}
}

func findByID(entries []protocol.LogEntry, id string) protocol.LogEntry {
	for _, e := range entries {
		if e.ID == id {
			return e
		}
	}
	return protocol.LogEntry{}
}

// applyEntry persists an already-resolved entry directly at its own
// (term, index), bypassing Append's local sequence assignment. Application
// side effects (consciousness drift etc.) are the caller's responsibility;
// applyEntry never mutates the committed entry's data.
func (l *Log) applyEntry(e protocol.LogEntry) (protocol.LogEntry, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return protocol.LogEntry{}, err
	}
	if err := l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketEntries)).Put(entryKey(e.Term, e.Index), raw)
	}); err != nil {
		return protocol.LogEntry{}, err
	}

	l.mu.Lock()
	if e.Index >= l.nextIndex {
		l.nextIndex = e.Index + 1
	}
	l.mu.Unlock()

	return e, nil
}

// Merge combines a local and remote entry per the LogEntryType-specific
// merge policy into a new entry under a fresh id; neither input is
// mutated, and both remain retrievable from history.
func Merge(local, remote protocol.LogEntry) protocol.LogEntry {
	merged := local
	merged.ID = fmt.Sprintf("merged-%s-%s", local.ID, remote.ID)

	switch local.Type {
	case protocol.EntryMemory:
		merged.Data = mergeMemoryData(local.Data, remote.Data)
		merged.Metadata.Emotions = unionStrings(local.Metadata.Emotions, remote.Metadata.Emotions)
		merged.Metadata.Themes = unionStrings(local.Metadata.Themes, remote.Metadata.Themes)
		merged.Metadata.Confidence = (local.Metadata.Confidence + remote.Metadata.Confidence) / 2
	case protocol.EntryDream:
		merged.Data = mergeDreamData(local.Data, remote.Data)
		merged.Metadata.Themes = unionStrings(local.Metadata.Themes, remote.Metadata.Themes)
		merged.Metadata.Priority = protocol.PriorityCritical
	case protocol.EntryConsciousness:
		merged.Data = mergeScalarAverage(local.Data, remote.Data)
		// mood stays local; not part of Data's scalar averaging.
	default:
		// No declared merge policy: keep local, record remote id as a
		// dependency so it is not silently lost.
		merged.Dependencies = append(append([]string{}, local.Dependencies...), remote.ID)
	}

	merged.Checksum = Checksum(merged.Data)
	return merged
}

func mergeMemoryData(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}
	return out
}

func mergeDreamData(a, b map[string]any) map[string]any {
	out := mergeMemoryData(a, b)
	av, _ := a["verses"].(string)
	bv, _ := b["verses"].(string)
	if av != "" || bv != "" {
		out["verses"] = av + " / " + bv
	}
	ai, aok := a["intensity"].(float64)
	bi, bok := b["intensity"].(float64)
	if aok || bok {
		if bi > ai {
			out["intensity"] = bi
		} else {
			out["intensity"] = ai
		}
	}
	return out
}

func mergeScalarAverage(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a))
	for k, av := range a {
		fa, aok := av.(float64)
		bv, bexists := b[k]
		fb, bok := bv.(float64)
		if aok && bexists && bok {
			out[k] = (fa + fb) / 2
		} else {
			out[k] = av
		}
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
