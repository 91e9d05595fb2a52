// Package storage provides durable bbolt-backed persistence for data that
// must survive a coordinator restart but does not belong in the
// consensus-replicated quantum log: emergence patterns retired from the
// in-memory engine, and an audit trail of quarantine/escalation decisions.
//
// Layout: one bucket per record kind plus a meta bucket carrying the
// schema version; values are JSON, keys sort chronologically, and entries
// older than the retention window are pruned at startup.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/seleneswarm/swarmcore/internal/protocol"
)

const (
	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	// DefaultRetentionDays is the default audit ledger retention period.
	DefaultRetentionDays = 30

	bucketPatterns = "patterns"
	bucketLedger   = "ledger"
	bucketMeta     = "meta"
)

// AuditRecord is a single quarantine/escalation decision, persisted
// independently of the in-process ports.MutationAudit so it survives a
// restart even when no in-memory audit sink is wired.
type AuditRecord struct {
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
	PeerID    string    `json:"peer_id"`
	Action    string    `json:"action"` // quarantine | release
	Severity  string    `json:"severity,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Archive wraps a BoltDB instance with typed accessors for emergence
// patterns and the quarantine audit ledger.
type Archive struct {
	db            *bolt.DB
	retentionDays int
}

// Open opens (or creates) the BoltDB database at path, initialising every
// bucket and verifying the schema version.
func Open(path string, retentionDays int) (*Archive, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	a := &Archive{db: bdb, retentionDays: retentionDays}

	if err := a.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketPatterns, bucketLedger, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}

		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("archive initialisation failed: %w", err)
	}

	if err := a.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return a, nil
}

func (a *Archive) checkSchemaVersion() error {
	return a.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf(
				"schema version mismatch: database has %q, coordinator requires %q",
				string(v), SchemaVersion,
			)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (a *Archive) Close() error {
	return a.db.Close()
}

// ─── Pattern archive ───────────────────────────────────────────────────

// patternKey is sha256(id + "_" + timestamp) hex-encoded, so re-archiving
// the same pattern ID at a different time never collides.
func patternKey(id string, at time.Time) []byte {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s_%d", id, at.UnixNano())))
	key := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(key, h[:])
	return key
}

// ArchivePattern persists an emergence pattern evicted from the engine's
// in-memory view, keyed so repeated archiving of the same ID never
// overwrites an earlier snapshot.
func (a *Archive) ArchivePattern(p protocol.EmergencePattern) error {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("ArchivePattern marshal: %w", err)
	}

	key := patternKey(p.ID, p.Timestamp)
	return a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketPatterns))
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("ArchivePattern bolt.Put: %w", err)
		}
		return nil
	})
}

// ReadPatterns returns every archived pattern. For operational inspection;
// not called on the hot path.
func (a *Archive) ReadPatterns() ([]protocol.EmergencePattern, error) {
	var out []protocol.EmergencePattern
	err := a.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketPatterns))
		return b.ForEach(func(_, v []byte) error {
			var p protocol.EmergencePattern
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, p)
			return nil
		})
	})
	return out, err
}

// ─── Quarantine audit ledger ───────────────────────────────────────────

// ledgerKey constructs a sortable key: RFC3339Nano timestamp + peer id, so
// lexicographic order is chronological order.
func ledgerKey(t time.Time, peerID string) []byte {
	return []byte(fmt.Sprintf("%s_%s", t.UTC().Format(time.RFC3339Nano), peerID))
}

// AppendAudit writes a quarantine/release decision to the durable ledger.
func (a *Archive) AppendAudit(rec AuditRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("AppendAudit marshal: %w", err)
	}

	key := ledgerKey(rec.Timestamp, rec.PeerID)
	return a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("AppendAudit bolt.Put: %w", err)
		}
		return nil
	})
}

// PruneOldAuditEntries deletes ledger entries older than the configured
// retention window, returning the number of entries removed.
func (a *Archive) PruneOldAuditEntries() (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.retentionDays)
	cutoffKey := ledgerKey(cutoff, "")

	var deleted int
	err := a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		c := b.Cursor()

		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if string(k) >= string(cutoffKey) {
				break
			}
			keyCopy := make([]byte, len(k))
			copy(keyCopy, k)
			toDelete = append(toDelete, keyCopy)
		}

		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("PruneOldAuditEntries delete: %w", err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// ReadAuditLedger returns every ledger entry in chronological order.
func (a *Archive) ReadAuditLedger() ([]AuditRecord, error) {
	var entries []AuditRecord
	err := a.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		return b.ForEach(func(_, v []byte) error {
			var rec AuditRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			entries = append(entries, rec)
			return nil
		})
	})
	return entries, err
}
