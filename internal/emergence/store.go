package emergence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seleneswarm/swarmcore/internal/fabric"
	"github.com/seleneswarm/swarmcore/internal/protocol"
	"github.com/seleneswarm/swarmcore/internal/ttlcache"
)

const (
	// PatternStoreHash is the fabric hash holding every node's completed
	// patterns, one field per <nodeId>/<patternId>.
	PatternStoreHash = "emergence_patterns_store"

	// PatternChannel carries EMERGENCE_PATTERN_PUBLISHED payloads.
	PatternChannel = "emergence_patterns"

	maxStoredPatterns = 256
)

// Archiver receives patterns retired from the in-memory store. Satisfied
// by storage.Archive.
type Archiver interface {
	ArchivePattern(p protocol.EmergencePattern) error
}

// Store keeps completed patterns in a TTL cache, shares them on the
// fabric, and hands expired or evicted entries to the durable archive.
// With a nil fabric the store operates offline: GetPattern and Stats keep
// serving from the local cache.
type Store struct {
	self    protocol.NodeId
	fab     fabric.Fabric
	archive Archiver
	cache   *ttlcache.Cache[protocol.EmergencePattern]
	log     *zap.Logger
}

// NewStore creates a Store retaining patterns for the given window.
func NewStore(self protocol.NodeId, fab fabric.Fabric, archive Archiver, retention time.Duration, log *zap.Logger) *Store {
	s := &Store{self: self, fab: fab, archive: archive, log: log}
	retire := func(key string, value any) {
		p, ok := value.(protocol.EmergencePattern)
		if !ok || s.archive == nil {
			return
		}
		if err := s.archive.ArchivePattern(p); err != nil {
			s.log.Warn("pattern archive failed", zap.String("pattern_id", key), zap.Error(err))
		}
	}
	s.cache = ttlcache.New[protocol.EmergencePattern](ttlcache.Options{
		MaxSize:    maxStoredPatterns,
		DefaultTTL: retention,
		OnExpire:   retire,
		OnEvict:    retire,
	})
	return s
}

// Record caches a completed pattern and, when the fabric is reachable,
// writes it to the shared pattern hash and announces it on the pattern
// channel. Fabric failures are logged and do not fail the local record.
func (s *Store) Record(ctx context.Context, p protocol.EmergencePattern) {
	s.cache.Set(p.ID, p, 0)

	if s.fab == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		s.log.Warn("pattern marshal failed", zap.String("pattern_id", p.ID), zap.Error(err))
		return
	}
	if err := s.fab.HSet(ctx, PatternStoreHash, s.self.ID+"/"+p.ID, raw); err != nil {
		s.log.Warn("pattern store write failed", zap.String("pattern_id", p.ID), zap.Error(err))
		return
	}

	msg := protocol.Message{
		ID:        fmt.Sprintf("%s-%d", protocol.MsgEmergencePatternPublished, time.Now().UnixNano()),
		Type:      protocol.MsgEmergencePatternPublished,
		Source:    s.self,
		Timestamp: time.Now().UnixMilli(),
		TTL:       (30 * time.Second).Milliseconds(),
		Priority:  protocol.PriorityLow,
		Payload:   p,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := s.fab.Publish(ctx, PatternChannel, payload); err != nil {
		s.log.Warn("pattern publish failed", zap.String("pattern_id", p.ID), zap.Error(err))
	}
}

// GetPattern returns a pattern by id, from the local cache first and the
// shared hash second.
func (s *Store) GetPattern(ctx context.Context, id string) (protocol.EmergencePattern, bool) {
	if p, ok := s.cache.Get(id); ok {
		return p, true
	}
	if s.fab == nil {
		return protocol.EmergencePattern{}, false
	}
	raw, ok, err := s.fab.HGet(ctx, PatternStoreHash, s.self.ID+"/"+id)
	if err != nil || !ok {
		return protocol.EmergencePattern{}, false
	}
	var p protocol.EmergencePattern
	if err := json.Unmarshal(raw, &p); err != nil {
		return protocol.EmergencePattern{}, false
	}
	return p, true
}

// RemoteMeanHarmony averages the harmony of every pattern a peer has
// shared on the fabric. ok is false when the peer has shared none, so the
// caller can fall back rather than treat absence as zero beauty.
func (s *Store) RemoteMeanHarmony(ctx context.Context, peerID string) (float64, bool) {
	if s.fab == nil {
		return 0, false
	}
	fields, err := s.fab.HGetAll(ctx, PatternStoreHash)
	if err != nil {
		return 0, false
	}
	total, n := 0.0, 0
	for field, raw := range fields {
		if !strings.HasPrefix(field, peerID+"/") {
			continue
		}
		var p protocol.EmergencePattern
		if err := json.Unmarshal(raw, &p); err != nil {
			continue
		}
		total += p.Harmony
		n++
	}
	if n == 0 {
		return 0, false
	}
	return total / float64(n), true
}

// Stats summarizes the local pattern cache.
type StoreStats struct {
	Patterns    int
	MeanHarmony float64
	Cache       ttlcache.Stats
}

// Stats reports the live pattern count and mean harmony alongside the
// underlying cache counters.
func (s *Store) Stats() StoreStats {
	values := s.cache.Values()
	out := StoreStats{Patterns: len(values), Cache: s.cache.Stats()}
	for _, p := range values {
		out.MeanHarmony += p.Harmony
	}
	if len(values) > 0 {
		out.MeanHarmony /= float64(len(values))
	}
	return out
}

// Close stops the cache sweeper and retires nothing further.
func (s *Store) Close() {
	s.cache.Close()
}
