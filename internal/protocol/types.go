// Package protocol defines the swarm's shared data model: the value records
// exchanged between coordinators over the fabric, and the unified message
// envelope that carries them.
//
// All types here are plain value records — no behavior, no mutable internal
// state. Components that own a piece of this model (e.g. the coordinator's peer cache)
// are responsible for enforcing single-writer discipline; protocol itself
// does not.
package protocol

import "time"

// NodeId names a coordinator on the fabric. Immutable after construction.
type NodeId struct {
	ID           string      `json:"id"`
	Birth        time.Time   `json:"birth"`
	Personality  Personality `json:"personality"`
	Capabilities []string    `json:"capabilities"`
}

// Personality is the immutable, seeded character of a coordinator.
type Personality struct {
	Name           string   `json:"name"`
	Traits         []string `json:"traits"`
	Creativity     float64  `json:"creativity"`     // [0,1]
	Rebelliousness float64  `json:"rebelliousness"` // [0,1]
	Wisdom         float64  `json:"wisdom"`          // [0,1]
}

// HealthLevel is the categorical health bucket derived from Load.
type HealthLevel string

const (
	HealthOptimal  HealthLevel = "optimal"
	HealthHealthy  HealthLevel = "healthy"
	HealthWarning  HealthLevel = "warning"
	HealthCritical HealthLevel = "critical"
	HealthFailing  HealthLevel = "failing"
)

// Load is the four-axis normalized resource load, each in [0,1].
type Load struct {
	CPU     float64 `json:"cpu"`
	Memory  float64 `json:"memory"`
	Network float64 `json:"network"`
	Storage float64 `json:"storage"`
}

// Vitals is the normalized telemetry record produced by the vitals source.
type Vitals struct {
	Health        HealthLevel `json:"health"`
	Load          Load        `json:"load"`
	Connections   int         `json:"connections"`
	UptimeMs      int64       `json:"uptime_ms"`
	LastConsensus time.Time   `json:"last_consensus"`
}

// VitalSigns is the aesthetic-weighting view of Vitals that other components
// consume instead of raw load.
type VitalSigns struct {
	Health     float64 `json:"health"`     // [0,1]
	Harmony    float64 `json:"harmony"`    // [0,1]
	Creativity float64 `json:"creativity"` // [0,1]
	Stress     float64 `json:"stress"`     // [0,1]
}

// Mood is the categorical label carried alongside SoulState's four scalars.
type Mood string

const (
	MoodSerene      Mood = "serene"
	MoodCurious     Mood = "curious"
	MoodRestless    Mood = "restless"
	MoodMelancholic Mood = "melancholic"
	MoodJoyful      Mood = "joyful"
	MoodContemplative Mood = "contemplative"
)

// SoulState is the slowly-evolving per-coordinator scalar state owned by the soul.
type SoulState struct {
	Consciousness float64 `json:"consciousness"` // [0,1]
	Creativity    float64 `json:"creativity"`    // [0,1]
	Harmony       float64 `json:"harmony"`       // [0,1]
	Wisdom        float64 `json:"wisdom"`        // [0,1]
	Mood          Mood    `json:"mood"`
}

// SoulSignature is the deterministic identity proof derived from a SoulState
// snapshot: sha256(nodeId || timestamp || consciousness || creativity ||
// harmony || wisdom || mood), hex-encoded.
type SoulSignature struct {
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

// Heartbeat is the combined vitals+soul record a coordinator writes to the
// fabric every heartbeat_interval. Single-writer = the owning coordinator.
type Heartbeat struct {
	NodeID    NodeId    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
	Vitals    Vitals    `json:"vitals"`
	Soul      SoulState `json:"soul"`
}

// PeerRole is a peer's role as last observed by consensus.
type PeerRole string

const (
	RoleLeader   PeerRole = "leader"
	RoleFollower PeerRole = "follower"
)

// PeerStatus is a peer's reachability/quarantine status in the coordinator's cache.
type PeerStatus string

const (
	StatusActive      PeerStatus = "active"
	StatusLost        PeerStatus = "lost"
	StatusQuarantined PeerStatus = "quarantined"
)

// SwarmNode is a single peer-cache entry, owned exclusively by the coordinator's
// discovery loop. All other components receive read-only snapshots.
type SwarmNode struct {
	NodeID   NodeId     `json:"node_id"`
	Vitals   Vitals     `json:"vitals"`
	Soul     SoulState  `json:"soul"`
	LastSeen time.Time  `json:"last_seen"`
	Role     PeerRole   `json:"role"`
	Status   PeerStatus `json:"status"`
}

// EmergenceState is one evolution step of an EmergencePattern.
type EmergenceState struct {
	Iteration int       `json:"iteration"`
	Entropy   float64   `json:"entropy"`
	Order     float64   `json:"order"`
	Beauty    float64   `json:"beauty"`
	Pattern   []float64 `json:"pattern"`
}

// EmergencePattern is the append-only, TTL-pruned artifact produced by the emergence engine.
type EmergencePattern struct {
	ID         string           `json:"id"`
	Seed       int64            `json:"seed"`
	Complexity float64          `json:"complexity"`
	Harmony    float64          `json:"harmony"`
	Evolution  []EmergenceState `json:"evolution"`
	Final      EmergenceState   `json:"final"`
	Timestamp  time.Time        `json:"timestamp"`
}

// MessageType enumerates the wire types of the unified message protocol.
// Extend, never renumber or reuse a value.
type MessageType string

const (
	MsgSwarmNodeDiscovered           MessageType = "SWARM_NODE_DISCOVERED"
	MsgSwarmNodeLost                 MessageType = "SWARM_NODE_LOST"
	MsgSwarmConsensusInitiated       MessageType = "SWARM_CONSENSUS_INITIATED"
	MsgSwarmLeaderElected            MessageType = "SWARM_LEADER_ELECTED"
	MsgSwarmConsensusVoteRequest     MessageType = "SWARM_CONSENSUS_VOTE_REQUEST"
	MsgSwarmConsensusVoteResponse    MessageType = "SWARM_CONSENSUS_VOTE_RESPONSE"
	MsgImmortalityCrisisDetected     MessageType = "IMMORTALITY_CRISIS_DETECTED"
	MsgImmortalityResurrectionTrig   MessageType = "IMMORTALITY_RESURRECTION_TRIGGERED"
	MsgCreativePoetryCompleted       MessageType = "CREATIVE_POETRY_COMPLETED"
	MsgSystemHealthCheckCompleted    MessageType = "SYSTEM_HEALTH_CHECK_COMPLETED"
	MsgEmergencePatternPublished     MessageType = "EMERGENCE_PATTERN_PUBLISHED"
	MsgQuantumLogReplicationBatch    MessageType = "QUANTUM_LOG_REPLICATION_BATCH"
	MsgQuantumLogReplicationAck      MessageType = "QUANTUM_LOG_REPLICATION_ACK"
)

// Priority is carried on every Message; the Bus dispatches in arrival
// order and does not reorder by priority.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Target names a specific recipient; a nil Target means broadcast.
type Target struct {
	ID string `json:"id"`
}

// Message is the canonical envelope delivered over the bus. Wire format is JSON,
// bit-exact to the field set below.
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Source    NodeId          `json:"source"`
	Target    *Target         `json:"target,omitempty"`
	Timestamp int64           `json:"timestamp"` // unix millis
	TTL       int64           `json:"ttl"`        // millis
	Priority  Priority        `json:"priority"`
	Payload   interface{}     `json:"payload"`
	Signature []byte          `json:"signature,omitempty"`
}

// SharedMetric is one row of the per-round metrics table every voter in a
// consensus round uses — the invariant that guarantees deterministic
// agreement on inputs.
type SharedMetric struct {
	NodeID       string    `json:"node_id"`
	HealthScore  float64   `json:"health_score"`  // [0,1]
	BeautyFactor float64   `json:"beauty_factor"` // [0,1]
	FinalScore   float64   `json:"final_score"`   // 0.7*health + 0.3*beauty
	Timestamp    time.Time `json:"timestamp"`
}

// ConsensusVoteRequest carries the full metrics map so every voter computes
// its vote from exactly the same inputs.
type ConsensusVoteRequest struct {
	ConsensusID  string                   `json:"consensus_id"`
	Requester    NodeId                   `json:"requester"`
	KnownNodes   []NodeId                 `json:"known_nodes"`
	NodeMetrics  map[string]SharedMetric  `json:"node_metrics"`
	Timestamp    time.Time                `json:"timestamp"`
}

// ConsensusVoteResponse is a single signed vote for a consensus round.
type ConsensusVoteResponse struct {
	Voter       string    `json:"voter"`
	ConsensusID string    `json:"consensus_id"`
	Candidate   string    `json:"candidate"`
	Signature   string    `json:"signature"`
	Timestamp   time.Time `json:"timestamp"`
}

// MusicalNote is the categorical projection of the elected swarm state.
type MusicalNote string

const (
	NoteDo  MusicalNote = "DO"
	NoteRe  MusicalNote = "RE"
	NoteMi  MusicalNote = "MI"
	NoteFa  MusicalNote = "FA"
	NoteSol MusicalNote = "SOL"
	NoteLa  MusicalNote = "LA"
	NoteSi  MusicalNote = "SI"
)

// ConsensusResult is the outcome of one consensus round.
type ConsensusResult struct {
	Leader            string      `json:"leader"`
	IsLeaderSelf      bool        `json:"is_leader_self"`
	TotalNodes        int         `json:"total_nodes"`
	ConsensusAchieved bool        `json:"consensus_achieved"`
	QuorumAchieved    bool        `json:"quorum_achieved"`
	QuorumSize        int         `json:"quorum_size"`
	VotesReceived     int         `json:"votes_received"`
	ReadOnlyMode      bool        `json:"read_only_mode"`
	DominantNote      MusicalNote `json:"dominant_note"`
	FrequencyHz       float64     `json:"frequency_hz"`
	HarmonicScore     float64     `json:"harmonic_score"`
	ChordStability    float64     `json:"chord_stability"`
	Rationale         string      `json:"rationale"`
	Timestamp         time.Time   `json:"timestamp"`
}

// LogEntryType enumerates the kinds of experience a coordinator can commit
// to its quantum log.
type LogEntryType string

const (
	EntryMemory        LogEntryType = "memory"
	EntryDream         LogEntryType = "dream"
	EntryEmotion       LogEntryType = "emotion"
	EntryDecision      LogEntryType = "decision"
	EntryConsciousness LogEntryType = "consciousness"
	EntryHarmony       LogEntryType = "harmony"
	EntryEvolution     LogEntryType = "evolution"
)

// Audience is the declared reach of a LogEntry.
type Audience string

const (
	AudienceSelf      Audience = "self"
	AudienceSwarm     Audience = "swarm"
	AudienceUniversal Audience = "universal"
)

// LogEntryMetadata carries aesthetic/priority metadata alongside a LogEntry.
type LogEntryMetadata struct {
	Priority   Priority `json:"priority"`
	Audience   Audience `json:"audience"`
	Emotions   []string `json:"emotions"`
	Themes     []string `json:"themes"`
	Confidence float64  `json:"confidence"` // [0,1]
}

// LogEntry is one entry of a coordinator's append-ordered quantum log.
// (term, index) is the sort key; Checksum is stable over Data.
type LogEntry struct {
	ID           string           `json:"id"`
	Term         uint64           `json:"term"`
	Index        uint64           `json:"index"`
	Type         LogEntryType     `json:"type"`
	NodeID       string           `json:"node_id"`
	Timestamp    time.Time        `json:"timestamp"`
	Data         map[string]any   `json:"data"`
	Checksum     string           `json:"checksum"`
	Dependencies []string         `json:"dependencies"`
	Metadata     LogEntryMetadata `json:"metadata"`
}

// ReplicationStatus is the per-peer replication state in the replication log.
type ReplicationStatus string

const (
	ReplPending     ReplicationStatus = "pending"
	ReplReplicating ReplicationStatus = "replicating"
	ReplReplicated  ReplicationStatus = "replicated"
	ReplFailed      ReplicationStatus = "failed"
	ReplConflicted  ReplicationStatus = "conflicted"
)

// ConflictKind classifies a detected log-entry conflict.
type ConflictKind string

const (
	ConflictContent    ConflictKind = "content"
	ConflictOrdering   ConflictKind = "ordering"
	ConflictDependency ConflictKind = "dependency"
)

// Conflict records one detected conflict awaiting resolution or retry.
type Conflict struct {
	Kind       ConflictKind `json:"kind"`
	LocalID    string       `json:"local_id"`
	RemoteID   string       `json:"remote_id"`
	Resolution string       `json:"resolution"` // keep_local | merge | reject_both
	Confidence float64      `json:"confidence"`
	DetectedAt time.Time    `json:"detected_at"`
}

// ReplicationBatch is the payload of a QUANTUM_LOG_REPLICATION_BATCH
// message: a bounded slice of log entries sent to one peer's inbox.
type ReplicationBatch struct {
	BatchID string     `json:"batch_id"`
	Entries []LogEntry `json:"entries"`
}

// ReplicationAck is the payload of a QUANTUM_LOG_REPLICATION_ACK message.
type ReplicationAck struct {
	BatchID  string `json:"batch_id"`
	Peer     string `json:"peer"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// ReplicationState tracks one peer's replication progress.
type ReplicationState struct {
	Peer                string            `json:"peer"`
	LastReplicatedIndex uint64            `json:"last_replicated_index"`
	NextIndex           uint64            `json:"next_index"`
	MatchIndex          uint64            `json:"match_index"`
	Status              ReplicationStatus `json:"status"`
	LastContact         time.Time         `json:"last_contact"`
	PendingEntryIDs     []string          `json:"pending_entry_ids"`
	Conflicts           []Conflict        `json:"conflicts"`
}
