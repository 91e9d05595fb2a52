// Package config provides configuration loading, validation, and hot-reload
// for the swarm coordinator.
//
// Configuration file: /etc/swarmcore/config.yaml (default)
// Schema version: 1
//
// Hot-reload:
//   - Coordinator listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate config.yaml and log the outcome.
//   - The running coordinator keeps the config it started with; every
//     change, including intervals, thresholds and weights, takes effect at
//     the next restart.
//   - If the new config is invalid, an error is logged. The coordinator
//     does NOT crash on invalid hot-reload config.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (e.g. confidence thresholds in [0,1]).
//   - Interval ratios enforced: discovery_frequency must be >= 2x
//     heartbeat_interval, consensus_check_interval must be >= 2x
//     discovery_frequency.
//   - Invalid config on startup: coordinator refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime default to placeholders and can be set at
// build time with -ldflags "-X ...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for the swarm coordinator.
// All fields have defaults; see Defaults() for values.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// NodeID is a unique identifier for this coordinator.
	// Used in heartbeats, messages, and ledger entries. Default: hostname.
	NodeID string `yaml:"node_id"`

	Personality   PersonalityConfig   `yaml:"personality"`
	Heartbeat     HeartbeatConfig     `yaml:"heartbeat"`
	Discovery     DiscoveryConfig     `yaml:"discovery"`
	Consensus     ConsensusConfig     `yaml:"consensus"`
	Species       SpeciesConfig       `yaml:"species"`
	Immune        ImmuneConfig        `yaml:"immune"`
	Replication   ReplicationConfig   `yaml:"replication"`
	Emergence     EmergenceConfig     `yaml:"emergence"`
	Storage       StorageConfig       `yaml:"storage"`
	Fabric        FabricConfig        `yaml:"fabric"`
	Observability ObservabilityConfig `yaml:"observability"`
	Operator      OperatorConfig      `yaml:"operator"`
}

// PersonalityConfig seeds this coordinator's immutable NodeId.Personality.
type PersonalityConfig struct {
	Name           string   `yaml:"name"`
	Traits         []string `yaml:"traits"`
	Creativity     float64  `yaml:"creativity"`
	Rebelliousness float64  `yaml:"rebelliousness"`
	Wisdom         float64  `yaml:"wisdom"`
}

// HeartbeatConfig controls the vitals/heartbeat write cadence.
type HeartbeatConfig struct {
	// Interval is the period between vitals/heartbeat writes. Default: 5s.
	Interval time.Duration `yaml:"interval"`
}

// DiscoveryConfig controls the coordinator's discovery cycle.
type DiscoveryConfig struct {
	// Frequency is the period between discovery cycles. Default: 30s.
	// Must be >= 2x Heartbeat.Interval.
	Frequency time.Duration `yaml:"frequency"`

	// MaxNodeTimeout is the staleness cutoff for peer heartbeats. Default: 30s.
	MaxNodeTimeout time.Duration `yaml:"max_node_timeout"`

	// BatchSize bounds concurrent fabric reads per cycle. Default: 10.
	BatchSize int `yaml:"batch_size"`
}

// ConsensusConfig controls the consensus engine and its cycle.
type ConsensusConfig struct {
	// CheckInterval is the period between consensus cycles. Default: 120s.
	// Must be >= 2x Discovery.Frequency.
	CheckInterval time.Duration `yaml:"check_interval"`

	// Threshold is the minimum approval rate for consensus_achieved, in
	// addition to quorum. Default: 0.51.
	Threshold float64 `yaml:"threshold"`

	// CacheTTL is how long a ConsensusResult is cached. Default: 60s.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// VoteCollectionTimeout bounds the vote-gathering window. Default: 10s.
	VoteCollectionTimeout time.Duration `yaml:"vote_collection_timeout"`
}

// SpeciesConfig controls the SPECIES-ID challenge/response protocol.
type SpeciesConfig struct {
	// ChallengeTimeout bounds a single SPECIES-ID round. Default: 5s.
	ChallengeTimeout time.Duration `yaml:"challenge_timeout"`

	// ConfidenceThreshold is the minimum RuleVerifier confidence required
	// to accept an identity claim. Default: 0.85.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// MaxChallengeFailures is the consecutive challenge-failure count at
	// which a suspected peer escalates to quarantine. Default: 3.
	MaxChallengeFailures int `yaml:"max_challenge_failures"`
}

// ImmuneConfig controls the immune system's scan loop.
type ImmuneConfig struct {
	// ScanInterval is the period between threat sweeps. Default: 15s.
	ScanInterval time.Duration `yaml:"scan_interval"`

	// QuarantineDuration is the default auto-release time. Default: 5m.
	QuarantineDuration time.Duration `yaml:"quarantine_duration"`

	// ThreatLevelThreshold is the cutoff above which a threat is emitted.
	// Default: 0.6.
	ThreatLevelThreshold float64 `yaml:"threat_level_threshold"`

	// MemoryMatchThreshold is the similarity cutoff to reuse a historical
	// response. Default: 0.8.
	MemoryMatchThreshold float64 `yaml:"memory_match_threshold"`

	// BudgetCapacity is the token capacity of the response budget. Default: 100.
	BudgetCapacity int `yaml:"budget_capacity"`

	// BudgetRefillPeriod is the full-refill interval of the response
	// budget. Default: 60s.
	BudgetRefillPeriod time.Duration `yaml:"budget_refill_period"`
}

// ReplicationConfig controls quantum log replication batching and timing.
type ReplicationConfig struct {
	// HeartbeatInterval is the period of the replication heartbeat. Default: 5s.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// Timeout bounds a single replication batch. Default: 5s.
	Timeout time.Duration `yaml:"timeout"`

	// MaxBatchSize bounds entries sent per batch. Default: 10.
	MaxBatchSize int `yaml:"max_batch_size"`
}

// EmergenceConfig controls the emergence generator's evolution depth.
type EmergenceConfig struct {
	// Iterations is the default evolution step count. Default: 100.
	Iterations int `yaml:"iterations"`

	// RetentionWindow is the TTL for stored patterns. Default: 4h.
	RetentionWindow time.Duration `yaml:"retention_window"`
}

// StorageConfig holds the coordinator's durable local store parameters
// (bbolt-backed quantum log + pattern archive — NOT the shared fabric).
type StorageConfig struct {
	// DBPath is the absolute path to the quantum log bbolt file.
	// Default: /var/lib/swarmcore/swarmcore.db.
	DBPath string `yaml:"db_path"`

	// ArchivePath is the absolute path to the pattern/audit archive bbolt
	// file. Must differ from DBPath; bbolt locks each file exclusively.
	// Default: /var/lib/swarmcore/archive.db.
	ArchivePath string `yaml:"archive_path"`

	// RetentionDays is the committed-log retention period. Default: 30.
	RetentionDays int `yaml:"retention_days"`
}

// FabricConfig configures access to the shared key-value/pub-sub fabric.
type FabricConfig struct {
	// Prefix is the fabric keyspace prefix. Default: "swarm".
	Prefix string `yaml:"prefix"`

	// ListenAddr is this coordinator's transport listen address, used when
	// the fabric is backed by the gRPC+mTLS peer transport. Default: "0.0.0.0:9443".
	ListenAddr string `yaml:"listen_addr"`

	// Peers is the static list of peer transport endpoints. An empty list
	// runs the coordinator standalone on the in-process fabric only.
	Peers []FabricPeer `yaml:"peers"`

	// EnvelopeTTL is the maximum accepted transport envelope age. Default: 30s.
	EnvelopeTTL time.Duration `yaml:"envelope_ttl"`

	// TLSCertFile, TLSKeyFile, TLSCAFile are PEM paths for the mTLS transport.
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`
	TLSCAFile   string `yaml:"tls_ca_file"`
}

// FabricPeer is one statically configured transport peer.
type FabricPeer struct {
	// NodeID is the peer coordinator's node id.
	NodeID string `yaml:"node_id"`

	// Addr is the peer's transport address (host:port).
	Addr string `yaml:"addr"`

	// PublicKey is the peer's hex-encoded Ed25519 envelope-signing key,
	// exchanged out of band (each node logs its own key at startup).
	PublicKey string `yaml:"public_key"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9092.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	LogFormat string `yaml:"log_format"`
}

// OperatorConfig holds operator-override socket parameters.
type OperatorConfig struct {
	// SocketPath is the Unix domain socket path for the operator CLI.
	SocketPath string `yaml:"socket_path"`

	// Enabled controls whether the operator socket is active. Default: true.
	Enabled bool `yaml:"enabled"`
}

// Defaults returns a Config populated with every default value.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		NodeID:        hostname,
		Personality: PersonalityConfig{
			Name:           hostname,
			Traits:         []string{"curious", "cooperative"},
			Creativity:     0.5,
			Rebelliousness: 0.2,
			Wisdom:         0.5,
		},
		Heartbeat: HeartbeatConfig{
			Interval: 5 * time.Second,
		},
		Discovery: DiscoveryConfig{
			Frequency:      30 * time.Second,
			MaxNodeTimeout: 30 * time.Second,
			BatchSize:      10,
		},
		Consensus: ConsensusConfig{
			CheckInterval:         120 * time.Second,
			Threshold:             0.51,
			CacheTTL:              60 * time.Second,
			VoteCollectionTimeout: 10 * time.Second,
		},
		Species: SpeciesConfig{
			ChallengeTimeout:     5 * time.Second,
			ConfidenceThreshold:  0.85,
			MaxChallengeFailures: 3,
		},
		Immune: ImmuneConfig{
			ScanInterval:         15 * time.Second,
			QuarantineDuration:   5 * time.Minute,
			ThreatLevelThreshold: 0.6,
			MemoryMatchThreshold: 0.8,
			BudgetCapacity:       100,
			BudgetRefillPeriod:   60 * time.Second,
		},
		Replication: ReplicationConfig{
			HeartbeatInterval: 5 * time.Second,
			Timeout:           5 * time.Second,
			MaxBatchSize:      10,
		},
		Emergence: EmergenceConfig{
			Iterations:      100,
			RetentionWindow: 4 * time.Hour,
		},
		Storage: StorageConfig{
			DBPath:        DefaultDBPath,
			ArchivePath:   DefaultArchivePath,
			RetentionDays: 30,
		},
		Fabric: FabricConfig{
			Prefix:      "swarm",
			ListenAddr:  "0.0.0.0:9443",
			EnvelopeTTL: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9092",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Operator: OperatorConfig{
			Enabled:    true,
			SocketPath: "/run/swarmcore/operator.sock",
		},
	}
}

// DefaultDBPath is the default quantum log bbolt file location.
const DefaultDBPath = "/var/lib/swarmcore/swarmcore.db"

// DefaultArchivePath is the default archive bbolt file location.
const DefaultArchivePath = "/var/lib/swarmcore/archive.db"

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness, including the interval
// ratio invariant: discovery >= 2x heartbeat, consensus >= 2x discovery.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.NodeID == "" {
		errs = append(errs, "node_id must not be empty")
	}
	if cfg.Heartbeat.Interval <= 0 {
		errs = append(errs, "heartbeat.interval must be > 0")
	}
	if cfg.Discovery.Frequency < 2*cfg.Heartbeat.Interval {
		errs = append(errs, fmt.Sprintf(
			"discovery.frequency (%s) must be >= 2x heartbeat.interval (%s)",
			cfg.Discovery.Frequency, cfg.Heartbeat.Interval))
	}
	if cfg.Consensus.CheckInterval < 2*cfg.Discovery.Frequency {
		errs = append(errs, fmt.Sprintf(
			"consensus.check_interval (%s) must be >= 2x discovery.frequency (%s)",
			cfg.Consensus.CheckInterval, cfg.Discovery.Frequency))
	}
	if cfg.Consensus.Threshold < 0 || cfg.Consensus.Threshold > 1 {
		errs = append(errs, "consensus.threshold must be in [0,1]")
	}
	if cfg.Species.ConfidenceThreshold < 0 || cfg.Species.ConfidenceThreshold > 1 {
		errs = append(errs, "species.confidence_threshold must be in [0,1]")
	}
	if cfg.Species.MaxChallengeFailures < 1 {
		errs = append(errs, "species.max_challenge_failures must be >= 1")
	}
	if cfg.Immune.ThreatLevelThreshold < 0 || cfg.Immune.ThreatLevelThreshold > 1 {
		errs = append(errs, "immune.threat_level_threshold must be in [0,1]")
	}
	if cfg.Immune.MemoryMatchThreshold < 0 || cfg.Immune.MemoryMatchThreshold > 1 {
		errs = append(errs, "immune.memory_match_threshold must be in [0,1]")
	}
	if cfg.Immune.BudgetCapacity < 1 {
		errs = append(errs, "immune.budget_capacity must be >= 1")
	}
	if cfg.Immune.BudgetRefillPeriod <= 0 {
		errs = append(errs, "immune.budget_refill_period must be > 0")
	}
	if cfg.Replication.MaxBatchSize < 1 {
		errs = append(errs, "replication.max_batch_size must be >= 1")
	}
	if cfg.Emergence.Iterations < 1 {
		errs = append(errs, "emergence.iterations must be >= 1")
	}
	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.db_path must not be empty")
	}
	if cfg.Storage.ArchivePath == "" {
		errs = append(errs, "storage.archive_path must not be empty")
	}
	if cfg.Storage.ArchivePath == cfg.Storage.DBPath {
		errs = append(errs, "storage.archive_path must differ from storage.db_path")
	}
	if cfg.Storage.RetentionDays < 1 {
		errs = append(errs, "storage.retention_days must be >= 1")
	}
	if cfg.Fabric.Prefix == "" {
		errs = append(errs, "fabric.prefix must not be empty")
	}
	if cfg.Fabric.EnvelopeTTL <= 0 {
		errs = append(errs, "fabric.envelope_ttl must be > 0")
	}
	for i, p := range cfg.Fabric.Peers {
		if p.NodeID == "" || p.Addr == "" || p.PublicKey == "" {
			errs = append(errs, fmt.Sprintf("fabric.peers[%d] must set node_id, addr, and public_key", i))
		}
	}
	if len(cfg.Fabric.Peers) > 0 &&
		(cfg.Fabric.TLSCertFile == "" || cfg.Fabric.TLSKeyFile == "" || cfg.Fabric.TLSCAFile == "") {
		errs = append(errs, "fabric.tls_cert_file, tls_key_file, and tls_ca_file are required when fabric.peers is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
