// Package ports declares the narrow interfaces the coordinator uses to
// reach its external collaborators — cryptographic verification, audit
// logging, musical/poetry/phoenix/health-oracle observers — without
// depending on any of their concrete implementations.
//
// The core never blocks on these, except RuleVerifier's integrity gate on
// the replication append path. Everything else is best-effort or
// fire-and-forget: an audit or observer failure must never stall
// consensus or replication.
package ports

import (
	"context"
	"time"
)

// IntegrityResult is RuleVerifier.VerifyDataIntegrity's outcome.
type IntegrityResult struct {
	IsValid      bool
	Confidence   float64 // [0,100]
	Anomalies    []string
	ExpectedHash string
}

// ClaimVerification is RuleVerifier.VerifyClaim's outcome.
type ClaimVerification struct {
	Verified          bool
	Confidence        float64
	VerifiedStatement string
	Signature         string
	Reason            string
}

// Claim is the input to VerifyClaim.
type Claim struct {
	Claim              string
	Source             string
	ConfidenceThreshold float64
}

// RuleVerifier is the cryptographic integrity port. Implementations must be
// deterministic: the same input always yields the same output.
type RuleVerifier interface {
	VerifyDataIntegrity(data []byte, entity, dataID string) IntegrityResult
	VerifyClaim(c Claim) ClaimVerification
}

// AuditSeverity classifies a MutationAudit entry.
type AuditSeverity string

const (
	AuditSeverityInfo     AuditSeverity = "info"
	AuditSeverityWarning  AuditSeverity = "warning"
	AuditSeverityCritical AuditSeverity = "critical"
)

// AuditEntry is the record returned by every MutationAudit log call.
type AuditEntry struct {
	ID        string
	CreatedAt time.Time
	Severity  AuditSeverity
}

// MutationAudit is the audit-logging port. Implementations are best-effort:
// a failure here must never block consensus or replication.
type MutationAudit interface {
	LogCreate(entity, id string, payload any) AuditEntry
	LogUpdate(entity, id string, payload any) AuditEntry
	LogDelete(entity, id string) AuditEntry
	LogSoftDelete(entity, id string) AuditEntry
	LogRestore(entity, id string) AuditEntry
	LogStateTransition(entity, id, from, to string) AuditEntry
	LogCascadeOperation(entity, id, operation string) AuditEntry
	LogIntegrityViolation(entity, id, reason string) AuditEntry
	LogBatchOperation(entity string, ids []string, operation string) AuditEntry
	LogFieldAccess(entity, id, field string) AuditEntry
}

// ConsensusEvent is the input to MusicalSink.RecordConsensusEvent.
type ConsensusEvent struct {
	ConsensusAchieved bool
	Participants      []string
	ConsensusTime     time.Duration
	Beauty            float64
}

// PoetryEvent is whatever an observer behind MusicalSink chooses to return.
// The core never interprets its contents; it only forwards the pointer.
type PoetryEvent struct {
	Text string
	Meta map[string]any
}

// MusicalSink receives finalized consensus outcomes for external
// (music/poetry/metadata) observers. The core never interprets the
// returned event.
type MusicalSink interface {
	RecordConsensusEvent(ConsensusEvent) *PoetryEvent
}

// LifecyclePort is the shared start/stop/idempotent contract for
// PhoenixPort, HealthOraclePort, PoetryPort, and ImmunePort.
type LifecyclePort interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// PhoenixPort observes immortality-crisis/resurrection events.
type PhoenixPort interface {
	LifecyclePort
	NotifyCrisis(nodeID string, severity string)
	NotifyResurrection(nodeID string)
}

// HealthOraclePort surfaces an external opinion on swarm-wide health.
type HealthOraclePort interface {
	LifecyclePort
	QueryHealth(ctx context.Context) (float64, error)
}

// PoetryPort generates or forwards creative artifacts derived from
// finalized consensus results. Never consulted for any consensus-critical
// computation.
type PoetryPort interface {
	LifecyclePort
	Compose(ctx context.Context, seed string) (string, error)
}

// ImmunePort lets an external observer subscribe to immune-system events
// without participating in detection itself.
type ImmunePort interface {
	LifecyclePort
	NotifyThreat(threatID string, severity string)
}
