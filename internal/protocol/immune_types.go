package protocol

import "time"

// ThreatClass enumerates observable anomaly classes the immune system
// recognizes.
type ThreatClass string

const (
	ThreatNetworkAnomaly        ThreatClass = "network_anomaly"
	ThreatConsensusManipulation ThreatClass = "consensus_manipulation"
	ThreatResourceAbuse         ThreatClass = "resource_abuse"
	ThreatDataCorruption        ThreatClass = "data_corruption"
	ThreatIdentitySpoofing      ThreatClass = "identity_spoofing"
)

// Severity is the categorical threat severity derived from a threat level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// BehavioralMarker is one observable indicator contributing to a
// ThreatSignature's fingerprint.
type BehavioralMarker struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"` // [0,1]
	Value  float64 `json:"value"`  // [0,1], observed strength
}

// ThreatSignature describes one recognized anomaly class and the markers
// that identify it.
type ThreatSignature struct {
	ID      string             `json:"id"`
	Class   ThreatClass        `json:"class"`
	Markers []BehavioralMarker `json:"markers"`
}

// DetectedThreat is one scan-cycle observation.
type DetectedThreat struct {
	ID         string      `json:"id"`
	PeerID     string      `json:"peer_id"`
	Class      ThreatClass `json:"class"`
	Level      float64     `json:"level"` // [0,1]
	Severity   Severity    `json:"severity"`
	DetectedAt time.Time   `json:"detected_at"`
	Markers    []BehavioralMarker `json:"markers"`
}

// ResponseAction is the kind of action an ImmuneResponse applies.
type ResponseAction string

const (
	ActionIsolation     ResponseAction = "isolation"
	ActionNeutralization ResponseAction = "neutralization"
	ActionAdaptation    ResponseAction = "adaptation"
	ActionObservation   ResponseAction = "observation"
)

// ImmuneResponse is the chosen reaction to a detected or historically
// matched threat.
type ImmuneResponse struct {
	ID         string         `json:"id"`
	ThreatID   string         `json:"threat_id"`
	Action     ResponseAction `json:"action"`
	Confidence float64        `json:"confidence"` // [0,1]
	AppliedAt  time.Time      `json:"applied_at"`
}

// ImmuneMemory is one historical threat/response pairing retained for
// similarity matching on future scans.
type ImmuneMemory struct {
	ThreatID          string             `json:"threat_id"`
	Class             ThreatClass        `json:"class"`
	Markers           []BehavioralMarker `json:"markers"`
	Response          ImmuneResponse     `json:"response"`
	AdaptationHistory []string           `json:"adaptation_history"` // capped at 3
}

// QuarantineZone excludes a peer from consensus and replication until the
// auto-release deadline.
type QuarantineZone struct {
	PeerID      string    `json:"peer_id"`
	ThreatID    string    `json:"threat_id"`
	QuarantinedAt time.Time `json:"quarantined_at"`
	ReleaseAt   time.Time `json:"release_at"`
	Reason      string    `json:"reason"`
}

// DefenseMechanismKind is the category of an AdaptiveDefense's mechanism.
type DefenseMechanismKind string

const (
	MechanismPreventive DefenseMechanismKind = "preventive"
	MechanismReactive   DefenseMechanismKind = "reactive"
	MechanismAdaptive   DefenseMechanismKind = "adaptive"
)

// DefenseOperation is the concrete action a DefenseMechanism performs.
type DefenseOperation string

const (
	OpBlock     DefenseOperation = "block"
	OpRedirect  DefenseOperation = "redirect"
	OpTransform DefenseOperation = "transform"
	OpAnalyze   DefenseOperation = "analyze"
	OpQuarantine DefenseOperation = "quarantine"
)

// DefenseMechanism is one concrete action an AdaptiveDefense may take.
type DefenseMechanism struct {
	Kind      DefenseMechanismKind `json:"kind"`
	Operation DefenseOperation     `json:"operation"`
}

// ActivationCondition gates when an AdaptiveDefense engages.
type ActivationCondition struct {
	Kind      string  `json:"kind"` // threshold | pattern | frequency | correlation
	Threshold float64 `json:"threshold"`
}

// AdaptiveDefense combines an activation condition with a mechanism and
// tracks its own learning effectiveness.
type AdaptiveDefense struct {
	Name          string               `json:"name"`
	Condition     ActivationCondition  `json:"condition"`
	Mechanism     DefenseMechanism     `json:"mechanism"`
	LearningRate  float64              `json:"learning_rate"`
	Effectiveness float64              `json:"effectiveness"` // [0,1], updated by outcomes
}
