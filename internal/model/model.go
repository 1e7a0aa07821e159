package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// EventKind is the enumerated category of an observed action.
type EventKind string

const (
	KindLogin               EventKind = "login"
	KindLogout              EventKind = "logout"
	KindFileAccess          EventKind = "file_access"
	KindNetworkConnection   EventKind = "network_connection"
	KindCommandExecution    EventKind = "command_execution"
	KindDataTransfer        EventKind = "data_transfer"
	KindSystemAccess        EventKind = "system_access"
	KindPrivilegeEscalation EventKind = "privilege_escalation"
	KindConfigChange        EventKind = "config_change"
	KindProcessCreation     EventKind = "process_creation"
)

// Kinds lists every valid event kind.
var Kinds = []EventKind{
	KindLogin, KindLogout, KindFileAccess, KindNetworkConnection,
	KindCommandExecution, KindDataTransfer, KindSystemAccess,
	KindPrivilegeEscalation, KindConfigChange, KindProcessCreation,
}

// Valid reports whether k is a defined event kind.
func (k EventKind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Outcome is the result of an observed action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeDenied  Outcome = "denied"
)

// Valid reports whether o is a defined outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailed || o == OutcomeDenied
}

// RiskLevel is the coarse risk classification cached on an actor profile.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// SessionStatus tracks the lifecycle of a session record.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionCompleted  SessionStatus = "completed"
	SessionSuspicious SessionStatus = "suspicious"
)

// PatternCategory classifies a mined behavior pattern by frequency.
type PatternCategory string

const (
	PatternFlood  PatternCategory = "flood"
	PatternBurst  PatternCategory = "burst"
	PatternSparse PatternCategory = "sparse"
	PatternNormal PatternCategory = "normal"
)

// PatternStatus tracks external triage of a behavior pattern.
type PatternStatus string

const (
	PatternActive        PatternStatus = "active"
	PatternInactive      PatternStatus = "inactive"
	PatternInvestigating PatternStatus = "investigating"
)

// AlertStatus tracks external triage of a behavioral alert.
type AlertStatus string

const (
	AlertNew           AlertStatus = "new"
	AlertInvestigating AlertStatus = "investigating"
	AlertResolved      AlertStatus = "resolved"
	AlertFalsePositive AlertStatus = "false_positive"
)

// ActivityEvent is an immutable record of one observed action.
type ActivityEvent struct {
	ID         string            `json:"id"`
	ActorID    string            `json:"actor_id"`
	Kind       EventKind         `json:"kind"`
	Timestamp  time.Time         `json:"timestamp"`
	SourceAddr string            `json:"source_addr,omitempty"`
	DestAddr   string            `json:"dest_addr,omitempty"`
	Resource   string            `json:"resource,omitempty"`
	Action     string            `json:"action,omitempty"`
	Outcome    Outcome           `json:"outcome"`
	Attributes map[string]string `json:"attributes,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
}

// DeriveID returns a deterministic identifier for an event that arrived
// without one. The same actor, kind, timestamp, and source address always
// produce the same ID, so replayed submissions deduplicate cleanly.
func (e *ActivityEvent) DeriveID() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s",
		e.ActorID, e.Kind, e.Timestamp.UnixNano(), e.SourceAddr)))
	return hex.EncodeToString(sum[:8])
}

// TransferBytes returns the declared transfer size from the attribute map,
// or 0 when absent or unparsable.
func (e *ActivityEvent) TransferBytes() int64 {
	raw, ok := e.Attributes["bytes"]
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// ProcessName returns the declared process name from the attribute map.
func (e *ActivityEvent) ProcessName() string {
	return e.Attributes["process_name"]
}

// ActorProfile is the evolving behavioral summary for one actor.
// RiskLevel and RiskScore are cached derived values: they are always
// recomputable from the accumulated metrics and are never set externally.
type ActorProfile struct {
	ActorID      string    `json:"actor_id"`
	DisplayName  string    `json:"display_name,omitempty"`
	OrgUnit      string    `json:"org_unit,omitempty"`
	Role         string    `json:"role,omitempty"`
	RiskLevel    RiskLevel `json:"risk_level"`
	RiskScore    float64   `json:"risk_score"`
	AlertCount   int       `json:"alert_count"`
	EventCount   int64     `json:"event_count"`
	SessionCount int64     `json:"session_count"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SessionRecord groups events sharing a session identifier.
type SessionRecord struct {
	SessionID     string        `json:"session_id"`
	ActorID       string        `json:"actor_id"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       *time.Time    `json:"end_time,omitempty"`
	DurationSec   int64         `json:"duration_sec"`
	EventCount    int           `json:"event_count"`
	ResourceCount int           `json:"resource_count"`
	ActionCount   int           `json:"action_count"`
	Status        SessionStatus `json:"status"`
}

// BehaviorPattern describes a recurring structure across three or more
// events of one actor within a time window. Immutable once mined except
// for status transitions driven by external triage.
type BehaviorPattern struct {
	ID          string          `json:"id"`
	ActorID     string          `json:"actor_id"`
	Kind        EventKind       `json:"kind"`
	Category    PatternCategory `json:"category"`
	Description string          `json:"description"`
	EventIDs    []string        `json:"event_ids"`
	Frequency   float64         `json:"frequency"` // events per hour
	Confidence  float64         `json:"confidence"`
	RiskScore   float64         `json:"risk_score"`
	FirstSeen   time.Time       `json:"first_seen"`
	LastSeen    time.Time       `json:"last_seen"`
	Status      PatternStatus   `json:"status"`
}

// BehavioralAlert is the output artifact raised when a scored event
// crosses the configured threshold.
type BehavioralAlert struct {
	ID          string            `json:"id"`
	ActorID     string            `json:"actor_id"`
	Category    string            `json:"category"`
	Severity    int               `json:"severity"` // 1-10
	Description string            `json:"description"`
	Evidence    []string          `json:"evidence"`
	Timestamp   time.Time         `json:"timestamp"`
	Status      AlertStatus       `json:"status"`
	RiskScore   float64           `json:"risk_score"`
	Confidence  float64           `json:"confidence"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Alert categories.
const (
	CategoryPrivilegeEscalation = "privilege-escalation"
	CategoryBruteForce          = "brute-force"
	CategoryUnusualAccess       = "unusual-access"
	CategorySuspiciousBehavior  = "suspicious-behavior"
)
