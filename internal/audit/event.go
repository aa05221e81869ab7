package audit

import (
	"time"

	"github.com/holdfast-sec/holdfast/internal/model"
)

// TimestampFormat is the layout used in audit event timestamps. Fixed-width
// UTC so that string comparison orders events chronologically.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Event types recorded by the decision pipeline.
const (
	TypeAccessGranted         = "access_granted"
	TypeAccessDenied          = "access_denied"
	TypeCrossWorkspaceAttempt = "cross_workspace_attempt"
	TypeRateLimited           = "rate_limited"
	TypeValidationRejected    = "validation_rejected"
	TypeStoreFailure          = "store_failure"
	TypeSessionCreated        = "session_created"
	TypeSessionEnded          = "session_ended"
	TypeSessionRevoked        = "session_revoked"
	TypeSecurityAlert         = "security_alert"
	TypeTokenRotated          = "token_rotated"
	TypeLockdownSet           = "lockdown_set"
	TypeLockdownLifted        = "lockdown_lifted"
	TypeLockdownDenied        = "lockdown_denied"
	TypeQuarantineSet         = "quarantine_set"
	TypeQuarantineLifted      = "quarantine_lifted"
	TypeQuarantineDenied      = "quarantine_denied"
	TypeConfigReloaded        = "config_reloaded"
)

// Event is one immutable audit record. All fields are scalars or string
// slices (no map[string]any) to guarantee deterministic json.Marshal field
// order for reproducible hashing in the chain sink.
type Event struct {
	ID               string           `json:"event_id"`
	Timestamp        string           `json:"ts"`
	Type             string           `json:"type"`
	Severity         model.Severity   `json:"severity"`
	RiskScore        int              `json:"risk_score"`
	WorkspaceID      string           `json:"workspace_id,omitempty"`
	UserID           string           `json:"user_id,omitempty"`
	AgentID          string           `json:"agent_id,omitempty"`
	SessionID        string           `json:"session_id,omitempty"`
	IPHash           string           `json:"ip_hash,omitempty"`
	Decision         string           `json:"decision,omitempty"`
	ReasonCode       model.ReasonCode `json:"reason_code,omitempty"`
	Detail           string           `json:"detail,omitempty"`
	ThreatIndicators []string         `json:"threat_indicators,omitempty"`
	Override         bool             `json:"override,omitempty"`
	Actor            string           `json:"actor,omitempty"`
	ConfigHash       string           `json:"config_hash,omitempty"`
	PrevHash         string           `json:"prev_hash,omitempty"`
}

// Time parses the event timestamp. Zero time for unparseable values.
func (e Event) Time() time.Time {
	ts, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// FormatTimestamp renders t in the audit timestamp layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}
