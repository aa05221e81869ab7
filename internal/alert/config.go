package alert

import "github.com/holdfast-sec/holdfast/internal/model"

// Config defines a webhook alert destination.
type Config struct {
	URL    string `yaml:"url"     json:"url"`
	Format string `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	// MinSeverity matches every event at or above this severity.
	MinSeverity model.Severity `yaml:"min_severity" json:"min_severity"`
	// Events matches specific event types regardless of severity
	// (e.g. ["lockdown_set", "session_revoked"]).
	Events  []string          `yaml:"events"  json:"events"`
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Event is the payload sent to webhook endpoints.
type Event struct {
	Timestamp   string         `json:"timestamp"`
	EventID     string         `json:"event_id"`
	Type        string         `json:"type"`
	Severity    model.Severity `json:"severity"`
	RiskScore   int            `json:"risk_score"`
	WorkspaceID string         `json:"workspace_id,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	ReasonCode  string         `json:"reason_code,omitempty"`
	Detail      string         `json:"detail,omitempty"`
	Indicators  []string       `json:"threat_indicators,omitempty"`
}
