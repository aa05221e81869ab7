package model

import "time"

// ReasonCode explains the outcome of a decision in a machine-readable form.
type ReasonCode string

const (
	ReasonOK                ReasonCode = "ok"
	ReasonAccessDenied      ReasonCode = "access_denied"
	ReasonWorkspaceMismatch ReasonCode = "workspace_mismatch"
	ReasonRateLimited       ReasonCode = "rate_limited"
	ReasonSessionAnomaly    ReasonCode = "session_anomaly"
	ReasonValidation        ReasonCode = "validation_failed"
	ReasonStoreUnavailable  ReasonCode = "store_unavailable"
	ReasonLockdown          ReasonCode = "workspace_lockdown"
	ReasonQuarantine        ReasonCode = "user_quarantined"
	ReasonSessionNotFound   ReasonCode = "session_not_found"
	ReasonAgentNotFound     ReasonCode = "agent_not_found"
)

// RateStatus carries rate-limiter metadata for client backoff headers.
type RateStatus struct {
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Decision is the outcome of one access check, returned to route/controller callers.
// AccessLevel is only meaningful for agent-scoped checks.
type Decision struct {
	Allowed     bool        `json:"allowed"`
	ReasonCode  ReasonCode  `json:"reason_code"`
	AccessLevel AccessLevel `json:"access_level,omitempty"`
	Detail      string      `json:"detail,omitempty"`
	RateLimit   *RateStatus `json:"rate_limit,omitempty"`
}

// Allow returns an allowed decision with the given access level.
func Allow(level AccessLevel) Decision {
	return Decision{Allowed: true, ReasonCode: ReasonOK, AccessLevel: level}
}

// Deny returns a denied decision with the given reason.
func Deny(reason ReasonCode, detail string) Decision {
	return Decision{Allowed: false, ReasonCode: reason, AccessLevel: AccessNone, Detail: detail}
}
