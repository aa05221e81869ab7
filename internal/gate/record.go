package gate

import (
	"time"

	"github.com/google/uuid"

	"github.com/holdfast-sec/holdfast/internal/alert"
	"github.com/holdfast-sec/holdfast/internal/audit"
	"github.com/holdfast-sec/holdfast/internal/model"
	"github.com/holdfast-sec/holdfast/internal/session"
)

// call accumulates the audit context for one decision. Every decision path
// ends in exactly one record() call; no other component writes the record.
type call struct {
	now         time.Time
	eventType   string
	severity    model.Severity
	workspaceID string
	userID      string
	agentID     string
	sessionID   string
	ipHash      string
	indicators  []string
	override    bool
	rate        *model.RateStatus
}

func (e *Engine) newCall(p *model.Principal, workspaceID, ip string) *call {
	c := &call{
		now:         time.Now().UTC(),
		workspaceID: workspaceID,
	}
	if p != nil {
		c.userID = p.UserID
	}
	if ip != "" {
		c.ipHash = e.detector.HashIP(ip)
	}
	return c
}

// record writes the single audit event for the decision, dispatches alerts,
// and returns the decision with rate metadata attached.
func (e *Engine) record(c *call, d model.Decision) model.Decision {
	if d.RateLimit == nil && c.rate != nil {
		d.RateLimit = c.rate
	}

	sig := audit.Signals{
		Severity:         c.severity,
		Denied:           !d.Allowed,
		Override:         c.override,
		ThreatIndicators: len(c.indicators),
		RecentFailures:   e.bumpStreak(c.userID, d.Allowed),
	}
	if c.rate != nil {
		sig.Limit = c.rate.Limit
		sig.RequestsInWindow = c.rate.Limit - c.rate.Remaining
	}

	word := "deny"
	if d.Allowed {
		word = "allow"
	}

	ev := audit.Event{
		ID:               uuid.NewString(),
		Timestamp:        audit.FormatTimestamp(c.now),
		Type:             c.eventType,
		Severity:         c.severity,
		RiskScore:        audit.Score(sig),
		WorkspaceID:      c.workspaceID,
		UserID:           c.userID,
		AgentID:          c.agentID,
		SessionID:        c.sessionID,
		IPHash:           c.ipHash,
		Decision:         word,
		ReasonCode:       d.ReasonCode,
		Detail:           d.Detail,
		ThreatIndicators: c.indicators,
		Override:         c.override,
		ConfigHash:       e.ConfigHash(),
	}

	// A failed flush re-queues inside the recorder; the decision stands
	// either way.
	_ = e.recorder.Log(ev)
	e.dispatchAlert(ev)
	return d
}

// deny finalizes a denial with the given audit classification.
func (e *Engine) deny(c *call, eventType string, sev model.Severity, reason model.ReasonCode, detail string) model.Decision {
	c.eventType = eventType
	c.severity = sev
	return e.record(c, model.Deny(reason, detail))
}

// adminEvent describes an operator action (lockdown, lift, reload) outside
// the request decision cycle.
type adminEvent struct {
	eventType   string
	severity    model.Severity
	workspaceID string
	userID      string
	actor       string
	detail      string
	override    bool
}

func (e *Engine) logAdmin(a adminEvent) {
	ev := audit.Event{
		ID:          uuid.NewString(),
		Timestamp:   audit.FormatTimestamp(time.Now().UTC()),
		Type:        a.eventType,
		Severity:    a.severity,
		RiskScore:   audit.Score(audit.Signals{Severity: a.severity, Override: a.override}),
		WorkspaceID: a.workspaceID,
		UserID:      a.userID,
		Actor:       a.actor,
		Detail:      a.detail,
		Override:    a.override,
		ConfigHash:  e.ConfigHash(),
	}
	_ = e.recorder.Log(ev)
	e.dispatchAlert(ev)
}

func (e *Engine) logSessionClosed(s session.Session, detail string, now time.Time) {
	ev := audit.Event{
		ID:          uuid.NewString(),
		Timestamp:   audit.FormatTimestamp(now),
		Type:        audit.TypeSessionEnded,
		Severity:    model.SeverityLow,
		RiskScore:   audit.Score(audit.Signals{Severity: model.SeverityLow}),
		WorkspaceID: s.WorkspaceID,
		UserID:      s.UserID,
		AgentID:     s.AgentID,
		SessionID:   s.ID,
		Detail:      detail,
		ConfigHash:  e.ConfigHash(),
	}
	_ = e.recorder.Log(ev)
}

func (e *Engine) dispatchAlert(ev audit.Event) {
	e.mu.RLock()
	d := e.dispatcher
	e.mu.RUnlock()
	if d == nil {
		return
	}
	d.Dispatch(alert.Event{
		Timestamp:   ev.Timestamp,
		EventID:     ev.ID,
		Type:        ev.Type,
		Severity:    ev.Severity,
		RiskScore:   ev.RiskScore,
		WorkspaceID: ev.WorkspaceID,
		UserID:      ev.UserID,
		ReasonCode:  string(ev.ReasonCode),
		Detail:      ev.Detail,
		Indicators:  ev.ThreatIndicators,
	})
}

// bumpStreak advances the caller's consecutive-denial streak and returns it.
// An allowed decision resets the streak.
func (e *Engine) bumpStreak(userID string, allowed bool) int {
	if userID == "" {
		return 0
	}
	e.streakMu.Lock()
	defer e.streakMu.Unlock()
	if allowed {
		delete(e.streaks, userID)
		return 0
	}
	e.streaks[userID]++
	return e.streaks[userID]
}
