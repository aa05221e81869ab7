package gate

import (
	"context"

	"github.com/holdfast-sec/holdfast/internal/access"
	"github.com/holdfast-sec/holdfast/internal/anomaly"
	"github.com/holdfast-sec/holdfast/internal/audit"
	"github.com/holdfast-sec/holdfast/internal/emergency"
	"github.com/holdfast-sec/holdfast/internal/model"
	"github.com/holdfast-sec/holdfast/internal/ratelimit"
	"github.com/holdfast-sec/holdfast/internal/session"
	"github.com/holdfast-sec/holdfast/internal/token"
)

// CreateSession opens an isolated session against an agent and issues the
// session token bound to the caller's fingerprint and IP. Requires INTERACT
// access on the agent.
func (e *Engine) CreateSession(ctx context.Context, p *model.Principal, workspaceID, agentID string, sec token.SecurityContext) (session.Session, []byte, model.Decision) {
	c := e.newCall(p, workspaceID, sec.IP)
	c.agentID = agentID

	pctx, d, ok := e.preflight(ctx, c, p, ratelimit.RuleSessionCreate, [2]string{"agent_id", agentID})
	if !ok {
		return session.Session{}, nil, d
	}

	agent, found, err := e.dir.Agent(ctx, agentID)
	if err != nil {
		return session.Session{}, nil, e.deny(c, audit.TypeStoreFailure, model.SeverityHigh,
			model.ReasonStoreUnavailable, "agent store unavailable")
	}
	if !found {
		return session.Session{}, nil, e.deny(c, audit.TypeAccessDenied, model.SeverityMedium,
			model.ReasonAgentNotFound, "agent not found")
	}

	level, crossWorkspace := access.Evaluate(pctx, agent)
	if crossWorkspace {
		c.indicators = append(c.indicators, IndicatorCrossWorkspace)
		return session.Session{}, nil, e.deny(c, audit.TypeCrossWorkspaceAttempt, model.SeverityHigh,
			model.ReasonWorkspaceMismatch, "agent belongs to another workspace")
	}
	if !level.AtLeast(model.AccessInteract) {
		return session.Session{}, nil, e.deny(c, audit.TypeAccessDenied, model.SeverityMedium,
			model.ReasonAccessDenied, "session creation requires interact access")
	}

	s, err := e.guard.Create(agent, workspaceID, p.UserID, c.now)
	if err != nil {
		// The guard re-checks the workspace boundary on its own record.
		c.indicators = append(c.indicators, IndicatorCrossWorkspace)
		return session.Session{}, nil, e.deny(c, audit.TypeCrossWorkspaceAttempt, model.SeverityHigh,
			model.ReasonWorkspaceMismatch, err.Error())
	}
	c.sessionID = s.ID

	raw, _, err := e.detector.Issue(s, sec, c.now)
	if err != nil {
		e.guard.End(s.ID, workspaceID, c.now)
		return session.Session{}, nil, e.deny(c, audit.TypeStoreFailure, model.SeverityHigh,
			model.ReasonStoreUnavailable, "token issuance failed")
	}

	c.eventType = audit.TypeSessionCreated
	c.severity = model.SeverityLow
	d = e.record(c, model.Allow(level))
	s, _ = e.guard.Get(s.ID, workspaceID)
	return s, raw, d
}

// SessionResult is the outcome of validating a session-bearing request.
type SessionResult struct {
	Decision model.Decision
	Session  session.Session
	// Rotated reports that the token aged past the rotation threshold on a
	// clean validation; Token carries the replacement the caller must adopt.
	Rotated bool
	Token   []byte
}

// ValidateSession checks a session token against the workspace boundary, the
// revocation blacklist, and the fingerprint/IP bound at issuance. A
// continuity mismatch revokes the session terminally and logs CRITICAL
// before this call returns.
func (e *Engine) ValidateSession(raw []byte, workspaceID string, sec token.SecurityContext) SessionResult {
	c := e.newCall(nil, workspaceID, sec.IP)

	if d, ok := e.validateIDs(c, [2]string{"workspace_id", workspaceID}); !ok {
		return SessionResult{Decision: d}
	}

	// Workspace lockdown denies before the token is even opened. The
	// caller's identity is unknown at this point; quarantine is re-checked
	// once the token names a user.
	if blk, blocked := e.emergency.Check(workspaceID, "", c.now); blocked && blk.Kind == emergency.KindLockdown {
		c.override = true
		return SessionResult{Decision: e.deny(c, audit.TypeLockdownDenied, model.SeverityMedium,
			model.ReasonLockdown, blk.Reason)}
	}

	res, err := e.detector.Validate(raw, workspaceID, sec, c.now)
	if err != nil {
		return SessionResult{Decision: e.deny(c, audit.TypeStoreFailure, model.SeverityHigh,
			model.ReasonStoreUnavailable, "token verification failed")}
	}

	c.userID = res.Session.UserID
	c.sessionID = res.Session.ID
	c.agentID = res.Session.AgentID

	if !res.OK {
		return SessionResult{Session: res.Session, Decision: e.denySessionCheck(c, res)}
	}

	if d, ok := e.overrideCheck(c, res.Session.UserID); !ok {
		return SessionResult{Session: res.Session, Decision: d}
	}
	if d, ok := e.rateCheck(c, ratelimit.RuleDecision, res.Session.UserID); !ok {
		return SessionResult{Session: res.Session, Decision: d}
	}

	c.eventType = audit.TypeAccessGranted
	c.severity = model.SeverityLow
	d := model.Decision{Allowed: true, ReasonCode: model.ReasonOK}
	if res.Rotated {
		c.eventType = audit.TypeTokenRotated
		d.Detail = "session token rotated"
	}
	return SessionResult{
		Decision: e.record(c, d),
		Session:  res.Session,
		Rotated:  res.Rotated,
		Token:    res.Token,
	}
}

// denySessionCheck maps a failed detector result onto the audit taxonomy.
func (e *Engine) denySessionCheck(c *call, res anomaly.Result) model.Decision {
	switch res.ReasonCode {
	case model.ReasonValidation:
		return e.deny(c, audit.TypeValidationRejected, model.SeverityLow,
			res.ReasonCode, res.Detail)
	case model.ReasonWorkspaceMismatch:
		c.indicators = append(c.indicators, IndicatorCrossWorkspace)
		return e.deny(c, audit.TypeCrossWorkspaceAttempt, model.SeverityHigh,
			res.ReasonCode, res.Detail)
	case model.ReasonSessionAnomaly:
		c.indicators = append(c.indicators, res.Indicators...)
		eventType := audit.TypeSecurityAlert
		if res.Revoked {
			eventType = audit.TypeSessionRevoked
		}
		return e.deny(c, eventType, model.SeverityCritical, res.ReasonCode, res.Detail)
	case model.ReasonSessionNotFound:
		return e.deny(c, audit.TypeAccessDenied, model.SeverityMedium,
			res.ReasonCode, res.Detail)
	default:
		return e.deny(c, audit.TypeAccessDenied, model.SeverityMedium,
			res.ReasonCode, res.Detail)
	}
}

// GetSession fetches a session under the compound (session, workspace) key.
// A session that exists under a different workspace is not found. Reading
// another user's session requires MANAGE.
func (e *Engine) GetSession(ctx context.Context, p *model.Principal, workspaceID, sessionID, ip string) (session.Session, model.Decision) {
	c := e.newCall(p, workspaceID, ip)
	c.sessionID = sessionID

	pctx, d, ok := e.preflight(ctx, c, p, ratelimit.RuleDecision, [2]string{"session_id", sessionID})
	if !ok {
		return session.Session{}, d
	}

	s, found := e.guard.Get(sessionID, workspaceID)
	if !found {
		return session.Session{}, e.deny(c, audit.TypeAccessDenied, model.SeverityMedium,
			model.ReasonSessionNotFound, "session not found in this workspace")
	}
	if d, ok := e.authorizeSessionRead(c, pctx, s); !ok {
		return session.Session{}, d
	}

	c.agentID = s.AgentID
	c.eventType = audit.TypeAccessGranted
	c.severity = model.SeverityLow
	return s, e.record(c, model.Decision{Allowed: true, ReasonCode: model.ReasonOK})
}

// SessionHistory returns the conversation history under the same compound
// predicate as the session itself.
func (e *Engine) SessionHistory(ctx context.Context, p *model.Principal, workspaceID, sessionID, ip string) ([]session.Message, model.Decision) {
	c := e.newCall(p, workspaceID, ip)
	c.sessionID = sessionID

	pctx, d, ok := e.preflight(ctx, c, p, ratelimit.RuleDecision, [2]string{"session_id", sessionID})
	if !ok {
		return nil, d
	}

	s, found := e.guard.Get(sessionID, workspaceID)
	if !found {
		return nil, e.deny(c, audit.TypeAccessDenied, model.SeverityMedium,
			model.ReasonSessionNotFound, "session not found in this workspace")
	}
	if d, ok := e.authorizeSessionRead(c, pctx, s); !ok {
		return nil, d
	}

	history, _ := e.guard.History(sessionID, workspaceID)
	c.agentID = s.AgentID
	c.eventType = audit.TypeAccessGranted
	c.severity = model.SeverityLow
	return history, e.record(c, model.Decision{Allowed: true, ReasonCode: model.ReasonOK})
}

// AppendMessage adds a history entry to the caller's own active session.
func (e *Engine) AppendMessage(ctx context.Context, p *model.Principal, workspaceID, sessionID, role, content, ip string) (session.Message, model.Decision) {
	c := e.newCall(p, workspaceID, ip)
	c.sessionID = sessionID

	_, d, ok := e.preflight(ctx, c, p, ratelimit.RuleDecision, [2]string{"session_id", sessionID})
	if !ok {
		return session.Message{}, d
	}

	s, found := e.guard.Get(sessionID, workspaceID)
	if !found {
		return session.Message{}, e.deny(c, audit.TypeAccessDenied, model.SeverityMedium,
			model.ReasonSessionNotFound, "session not found in this workspace")
	}
	c.agentID = s.AgentID
	if s.UserID != p.UserID {
		return session.Message{}, e.deny(c, audit.TypeAccessDenied, model.SeverityMedium,
			model.ReasonAccessDenied, "session belongs to another user")
	}
	if s.Status != session.StatusActive {
		return session.Message{}, e.deny(c, audit.TypeAccessDenied, model.SeverityMedium,
			model.ReasonAccessDenied, "session is not active")
	}

	msg, appended := e.guard.AppendMessage(sessionID, workspaceID, role, content, c.now)
	if !appended {
		return session.Message{}, e.deny(c, audit.TypeAccessDenied, model.SeverityMedium,
			model.ReasonSessionNotFound, "session not found in this workspace")
	}

	c.eventType = audit.TypeAccessGranted
	c.severity = model.SeverityLow
	return msg, e.record(c, model.Decision{Allowed: true, ReasonCode: model.ReasonOK})
}

// EndSession closes the caller's session. Ending another user's session
// requires MANAGE. Ending an already-ended session succeeds idempotently;
// a revoked session stays revoked.
func (e *Engine) EndSession(ctx context.Context, p *model.Principal, workspaceID, sessionID, ip string) model.Decision {
	c := e.newCall(p, workspaceID, ip)
	c.sessionID = sessionID

	pctx, d, ok := e.preflight(ctx, c, p, ratelimit.RuleDecision, [2]string{"session_id", sessionID})
	if !ok {
		return d
	}

	s, found := e.guard.Get(sessionID, workspaceID)
	if !found {
		return e.deny(c, audit.TypeAccessDenied, model.SeverityMedium,
			model.ReasonSessionNotFound, "session not found in this workspace")
	}
	if d, ok := e.authorizeSessionRead(c, pctx, s); !ok {
		return d
	}

	e.guard.End(sessionID, workspaceID, c.now)
	c.agentID = s.AgentID
	c.eventType = audit.TypeSessionEnded
	c.severity = model.SeverityLow
	return e.record(c, model.Decision{Allowed: true, ReasonCode: model.ReasonOK})
}

// authorizeSessionRead gates access to a session record: the session's own
// user, or MANAGE for oversight.
func (e *Engine) authorizeSessionRead(c *call, pctx access.PermissionContext, s session.Session) (model.Decision, bool) {
	if s.UserID == pctx.UserID || access.Ceiling(pctx).AtLeast(model.AccessManage) {
		return model.Decision{}, true
	}
	d := e.deny(c, audit.TypeAccessDenied, model.SeverityMedium,
		model.ReasonAccessDenied, "session belongs to another user")
	return d, false
}
