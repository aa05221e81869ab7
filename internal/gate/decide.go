package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/holdfast-sec/holdfast/internal/access"
	"github.com/holdfast-sec/holdfast/internal/audit"
	"github.com/holdfast-sec/holdfast/internal/emergency"
	"github.com/holdfast-sec/holdfast/internal/model"
	"github.com/holdfast-sec/holdfast/internal/ratelimit"
)

// IndicatorCrossWorkspace tags decisions that touched an entity persisted
// under a foreign workspace.
const IndicatorCrossWorkspace = "cross_workspace_attempt"

// validateIDs rejects malformed identifiers before any resolver runs. Pairs
// are (field name, value).
func (e *Engine) validateIDs(c *call, pairs ...[2]string) (model.Decision, bool) {
	for _, p := range pairs {
		if err := model.ValidateID(p[0], p[1]); err != nil {
			return e.deny(c, audit.TypeValidationRejected, model.SeverityLow,
				model.ReasonValidation, err.Error()), false
		}
	}
	return model.Decision{}, true
}

// overrideCheck consults lockdown and quarantine state before any other
// logic. Override denials are a distinct audit category from permission
// denials.
func (e *Engine) overrideCheck(c *call, userID string) (model.Decision, bool) {
	blk, blocked := e.emergency.Check(c.workspaceID, userID, c.now)
	if !blocked {
		return model.Decision{}, true
	}
	c.override = true
	if blk.Kind == emergency.KindLockdown {
		return e.deny(c, audit.TypeLockdownDenied, model.SeverityMedium,
			model.ReasonLockdown, blk.Reason), false
	}
	return e.deny(c, audit.TypeQuarantineDenied, model.SeverityMedium,
		model.ReasonQuarantine, blk.Reason), false
}

// rateCheck applies the named rule. Hard blocks log MEDIUM, soft denials LOW.
func (e *Engine) rateCheck(c *call, rule, subject string) (model.Decision, bool) {
	res := e.limiter.AllowAt(rule, subject, c.now)
	if res.Limit > 0 {
		c.rate = &model.RateStatus{
			Limit:      res.Limit,
			Remaining:  res.Remaining,
			ResetAt:    res.ResetAt,
			RetryAfter: res.RetryAfter,
		}
	}
	if res.Allowed {
		return model.Decision{}, true
	}
	sev := model.SeverityLow
	if res.RetryAfter > 0 {
		sev = model.SeverityMedium
	}
	return e.deny(c, audit.TypeRateLimited, sev,
		model.ReasonRateLimited, fmt.Sprintf("rate limit exceeded for rule %q", rule)), false
}

// resolvePermission resolves the caller's workspace permission context.
// Non-membership is an ordinary denial; a store fault fails closed.
func (e *Engine) resolvePermission(ctx context.Context, c *call, p *model.Principal) (access.PermissionContext, model.Decision, bool) {
	e.mu.RLock()
	resolver := e.resolver
	e.mu.RUnlock()

	pctx, err := resolver.Resolve(ctx, p, c.workspaceID, c.now)
	if err != nil {
		if errors.Is(err, access.ErrNotMember) {
			d := e.deny(c, audit.TypeAccessDenied, model.SeverityMedium,
				model.ReasonAccessDenied, "not a member of this workspace")
			return pctx, d, false
		}
		d := e.deny(c, audit.TypeStoreFailure, model.SeverityHigh,
			model.ReasonStoreUnavailable, "permission store unavailable")
		return pctx, d, false
	}
	return pctx, model.Decision{}, true
}

// preflight runs the shared front half of every decision: principal and ID
// validation, emergency override, rate limit, permission resolution.
func (e *Engine) preflight(ctx context.Context, c *call, p *model.Principal, rule string, pairs ...[2]string) (access.PermissionContext, model.Decision, bool) {
	if p == nil {
		d := e.deny(c, audit.TypeValidationRejected, model.SeverityLow,
			model.ReasonValidation, "principal is required")
		return access.PermissionContext{}, d, false
	}
	all := append([][2]string{{"workspace_id", c.workspaceID}, {"user_id", p.UserID}}, pairs...)
	if d, ok := e.validateIDs(c, all...); !ok {
		return access.PermissionContext{}, d, false
	}
	if d, ok := e.overrideCheck(c, p.UserID); !ok {
		return access.PermissionContext{}, d, false
	}
	if d, ok := e.rateCheck(c, rule, p.UserID); !ok {
		return access.PermissionContext{}, d, false
	}
	return e.resolvePermission(ctx, c, p)
}

// AuthorizeWorkspace decides whether the principal may operate in the
// workspace at all. The returned access level is the caller's ceiling before
// creator promotion.
func (e *Engine) AuthorizeWorkspace(ctx context.Context, p *model.Principal, workspaceID, ip string) model.Decision {
	c := e.newCall(p, workspaceID, ip)
	pctx, d, ok := e.preflight(ctx, c, p, ratelimit.RuleDecision)
	if !ok {
		return d
	}
	c.eventType = audit.TypeAccessGranted
	c.severity = model.SeverityLow
	return e.record(c, model.Allow(access.Ceiling(pctx)))
}

// AuthorizeAgent decides one agent-scoped operation. For OpCreate the agent
// ID is ignored: creation is gated on the workspace permission alone.
func (e *Engine) AuthorizeAgent(ctx context.Context, p *model.Principal, workspaceID, agentID string, op access.Operation, ip string) model.Decision {
	c := e.newCall(p, workspaceID, ip)

	var idPairs [][2]string
	if op != access.OpCreate {
		c.agentID = agentID
		idPairs = append(idPairs, [2]string{"agent_id", agentID})
	}

	pctx, d, ok := e.preflight(ctx, c, p, ratelimit.RuleDecision, idPairs...)
	if !ok {
		return d
	}

	if op == access.OpCreate {
		if !access.CanCreate(pctx) {
			return e.deny(c, audit.TypeAccessDenied, model.SeverityMedium,
				model.ReasonAccessDenied, "agent creation requires write permission or ownership")
		}
		c.eventType = audit.TypeAccessGranted
		c.severity = model.SeverityLow
		return e.record(c, model.Allow(access.Ceiling(pctx)))
	}

	agent, found, err := e.dir.Agent(ctx, agentID)
	if err != nil {
		return e.deny(c, audit.TypeStoreFailure, model.SeverityHigh,
			model.ReasonStoreUnavailable, "agent store unavailable")
	}
	if !found {
		return e.deny(c, audit.TypeAccessDenied, model.SeverityMedium,
			model.ReasonAgentNotFound, "agent not found")
	}

	level, crossWorkspace := access.Evaluate(pctx, agent)
	if crossWorkspace {
		c.indicators = append(c.indicators, IndicatorCrossWorkspace)
		return e.deny(c, audit.TypeCrossWorkspaceAttempt, model.SeverityHigh,
			model.ReasonWorkspaceMismatch, "agent belongs to another workspace")
	}

	if !access.Allows(op, level, agent.CreatedBy == pctx.UserID) {
		return e.deny(c, audit.TypeAccessDenied, model.SeverityMedium,
			model.ReasonAccessDenied, fmt.Sprintf("operation %q not permitted at access level %q", op, level))
	}

	c.eventType = audit.TypeAccessGranted
	c.severity = model.SeverityLow
	return e.record(c, model.Allow(level))
}

// ListAgents returns the agents in the workspace the principal clears VIEW
// for. The decision reflects the list operation itself; agents the caller
// cannot see are filtered, not denied.
func (e *Engine) ListAgents(ctx context.Context, p *model.Principal, workspaceID, ip string) ([]model.AgentRecord, model.Decision) {
	c := e.newCall(p, workspaceID, ip)
	pctx, d, ok := e.preflight(ctx, c, p, ratelimit.RuleDecision)
	if !ok {
		return nil, d
	}

	agents, err := e.dir.AgentsIn(ctx, workspaceID)
	if err != nil {
		return nil, e.deny(c, audit.TypeStoreFailure, model.SeverityHigh,
			model.ReasonStoreUnavailable, "agent store unavailable")
	}

	visible := access.FilterVisible(pctx, agents)
	c.eventType = audit.TypeAccessGranted
	c.severity = model.SeverityLow
	return visible, e.record(c, model.Allow(access.Ceiling(pctx)))
}
