package mcp

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/holdfast-sec/holdfast/internal/access"
	"github.com/holdfast-sec/holdfast/internal/audit"
	"github.com/holdfast-sec/holdfast/internal/model"
)

// --- Input/Output types ---

// CheckInput defines parameters for the holdfast_check tool.
type CheckInput struct {
	UserID      string `json:"user_id" jsonschema:"user requesting access"`
	WorkspaceID string `json:"workspace_id" jsonschema:"workspace being accessed"`
	AgentID     string `json:"agent_id,omitempty" jsonschema:"agent being accessed, omit for a workspace-level check"`
	Operation   string `json:"operation,omitempty" jsonschema:"agent operation (view/interact/configure/delete/create)"`
}

// CheckOutput contains the decision. A deny is a well-formed answer, not a
// tool error.
type CheckOutput struct {
	Allowed     bool   `json:"allowed"`
	AccessLevel string `json:"access_level,omitempty"`
	Reason      string `json:"reason"`
	Detail      string `json:"detail,omitempty"`
}

// AgentsInput defines parameters for the holdfast_agents tool.
type AgentsInput struct {
	UserID      string `json:"user_id" jsonschema:"user listing agents"`
	WorkspaceID string `json:"workspace_id" jsonschema:"workspace to list"`
}

// AgentsOutput lists the agents visible to the user.
type AgentsOutput struct {
	Agents []AgentItem `json:"agents"`
	Denied bool        `json:"denied,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

// AgentItem describes one visible agent.
type AgentItem struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// EmergencyStateInput is empty; the state is global.
type EmergencyStateInput struct{}

// EmergencyStateOutput lists active overrides.
type EmergencyStateOutput struct {
	Lockdowns   []LockdownItem   `json:"lockdowns"`
	Quarantines []QuarantineItem `json:"quarantines"`
}

// LockdownItem describes one active lockdown.
type LockdownItem struct {
	WorkspaceID string `json:"workspace_id"`
	Reason      string `json:"reason"`
	Actor       string `json:"actor"`
	SetAt       string `json:"set_at"`
}

// QuarantineItem describes one active quarantine.
type QuarantineItem struct {
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id"`
	Reason      string `json:"reason"`
	Actor       string `json:"actor"`
	SetAt       string `json:"set_at"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

// AuditTailInput defines parameters for the holdfast_audit_tail tool.
type AuditTailInput struct {
	WorkspaceID string `json:"workspace_id,omitempty" jsonschema:"filter to one workspace"`
	MinSeverity string `json:"min_severity,omitempty" jsonschema:"minimum severity (low/medium/high/critical)"`
	Limit       int    `json:"limit,omitempty" jsonschema:"maximum events to return, defaults to 20"`
}

// AuditTailOutput lists recent audit events, newest first.
type AuditTailOutput struct {
	Events []AuditItem `json:"events"`
}

// AuditItem is one audit event trimmed for tool output.
type AuditItem struct {
	Timestamp   string `json:"ts"`
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	AgentID     string `json:"agent_id,omitempty"`
	Decision    string `json:"decision,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// --- Handlers ---

// principal resolves a user against the snapshot. Unknown users get a bare
// principal with no memberships, which the engine denies as a non-member.
func (s *Server) principal(userID string) *model.Principal {
	if p, ok := s.snap.Principal(userID); ok {
		return &p
	}
	return &model.Principal{UserID: userID}
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	p := s.principal(input.UserID)

	var d model.Decision
	switch {
	case input.AgentID == "" && input.Operation == "":
		d = s.engine.AuthorizeWorkspace(ctx, p, input.WorkspaceID, "")
	case input.Operation == "":
		d = s.engine.AuthorizeAgent(ctx, p, input.WorkspaceID, input.AgentID, access.OpView, "")
	default:
		op, ok := access.ParseOperation(input.Operation)
		if !ok {
			return nil, CheckOutput{}, fmt.Errorf("unknown operation %q", input.Operation)
		}
		d = s.engine.AuthorizeAgent(ctx, p, input.WorkspaceID, input.AgentID, op, "")
	}

	return nil, CheckOutput{
		Allowed:     d.Allowed,
		AccessLevel: string(d.AccessLevel),
		Reason:      string(d.ReasonCode),
		Detail:      d.Detail,
	}, nil
}

func (s *Server) handleAgents(ctx context.Context, req *mcpsdk.CallToolRequest, input AgentsInput) (*mcpsdk.CallToolResult, AgentsOutput, error) {
	agents, d := s.engine.ListAgents(ctx, s.principal(input.UserID), input.WorkspaceID, "")
	if !d.Allowed {
		out := AgentsOutput{Denied: true, Reason: string(d.ReasonCode)}
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}

	items := make([]AgentItem, len(agents))
	for i, a := range agents {
		items[i] = AgentItem{ID: a.ID, Status: string(a.Status)}
	}
	return nil, AgentsOutput{Agents: items}, nil
}

func (s *Server) handleEmergencyState(ctx context.Context, req *mcpsdk.CallToolRequest, input EmergencyStateInput) (*mcpsdk.CallToolResult, EmergencyStateOutput, error) {
	st := s.engine.EmergencyState()

	out := EmergencyStateOutput{
		Lockdowns:   make([]LockdownItem, len(st.Lockdowns)),
		Quarantines: make([]QuarantineItem, len(st.Quarantines)),
	}
	for i, ld := range st.Lockdowns {
		out.Lockdowns[i] = LockdownItem{
			WorkspaceID: ld.WorkspaceID,
			Reason:      ld.Reason,
			Actor:       ld.Actor,
			SetAt:       ld.SetAt.Format(time.RFC3339),
		}
	}
	for i, q := range st.Quarantines {
		item := QuarantineItem{
			WorkspaceID: q.WorkspaceID,
			UserID:      q.UserID,
			Reason:      q.Reason,
			Actor:       q.Actor,
			SetAt:       q.SetAt.Format(time.RFC3339),
		}
		if !q.ExpiresAt.IsZero() {
			item.ExpiresAt = q.ExpiresAt.Format(time.RFC3339)
		}
		out.Quarantines[i] = item
	}
	return nil, out, nil
}

func (s *Server) handleAuditTail(ctx context.Context, req *mcpsdk.CallToolRequest, input AuditTailInput) (*mcpsdk.CallToolResult, AuditTailOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	filter := audit.Filter{
		WorkspaceID: input.WorkspaceID,
		Limit:       limit,
	}
	if input.MinSeverity != "" {
		sev, err := model.ParseSeverity(input.MinSeverity)
		if err != nil {
			return nil, AuditTailOutput{}, err
		}
		filter.MinSeverity = sev
	}

	// Drain the queue so the tail includes decisions this server just made.
	if err := s.recorder.Flush(); err != nil {
		return nil, AuditTailOutput{}, err
	}
	events, err := s.auditDB.Query(filter)
	if err != nil {
		return nil, AuditTailOutput{}, err
	}

	items := make([]AuditItem, len(events))
	for i, ev := range events {
		items[i] = AuditItem{
			Timestamp:   ev.Timestamp,
			Type:        ev.Type,
			Severity:    string(ev.Severity),
			WorkspaceID: ev.WorkspaceID,
			UserID:      ev.UserID,
			AgentID:     ev.AgentID,
			Decision:    ev.Decision,
			Detail:      ev.Detail,
		}
	}
	return nil, AuditTailOutput{Events: items}, nil
}
