package gate

import (
	"context"
	"testing"
	"time"

	"github.com/holdfast-sec/holdfast/internal/access"
	"github.com/holdfast-sec/holdfast/internal/audit"
	"github.com/holdfast-sec/holdfast/internal/config"
	"github.com/holdfast-sec/holdfast/internal/model"
	"github.com/holdfast-sec/holdfast/internal/ratelimit"
)

// --- workspace authorization tests ---

func TestAuthorizeWorkspaceCeilings(t *testing.T) {
	eng, dir, _ := newTestEngine(t, nil)
	dir.PutPermission(model.PermissionRecord{UserID: "admin-1", EntityType: model.EntityWorkspace, EntityID: "ws-1", PermissionType: model.PermissionAdmin})
	ctx := context.Background()

	tests := []struct {
		userID string
		want   model.AccessLevel
	}{
		{"owner-1", model.AccessManage},
		{"admin-1", model.AccessManage},
		{"writer-1", model.AccessInteract},
		{"reader-1", model.AccessView}, // no explicit record, default read
	}
	for _, tt := range tests {
		d := eng.AuthorizeWorkspace(ctx, principal(tt.userID, "ws-1"), "ws-1", "")
		if !d.Allowed {
			t.Fatalf("AuthorizeWorkspace(%s) denied: %+v", tt.userID, d)
		}
		if d.AccessLevel != tt.want {
			t.Errorf("AuthorizeWorkspace(%s) level = %q, want %q", tt.userID, d.AccessLevel, tt.want)
		}
	}
}

func TestAuthorizeWorkspaceNonMember(t *testing.T) {
	eng, _, sink := newTestEngine(t, nil)

	d := eng.AuthorizeWorkspace(context.Background(), principal("stranger-1"), "ws-1", "")
	if d.Allowed {
		t.Fatal("non-member was allowed")
	}
	if d.ReasonCode != model.ReasonAccessDenied {
		t.Errorf("reason = %q, want %q", d.ReasonCode, model.ReasonAccessDenied)
	}

	ev := sink.last(t)
	if ev.Type != audit.TypeAccessDenied || ev.Severity != model.SeverityMedium {
		t.Errorf("event = %s/%s, want %s/%s", ev.Type, ev.Severity, audit.TypeAccessDenied, model.SeverityMedium)
	}
	// Membership denials must not poison the cache for later grants.
	if got := eng.Stats().CacheEntries; got != 0 {
		t.Errorf("denial was cached: %d entries", got)
	}
}

func TestAuthorizeWorkspaceNilPrincipal(t *testing.T) {
	eng, _, sink := newTestEngine(t, nil)

	d := eng.AuthorizeWorkspace(context.Background(), nil, "ws-1", "")
	if d.Allowed || d.ReasonCode != model.ReasonValidation {
		t.Errorf("expected validation denial, got %+v", d)
	}
	if ev := sink.last(t); ev.Severity != model.SeverityLow {
		t.Errorf("validation denial severity = %s, want low", ev.Severity)
	}
}

func TestAuthorizeWorkspaceMalformedIDs(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	tests := []struct {
		userID, workspaceID string
	}{
		{"writer-1", "ws 1"},
		{"writer-1", ""},
		{"user\nwriter", "ws-1"},
		{"writer-1", "../../etc"},
	}
	for _, tt := range tests {
		p := principal(tt.userID, tt.workspaceID)
		d := eng.AuthorizeWorkspace(ctx, p, tt.workspaceID, "")
		if d.Allowed || d.ReasonCode != model.ReasonValidation {
			t.Errorf("AuthorizeWorkspace(%q, %q) = %+v, want validation denial", tt.userID, tt.workspaceID, d)
		}
	}
}

func TestAuthorizeWorkspaceStoreFailureFailsClosed(t *testing.T) {
	eng, dir, sink := newTestEngine(t, nil)
	dir.SetFailing(true)

	d := eng.AuthorizeWorkspace(context.Background(), principal("writer-1", "ws-1"), "ws-1", "")
	if d.Allowed {
		t.Fatal("store outage did not fail closed")
	}
	if d.ReasonCode != model.ReasonStoreUnavailable {
		t.Errorf("reason = %q, want %q", d.ReasonCode, model.ReasonStoreUnavailable)
	}
	ev := sink.last(t)
	if ev.Type != audit.TypeStoreFailure || ev.Severity != model.SeverityHigh {
		t.Errorf("event = %s/%s, want %s/high", ev.Type, ev.Severity, audit.TypeStoreFailure)
	}
}

func TestDecisionCarriesRateStatus(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)

	d := eng.AuthorizeWorkspace(context.Background(), principal("writer-1", "ws-1"), "ws-1", "")
	if !d.Allowed {
		t.Fatalf("denied: %+v", d)
	}
	if d.RateLimit == nil {
		t.Fatal("allowed decision is missing rate status")
	}
	if d.RateLimit.Limit != 120 {
		t.Errorf("limit = %d, want default decision limit 120", d.RateLimit.Limit)
	}
	if d.RateLimit.Remaining != 119 {
		t.Errorf("remaining = %d, want 119 after one request", d.RateLimit.Remaining)
	}
}

// --- rate limit severity tests ---

func TestRateLimitSoftDenialIsLow(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimits = ratelimit.Rules{
		ratelimit.RuleDecision: {Requests: 1, Window: time.Minute},
	}
	eng, _, sink := newTestEngine(t, cfg)
	ctx := context.Background()
	p := principal("writer-1", "ws-1")

	if d := eng.AuthorizeWorkspace(ctx, p, "ws-1", ""); !d.Allowed {
		t.Fatalf("first request denied: %+v", d)
	}
	d := eng.AuthorizeWorkspace(ctx, p, "ws-1", "")
	if d.Allowed || d.ReasonCode != model.ReasonRateLimited {
		t.Fatalf("expected rate_limited, got %+v", d)
	}
	if d.RateLimit == nil || d.RateLimit.RetryAfter != 0 {
		t.Errorf("soft denial should not carry retry_after: %+v", d.RateLimit)
	}
	if ev := sink.last(t); ev.Severity != model.SeverityLow {
		t.Errorf("soft denial severity = %s, want low", ev.Severity)
	}
}

func TestRateLimitHardBlockIsMedium(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimits = ratelimit.Rules{
		ratelimit.RuleDecision: {Requests: 1, Window: time.Minute, Block: 10 * time.Minute},
	}
	eng, _, sink := newTestEngine(t, cfg)
	ctx := context.Background()
	p := principal("writer-1", "ws-1")

	eng.AuthorizeWorkspace(ctx, p, "ws-1", "")
	d := eng.AuthorizeWorkspace(ctx, p, "ws-1", "")
	if d.Allowed {
		t.Fatal("request over the limit was allowed")
	}
	if d.RateLimit == nil || d.RateLimit.RetryAfter <= 0 {
		t.Fatalf("hard block should carry retry_after: %+v", d.RateLimit)
	}
	if ev := sink.last(t); ev.Severity != model.SeverityMedium {
		t.Errorf("hard block severity = %s, want medium", ev.Severity)
	}
}

// --- agent authorization tests ---

func TestAuthorizeAgentOperationMatrix(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	// agent-1 was created by creator-1, who holds only the default read
	// level; creation promotes them to configure on their own agent.
	tests := []struct {
		userID string
		op     access.Operation
		want   bool
	}{
		{"owner-1", access.OpView, true},
		{"owner-1", access.OpConfigure, true},
		{"owner-1", access.OpDelete, true},
		{"writer-1", access.OpView, true},
		{"writer-1", access.OpInteract, true},
		{"writer-1", access.OpConfigure, false},
		{"writer-1", access.OpDelete, false},
		{"creator-1", access.OpView, true},
		{"creator-1", access.OpConfigure, true},
		{"creator-1", access.OpDelete, true},
		{"reader-1", access.OpView, true},
		{"reader-1", access.OpInteract, true},
		{"reader-1", access.OpConfigure, false},
		{"reader-1", access.OpDelete, false},
	}
	for _, tt := range tests {
		d := eng.AuthorizeAgent(ctx, principal(tt.userID, "ws-1"), "ws-1", "agent-1", tt.op, "")
		if d.Allowed != tt.want {
			t.Errorf("AuthorizeAgent(%s, %s) allowed = %v, want %v (%s)",
				tt.userID, tt.op, d.Allowed, tt.want, d.Detail)
		}
	}
}

func TestAuthorizeAgentCreate(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	tests := []struct {
		userID string
		want   bool
	}{
		{"owner-1", true},
		{"writer-1", true},
		{"reader-1", false},
	}
	for _, tt := range tests {
		// Create ignores the agent ID: the agent does not exist yet.
		d := eng.AuthorizeAgent(ctx, principal(tt.userID, "ws-1"), "ws-1", "", access.OpCreate, "")
		if d.Allowed != tt.want {
			t.Errorf("create as %s allowed = %v, want %v (%s)", tt.userID, d.Allowed, tt.want, d.Detail)
		}
	}
}

func TestAuthorizeAgentCrossWorkspace(t *testing.T) {
	eng, _, sink := newTestEngine(t, nil)

	// agent-2 is persisted under ws-2; writer-1 checks it through ws-1.
	d := eng.AuthorizeAgent(context.Background(), principal("writer-1", "ws-1"), "ws-1", "agent-2", access.OpView, "")
	if d.Allowed {
		t.Fatal("cross-workspace access was allowed")
	}
	if d.ReasonCode != model.ReasonWorkspaceMismatch {
		t.Errorf("reason = %q, want %q", d.ReasonCode, model.ReasonWorkspaceMismatch)
	}

	ev := sink.last(t)
	if ev.Type != audit.TypeCrossWorkspaceAttempt {
		t.Errorf("event type = %s, want %s", ev.Type, audit.TypeCrossWorkspaceAttempt)
	}
	if ev.Severity != model.SeverityHigh {
		t.Errorf("severity = %s, want high", ev.Severity)
	}
	found := false
	for _, ind := range ev.ThreatIndicators {
		if ind == IndicatorCrossWorkspace {
			found = true
		}
	}
	if !found {
		t.Errorf("threat indicators missing %q: %v", IndicatorCrossWorkspace, ev.ThreatIndicators)
	}
}

func TestAuthorizeAgentOwnerCannotReachForeignAgent(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)

	// Ownership of ws-1 grants nothing on agents stored under ws-2.
	d := eng.AuthorizeAgent(context.Background(), principal("owner-1", "ws-1"), "ws-1", "agent-2", access.OpDelete, "")
	if d.Allowed || d.ReasonCode != model.ReasonWorkspaceMismatch {
		t.Errorf("expected workspace_mismatch for owner, got %+v", d)
	}
}

func TestAuthorizeAgentNotFound(t *testing.T) {
	eng, _, sink := newTestEngine(t, nil)

	d := eng.AuthorizeAgent(context.Background(), principal("writer-1", "ws-1"), "ws-1", "no-such-agent", access.OpView, "")
	if d.Allowed || d.ReasonCode != model.ReasonAgentNotFound {
		t.Errorf("expected agent_not_found, got %+v", d)
	}
	if ev := sink.last(t); ev.Severity != model.SeverityMedium {
		t.Errorf("severity = %s, want medium", ev.Severity)
	}
}

func TestAuthorizeAgentLookupFailureFailsClosed(t *testing.T) {
	eng, dir, _ := newTestEngine(t, nil)
	ctx := context.Background()
	p := principal("writer-1", "ws-1")

	// Warm the permission cache, then fail the store so only the agent
	// lookup hits the outage.
	if d := eng.AuthorizeWorkspace(ctx, p, "ws-1", ""); !d.Allowed {
		t.Fatalf("warmup denied: %+v", d)
	}
	dir.SetFailing(true)

	d := eng.AuthorizeAgent(ctx, p, "ws-1", "agent-1", access.OpView, "")
	if d.Allowed || d.ReasonCode != model.ReasonStoreUnavailable {
		t.Errorf("expected store_unavailable, got %+v", d)
	}
}

// --- listing tests ---

func TestListAgentsFiltersByVisibility(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	agents, d := eng.ListAgents(ctx, principal("writer-1", "ws-1"), "ws-1", "")
	if !d.Allowed {
		t.Fatalf("list denied: %+v", d)
	}
	if len(agents) != 1 || agents[0].ID != "agent-1" {
		t.Errorf("expected [agent-1], got %v", agents)
	}

	// Foreign-workspace agents never leak into the listing.
	for _, a := range agents {
		if a.WorkspaceID != "ws-1" {
			t.Errorf("agent %s from workspace %s leaked into ws-1 listing", a.ID, a.WorkspaceID)
		}
	}
}

func TestListAgentsNonMemberDenied(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)

	agents, d := eng.ListAgents(context.Background(), principal("stranger-1"), "ws-1", "")
	if d.Allowed {
		t.Fatal("non-member list was allowed")
	}
	if agents != nil {
		t.Errorf("denied list returned agents: %v", agents)
	}
}

func TestDefaultMemberLevelNoneHidesAgents(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Access.DefaultMemberLevel = "none"
	eng, _, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	// A plain member sees nothing when the workspace defaults to none.
	agents, d := eng.ListAgents(ctx, principal("reader-1", "ws-1"), "ws-1", "")
	if !d.Allowed {
		t.Fatalf("list denied: %+v", d)
	}
	if len(agents) != 0 {
		t.Errorf("expected empty listing, got %v", agents)
	}

	// Explicit grants still cut through.
	agents, d = eng.ListAgents(ctx, principal("writer-1", "ws-1"), "ws-1", "")
	if !d.Allowed || len(agents) != 1 {
		t.Errorf("writer listing = %v (%+v), want [agent-1]", agents, d)
	}

	vd := eng.AuthorizeAgent(ctx, principal("reader-1", "ws-1"), "ws-1", "agent-1", access.OpView, "")
	if vd.Allowed {
		t.Error("default none still granted view")
	}
}
