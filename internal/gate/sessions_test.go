package gate

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/holdfast-sec/holdfast/internal/audit"
	"github.com/holdfast-sec/holdfast/internal/config"
	"github.com/holdfast-sec/holdfast/internal/model"
	"github.com/holdfast-sec/holdfast/internal/session"
)

// --- session creation tests ---

func TestCreateSessionRoundtrip(t *testing.T) {
	eng, _, sink := newTestEngine(t, nil)
	sec := secCtx("10.0.0.9")

	s, raw, d := eng.CreateSession(context.Background(), principal("writer-1", "ws-1"), "ws-1", "agent-1", sec)
	if !d.Allowed {
		t.Fatalf("create denied: %+v", d)
	}
	if s.WorkspaceID != "ws-1" || s.UserID != "writer-1" || s.AgentID != "agent-1" {
		t.Errorf("session identity wrong: %+v", s)
	}
	if s.Status != session.StatusActive {
		t.Errorf("status = %s, want active", s.Status)
	}
	if s.Boundary == "" {
		t.Error("session has no isolation boundary tag")
	}
	if len(raw) == 0 {
		t.Fatal("no token issued")
	}
	if ev := sink.last(t); ev.Type != audit.TypeSessionCreated || ev.SessionID != s.ID {
		t.Errorf("event = %s/%s, want %s for %s", ev.Type, ev.SessionID, audit.TypeSessionCreated, s.ID)
	}

	res := eng.ValidateSession(raw, "ws-1", sec)
	if !res.Decision.Allowed {
		t.Fatalf("fresh token rejected: %+v", res.Decision)
	}
	if res.Session.ID != s.ID {
		t.Errorf("validated session %s, want %s", res.Session.ID, s.ID)
	}
}

func TestCreateSessionRequiresInteract(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	tests := []struct {
		userID string
		want   bool
	}{
		{"owner-1", true},
		{"writer-1", true},
		{"creator-1", true}, // creator promotion clears interact on own agent
		{"reader-1", false},
	}
	for _, tt := range tests {
		_, _, d := eng.CreateSession(ctx, principal(tt.userID, "ws-1"), "ws-1", "agent-1", secCtx("10.0.0.9"))
		if d.Allowed != tt.want {
			t.Errorf("CreateSession as %s allowed = %v, want %v (%s)", tt.userID, d.Allowed, tt.want, d.Detail)
		}
	}
}

func TestCreateSessionCrossWorkspace(t *testing.T) {
	eng, _, sink := newTestEngine(t, nil)

	_, _, d := eng.CreateSession(context.Background(), principal("writer-1", "ws-1"), "ws-1", "agent-2", secCtx("10.0.0.9"))
	if d.Allowed || d.ReasonCode != model.ReasonWorkspaceMismatch {
		t.Fatalf("expected workspace_mismatch, got %+v", d)
	}
	if ev := sink.last(t); ev.Type != audit.TypeCrossWorkspaceAttempt || ev.Severity != model.SeverityHigh {
		t.Errorf("event = %s/%s, want %s/high", ev.Type, ev.Severity, audit.TypeCrossWorkspaceAttempt)
	}
}

func TestCreateSessionAgentNotFound(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)

	_, _, d := eng.CreateSession(context.Background(), principal("writer-1", "ws-1"), "ws-1", "ghost-agent", secCtx("10.0.0.9"))
	if d.Allowed || d.ReasonCode != model.ReasonAgentNotFound {
		t.Errorf("expected agent_not_found, got %+v", d)
	}
}

// --- token validation tests ---

func TestValidateSessionForeignWorkspace(t *testing.T) {
	eng, _, sink := newTestEngine(t, nil)
	sec := secCtx("10.0.0.9")
	_, raw, d := eng.CreateSession(context.Background(), principal("writer-1", "ws-1"), "ws-1", "agent-1", sec)
	if !d.Allowed {
		t.Fatalf("create denied: %+v", d)
	}

	res := eng.ValidateSession(raw, "ws-2", sec)
	if res.Decision.Allowed || res.Decision.ReasonCode != model.ReasonWorkspaceMismatch {
		t.Fatalf("expected workspace_mismatch, got %+v", res.Decision)
	}
	if ev := sink.last(t); ev.Type != audit.TypeCrossWorkspaceAttempt || ev.Severity != model.SeverityHigh {
		t.Errorf("event = %s/%s, want %s/high", ev.Type, ev.Severity, audit.TypeCrossWorkspaceAttempt)
	}
}

func TestValidateSessionGarbageToken(t *testing.T) {
	eng, _, sink := newTestEngine(t, nil)

	res := eng.ValidateSession([]byte("not a token"), "ws-1", secCtx("10.0.0.9"))
	if res.Decision.Allowed || res.Decision.ReasonCode != model.ReasonValidation {
		t.Fatalf("expected validation_failed, got %+v", res.Decision)
	}
	if ev := sink.last(t); ev.Severity != model.SeverityLow {
		t.Errorf("severity = %s, want low", ev.Severity)
	}
}

func TestFingerprintMismatchRevokesSession(t *testing.T) {
	eng, _, sink := newTestEngine(t, nil)
	sec := secCtx("10.0.0.9")
	s, raw, d := eng.CreateSession(context.Background(), principal("writer-1", "ws-1"), "ws-1", "agent-1", sec)
	if !d.Allowed {
		t.Fatalf("create denied: %+v", d)
	}

	stolen := sec
	stolen.UserAgent = "curl/8.5.0"
	res := eng.ValidateSession(raw, "ws-1", stolen)
	if res.Decision.Allowed || res.Decision.ReasonCode != model.ReasonSessionAnomaly {
		t.Fatalf("expected session_anomaly, got %+v", res.Decision)
	}

	ev := sink.last(t)
	if ev.Type != audit.TypeSessionRevoked || ev.Severity != model.SeverityCritical {
		t.Errorf("event = %s/%s, want %s/critical", ev.Type, ev.Severity, audit.TypeSessionRevoked)
	}
	if len(ev.ThreatIndicators) == 0 {
		t.Error("revocation event carries no threat indicators")
	}

	// Revocation is terminal: the original context cannot resume either.
	res = eng.ValidateSession(raw, "ws-1", sec)
	if res.Decision.Allowed {
		t.Fatal("revoked token validated")
	}
	if res.Decision.ReasonCode != model.ReasonSessionAnomaly {
		t.Errorf("reuse reason = %q, want %q", res.Decision.ReasonCode, model.ReasonSessionAnomaly)
	}
	if ev := sink.last(t); ev.Severity != model.SeverityCritical {
		t.Errorf("revoked-token reuse severity = %s, want critical", ev.Severity)
	}

	// The guard record reflects the revocation.
	got, gd := eng.GetSession(context.Background(), principal("owner-1", "ws-1"), "ws-1", s.ID, "")
	if !gd.Allowed {
		t.Fatalf("owner read denied: %+v", gd)
	}
	if got.Status != session.StatusRevoked {
		t.Errorf("session status = %s, want revoked", got.Status)
	}
}

func TestCriticalEventFlushesSynchronously(t *testing.T) {
	dir := seedDirectory()
	sink := &memSink{}
	// Large batch: nothing below critical flushes until close.
	rec := audit.NewRecorder(audit.RecorderConfig{BatchSize: 1000}, sink)
	eng, err := New(Options{Directory: dir, Recorder: rec})
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close()

	sec := secCtx("10.0.0.9")
	_, raw, d := eng.CreateSession(context.Background(), principal("writer-1", "ws-1"), "ws-1", "agent-1", sec)
	if !d.Allowed {
		t.Fatalf("create denied: %+v", d)
	}
	if n := len(sink.all()); n != 0 {
		t.Fatalf("low-severity events flushed early: %d", n)
	}

	stolen := sec
	stolen.IP = "203.0.113.50"
	eng.ValidateSession(raw, "ws-1", stolen)

	events := sink.ofType(audit.TypeSessionRevoked)
	if len(events) != 1 {
		t.Fatalf("critical event not flushed synchronously: %d in sink", len(events))
	}
}

func TestValidateSessionRotatesAgedToken(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Session.RotateAfter = time.Nanosecond
	eng, _, sink := newTestEngine(t, cfg)
	sec := secCtx("10.0.0.9")

	s, raw, d := eng.CreateSession(context.Background(), principal("writer-1", "ws-1"), "ws-1", "agent-1", sec)
	if !d.Allowed {
		t.Fatalf("create denied: %+v", d)
	}

	before := len(sink.all())
	res := eng.ValidateSession(raw, "ws-1", sec)
	if !res.Decision.Allowed {
		t.Fatalf("validation denied: %+v", res.Decision)
	}
	if !res.Rotated {
		t.Fatal("aged token was not rotated")
	}
	if len(res.Token) == 0 || bytes.Equal(res.Token, raw) {
		t.Error("rotation did not issue a fresh token")
	}
	if res.Session.ID != s.ID {
		t.Errorf("rotation changed the session: %s != %s", res.Session.ID, s.ID)
	}
	if got := len(sink.all()); got != before+1 {
		t.Errorf("rotation produced %d events, want 1", got-before)
	}
	if ev := sink.last(t); ev.Type != audit.TypeTokenRotated {
		t.Errorf("event type = %s, want %s", ev.Type, audit.TypeTokenRotated)
	}

	// The superseded token is blacklisted the moment the replacement exists.
	stale := eng.ValidateSession(raw, "ws-1", sec)
	if stale.Decision.Allowed || stale.Decision.ReasonCode != model.ReasonSessionAnomaly {
		t.Errorf("stale token after rotation: %+v", stale.Decision)
	}

	// The replacement keeps working.
	if next := eng.ValidateSession(res.Token, "ws-1", sec); !next.Decision.Allowed {
		t.Errorf("rotated token rejected: %+v", next.Decision)
	}
}

// --- session read and write tests ---

func TestGetSessionCompoundKey(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)
	ctx := context.Background()
	s, _, d := eng.CreateSession(ctx, principal("writer-1", "ws-1"), "ws-1", "agent-1", secCtx("10.0.0.9"))
	if !d.Allowed {
		t.Fatalf("create denied: %+v", d)
	}

	if _, gd := eng.GetSession(ctx, principal("writer-1", "ws-1"), "ws-1", s.ID, ""); !gd.Allowed {
		t.Errorf("own session read denied: %+v", gd)
	}

	// The same session ID through another workspace is not found, even for
	// that workspace's owner.
	_, gd := eng.GetSession(ctx, principal("owner-2", "ws-2"), "ws-2", s.ID, "")
	if gd.Allowed || gd.ReasonCode != model.ReasonSessionNotFound {
		t.Errorf("expected session_not_found across workspaces, got %+v", gd)
	}
}

func TestSessionReadRequiresOwnerOrManage(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)
	ctx := context.Background()
	s, _, d := eng.CreateSession(ctx, principal("writer-1", "ws-1"), "ws-1", "agent-1", secCtx("10.0.0.9"))
	if !d.Allowed {
		t.Fatalf("create denied: %+v", d)
	}

	tests := []struct {
		userID string
		want   bool
	}{
		{"writer-1", true}, // session user
		{"owner-1", true},  // manage oversight
		{"reader-1", false},
		{"creator-1", false},
	}
	for _, tt := range tests {
		_, gd := eng.GetSession(ctx, principal(tt.userID, "ws-1"), "ws-1", s.ID, "")
		if gd.Allowed != tt.want {
			t.Errorf("GetSession as %s allowed = %v, want %v", tt.userID, gd.Allowed, tt.want)
		}
		_, hd := eng.SessionHistory(ctx, principal(tt.userID, "ws-1"), "ws-1", s.ID, "")
		if hd.Allowed != tt.want {
			t.Errorf("SessionHistory as %s allowed = %v, want %v", tt.userID, hd.Allowed, tt.want)
		}
	}
}

func TestAppendMessageOwnerOnly(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)
	ctx := context.Background()
	s, _, d := eng.CreateSession(ctx, principal("writer-1", "ws-1"), "ws-1", "agent-1", secCtx("10.0.0.9"))
	if !d.Allowed {
		t.Fatalf("create denied: %+v", d)
	}

	msg, ad := eng.AppendMessage(ctx, principal("writer-1", "ws-1"), "ws-1", s.ID, "user", "hello", "")
	if !ad.Allowed {
		t.Fatalf("own append denied: %+v", ad)
	}
	if msg.Seq != 1 || msg.Role != "user" || msg.Content != "hello" {
		t.Errorf("message = %+v", msg)
	}

	// MANAGE reads history but does not write into another user's session.
	if _, ad := eng.AppendMessage(ctx, principal("owner-1", "ws-1"), "ws-1", s.ID, "user", "intrusion", ""); ad.Allowed {
		t.Error("foreign append was allowed")
	}

	history, hd := eng.SessionHistory(ctx, principal("writer-1", "ws-1"), "ws-1", s.ID, "")
	if !hd.Allowed {
		t.Fatalf("history denied: %+v", hd)
	}
	if len(history) != 1 || history[0].Content != "hello" {
		t.Errorf("history = %+v, want the single hello message", history)
	}
}

func TestAppendMessageInactiveSession(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)
	ctx := context.Background()
	p := principal("writer-1", "ws-1")
	s, _, d := eng.CreateSession(ctx, p, "ws-1", "agent-1", secCtx("10.0.0.9"))
	if !d.Allowed {
		t.Fatalf("create denied: %+v", d)
	}

	if ed := eng.EndSession(ctx, p, "ws-1", s.ID, ""); !ed.Allowed {
		t.Fatalf("end denied: %+v", ed)
	}
	_, ad := eng.AppendMessage(ctx, p, "ws-1", s.ID, "user", "too late", "")
	if ad.Allowed {
		t.Fatal("append to ended session was allowed")
	}
	if ad.Detail != "session is not active" {
		t.Errorf("detail = %q", ad.Detail)
	}
}

func TestEndSessionIdempotentAndManaged(t *testing.T) {
	eng, _, sink := newTestEngine(t, nil)
	ctx := context.Background()
	s, _, d := eng.CreateSession(ctx, principal("writer-1", "ws-1"), "ws-1", "agent-1", secCtx("10.0.0.9"))
	if !d.Allowed {
		t.Fatalf("create denied: %+v", d)
	}

	if ed := eng.EndSession(ctx, principal("reader-1", "ws-1"), "ws-1", s.ID, ""); ed.Allowed {
		t.Error("unrelated member ended the session")
	}
	if ed := eng.EndSession(ctx, principal("owner-1", "ws-1"), "ws-1", s.ID, ""); !ed.Allowed {
		t.Errorf("manager end denied: %+v", ed)
	}
	if ev := sink.last(t); ev.Type != audit.TypeSessionEnded {
		t.Errorf("event type = %s, want %s", ev.Type, audit.TypeSessionEnded)
	}

	// Ending twice stays a success.
	if ed := eng.EndSession(ctx, principal("writer-1", "ws-1"), "ws-1", s.ID, ""); !ed.Allowed {
		t.Errorf("second end denied: %+v", ed)
	}

	got, gd := eng.GetSession(ctx, principal("writer-1", "ws-1"), "ws-1", s.ID, "")
	if !gd.Allowed || got.Status != session.StatusEnded {
		t.Errorf("session after end: %+v (%+v)", got, gd)
	}
	if got.EndedAt.IsZero() {
		t.Error("ended session has zero EndedAt")
	}
}

func TestEndedSessionTokenRejected(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)
	ctx := context.Background()
	p := principal("writer-1", "ws-1")
	sec := secCtx("10.0.0.9")
	s, raw, d := eng.CreateSession(ctx, p, "ws-1", "agent-1", sec)
	if !d.Allowed {
		t.Fatalf("create denied: %+v", d)
	}
	if ed := eng.EndSession(ctx, p, "ws-1", s.ID, ""); !ed.Allowed {
		t.Fatalf("end denied: %+v", ed)
	}

	res := eng.ValidateSession(raw, "ws-1", sec)
	if res.Decision.Allowed || res.Decision.ReasonCode != model.ReasonSessionNotFound {
		t.Errorf("ended session token: %+v, want session_not_found", res.Decision)
	}
}
