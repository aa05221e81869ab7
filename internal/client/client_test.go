package client

import (
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/holdfast-sec/holdfast/internal/audit"
	"github.com/holdfast-sec/holdfast/internal/gate"
	"github.com/holdfast-sec/holdfast/internal/model"
	"github.com/holdfast-sec/holdfast/internal/server"
	"github.com/holdfast-sec/holdfast/internal/store"
)

type discardSink struct{}

func (discardSink) Write([]audit.Event) error { return nil }
func (discardSink) Close() error              { return nil }

type staticIdentity map[string]model.Principal

func (m staticIdentity) Principal(userID string) (model.Principal, bool) {
	p, ok := m[userID]
	return p, ok
}

// startTestServer brings up a real facade over a seeded engine and returns
// a client pointed at it.
func startTestServer(t *testing.T) *Client {
	t.Helper()

	dir := store.NewMemoryDirectory()
	dir.PutWorkspace(model.WorkspaceRecord{ID: "ws-1", OwnerID: "owner-1"})
	dir.PutAgent(model.AgentRecord{ID: "agent-1", WorkspaceID: "ws-1", CreatedBy: "owner-1", Status: model.AgentActive})
	dir.PutPermission(model.PermissionRecord{UserID: "writer-1", EntityType: model.EntityWorkspace, EntityID: "ws-1", PermissionType: model.PermissionWrite})

	rec := audit.NewRecorder(audit.RecorderConfig{BatchSize: 1}, discardSink{})
	eng, err := gate.New(gate.Options{
		ConfigHash: "sha256:test",
		Directory:  dir,
		Recorder:   rec,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	member := []model.Membership{{WorkspaceID: "ws-1", Role: "member"}}
	srv, err := server.New(server.Options{
		Engine: eng,
		Identity: staticIdentity{
			"owner-1":  {UserID: "owner-1", Memberships: member},
			"writer-1": {UserID: "writer-1", Memberships: member},
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		eng.Close()
	})
	return New(ts.URL)
}

func TestClientDecide(t *testing.T) {
	c := startTestServer(t)

	d := c.Decide(DecisionRequest{UserID: "writer-1", WorkspaceID: "ws-1"})
	if !d.Allowed || d.AccessLevel != model.AccessInteract {
		t.Fatalf("decision = %+v", d)
	}

	d = c.Decide(DecisionRequest{UserID: "intruder-9", WorkspaceID: "ws-1"})
	if d.Allowed || d.ReasonCode != model.ReasonAccessDenied {
		t.Fatalf("decision = %+v", d)
	}
}

func TestClientFailClosed(t *testing.T) {
	// Grab a free port and close it immediately so nothing is listening.
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close()

	c := New("http://" + addr)
	d := c.Decide(DecisionRequest{UserID: "writer-1", WorkspaceID: "ws-1"})
	if d.Allowed {
		t.Fatal("expected deny when daemon is unreachable")
	}
	if d.ReasonCode != model.ReasonStoreUnavailable {
		t.Errorf("reason = %q, want store_unavailable", d.ReasonCode)
	}
	if !strings.Contains(d.Detail, "unreachable") {
		t.Errorf("detail = %q", d.Detail)
	}
}

func TestClientLockdownRoundtrip(t *testing.T) {
	c := startTestServer(t)

	if err := c.Lockdown("ws-1", "incident", "ops@example.com"); err != nil {
		t.Fatalf("Lockdown: %v", err)
	}

	d := c.Decide(DecisionRequest{UserID: "owner-1", WorkspaceID: "ws-1"})
	if d.Allowed || d.ReasonCode != model.ReasonLockdown {
		t.Fatalf("decision during lockdown = %+v", d)
	}

	st, err := c.EmergencyState()
	if err != nil {
		t.Fatalf("EmergencyState: %v", err)
	}
	if len(st.Lockdowns) != 1 || st.Lockdowns[0].WorkspaceID != "ws-1" {
		t.Fatalf("state = %+v", st)
	}

	if err := c.LiftLockdown("ws-1", "ops@example.com"); err != nil {
		t.Fatalf("LiftLockdown: %v", err)
	}
	d = c.Decide(DecisionRequest{UserID: "owner-1", WorkspaceID: "ws-1"})
	if !d.Allowed {
		t.Fatalf("decision after lift = %+v", d)
	}

	err = c.LiftLockdown("ws-1", "ops@example.com")
	if err == nil || !strings.Contains(err.Error(), "no active lockdown") {
		t.Errorf("second lift error = %v", err)
	}
}

func TestClientQuarantine(t *testing.T) {
	c := startTestServer(t)

	if err := c.Quarantine("ws-1", "writer-1", "drill", "ops@example.com", time.Hour); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}

	d := c.Decide(DecisionRequest{UserID: "writer-1", WorkspaceID: "ws-1"})
	if d.Allowed || d.ReasonCode != model.ReasonQuarantine {
		t.Fatalf("decision under quarantine = %+v", d)
	}

	st, err := c.EmergencyState()
	if err != nil {
		t.Fatalf("EmergencyState: %v", err)
	}
	if len(st.Quarantines) != 1 || st.Quarantines[0].ExpiresAt.IsZero() {
		t.Fatalf("state = %+v", st)
	}

	if err := c.LiftQuarantine("ws-1", "writer-1", "ops@example.com"); err != nil {
		t.Fatalf("LiftQuarantine: %v", err)
	}
	d = c.Decide(DecisionRequest{UserID: "writer-1", WorkspaceID: "ws-1"})
	if !d.Allowed {
		t.Fatalf("decision after lift = %+v", d)
	}
}

func TestClientHealth(t *testing.T) {
	c := startTestServer(t)

	h, err := c.Health()
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != "ok" || h.ConfigHash != "sha256:test" {
		t.Fatalf("health = %+v", h)
	}
}
