package anomaly

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/holdfast-sec/holdfast/internal/model"
	"github.com/holdfast-sec/holdfast/internal/session"
	"github.com/holdfast-sec/holdfast/internal/token"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func testDetector(t *testing.T) (*Detector, *session.Guard) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	guard := session.NewGuard()
	return NewDetector(priv, "test-salt", guard, Config{}), guard
}

func cleanContext() token.SecurityContext {
	return token.SecurityContext{
		UserAgent:      "agent/1.0",
		AcceptLanguage: "en-US",
		AcceptEncoding: "gzip",
		Timezone:       "UTC",
		IP:             "10.0.0.1",
	}
}

func issueSession(t *testing.T, d *Detector, g *session.Guard) (session.Session, []byte) {
	t.Helper()
	agent := model.AgentRecord{ID: "agent-1", WorkspaceID: "ws-1", CreatedBy: "user-1", Status: model.AgentActive}
	s, err := g.Create(agent, "ws-1", "user-1", t0)
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}
	raw, _, err := d.Issue(s, cleanContext(), t0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return s, raw
}

// --- validation tests ---

func TestValidateCleanRequest(t *testing.T) {
	d, g := testDetector(t)
	s, raw := issueSession(t, d, g)

	res, err := d.Validate(raw, "ws-1", cleanContext(), t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.OK {
		t.Fatalf("OK = false: %s (%s)", res.ReasonCode, res.Detail)
	}
	if res.Rotated {
		t.Error("Rotated = true for a fresh token")
	}
	if res.Session.ID != s.ID {
		t.Errorf("Session.ID = %q, want %q", res.Session.ID, s.ID)
	}
}

func TestValidateTouchesActivity(t *testing.T) {
	d, g := testDetector(t)
	s, raw := issueSession(t, d, g)

	at := t0.Add(30 * time.Minute)
	if _, err := d.Validate(raw, "ws-1", cleanContext(), at); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	got, _ := g.Get(s.ID, "ws-1")
	if !got.LastActivity.Equal(at) {
		t.Errorf("LastActivity = %v, want %v", got.LastActivity, at)
	}
}

func TestFingerprintMismatchRevokesSession(t *testing.T) {
	d, g := testDetector(t)
	s, raw := issueSession(t, d, g)

	moved := cleanContext()
	moved.UserAgent = "different/2.0"

	res, err := d.Validate(raw, "ws-1", moved, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.OK {
		t.Fatal("OK = true for a fingerprint mismatch")
	}
	if res.ReasonCode != model.ReasonSessionAnomaly {
		t.Errorf("ReasonCode = %q, want session_anomaly", res.ReasonCode)
	}
	if !res.Revoked {
		t.Error("Revoked = false; revocation must happen in the same call")
	}
	if len(res.Indicators) != 1 || res.Indicators[0] != IndicatorFingerprintMismatch {
		t.Errorf("Indicators = %v", res.Indicators)
	}

	got, _ := g.Get(s.ID, "ws-1")
	if got.Status != session.StatusRevoked {
		t.Errorf("session status = %q, want revoked", got.Status)
	}
}

func TestIPMismatchNamedSeparately(t *testing.T) {
	d, g := testDetector(t)
	_, raw := issueSession(t, d, g)

	moved := cleanContext()
	moved.IP = "172.16.0.9"

	res, err := d.Validate(raw, "ws-1", moved, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.OK {
		t.Fatal("OK = true for an IP mismatch")
	}
	if len(res.Indicators) != 1 || res.Indicators[0] != IndicatorIPMismatch {
		t.Errorf("Indicators = %v, want [ip_mismatch]", res.Indicators)
	}
}

func TestBothMismatchesReported(t *testing.T) {
	d, g := testDetector(t)
	_, raw := issueSession(t, d, g)

	moved := cleanContext()
	moved.UserAgent = "different/2.0"
	moved.IP = "172.16.0.9"

	res, _ := d.Validate(raw, "ws-1", moved, t0.Add(time.Minute))
	if len(res.Indicators) != 2 {
		t.Errorf("Indicators = %v, want both dimensions", res.Indicators)
	}
}

func TestCorrectFingerprintAfterRevocationStillFails(t *testing.T) {
	d, g := testDetector(t)
	_, raw := issueSession(t, d, g)

	moved := cleanContext()
	moved.UserAgent = "different/2.0"
	if res, _ := d.Validate(raw, "ws-1", moved, t0.Add(time.Minute)); res.OK {
		t.Fatal("mismatch validation succeeded")
	}

	// Same token, original clean context: the revocation is terminal.
	res, err := d.Validate(raw, "ws-1", cleanContext(), t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.OK {
		t.Fatal("revoked session validated successfully")
	}
	if res.ReasonCode != model.ReasonSessionAnomaly {
		t.Errorf("ReasonCode = %q, want session_anomaly", res.ReasonCode)
	}
}

func TestValidateForeignWorkspaceMismatch(t *testing.T) {
	d, g := testDetector(t)
	_, raw := issueSession(t, d, g)

	res, err := d.Validate(raw, "ws-2", cleanContext(), t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.OK {
		t.Fatal("token accepted against a foreign workspace")
	}
	if res.ReasonCode != model.ReasonWorkspaceMismatch {
		t.Errorf("ReasonCode = %q, want workspace_mismatch", res.ReasonCode)
	}
}

func TestValidateExpiredToken(t *testing.T) {
	d, g := testDetector(t)
	_, raw := issueSession(t, d, g)

	res, err := d.Validate(raw, "ws-1", cleanContext(), t0.Add(25*time.Hour))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.OK {
		t.Fatal("expired token accepted")
	}
	if res.ReasonCode != model.ReasonValidation {
		t.Errorf("ReasonCode = %q, want validation_failed", res.ReasonCode)
	}
}

func TestValidateGarbageToken(t *testing.T) {
	d, _ := testDetector(t)

	res, err := d.Validate([]byte("short"), "ws-1", cleanContext(), t0)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.OK {
		t.Fatal("garbage token accepted")
	}
	if res.ReasonCode != model.ReasonValidation {
		t.Errorf("ReasonCode = %q, want validation_failed", res.ReasonCode)
	}
}

func TestValidateEndedSessionNotFound(t *testing.T) {
	d, g := testDetector(t)
	s, raw := issueSession(t, d, g)
	g.End(s.ID, "ws-1", t0.Add(time.Minute))

	res, _ := d.Validate(raw, "ws-1", cleanContext(), t0.Add(2*time.Minute))
	if res.OK {
		t.Fatal("ended session validated")
	}
	if res.ReasonCode != model.ReasonSessionNotFound {
		t.Errorf("ReasonCode = %q, want session_not_found", res.ReasonCode)
	}
}

// --- rotation tests ---

func TestRotationPastThreshold(t *testing.T) {
	d, g := testDetector(t)
	s, raw := issueSession(t, d, g)

	at := t0.Add(3 * time.Hour)
	res, err := d.Validate(raw, "ws-1", cleanContext(), at)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.OK {
		t.Fatalf("OK = false: %s", res.Detail)
	}
	if !res.Rotated {
		t.Fatal("Rotated = false past the rotation threshold")
	}
	if len(res.Token) == 0 {
		t.Fatal("no replacement token issued")
	}

	// The old token is dead the moment the new one exists.
	old, err := d.Validate(raw, "ws-1", cleanContext(), at.Add(time.Second))
	if err != nil {
		t.Fatalf("Validate old token: %v", err)
	}
	if old.OK {
		t.Error("old token still valid after rotation")
	}

	// The new token validates cleanly and does not rotate again.
	fresh, err := d.Validate(res.Token, "ws-1", cleanContext(), at.Add(time.Minute))
	if err != nil {
		t.Fatalf("Validate new token: %v", err)
	}
	if !fresh.OK || fresh.Rotated {
		t.Errorf("new token OK=%v Rotated=%v, want OK and unrotated", fresh.OK, fresh.Rotated)
	}
	if fresh.Session.ID != s.ID {
		t.Errorf("rotated token names session %q, want %q", fresh.Session.ID, s.ID)
	}
}

func TestNoRotationOnAnomalousRequest(t *testing.T) {
	d, g := testDetector(t)
	_, raw := issueSession(t, d, g)

	moved := cleanContext()
	moved.UserAgent = "different/2.0"

	res, _ := d.Validate(raw, "ws-1", moved, t0.Add(3*time.Hour))
	if res.Rotated || len(res.Token) != 0 {
		t.Error("anomalous validation must not rotate")
	}
	if res.OK {
		t.Error("anomalous validation accepted")
	}
}

// --- revocation helpers ---

func TestRevokeSessionBlacklistsToken(t *testing.T) {
	d, g := testDetector(t)
	s, raw := issueSession(t, d, g)

	if _, found := d.RevokeSession(s.ID, "ws-1", t0.Add(time.Minute)); !found {
		t.Fatal("RevokeSession: not found")
	}

	res, err := d.Validate(raw, "ws-1", cleanContext(), t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.OK {
		t.Error("token usable after session revocation")
	}
}

func TestSweepBlacklist(t *testing.T) {
	d, g := testDetector(t)
	s, _ := issueSession(t, d, g)
	d.RevokeSession(s.ID, "ws-1", t0)

	if removed := d.SweepBlacklist(t0.Add(time.Hour)); removed != 0 {
		t.Errorf("SweepBlacklist removed %d live entries", removed)
	}
	if removed := d.SweepBlacklist(t0.Add(25 * time.Hour)); removed != 1 {
		t.Errorf("SweepBlacklist removed %d, want 1", removed)
	}
}
