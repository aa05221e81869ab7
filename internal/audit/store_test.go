package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/holdfast-sec/holdfast/internal/model"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func storeFixture(t *testing.T) *SQLStore {
	t.Helper()
	store := newTestStore(t)
	events := []Event{
		{
			ID: "ev-1", Timestamp: FormatTimestamp(testTime),
			Type: TypeAccessGranted, Severity: model.SeverityLow,
			WorkspaceID: "ws-1", UserID: "user-1", Decision: "allow",
		},
		{
			ID: "ev-2", Timestamp: FormatTimestamp(testTime.Add(1 * time.Minute)),
			Type: TypeAccessDenied, Severity: model.SeverityMedium, RiskScore: 30,
			WorkspaceID: "ws-1", UserID: "user-2", Decision: "deny",
			ReasonCode: model.ReasonAccessDenied,
		},
		{
			ID: "ev-3", Timestamp: FormatTimestamp(testTime.Add(2 * time.Minute)),
			Type: TypeSecurityAlert, Severity: model.SeverityCritical, RiskScore: 85,
			WorkspaceID: "ws-2", UserID: "user-3", SessionID: "sess-1",
			Decision: "deny", ThreatIndicators: []string{"fingerprint_mismatch"},
		},
		{
			ID: "ev-4", Timestamp: FormatTimestamp(testTime.Add(3 * time.Minute)),
			Type: TypeLockdownSet, Severity: model.SeverityHigh,
			WorkspaceID: "ws-1", Actor: "admin-1", Override: true,
		},
	}
	if err := store.Write(events); err != nil {
		t.Fatalf("Write fixture: %v", err)
	}
	return store
}

// --- store tests ---

func TestStoreWriteAndQueryAll(t *testing.T) {
	store := storeFixture(t)

	events, err := store.Query(Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	// Newest first.
	if events[0].ID != "ev-4" {
		t.Errorf("first event = %s, want ev-4", events[0].ID)
	}
}

func TestStoreRewriteIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	batch := []Event{{
		ID: "ev-1", Timestamp: FormatTimestamp(testTime),
		Type: TypeAccessGranted, Severity: model.SeverityLow,
	}}
	if err := store.Write(batch); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	if err := store.Write(batch); err != nil {
		t.Fatalf("redelivered Write: %v", err)
	}

	events, err := store.Query(Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("got %d events after redelivery, want 1", len(events))
	}
}

func TestStoreFilterByWorkspace(t *testing.T) {
	store := storeFixture(t)

	events, err := store.Query(Filter{WorkspaceID: "ws-2"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 || events[0].ID != "ev-3" {
		t.Errorf("workspace filter returned %v, want [ev-3]", eventIDs(events))
	}
}

func TestStoreFilterByType(t *testing.T) {
	store := storeFixture(t)

	events, err := store.Query(Filter{Types: []string{TypeAccessDenied, TypeSecurityAlert}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("type filter returned %v, want 2 events", eventIDs(events))
	}
}

func TestStoreFilterByMinSeverity(t *testing.T) {
	store := storeFixture(t)

	events, err := store.Query(Filter{MinSeverity: model.SeverityHigh})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("severity filter returned %v, want 2 events", eventIDs(events))
	}
	for _, ev := range events {
		if !ev.Severity.AtLeast(model.SeverityHigh) {
			t.Errorf("event %s severity %s below high", ev.ID, ev.Severity)
		}
	}
}

func TestStoreFilterByTimeRange(t *testing.T) {
	store := storeFixture(t)

	events, err := store.Query(Filter{
		From: testTime.Add(30 * time.Second),
		To:   testTime.Add(150 * time.Second),
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("time filter returned %v, want [ev-3 ev-2]", eventIDs(events))
	}
}

func TestStoreFilterOverridesOnly(t *testing.T) {
	store := storeFixture(t)

	events, err := store.Query(Filter{OverridesOnly: true})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 || events[0].ID != "ev-4" {
		t.Errorf("override filter returned %v, want [ev-4]", eventIDs(events))
	}
}

func TestStoreLimitAndOffset(t *testing.T) {
	store := storeFixture(t)

	page1, err := store.Query(Filter{Limit: 2})
	if err != nil {
		t.Fatalf("Query page 1: %v", err)
	}
	page2, err := store.Query(Filter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("Query page 2: %v", err)
	}
	if len(page1) != 2 || len(page2) != 2 {
		t.Fatalf("pages sized %d and %d, want 2 and 2", len(page1), len(page2))
	}
	if page1[0].ID == page2[0].ID {
		t.Error("pages overlap")
	}
}

func TestStoreRoundTripsThreatIndicators(t *testing.T) {
	store := storeFixture(t)

	events, err := store.Query(Filter{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ind := events[0].ThreatIndicators
	if len(ind) != 1 || ind[0] != "fingerprint_mismatch" {
		t.Errorf("ThreatIndicators = %v, want [fingerprint_mismatch]", ind)
	}
}

func TestStoreSummarize(t *testing.T) {
	store := storeFixture(t)

	summary, err := store.Summarize("", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.Total != 4 {
		t.Errorf("Total = %d, want 4", summary.Total)
	}
	if summary.DenyCount != 2 {
		t.Errorf("DenyCount = %d, want 2", summary.DenyCount)
	}
	if summary.CriticalCount != 1 {
		t.Errorf("CriticalCount = %d, want 1", summary.CriticalCount)
	}
	if summary.OverrideCount != 1 {
		t.Errorf("OverrideCount = %d, want 1", summary.OverrideCount)
	}
	if summary.MaxRiskScore != 85 {
		t.Errorf("MaxRiskScore = %d, want 85", summary.MaxRiskScore)
	}
	if len(summary.ByType) != 4 {
		t.Errorf("ByType has %d entries, want 4", len(summary.ByType))
	}
}

func TestStoreSummarizeScopedToWorkspace(t *testing.T) {
	store := storeFixture(t)

	summary, err := store.Summarize("ws-1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.Total != 3 {
		t.Errorf("Total = %d, want 3", summary.Total)
	}
	if summary.CriticalCount != 0 {
		t.Errorf("CriticalCount = %d, want 0 (critical event is in ws-2)", summary.CriticalCount)
	}
}

func eventIDs(events []Event) []string {
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	return ids
}
