package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/holdfast-sec/holdfast/internal/model"
)

func replayFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := OpenChain(path)
	if err != nil {
		t.Fatalf("OpenChain: %v", err)
	}
	events := []Event{
		{
			ID: "ev-1", Timestamp: FormatTimestamp(testTime),
			Type: TypeAccessGranted, Severity: model.SeverityLow,
			WorkspaceID: "ws-1", Decision: "allow",
		},
		{
			ID: "ev-2", Timestamp: FormatTimestamp(testTime.Add(1 * time.Minute)),
			Type: TypeAccessDenied, Severity: model.SeverityMedium, RiskScore: 30,
			WorkspaceID: "ws-1", Decision: "deny",
		},
		{
			ID: "ev-3", Timestamp: FormatTimestamp(testTime.Add(2 * time.Minute)),
			Type: TypeAccessGranted, Severity: model.SeverityLow,
			WorkspaceID: "ws-2", Decision: "allow",
		},
		{
			ID: "ev-4", Timestamp: FormatTimestamp(testTime.Add(3 * time.Minute)),
			Type: TypeSessionRevoked, Severity: model.SeverityCritical, RiskScore: 90,
			WorkspaceID: "ws-1", Decision: "deny", Override: true,
		},
	}
	if err := sink.Write(events); err != nil {
		t.Fatalf("Write: %v", err)
	}
	sink.Close()
	return path
}

// --- replay tests ---

func TestReplayFiltersByWorkspace(t *testing.T) {
	path := replayFixture(t)

	result, err := Replay(path, ReplayFilter{WorkspaceID: "ws-1"})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if result.Summary.Total != 3 {
		t.Fatalf("Total = %d, want 3", result.Summary.Total)
	}
	for _, ev := range result.Events {
		if ev.WorkspaceID != "ws-1" {
			t.Errorf("event %s leaked from workspace %s", ev.ID, ev.WorkspaceID)
		}
	}
}

func TestReplaySummaryCounts(t *testing.T) {
	path := replayFixture(t)

	result, err := Replay(path, ReplayFilter{WorkspaceID: "ws-1"})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	s := result.Summary
	if s.AllowCount != 1 {
		t.Errorf("AllowCount = %d, want 1", s.AllowCount)
	}
	if s.DenyCount != 2 {
		t.Errorf("DenyCount = %d, want 2", s.DenyCount)
	}
	if s.OverrideCount != 1 {
		t.Errorf("OverrideCount = %d, want 1", s.OverrideCount)
	}
	if s.CriticalCount != 1 {
		t.Errorf("CriticalCount = %d, want 1", s.CriticalCount)
	}
	if s.MaxRiskScore != 90 {
		t.Errorf("MaxRiskScore = %d, want 90", s.MaxRiskScore)
	}
	if s.ByType[TypeAccessGranted] != 1 || s.ByType[TypeAccessDenied] != 1 {
		t.Errorf("ByType = %v", s.ByType)
	}
	if s.FirstTimestamp != FormatTimestamp(testTime) {
		t.Errorf("FirstTimestamp = %s", s.FirstTimestamp)
	}
	if s.LastTimestamp != FormatTimestamp(testTime.Add(3*time.Minute)) {
		t.Errorf("LastTimestamp = %s", s.LastTimestamp)
	}
}

func TestReplayTimeRange(t *testing.T) {
	path := replayFixture(t)

	result, err := Replay(path, ReplayFilter{
		From: testTime.Add(30 * time.Second),
		To:   testTime.Add(150 * time.Second),
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if result.Summary.Total != 2 {
		t.Fatalf("Total = %d, want 2 (ev-2, ev-3)", result.Summary.Total)
	}
	if result.Events[0].ID != "ev-2" || result.Events[1].ID != "ev-3" {
		t.Errorf("events = %v", eventIDs(result.Events))
	}
}

func TestReplaySkipsMalformedLines(t *testing.T) {
	path := replayFixture(t)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.WriteString("not json\n"); err != nil {
		t.Fatalf("append garbage: %v", err)
	}
	f.Close()

	result, err := Replay(path, ReplayFilter{})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if result.Summary.Total != 4 {
		t.Errorf("Total = %d, want 4 (garbage line skipped)", result.Summary.Total)
	}
}

func TestReplayMissingFile(t *testing.T) {
	if _, err := Replay(filepath.Join(t.TempDir(), "nope.jsonl"), ReplayFilter{}); err == nil {
		t.Error("Replay of missing file should error")
	}
}
