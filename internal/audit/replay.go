package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/holdfast-sec/holdfast/internal/model"
)

// ReplayFilter holds filtering criteria for a workspace timeline replay.
type ReplayFilter struct {
	WorkspaceID string
	From        time.Time // zero value = no lower bound
	To          time.Time // zero value = no upper bound
}

// ReplaySummary holds decision counts and metadata for a replayed timeline.
type ReplaySummary struct {
	Total          int            `json:"total"`
	AllowCount     int            `json:"allow_count"`
	DenyCount      int            `json:"deny_count"`
	OverrideCount  int            `json:"override_count"`
	CriticalCount  int            `json:"critical_count"`
	MaxRiskScore   int            `json:"max_risk_score"`
	ByType         map[string]int `json:"by_type"`
	FirstTimestamp string         `json:"first_timestamp"`
	LastTimestamp  string         `json:"last_timestamp"`
}

// ReplayResult holds filtered events and their summary.
type ReplayResult struct {
	WorkspaceID string        `json:"workspace_id"`
	Events      []Event       `json:"events"`
	Summary     ReplaySummary `json:"summary"`
}

// Replay reads a chain file and returns the events matching the filter.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chain file: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{
		WorkspaceID: filter.WorkspaceID,
	}
	result.Summary.ByType = make(map[string]int)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue // skip malformed lines
		}

		if filter.WorkspaceID != "" && ev.WorkspaceID != filter.WorkspaceID {
			continue
		}

		if !filter.From.IsZero() || !filter.To.IsZero() {
			ts, err := time.Parse(TimestampFormat, ev.Timestamp)
			if err != nil {
				continue // skip unparseable timestamps
			}
			if !filter.From.IsZero() && ts.Before(filter.From) {
				continue
			}
			if !filter.To.IsZero() && ts.After(filter.To) {
				continue
			}
		}

		result.Events = append(result.Events, ev)
		updateSummary(&result.Summary, ev)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read chain file: %w", err)
	}

	return result, nil
}

func updateSummary(s *ReplaySummary, ev Event) {
	s.Total++
	s.ByType[ev.Type]++

	switch ev.Decision {
	case "allow":
		s.AllowCount++
	case "deny":
		s.DenyCount++
	}

	if ev.Override {
		s.OverrideCount++
	}
	if ev.Severity == model.SeverityCritical {
		s.CriticalCount++
	}
	if ev.RiskScore > s.MaxRiskScore {
		s.MaxRiskScore = ev.RiskScore
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = ev.Timestamp
	}
	s.LastTimestamp = ev.Timestamp
}
