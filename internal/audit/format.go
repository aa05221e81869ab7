package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	if len(result.Events) == 0 {
		return fmt.Sprintf("Workspace: %s | No events found.\n", result.WorkspaceID)
	}

	var b strings.Builder

	// Header
	first := result.Summary.FirstTimestamp
	last := result.Summary.LastTimestamp
	firstTime := formatDateRange(first)
	lastTime := formatTimeOnly(last)
	b.WriteString(fmt.Sprintf("Workspace: %s | %s–%s UTC\n", result.WorkspaceID, firstTime, lastTime))
	b.WriteString(separator + "\n")

	// Events
	for _, e := range result.Events {
		ts := formatTimeOnly(e.Timestamp)
		decision := strings.ToUpper(e.Decision)
		user := truncate(e.UserID, 12)
		detail := truncate(e.Detail, 40)

		tag := ""
		if e.Override {
			tag = "  [override]"
		}

		b.WriteString(fmt.Sprintf("%-10s %-8s %-6s %-20s %-12s %-40s%s\n",
			ts, e.Severity, decision, e.Type, user, detail, tag))
	}

	// Footer
	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))

	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func formatDateRange(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s ReplaySummary) string {
	parts := []string{}
	if s.AllowCount > 0 {
		parts = append(parts, fmt.Sprintf("%d allow", s.AllowCount))
	}
	if s.DenyCount > 0 {
		parts = append(parts, fmt.Sprintf("%d deny", s.DenyCount))
	}
	if s.OverrideCount > 0 {
		parts = append(parts, fmt.Sprintf("%d override", s.OverrideCount))
	}
	if s.CriticalCount > 0 {
		parts = append(parts, fmt.Sprintf("%d critical", s.CriticalCount))
	}

	return fmt.Sprintf("Summary: %s | Max risk: %d\n",
		strings.Join(parts, ", "), s.MaxRiskScore)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
