package alert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holdfast-sec/holdfast/internal/model"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event Event) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event Event) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event Event) ([]byte, error) {
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("holdfast: %s", event.Type),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Workspace:* %s", event.WorkspaceID)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*User:* %s", event.UserID)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:* %s (risk %d)", event.Severity, event.RiskScore)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Detail)},
				},
			},
		},
	}
	if len(event.Indicators) > 0 {
		payload["blocks"] = append(payload["blocks"].([]any), map[string]any{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*Indicators:* %s", strings.Join(event.Indicators, ", ")),
			},
		})
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event Event) ([]byte, error) {
	severity := "info"
	switch event.Severity {
	case model.SeverityCritical:
		severity = "critical"
	case model.SeverityHigh:
		severity = "error"
	case model.SeverityMedium:
		severity = "warning"
	}

	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("holdfast %s: workspace %s", event.Type, event.WorkspaceID),
			"severity": severity,
			"source":   "holdfast",
			"custom_details": map[string]any{
				"workspace_id":      event.WorkspaceID,
				"user_id":           event.UserID,
				"risk_score":        event.RiskScore,
				"reason_code":       event.ReasonCode,
				"detail":            event.Detail,
				"threat_indicators": event.Indicators,
				"event_id":          event.EventID,
			},
		},
	}
	return json.Marshal(payload)
}
