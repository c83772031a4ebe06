package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event AlertEvent) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event AlertEvent) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event AlertEvent) ([]byte, error) {
	fields := []any{
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Trace:* %s", orDash(event.TraceID))},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)},
	}
	if event.Step != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Step:* %s (%s)", event.Step, event.ErrorKind)})
	}
	if event.Tool != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Tool:* %s", event.Tool)})
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("carewatch: %s", event.Type),
				},
			},
			map[string]any{
				"type":   "section",
				"fields": fields,
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event AlertEvent) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("carewatch %s: %s", event.Type, event.Reason),
			"severity": severityFor(event.Type),
			"source":   "carewatch",
			"custom_details": map[string]any{
				"trace_id":   event.TraceID,
				"tool":       event.Tool,
				"step":       event.Step,
				"error_kind": event.ErrorKind,
			},
		},
	}
	return json.Marshal(payload)
}

// severityFor ranks a lost audit record above a failed booking, and both
// above an ordinary refusal.
func severityFor(eventType string) string {
	switch eventType {
	case AuditWriteFailed:
		return "critical"
	case WorkflowFailed:
		return "error"
	case RequestRefused:
		return "info"
	default:
		return "warning"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
