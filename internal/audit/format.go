package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/carewatch/internal/tracer"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	label := result.TraceID
	if label == "" {
		label = "all"
	}
	if len(result.Entries) == 0 {
		return fmt.Sprintf("Trace: %s | No entries found.\n", label)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Trace: %s | %s–%s UTC\n", label,
		reformat(result.Summary.FirstTimestamp, "2006-01-02 15:04:05"),
		reformat(result.Summary.LastTimestamp, "15:04:05"))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		detail := ""
		switch {
		case e.Error != nil:
			detail = fmt.Sprintf("%s: %s", e.Error.Kind, e.Error.Detail)
		case e.Reason != "":
			detail = e.Reason
		case e.Mode != "":
			detail = e.Mode
		}
		fmt.Fprintf(&b, "%-10s %-17s %-10s %-28s %s\n",
			reformat(e.Timestamp, "15:04:05"),
			e.Event,
			e.SpanID,
			truncate(e.Tool, 28),
			truncate(detail, 60))
	}

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

func reformat(ts, layout string) string {
	t, err := time.Parse(tracer.TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format(layout)
}

func formatSummary(s ReplaySummary) string {
	counts := []struct {
		n     int
		label string
	}{
		{s.SelectedCount, "selected"},
		{s.ExecutedCount, "executed"},
		{s.FailedCount, "failed"},
		{s.DryRunCount, "dry-run"},
		{s.RefusedCount, "refused"},
	}
	parts := []string{}
	for _, c := range counts {
		if c.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c.n, c.label))
		}
	}
	return fmt.Sprintf("Summary: %d events | %s\n", s.Total, strings.Join(parts, ", "))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
