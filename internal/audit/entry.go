package audit

import (
	"time"

	"github.com/ppiankov/carewatch/internal/model"
	"github.com/ppiankov/carewatch/internal/tracer"
)

// Entry is one line in the hash-chained JSONL audit log.
// Field order is fixed by the struct so json.Marshal output is reproducible;
// maps inside arguments/result are marshaled with sorted keys.
type Entry struct {
	Timestamp string             `json:"timestamp"`
	Event     string             `json:"event"`
	TraceID   string             `json:"trace_id,omitempty"`
	SpanID    string             `json:"span_id,omitempty"`
	Tool      string             `json:"tool,omitempty"`
	Mode      string             `json:"mode,omitempty"`
	Arguments map[string]any     `json:"arguments,omitempty"`
	Result    any                `json:"result,omitempty"`
	Error     *model.ErrorDetail `json:"error,omitempty"`
	Reason    string             `json:"reason,omitempty"`
	PrevHash  string             `json:"prev_hash"`
}

// EntryFromEvent flattens an event into its on-disk form. PrevHash is left
// for the log to fill in.
func EntryFromEvent(ev model.AuditEvent) Entry {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return Entry{
		Timestamp: ts.UTC().Format(tracer.TimestampFormat),
		Event:     string(ev.Kind),
		TraceID:   ev.TraceID,
		SpanID:    ev.SpanID,
		Tool:      ev.Tool,
		Mode:      string(ev.Mode),
		Arguments: ev.Arguments,
		Result:    ev.Result,
		Error:     ev.Error,
		Reason:    ev.Reason,
	}
}

// IsCompletion reports whether the entry closes a dispatch span.
func (e Entry) IsCompletion() bool {
	switch model.EventKind(e.Event) {
	case model.ToolExecuted, model.ToolFailed, model.DryRunExecuted:
		return true
	default:
		return false
	}
}
