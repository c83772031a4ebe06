package alert

// Alert event types.
const (
	RequestRefused   = "request_refused"
	WorkflowFailed   = "workflow_failed"
	AuditWriteFailed = "audit_write_failed"
)

// AlertConfig defines a webhook alert destination.
type AlertConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["request_refused", "workflow_failed", "audit_write_failed"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// AlertEvent is the payload sent to webhook endpoints.
type AlertEvent struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	TraceID   string `json:"trace_id,omitempty"`
	Tool      string `json:"tool,omitempty"`
	Step      string `json:"step,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Reason    string `json:"reason"`
}
