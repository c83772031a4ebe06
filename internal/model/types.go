package model

import "time"

// Mode selects whether a dispatch reaches the backend.
type Mode string

const (
	DryRun Mode = "DRY_RUN"
	Live   Mode = "LIVE"
)

// ParseMode maps a config or flag value to a Mode. Fail-safe: unknown → DryRun.
func ParseMode(s string) Mode {
	switch s {
	case "live", "LIVE":
		return Live
	default:
		return DryRun
	}
}

// EventKind classifies an audit event.
type EventKind string

const (
	ToolSelected   EventKind = "TOOL_SELECTED"
	ToolExecuted   EventKind = "TOOL_EXECUTED"
	ToolFailed     EventKind = "TOOL_FAILED"
	DryRunExecuted EventKind = "DRY_RUN_EXECUTED"
	RequestRefused EventKind = "REQUEST_REFUSED"
)

// Status is the workflow state machine position.
type Status string

const (
	Pending       Status = "PENDING"
	NeedsMoreInfo Status = "NEEDS_MORE_INFO"
	Refused       Status = "REFUSED"
	Ready         Status = "READY"
	Completed     Status = "COMPLETED"
	Failed        Status = "FAILED"
)

// Terminal reports whether the request is finished. NEEDS_MORE_INFO is not:
// the next input continues the same request.
func (s Status) Terminal() bool {
	switch s {
	case Refused, Completed, Failed:
		return true
	default:
		return false
	}
}

// AuditEvent is one immutable record of a governance decision or invocation.
type AuditEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Kind      EventKind      `json:"event"`
	TraceID   string         `json:"trace_id,omitempty"`
	SpanID    string         `json:"span_id,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Mode      Mode           `json:"mode,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    any            `json:"result,omitempty"`
	Error     *ErrorDetail   `json:"error,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// ErrorDetail is the serializable form of a failure.
type ErrorDetail struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail"`
}

// DispatchResult is produced once per dispatch call.
type DispatchResult struct {
	Mode      Mode           `json:"mode"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Output    any            `json:"output,omitempty"`
	Error     *ErrorDetail   `json:"error,omitempty"`
	Warnings  []string       `json:"warnings,omitempty"`
}

// Failed reports whether the backend call failed.
func (r *DispatchResult) Failed() bool {
	return r.Error != nil
}

// PlanView is the {mode, tool, arguments} shape returned for dry runs.
func (r *DispatchResult) PlanView() map[string]any {
	return map[string]any{
		"mode":      string(r.Mode),
		"tool":      r.Tool,
		"arguments": r.Arguments,
	}
}

// WorkflowState is the caller-held conversation state. The core never stores it.
type WorkflowState struct {
	Text     string            `json:"accumulated_text"`
	Resolved map[string]string `json:"resolved_parameters,omitempty"`
	Status   Status            `json:"status"`
}

// NewWorkflowState returns a PENDING state for the given request text.
func NewWorkflowState(text string) WorkflowState {
	return WorkflowState{Text: text, Status: Pending}
}

// Failure describes the step that halted a workflow.
type Failure struct {
	Step      string    `json:"step"`
	ErrorKind ErrorKind `json:"error_kind"`
	Detail    string    `json:"detail"`
}

// Response is the structured status object returned for every turn.
type Response struct {
	Status           Status         `json:"status"`
	TraceID          string         `json:"trace_id,omitempty"`
	Reason           string         `json:"reason,omitempty"`
	AllowedActions   []string       `json:"allowed_actions,omitempty"`
	Questions        []string       `json:"questions,omitempty"`
	Results          map[string]any `json:"results,omitempty"`
	CompletedResults map[string]any `json:"completed_results,omitempty"`
	Failure          *Failure       `json:"failure,omitempty"`
	Warnings         []string       `json:"warnings,omitempty"`
}
