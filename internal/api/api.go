// Package api defines the GovernanceService wire contract shared by the
// gRPC server and client. Messages are plain Go structs carried with a JSON
// codec, so no generated code is involved.
package api

import (
	"github.com/ppiankov/carewatch/internal/model"
	"github.com/ppiankov/carewatch/internal/registry"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "carewatch.v1.GovernanceService"

// Full method names.
const (
	MethodHandle     = "/" + ServiceName + "/Handle"
	MethodStep       = "/" + ServiceName + "/Step"
	MethodDispatch   = "/" + ServiceName + "/Dispatch"
	MethodOperations = "/" + ServiceName + "/Operations"
)

// HandleRequest submits a single-shot request.
type HandleRequest struct {
	Text    string `json:"text"`
	TraceID string `json:"trace_id,omitempty"`
	// DryRun forces dry-run even when the server runs live.
	DryRun bool `json:"dry_run,omitempty"`
}

// StepRequest advances a caller-held conversation by one turn.
type StepRequest struct {
	State   model.WorkflowState `json:"state"`
	Input   string              `json:"input"`
	TraceID string              `json:"trace_id,omitempty"`
	DryRun  bool                `json:"dry_run,omitempty"`
}

// StepResponse carries the next state and the turn's response.
type StepResponse struct {
	State    model.WorkflowState `json:"state"`
	Response model.Response      `json:"response"`
}

// DispatchRequest executes one registered operation.
type DispatchRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	TraceID   string         `json:"trace_id,omitempty"`
	// Live requests live execution; honoured only when the server runs live.
	Live bool `json:"live,omitempty"`
}

// OperationsRequest lists registered operations.
type OperationsRequest struct{}

// OperationsResponse describes every registered operation.
type OperationsResponse struct {
	Operations []registry.Operation `json:"operations"`
}
