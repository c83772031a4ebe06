package mcp

import (
	"context"
	"errors"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/carewatch/internal/model"
	"github.com/ppiankov/carewatch/internal/registry"
)

// --- Input/Output types ---

// HandleInput defines parameters for the carewatch_handle tool.
type HandleInput struct {
	Text   string               `json:"text" jsonschema:"the user's request or answer to the previous questions"`
	State  *model.WorkflowState `json:"state,omitempty" jsonschema:"state returned by the previous call, omit to start a new request"`
	DryRun bool                 `json:"dry_run,omitempty" jsonschema:"plan the workflow without calling the clinic backend"`
}

// HandleOutput carries the turn's response and the state to pass back.
type HandleOutput struct {
	State    model.WorkflowState `json:"state"`
	Response model.Response      `json:"response"`
}

// DispatchInput defines parameters for the carewatch_dispatch tool.
type DispatchInput struct {
	Tool      string         `json:"tool" jsonschema:"operation name, see carewatch_operations"`
	Arguments map[string]any `json:"arguments,omitempty" jsonschema:"operation arguments"`
	Live      bool           `json:"live,omitempty" jsonschema:"call the backend instead of returning the plan"`
}

// DispatchOutput contains the dispatch result or the rejection reason.
type DispatchOutput struct {
	Result   *model.DispatchResult `json:"result,omitempty"`
	Rejected bool                  `json:"rejected,omitempty"`
	Reason   string                `json:"reason,omitempty"`
}

// OperationsInput is empty.
type OperationsInput struct{}

// OperationsOutput lists registered operations.
type OperationsOutput struct {
	Operations []registry.Operation `json:"operations"`
}

// --- Handlers ---

func (s *Server) handleRequest(ctx context.Context, req *mcpsdk.CallToolRequest, input HandleInput) (*mcpsdk.CallToolResult, HandleOutput, error) {
	prev := model.NewWorkflowState("")
	if input.State != nil {
		prev = *input.State
	}
	state, resp := s.pipe.Orchestrator.StepMode(ctx, prev, input.Text, s.mode(!input.DryRun))

	out := HandleOutput{State: state, Response: resp}
	if resp.Status == model.Failed {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleDispatch(ctx context.Context, req *mcpsdk.CallToolRequest, input DispatchInput) (*mcpsdk.CallToolResult, DispatchOutput, error) {
	res, err := s.pipe.Dispatcher.Dispatch(ctx, input.Tool, input.Arguments, s.mode(input.Live))
	if err != nil {
		var nf *model.NotFoundError
		var ve *model.ValidationError
		if errors.As(err, &nf) || errors.As(err, &ve) {
			return &mcpsdk.CallToolResult{IsError: true}, DispatchOutput{Rejected: true, Reason: err.Error()}, nil
		}
		return nil, DispatchOutput{}, err
	}

	out := DispatchOutput{Result: res}
	if res.Failed() {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleOperations(ctx context.Context, req *mcpsdk.CallToolRequest, input OperationsInput) (*mcpsdk.CallToolResult, OperationsOutput, error) {
	return nil, OperationsOutput{Operations: s.pipe.Registry.Operations()}, nil
}

// mode grants live dispatch only when both the caller and the server want it.
func (s *Server) mode(wantLive bool) model.Mode {
	if wantLive && s.pipe.Orchestrator.Mode() == model.Live {
		return model.Live
	}
	return model.DryRun
}
