package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ppiankov/carewatch/internal/api"
	"github.com/ppiankov/carewatch/internal/model"
	"github.com/ppiankov/carewatch/internal/registry"
)

// DefaultTimeout bounds each RPC when the caller's context has no deadline.
const DefaultTimeout = 30 * time.Second

// Client connects to a carewatch gRPC server.
type Client struct {
	conn *grpc.ClientConn
}

// New creates a gRPC client for the given address. The connection is
// established lazily on the first call.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(api.Codec{})))
	if err != nil {
		return nil, fmt.Errorf("client: connect to %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Handle submits a single-shot request.
func (c *Client) Handle(ctx context.Context, text string, dryRun bool) (*model.Response, error) {
	var resp model.Response
	if err := c.invoke(ctx, api.MethodHandle, &api.HandleRequest{Text: text, DryRun: dryRun}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Step advances a conversation held by the caller.
func (c *Client) Step(ctx context.Context, state model.WorkflowState, input string, dryRun bool) (model.WorkflowState, *model.Response, error) {
	var resp api.StepResponse
	if err := c.invoke(ctx, api.MethodStep, &api.StepRequest{State: state, Input: input, DryRun: dryRun}, &resp); err != nil {
		return state, nil, err
	}
	return resp.State, &resp.Response, nil
}

// Dispatch executes a single operation on the server.
func (c *Client) Dispatch(ctx context.Context, tool string, args map[string]any, live bool) (*model.DispatchResult, error) {
	var res model.DispatchResult
	if err := c.invoke(ctx, api.MethodDispatch, &api.DispatchRequest{Tool: tool, Arguments: args, Live: live}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Operations lists the server's registered operations.
func (c *Client) Operations(ctx context.Context) ([]registry.Operation, error) {
	var resp api.OperationsResponse
	if err := c.invoke(ctx, api.MethodOperations, &api.OperationsRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Operations, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return fmt.Errorf("client: %s: %w", method, err)
	}
	return nil
}
