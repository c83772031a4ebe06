package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/carewatch/internal/pipeline"
)

// Version is reported in the MCP implementation handshake.
var Version = "0.1.0"

// Server exposes the governance pipeline as MCP tools.
type Server struct {
	mcpServer *mcpsdk.Server
	pipe      *pipeline.Pipeline
}

// New creates an MCP server backed by p. The caller owns p and closes it.
func New(p *pipeline.Pipeline) *Server {
	s := &Server{pipe: p}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "carewatch",
			Version: Version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.pipe.Logger.Info("mcp server starting", "transport", "stdio", "mode", s.pipe.Orchestrator.Mode())
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all carewatch tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "carewatch_handle",
		Description: "Submit a clinical scheduling request. Returns REFUSED, NEEDS_MORE_INFO with questions, COMPLETED with results, or FAILED. Pass back the returned state to continue a conversation.",
	}, s.handleRequest)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "carewatch_dispatch",
		Description: "Invoke one registered clinic operation through validation and audit. Dry-run unless live is set and the server runs live.",
	}, s.handleDispatch)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "carewatch_operations",
		Description: "List the registered clinic operations and their parameters.",
	}, s.handleOperations)
}
