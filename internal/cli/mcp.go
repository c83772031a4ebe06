package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	caremcp "github.com/ppiankov/carewatch/internal/mcp"
)

var mcpMode string

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpMode, "mode", "", "Dispatch mode override (dry_run|live)")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs carewatch as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes governed tools: carewatch_handle, carewatch_dispatch, carewatch_operations.",
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	p, err := loadPipeline(mcpMode)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "carewatch MCP server running on stdio (mode %s)\n", p.Orchestrator.Mode())
	return caremcp.New(p).Run(ctx)
}
