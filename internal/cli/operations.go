package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/carewatch/internal/registry"
)

var operationsFormat string

func init() {
	rootCmd.AddCommand(operationsCmd)
	operationsCmd.Flags().StringVarP(&operationsFormat, "format", "f", "text", "Output format (text|json)")
}

var operationsCmd = &cobra.Command{
	Use:   "operations",
	Short: "List registered operations and their parameters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadPipeline("")
		if err != nil {
			return err
		}
		defer p.Close()

		ops := p.Registry.Operations()
		if operationsFormat == "json" {
			return writeJSON(cmd.OutOrStdout(), ops)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatOperations(ops))
		return nil
	},
}

func formatOperations(ops []registry.Operation) string {
	var b strings.Builder
	for _, op := range ops {
		fmt.Fprintf(&b, "%s\n", op.Name)
		if op.Description != "" {
			fmt.Fprintf(&b, "  %s\n", op.Description)
		}
		for _, param := range op.Params {
			flag := "required"
			if param.Optional {
				flag = "optional"
			}
			fmt.Fprintf(&b, "  - %-14s %-6s %s", param.Name, param.Type, flag)
			if param.Rule != "" {
				fmt.Fprintf(&b, "  [%s]", param.Rule)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
