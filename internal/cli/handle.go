package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/carewatch/internal/model"
)

var handleMode string

func init() {
	rootCmd.AddCommand(handleCmd)
	handleCmd.Flags().StringVar(&handleMode, "mode", "", "Dispatch mode override (dry_run|live)")
}

var handleCmd = &cobra.Command{
	Use:   "handle <request text>",
	Short: "Run a single request through the pipeline",
	Long: "Classifies the request, fills slots from the text and, when every slot\n" +
		"is resolved, runs the booking workflow. Prints the structured response.\n\n" +
		"Exit code 1 when the workflow FAILED.",
	Args: cobra.MinimumNArgs(1),
	RunE: runHandle,
}

func runHandle(cmd *cobra.Command, args []string) error {
	p, err := loadPipeline(handleMode)
	if err != nil {
		return err
	}
	defer p.Close()

	resp := p.Orchestrator.Handle(context.Background(), strings.Join(args, " "))
	if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
		return err
	}
	if resp.Status == model.Failed {
		return fmt.Errorf("workflow failed at step %s", resp.Failure.Step)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
