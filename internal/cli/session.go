package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/carewatch/internal/model"
	"github.com/ppiankov/carewatch/internal/workflow"
)

var sessionMode string

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.Flags().StringVar(&sessionMode, "mode", "", "Dispatch mode override (dry_run|live)")
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Interactive booking conversation",
	Long: "Reads requests from stdin. When details are missing each question is\n" +
		"asked in turn and the answers are fed back into the same conversation.\n" +
		"Type 'exit' or send EOF to quit.",
	Args: cobra.NoArgs,
	RunE: runSessionCmd,
}

func runSessionCmd(cmd *cobra.Command, args []string) error {
	p, err := loadPipeline(sessionMode)
	if err != nil {
		return err
	}
	defer p.Close()

	fmt.Fprintf(cmd.ErrOrStderr(), "carewatch session (%s). Type 'exit' to quit.\n", p.Orchestrator.Mode())
	return runSession(context.Background(), p.Orchestrator, cmd.InOrStdin(), cmd.OutOrStdout())
}

// runSession drives Step from line-oriented input until EOF or "exit".
func runSession(ctx context.Context, orch *workflow.Orchestrator, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	readLine := func(prompt string) (string, bool) {
		fmt.Fprint(out, prompt)
		if !scanner.Scan() {
			return "", false
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "exit" || line == "quit" {
			return "", false
		}
		return line, true
	}

	state := model.NewWorkflowState("")
	for {
		input, ok := readLine("> ")
		if !ok {
			return scanner.Err()
		}
		if input == "" {
			continue
		}

		var resp model.Response
		state, resp = orch.Step(ctx, state, input)
		for resp.Status == model.NeedsMoreInfo {
			var answers []string
			for _, q := range resp.Questions {
				answer, ok := readLine(q + " ")
				if !ok {
					return scanner.Err()
				}
				answers = append(answers, answer)
			}
			state, resp = orch.Step(ctx, state, strings.Join(answers, " "))
		}

		if err := writeJSON(out, resp); err != nil {
			return err
		}
	}
}
