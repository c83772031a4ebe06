package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/carewatch/internal/scenario"
)

var (
	checkScenario string
	checkFormat   string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkScenario, "scenario", "", "Glob pattern for scenario YAML files (required)")
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text|json)")
	checkCmd.MarkFlagRequired("scenario")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run conversation assertions from scenario files",
	Long: "Loads scenario YAML files matching a glob pattern, drives each case\n" +
		"through a fresh pipeline against the sandbox backend, and reports\n" +
		"pass/fail.\n\n" +
		"Exit code 0 if all cases pass, 1 if any fail.",
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	matches, err := filepath.Glob(checkScenario)
	if err != nil {
		return fmt.Errorf("invalid glob pattern: %w", err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("no scenario files match pattern: %s", checkScenario)
	}

	ctx := context.Background()
	var results []*scenario.RunResult
	for _, path := range matches {
		r, err := scenario.LoadAndRun(ctx, path, configPath)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		results = append(results, r)
	}

	switch checkFormat {
	case "json":
		out, err := scenario.FormatJSON(results)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
	default:
		fmt.Fprint(cmd.OutOrStdout(), scenario.FormatText(results))
	}

	for _, r := range results {
		if r.Failed > 0 {
			os.Exit(1)
		}
	}
	return nil
}
