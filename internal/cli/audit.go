package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/carewatch/internal/audit"
	"github.com/ppiankov/carewatch/internal/config"
)

var (
	tailLines    int
	replayTool   string
	replayFrom   string
	replayTo     string
	replayFormat string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditReplayCmd)
	auditCmd.AddCommand(auditQueryCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditReplayCmd.Flags().StringVar(&replayTool, "tool", "", "Only events for this operation")
	auditReplayCmd.Flags().StringVar(&replayFrom, "from", "", "Start time filter (RFC3339)")
	auditReplayCmd.Flags().StringVar(&replayTo, "to", "", "End time filter (RFC3339)")
	auditReplayCmd.Flags().StringVarP(&replayFormat, "format", "f", "text", "Output format (text|json)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long: "Commands for verifying and inspecting the hash-chained audit log.\n" +
		"Path arguments default to the configured audit.path.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of an audit log",
	Long: "Walks the JSONL audit log and validates that every entry's prev_hash\n" +
		"matches the SHA-256 of the previous entry and that every completion\n" +
		"event follows its TOOL_SELECTED. Exits 0 if valid, 1 if tampered.",
	Args: cobra.MaximumNArgs(1),
	RunE: runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent audit log entries",
	Long:  "Reads the last N entries from the JSONL audit log and pretty-prints them.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTail,
}

var auditReplayCmd = &cobra.Command{
	Use:   "replay <trace-id> [path]",
	Short: "Replay a request from the audit log",
	Long: "Reads the audit log, filters by trace ID and optional tool and time\n" +
		"range, and renders a timeline of dispatches with a summary.",
	Args: cobra.RangeArgs(1, 2),
	RunE: runAuditReplay,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query [trace-id]",
	Short: "Query the SQLite audit mirror",
	Long:  "Prints rows from the configured audit.sqlite_path, optionally for one trace.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditQuery,
}

// auditPath returns the explicit path or the configured one.
func auditPath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	return cfg.Audit.Path, nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	result := audit.Verify(path)
	if result.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d entries verified (%d spans, %d open)\n", result.Lines, result.Spans, result.Open)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}

	start := len(lines) - tailLines
	if start < 0 {
		start = 0
	}

	out := cmd.OutOrStdout()
	for _, line := range lines[start:] {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			fmt.Fprintln(out, line)
			continue
		}
		if err := writeJSON(out, entry); err != nil {
			return err
		}
	}
	return nil
}

func runAuditReplay(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args[1:])
	if err != nil {
		return err
	}

	filter := audit.ReplayFilter{TraceID: args[0], Tool: replayTool}
	if replayFrom != "" {
		if filter.From, err = time.Parse(time.RFC3339, replayFrom); err != nil {
			return fmt.Errorf("invalid --from time %q: %w", replayFrom, err)
		}
	}
	if replayTo != "" {
		if filter.To, err = time.Parse(time.RFC3339, replayTo); err != nil {
			return fmt.Errorf("invalid --to time %q: %w", replayTo, err)
		}
	}

	result, err := audit.Replay(path, filter)
	if err != nil {
		return err
	}

	switch replayFormat {
	case "json":
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
	default:
		fmt.Fprint(cmd.OutOrStdout(), audit.FormatTimeline(result))
	}
	return nil
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Audit.SQLitePath == "" {
		return fmt.Errorf("audit.sqlite_path is not configured")
	}

	db, err := audit.OpenSQLite(cfg.Audit.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	var traceID string
	if len(args) > 0 {
		traceID = args[0]
	}
	entries, err := db.Entries(context.Background(), traceID)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), entries)
}
