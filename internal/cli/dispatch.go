package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/carewatch/internal/model"
	"github.com/ppiankov/carewatch/internal/tracer"
)

var dispatchLive bool

func init() {
	rootCmd.AddCommand(dispatchCmd)
	dispatchCmd.Flags().BoolVar(&dispatchLive, "live", false, "Call the backend instead of printing the plan")
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <operation> [key=value...]",
	Short: "Invoke one registered operation",
	Long: "Validates the arguments against the operation's declared parameters,\n" +
		"audits the call and prints the result. Dry-run unless --live is set.\n\n" +
		"Example:\n  carewatch dispatch search_patient name='Ravi Kumar'",
	Args: cobra.MinimumNArgs(1),
	RunE: runDispatch,
}

func runDispatch(cmd *cobra.Command, args []string) error {
	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}

	mode := "dry_run"
	if dispatchLive {
		mode = "live"
	}
	p, err := loadPipeline(mode)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx := tracer.WithTraceID(context.Background(), tracer.NewTraceID())
	res, err := p.Dispatcher.Dispatch(ctx, args[0], params, model.ParseMode(mode))
	var notFound *model.NotFoundError
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w (available: %s)", err, strings.Join(p.Registry.Names(), ", "))
	}
	if err != nil {
		return err
	}
	if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if res.Failed() {
		return fmt.Errorf("%s failed: %s", res.Tool, res.Error.Detail)
	}
	return nil
}

// parseParams turns key=value pairs into dispatch arguments.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid argument %q: expected key=value", pair)
		}
		if _, dup := params[key]; dup {
			return nil, fmt.Errorf("argument %q given twice", key)
		}
		params[key] = value
	}
	return params, nil
}
