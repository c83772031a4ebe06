package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/carewatch/internal/config"
	"github.com/ppiankov/carewatch/internal/model"
	"github.com/ppiankov/carewatch/internal/pipeline"
)

var (
	configPath string
	logLevel   string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config YAML (default ~/.carewatch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug|info|warn|error)")
}

var rootCmd = &cobra.Command{
	Use:   "carewatch",
	Short: "Governance pipeline for clinical scheduling operations",
	Long: "Gates sensitive clinical operations behind intent classification, parameter\n" +
		"validation and an append-only audit trail. Dry-run by default.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := parseLevel(logLevel)
		if err != nil {
			return err
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid --log-level %q: %w", s, err)
	}
	return level, nil
}

// loadPipeline reads the config and wires a pipeline. A non-empty mode
// overrides the configured one.
func loadPipeline(mode string) (*pipeline.Pipeline, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	opts := pipeline.Options{Logger: slog.Default(), Now: time.Now}
	if mode != "" {
		if mode != "live" && mode != "dry_run" {
			return nil, fmt.Errorf("unknown mode %q: use 'dry_run' or 'live'", mode)
		}
		opts.Mode = model.ParseMode(mode)
	}
	return pipeline.Build(cfg, opts)
}
