package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/carewatch/internal/config"
)

var initForce bool

func init() {
	initConfigCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initConfigCmd)
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a commented default config file",
	Long: `Writes the built-in defaults to ~/.carewatch/config.yaml (or --config).

The file starts in dry_run mode. Switch mode to live only once the
backend and audit destinations are in place.`,
	Args: cobra.NoArgs,
	RunE: runInitConfig,
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}

	wrote, err := writeIfMissing(path, config.DefaultYAML())
	if err != nil {
		return err
	}
	if !wrote {
		fmt.Fprintf(os.Stderr, "%s already exists (use --force to overwrite)\n", path)
		return nil
	}
	fmt.Fprintf(os.Stderr, "Created %s\n", path)
	return nil
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
