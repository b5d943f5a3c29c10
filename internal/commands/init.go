package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stockflow-dev/stockflow/internal/config"
)

func newInitCommand() *cobra.Command {
	var name string
	var format string
	var periods int

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a starter scenario",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			path, err := runInit(absDir, name, format, periods)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote scenario %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "default", "scenario name")
	cmd.Flags().StringVar(&format, "format", "yaml", "scenario format (yaml or toml)")
	cmd.Flags().IntVar(&periods, "periods", 0, "number of periods (default from the starter scenario)")

	return cmd
}

func runInit(dir, name, format string, periods int) (string, error) {
	var file string
	switch format {
	case "yaml", "yml":
		file = "stockflow.yaml"
	case "toml":
		file = "stockflow.toml"
	default:
		return "", fmt.Errorf("unknown scenario format %q", format)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}

	path := filepath.Join(dir, file)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%s already exists", path)
	}

	cfg := config.Default(name)
	if periods > 0 {
		cfg.Simulation.Periods = periods
	}
	if err := config.Save(path, cfg); err != nil {
		return "", err
	}

	gitignore := cfg.Output.Dir + "/\n"
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0o644); err != nil {
		return "", fmt.Errorf("writing .gitignore: %w", err)
	}
	return path, nil
}
