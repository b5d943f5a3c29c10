package commands

import (
	"github.com/spf13/cobra"

	"github.com/stockflow-dev/stockflow/internal/buildinfo"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "stockflow",
		Short:   "Stock-flow consistent agent-based simulation",
		Version: buildinfo.String(),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newInitCommand(),
		newRunCommand(),
		newValidateCommand(),
		newRunsCommand(),
		newEventsCommand(),
	)

	return rootCmd
}
