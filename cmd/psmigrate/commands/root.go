package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "psmigrate",
		Short: "Migrate Project Online projects into Smartsheet workspaces",
		Long: `psmigrate is an idempotent migration engine for Project Online data.

It extracts a project with its tasks, resources, and assignments from the
Project Online reporting OData endpoint, transforms them into Smartsheet
sheet structures (hierarchy via row indentation, dependencies via
predecessor notation), and loads them into a destination workspace.

Re-runs are safe: the same source project always resolves to the same
destination workspace, and sheet contents are replaced instead of
duplicated.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newLoginCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newStandardsCommand())
	rootCmd.AddCommand(newStatusCommand())

	return rootCmd
}
