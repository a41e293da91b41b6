package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/smartsheet-platform/project-online-import-sub000/pkg/provision"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/transform"
)

func newMigrateCommand() *cobra.Command {
	var (
		dryRun         bool
		nonInteractive bool
	)

	cmd := &cobra.Command{
		Use:   "migrate <project-id>",
		Short: "Migrate one project into a Smartsheet workspace",
		Long: `Migrate a Project Online project into a Smartsheet workspace.

This command:
  - Authenticates against the source tenant (device flow on first use)
  - Extracts the project, its tasks, resources, and assignments
  - Transforms them into summary, task, and resource sheets
  - Resolves or creates the correlated destination workspace
  - Writes rows parent-before-child, replacing content on re-runs`,
		Example: `  # Migrate a project
  psmigrate migrate 6b29e96a-8d0b-4b05-b3a6-b0d5e0b54d0f

  # Preview the sheet plan without writing anything
  psmigrate migrate 6b29e96a-8d0b-4b05-b3a6-b0d5e0b54d0f --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := args[0]

			env, err := newEnv(cmd.Context(), !nonInteractive)
			if err != nil {
				return err
			}
			defer env.Close()

			log.Info().
				Str("project_id", projectID).
				Bool("dry_run", dryRun).
				Msg("Starting migration")

			result, err := env.newLoader().Migrate(cmd.Context(), projectID, provision.Options{
				DryRun: dryRun,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(migrateOutput(result))
			}
			printResult(result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "extract and transform only, write nothing")
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "fail instead of prompting for device authorization")

	return cmd
}

func migrateOutput(result *provision.Result) map[string]interface{} {
	out := map[string]interface{}{
		"run_id":     result.RunID,
		"project_id": result.ProjectID,
		"state":      result.State,
	}
	if result.WorkspaceID != 0 {
		out["workspace_id"] = result.WorkspaceID
		out["permalink"] = result.Permalink
		out["reused_workspace"] = result.ReusedWorkspace
		out["rows_written"] = result.RowsWritten
	}
	return out
}

func printResult(result *provision.Result) {
	if result.WorkspaceID == 0 {
		fmt.Println("Dry run: no destination writes performed.")
		printPlan(result.Plan)
		return
	}

	verb := "created"
	if result.ReusedWorkspace {
		verb = "updated"
	}
	fmt.Printf("Workspace %s: %s\n", verb, result.Plan.WorkspaceName)
	fmt.Printf("  id:        %d\n", result.WorkspaceID)
	if result.Permalink != "" {
		fmt.Printf("  permalink: %s\n", result.Permalink)
	}
	fmt.Printf("  rows:      %d\n", result.RowsWritten)
}

func printPlan(plan *transform.WorkspacePlan) {
	fmt.Printf("Workspace: %s\n", plan.WorkspaceName)
	for _, sheet := range plan.Sheets() {
		fmt.Printf("  %-18s %3d columns, %4d rows\n", sheet.Name, len(sheet.Columns), len(sheet.Rows))
	}
}
