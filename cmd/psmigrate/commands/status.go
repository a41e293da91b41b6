package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smartsheet-platform/project-online-import-sub000/pkg/stores"
)

func newStatusCommand() *cobra.Command {
	var (
		all   bool
		limit int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show journaled migration runs",
		Long: `Show runs recorded in the local run journal.

By default only resumable runs are listed: failed runs and runs that
stopped before completing. Use --all for the full history.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer env.Close()

			if env.journal == nil {
				return fmt.Errorf("run journal is unavailable")
			}

			var runs []*stores.Run
			if all {
				runs, err = env.journal.ListRuns(cmd.Context(), limit)
			} else {
				runs, err = env.journal.ListResumable(cmd.Context())
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(runs)
			}
			if len(runs) == 0 {
				fmt.Println("No runs to show.")
				return nil
			}
			for _, run := range runs {
				line := fmt.Sprintf("%s  %s  project=%s  state=%s",
					run.StartedAt.Format("2006-01-02 15:04:05"), run.ID, run.ProjectID, run.State)
				if run.Error != nil {
					line += "  error=" + *run.Error
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "show every journaled run")
	cmd.Flags().IntVar(&limit, "limit", 50, "max runs to show with --all")

	return cmd
}
