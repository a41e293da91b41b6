package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smartsheet-platform/project-online-import-sub000/pkg/provision"
)

func newStandardsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "standards",
		Short: "Resolve the shared standards workspace",
		Long: `Resolve (or create) the shared standards workspace and print its id.

Put the id in the configuration's standards.workspace_id to pin every run
to the same workspace across machines.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer env.Close()

			cache := provision.NewStandardsCache(env.dest, env.cfg.Standards, env.logger)
			id, err := cache.WorkspaceID(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Standards workspace id: %d\n", id)
			return nil
		},
	}
}
