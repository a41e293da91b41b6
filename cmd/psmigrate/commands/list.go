package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newListCommand() *cobra.Command {
	var nonInteractive bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List migratable projects",
		Long:  `List every project visible to the authenticated user, with its id and owner.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv(cmd.Context(), !nonInteractive)
			if err != nil {
				return err
			}
			defer env.Close()

			projects, err := env.extractor.ListProjects(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(projects)
			}
			if len(projects) == 0 {
				fmt.Println("No projects found.")
				return nil
			}
			for _, p := range projects {
				fmt.Printf("%s  %-40s %s\n", p.ID, p.Name, p.Owner)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "fail instead of prompting for device authorization")

	return cmd
}
