package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLoginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in to the source tenant",
		Long: `Run the device-authorization flow and cache the resulting token.

After a successful login, migrations can run non-interactively until the
refresh token expires.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.auth.Login(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Signed in. Token cached for future runs.")
			return nil
		},
	}
}
