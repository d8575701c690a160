package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCmd(a *app) *cobra.Command {
	var (
		yes    bool
		forget bool
	)
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear every task and the history of the current session",
		Long: `Clear every task and the history of the current session.

Records already saved to the record store are kept. With --forget the
session is also deselected, so the next chat starts a new one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.resolveSession(false)
			if err != nil {
				return err
			}
			if !yes {
				return fmt.Errorf("reset clears session %s; pass --yes to confirm", id)
			}

			rt, err := a.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			orch, err := rt.Open(cmd.Context(), id)
			if err != nil {
				return err
			}
			resetErr := orch.Reset()
			if err := errors.Join(resetErr, orch.Session().Close()); err != nil {
				return err
			}

			if forget {
				if err := a.contextStore().Clear(); err != nil {
					return err
				}
			}
			fmt.Fprintf(a.out, "Session %s reset\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the reset")
	cmd.Flags().BoolVar(&forget, "forget", false, "also deselect the session")
	return cmd
}
