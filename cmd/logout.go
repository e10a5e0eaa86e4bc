package cmd

import (
	"errors"
	"fmt"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/spf13/cobra"
)

func newLogoutCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored refresh token and profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var clearErr error
			err := app.await(ctx, func(done func()) {
				app.creds.Clear(func(err error) {
					defer done()
					clearErr = err
				})
			})
			if err := errors.Join(err, clearErr); err != nil {
				return err
			}

			if err := app.profiles.Delete(ctx); err != nil && !errors.Is(err, domain.ErrProfileNotFound) {
				return fmt.Errorf("delete profile: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return err
		},
	}
}
