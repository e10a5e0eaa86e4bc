package cmd

import (
	"fmt"

	"github.com/bnema/chatshell/internal/application"
	"github.com/bnema/chatshell/internal/domain"
	"github.com/spf13/cobra"
)

func newLoginCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in through the browser and store the refresh token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd, app)
		},
	}
}

func runLogin(cmd *cobra.Command, app *app) error {
	ctx := cmd.Context()

	code, err := app.browserFlow().Run(ctx, func(authURL string) error {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "Open this URL to sign in:\n%s\n", authURL)
		return err
	})
	if err != nil {
		return err
	}

	// The session only needs to reach Running: by then the refresh token and the profile
	// are written, so it is closed right away.
	var service *application.Service
	service = app.newService(application.Handlers{
		OnPhase: func(phase domain.Phase) {
			if phase != domain.PhaseRunning {
				return
			}
			if err := service.Quit(); err != nil {
				app.log.Debug().Err(err).Msg("login session already ending")
			}
		},
	})
	if err := service.LoginWithCode(code); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	if err := app.ui.Drain(ctx); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	if err := service.Wait(ctx); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	profile, err := app.profiles.Get(ctx)
	if err != nil {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), "Signed in.")
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s.\n", profileName(profile))
	return err
}
