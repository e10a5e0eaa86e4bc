package cmd

import (
	"errors"
	"fmt"

	"github.com/bnema/chatshell/internal/adapters/render/tui"
	"github.com/bnema/chatshell/internal/domain"
	"github.com/spf13/cobra"
)

var errNotSignedIn = errors.New("not signed in: run `chatshell login` first")

func newRunCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Open the chat client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd, app)
		},
	}
}

func runChat(cmd *cobra.Command, app *app) error {
	ctx := cmd.Context()

	signedIn, err := app.signedIn(ctx)
	if err != nil {
		return err
	}
	if !signedIn {
		return errNotSignedIn
	}

	state := tui.NewState()
	service := app.newService(state.Handlers())
	runErr := tui.Run(ctx, service, app.ui, state)

	if err := service.Quit(); err != nil && !errors.Is(err, domain.ErrNotRunning) {
		app.log.Warn().Err(err).Msg("quit after ui exit")
	}
	if err := app.drain(ctx); err != nil {
		app.log.Warn().Err(err).Msg("session did not wind down")
	}

	if runErr != nil {
		return fmt.Errorf("run terminal ui: %w", runErr)
	}
	if err := state.Err(); err != nil {
		if errors.Is(err, domain.ErrAuth) {
			return fmt.Errorf("%w (run `chatshell login` to sign in again)", err)
		}
		return err
	}
	if state.SignedOut() && state.Phase() != domain.PhaseClosed {
		return errNotSignedIn
	}
	return nil
}
