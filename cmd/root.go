package cmd

import (
	"github.com/bnema/chatshell/internal/logging"
	"github.com/spf13/cobra"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var verbose bool
	app := &app{}

	rootCmd := &cobra.Command{
		Use:           "chatshell",
		Short:         "chatshell: chat from the terminal",
		Long:          "chatshell signs in to the chat service in your browser, keeps the refresh token in pass (or a private file), and runs a terminal chat client with conversations, typing indicators and read receipts.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			wired, err := wireApp(wireOptions{Verbose: verbose, Stderr: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			*app = *wired
			logging.WatchLevel(app.viper, app.cfg.File, app.log)
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return app.Close()
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log to stderr instead of the log file")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(app),
		newLoginCmd(app),
		newLogoutCmd(app),
		newWhoamiCmd(app),
		newCacheCmd(app),
	)

	return rootCmd
}
