package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tweetrelay/internal/app"
	"tweetrelay/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootFlags struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	runCmd := newRunCmd(&flags)

	rootCmd := &cobra.Command{
		Use:           "tweetrelay",
		Short:         "Relay new X posts from a set of accounts to a Telegram channel",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return config.LoadEnvFile(flags.envFile)
		},
		// Running without a subcommand starts the relay.
		RunE: runCmd.RunE,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a JSON or YAML config file (optional; environment variables override it)")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "dotenv file to load before reading the environment (default: ./.env when present)")

	rootCmd.AddCommand(
		runCmd,
		newCheckCmd(&flags),
		newStateCmd(&flags),
		newVersionCmd(),
	)
	return rootCmd
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start polling and relaying until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(flags.configPath)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
}

func newCheckCmd(flags *rootFlags) *cobra.Command {
	var resolve bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Check(cmd.Context(), flags.configPath, resolve, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&resolve, "resolve", false, "also resolve every account id against the X API")
	return cmd
}

func newStateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the persisted last-seen post ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.DumpState(cmd.Context(), flags.configPath, cmd.OutOrStdout())
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
