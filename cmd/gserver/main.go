package main

import (
	"fmt"
	"os"

	"github.com/cbodonnell/gserver/pkg/log"
	"github.com/cbodonnell/gserver/pkg/version"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string
	var envFile string

	root := &cobra.Command{
		Use:           "gserver",
		Short:         "Game host server: frame gateway, save slots, progress and auth",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			parsedLogLevel, err := log.ParseLogLevel(logLevel)
			if err != nil {
				return fmt.Errorf("failed to parse log level: %v", err)
			}
			log.SetDefaultLogger(log.New(os.Stdout, "", log.DefaultLoggerFlag, parsedLogLevel))
			log.Debug("Log level set to %s", parsedLogLevel)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "File of GSERVER_* variables the environment does not set")

	root.AddCommand(newServeCmd(&envFile))
	root.AddCommand(newGamesCmd(&envFile))
	root.AddCommand(newReapCmd(&envFile))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get())
		},
	})
	return root
}
