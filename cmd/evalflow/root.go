package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "evalflow",
		Short:         "evalflow serves delegate endpoints over REST, WebSocket and messaging",
		Long:          `evalflow evaluates delegate based endpoints for every event of a connection and exports them over several protocols at once.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringP("config", "c", "evalflow.yaml", "Path to the YAML configuration file")
	cmd.PersistentFlags().String("env-file", ".env", "Optional dotenv file loaded before the configuration")

	cmd.AddCommand(newServeCmd(), newConfigCmd(), newVersionCmd())
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of evalflow",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "evalflow version %s\n", Version)
		},
	}
}
