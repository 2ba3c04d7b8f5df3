// Package cmd defines the CLI commands for the location-analyzer executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root command and registers every subcommand.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "location-analyzer",
		Short: "Forecasts monthly retail sales for a UK postcode.",
		Long: `location-analyzer gathers Census demographics, household income and
transport accessibility for a UK postcode, runs them through a trained
model bundle and returns a twelve month sales forecast.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newServeCmd(&cfgFile))
	cmd.AddCommand(newPredictCmd(&cfgFile))
	cmd.AddCommand(newBundleCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
