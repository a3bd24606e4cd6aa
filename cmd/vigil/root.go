package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/vigil/pkg/cli"
)

var (
	// Global flags
	cfgFile string
	verbose bool
	output  string
)

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "Vigil - per-owner retention of detection results",
	Long: `Vigil stores detection results for monitored owners and keeps only the
most recent results of each owner, evicting older ones on a schedule.

Without --config, the built-in defaults apply and VIGIL_* environment
variables override them.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with a code derived from the
// returned error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", string(cli.FormatText), "output format (text, json, csv)")
}
