package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/bastion/pkg/cli"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "bastion",
	Short: "Bastion - security policy engine for distributed services",
	Long: `Bastion stores versioned security policies and evaluates request contexts
against them.

It provides:
  - Rule matching over request attributes with typed operators
  - Conflict detection and configurable resolution strategies
  - Violation recording with audit sinks and remediation hooks
  - Version history with snapshots and rollback
  - Propagation of policies to the services they scope`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with a status derived from the
// returned error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
