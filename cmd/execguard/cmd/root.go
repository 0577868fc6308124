// Package cmd provides the CLI commands for ExecGuard.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/execguard/execguard/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "execguard",
	Short: "ExecGuard - governed execution authorization core",
	Long: `ExecGuard authorizes agent execution plans against an active policy,
routes escalations through human approval sessions, and records every
completed execution in a hash-chained, signed certificate ledger.

Quick start:
  1. Create a config file: execguard.yaml
  2. Run: execguard start

Configuration:
  Config is loaded from execguard.yaml in the current directory,
  $HOME/.execguard/, or /etc/execguard/.

  Environment variables can override config values with the EXECGUARD_ prefix.
  Example: EXECGUARD_SERVER_HTTP_ADDR=:9090

Commands:
  start        Start the authorization daemon
  verify       Verify the certificate chain in a ledger
  policy-hash  Print the content hash of a policy profile
  keygen       Generate a signing key
  hash-key     Generate a hash for an admin API key
  version      Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./execguard.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
