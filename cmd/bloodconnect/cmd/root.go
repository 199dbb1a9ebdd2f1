// Package cmd provides the CLI commands for BloodConnect.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/enteecaay/BloodDonation-prototype/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "bloodconnect",
	Short: "BloodConnect - identity and session service",
	Long: `BloodConnect hosts the identity, session and role-authorization layer of
the BloodConnect blood donation platform.

Quick start:
  bloodconnect serve --dev
  curl -c jar -H 'Content-Type: application/json' \
    -d '{"email":"admin@example.com","password":"password"}' \
    http://127.0.0.1:8080/api/session/login

Configuration:
  Config is loaded from bloodconnect.yaml in the current directory,
  $HOME/.bloodconnect/, or /etc/bloodconnect/.

  Environment variables can override config values with the BLOODCONNECT_ prefix.
  Example: BLOODCONNECT_SERVER_HTTP_ADDR=:9090

Commands:
  serve         Start the HTTP service
  stop          Stop the running service
  login         Log in from the command line
  logout        End the command-line session
  whoami        Show the command-line session
  authz check   Show the guard decision for a role and path
  hash-secret   Hash a fixture secret with argon2id
  reset         Remove persisted profiles and tokens
  version       Print version information`,
	SilenceUsage: true,
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./bloodconnect.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
