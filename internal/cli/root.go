// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package cli implements the gatekeep command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	verbose    bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "gatekeep",
	Short: "gatekeep - WebAuthn authentication service",
	Long: `gatekeep is a WebAuthn/FIDO2 relying party service. It issues and
consumes single-use ceremony challenges, registers and authenticates
passkey credentials, and manages credential lifecycle over a REST API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file (built-in defaults when unset)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pkceCmd)
}
