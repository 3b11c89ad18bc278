// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gatekeep/go-gatekeep/pkg/pkce"
)

var pkceMethod string

var pkceCmd = &cobra.Command{
	Use:   "pkce",
	Short: "PKCE code verifier and challenge utilities",
}

var pkceGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a code verifier and its challenge",
	RunE: func(cmd *cobra.Command, args []string) error {
		verifier, challenge, err := pkce.GenerateVerifierAndChallenge(pkce.Method(pkceMethod))
		if err != nil {
			return err
		}
		fmt.Printf("code_verifier:  %s\n", verifier)
		fmt.Printf("code_challenge: %s\n", challenge)
		fmt.Printf("method:         %s\n", pkceMethod)
		return nil
	},
}

var pkceVerifyCmd = &cobra.Command{
	Use:   "verify <verifier> <challenge>",
	Short: "Check a code verifier against a code challenge",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := pkce.ValidateCodeChallenge(args[0], args[1], pkce.Method(pkceMethod))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("verifier does not match challenge")
		}
		fmt.Println("match")
		return nil
	},
}

func init() {
	pkceCmd.PersistentFlags().StringVar(&pkceMethod, "method", string(pkce.MethodS256),
		"challenge method (S256, plain)")
	pkceCmd.AddCommand(pkceGenerateCmd)
	pkceCmd.AddCommand(pkceVerifyCmd)
}
