// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package main

import (
	"os"

	"github.com/gatekeep/go-gatekeep/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
