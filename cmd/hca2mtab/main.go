// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/gemaraproj/hca2mtab/cmd/hca2mtab/commands"
)

// Set during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	// Errors are printed by the printer package before Execute returns.
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
