// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the hca2mtab version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out.Info("hca2mtab %s (commit: %s, built: %s)", version, commit, date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
