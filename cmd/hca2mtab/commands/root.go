// SPDX-License-Identifier: Apache-2.0

// Package commands holds the hca2mtab cobra commands.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gemaraproj/hca2mtab/internal/config"
	"github.com/gemaraproj/hca2mtab/internal/printer"
)

var (
	version string
	commit  string
	date    string

	configPath string
	verbose    bool

	logger *zap.Logger
	out    = printer.New(nil, nil)
)

var rootCmd = &cobra.Command{
	Use:   "hca2mtab",
	Short: "Convert Human Cell Atlas metadata into MAGE-TAB",
	Long: `hca2mtab reads the metadata bundles of Human Cell Atlas projects and writes
one SDRF and one IDF file per sequencing technology, ready for import into
Expression Atlas.

Imported experiments are recorded in a local ledger so that candidate
accessions are stable across runs and re-runs can skip what is already done.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command until it returns or the process is interrupted.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// SetVersionInfo sets the version reported by --version and the version command.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Mapping configuration file (built-in configuration if omitted)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
}

// loadConfig reads --config, or the built-in configuration.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default()
	}
	return config.Load(configPath)
}
