// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gemaraproj/hca2mtab/internal/config"
	"github.com/gemaraproj/hca2mtab/internal/ledger"
	"github.com/gemaraproj/hca2mtab/internal/magetab"
	"github.com/gemaraproj/hca2mtab/internal/notify"
	"github.com/gemaraproj/hca2mtab/internal/runner"
	"github.com/gemaraproj/hca2mtab/internal/source"
)

const defaultLedgerFile = "hca2mtab.db"

var (
	convertProjects   []string
	convertOutput     string
	convertSourceRoot string
	convertSourceURL  string
	convertRedisAddr  string
	convertLedger     string
	convertNewOnly    bool
	convertKeepGoing  bool
	convertParallel   int
	convertTest       bool
	convertSender     string
	convertRecipients []string
	convertSMTP       string
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert HCA projects into MAGE-TAB files",
	Long: `Retrieve the bundles of each project, translate them and write the SDRF and
IDF files to the output directory.

Projects are read from a directory catalog (--source-root) or from the HCA data
store (--source-url). Without --project, every project of a directory catalog
is converted; the data store requires explicit projects.

The accession comes from the project document when it names one, otherwise
from the ledger, otherwise a new candidate accession E-CAND-<n> is minted.

By default the first failed experiment aborts the run and, when a sender and
recipients are configured, an error report is mailed. With --keep-going the
remaining experiments are converted and failures are listed at the end.

Examples:
  # Convert every project of a local catalog
  hca2mtab convert --source-root ./catalog --output ./mtab

  # Convert two projects from the data store, skipping those already imported
  hca2mtab convert --source-url https://dss.data.humancellatlas.org/v1 \
    --project 0c3b7785-f74d-4091-8616-a68757e4c2a8 \
    --project 2a2fc2d8-6d83-4bb4-a393-7f1e2bd7bc28 \
    --output ./mtab --new-only`,
	Args: cobra.NoArgs,
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringSliceVarP(&convertProjects, "project", "p", nil, "Project uuid to convert (repeatable)")
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", ".", "Directory the MAGE-TAB files are written to")
	convertCmd.Flags().StringVar(&convertSourceRoot, "source-root", "", "Read bundles from this directory catalog")
	convertCmd.Flags().StringVar(&convertSourceURL, "source-url", "", "Read bundles from this data store API")
	convertCmd.Flags().StringVar(&convertRedisAddr, "redis", "", "Share the document cache through this Redis server")
	convertCmd.Flags().StringVar(&convertLedger, "ledger", "", "Ledger database (default <output>/"+defaultLedgerFile+")")
	convertCmd.Flags().BoolVar(&convertNewOnly, "new-only", false, "Skip projects already imported or written")
	convertCmd.Flags().BoolVar(&convertKeepGoing, "keep-going", false, "Continue after a failed experiment")
	convertCmd.Flags().IntVar(&convertParallel, "parallel", 1, "Number of experiments converted at once")
	convertCmd.Flags().BoolVar(&convertTest, "test", false, "Read at most test_max_bundles bundles per project")
	convertCmd.Flags().StringVar(&convertSender, "sender", "", "Sender address of the report mail")
	convertCmd.Flags().StringSliceVar(&convertRecipients, "recipient", nil, "Recipient of the report mail (repeatable)")
	convertCmd.Flags().StringVar(&convertSMTP, "smtp", "", "SMTP server address (default localhost:25)")

	rootCmd.AddCommand(convertCmd)
}

// applyConvertFlags overrides cfg with the flags the user set.
func applyConvertFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("source-root") && flags.Changed("source-url") {
		return errors.New("--source-root and --source-url are mutually exclusive")
	}
	if flags.Changed("source-root") {
		cfg.Source.Kind = "dir"
		cfg.Source.Root = convertSourceRoot
	}
	if flags.Changed("source-url") {
		cfg.Source.Kind = "http"
		cfg.Source.URL = convertSourceURL
	}
	if flags.Changed("redis") {
		cfg.Cache.Backend = "redis"
		cfg.Cache.RedisAddr = convertRedisAddr
	}
	if flags.Changed("ledger") {
		cfg.Ledger.Path = convertLedger
	}
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = filepath.Join(convertOutput, defaultLedgerFile)
	}
	if flags.Changed("sender") {
		cfg.Notify.Sender = convertSender
	}
	if flags.Changed("recipient") {
		cfg.Notify.Recipients = convertRecipients
	}
	if flags.Changed("smtp") {
		cfg.Notify.SMTPAddr = convertSMTP
	}
	return nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return out.Error("Invalid configuration", err.Error(), nil)
	}
	if err := applyConvertFlags(cmd, cfg); err != nil {
		return out.Error("Invalid flags", err.Error(), nil)
	}

	engine, err := magetab.NewEngine(cfg, logger)
	if err != nil {
		return out.Error("Invalid mapping rules", err.Error(), nil)
	}
	catalog, err := source.NewCatalog(cfg, logger)
	if err != nil {
		return out.Error("Cannot open the bundle source", err.Error(), []string{
			"Pass --source-root with a directory catalog",
			"Pass --source-url with the data store API",
		})
	}
	shared, err := source.NewSharedCache(cfg)
	if err != nil {
		return out.Error("Cannot open the document cache", err.Error(), nil)
	}
	if rc, ok := shared.(*source.RedisCache); ok {
		defer rc.Close()
		if err := rc.Ping(ctx); err != nil {
			return out.Error("Redis is not reachable", err.Error(), []string{"Check --redis or drop it to cache in memory"})
		}
	}

	if err := os.MkdirAll(convertOutput, 0o755); err != nil {
		return out.Error("Cannot create the output directory", err.Error(), nil)
	}
	l, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return out.Error("Cannot open the ledger", err.Error(), nil)
	}
	defer l.Close()

	opts := runner.Options{
		Projects:  convertProjects,
		OutputDir: convertOutput,
		NewOnly:   convertNewOnly,
		KeepGoing: convertKeepGoing,
		Parallel:  convertParallel,
	}
	if convertTest {
		opts.MaxBundles = cfg.TestMaxBundles
	}
	mailer := notify.NewMailer(cfg.Notify, logger)

	out.Step("converting from %s source into %s", cfg.Source.Kind, convertOutput)
	report, runErr := runner.New(engine, catalog, shared, l, mailer, logger, opts).Run(ctx)
	printReport(report)

	if runErr != nil {
		suggestions := []string{"Fix the failing project and run again with --new-only"}
		if !convertKeepGoing {
			suggestions = append(suggestions, "Run with --keep-going to convert the remaining projects")
		}
		return out.Error("Conversion aborted", runErr.Error(), suggestions)
	}
	if failed := report.Failed(); len(failed) > 0 {
		return out.Error(fmt.Sprintf("%d of %d projects failed", len(failed), len(report.Outcomes)), "", nil)
	}
	logger.Debug("conversion finished", zap.Int("imports", len(report.Imports)))
	return nil
}

func printReport(report *runner.Report) {
	if report == nil {
		return
	}
	for _, o := range report.Outcomes {
		switch {
		case o.Err != nil:
			out.Warning("%s failed: %v", o.ProjectUUID, o.Err)
		case o.Skipped != "":
			out.Info("%s skipped: %s", o.ProjectUUID, o.Skipped)
		case len(o.Technologies) > 0:
			out.Success("%s %s (%d bundles): %s", o.Accession, o.ProjectUUID, o.Bundles, o.Title)
			for _, w := range o.Warnings {
				out.Warning("%s: %s", o.Accession, w)
			}
		}
	}
	out.Info("%d experiment technologies imported", len(report.Imports))
}
