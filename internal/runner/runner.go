// SPDX-License-Identifier: Apache-2.0

// Package runner drives a conversion run: it builds the experiment worklist,
// retrieves and translates each experiment, writes the MAGE-TAB files, records
// the imports and sends the report.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gemaraproj/hca2mtab/internal/accession"
	"github.com/gemaraproj/hca2mtab/internal/bundle"
	"github.com/gemaraproj/hca2mtab/internal/config"
	"github.com/gemaraproj/hca2mtab/internal/ledger"
	"github.com/gemaraproj/hca2mtab/internal/magetab"
	"github.com/gemaraproj/hca2mtab/internal/mapping"
	"github.com/gemaraproj/hca2mtab/internal/notify"
	"github.com/gemaraproj/hca2mtab/internal/source"
	"github.com/gemaraproj/hca2mtab/internal/writer"
)

// ProcessName names the converter in failure notifications.
const ProcessName = "hca2mtab"

// failureReportTimeout bounds the failure notification, which is sent even
// after the run context was cancelled.
const failureReportTimeout = 2 * time.Minute

// Ledger is the part of *ledger.Ledger the runner uses.
type Ledger interface {
	Imported(ctx context.Context, projectUUID string) (bool, error)
	AccessionFor(ctx context.Context, projectUUID string) (string, bool, error)
	Mint(ctx context.Context, projectUUID string, taken ...string) (string, error)
	Record(ctx context.Context, e ledger.Entry) error
}

// Notifier is the part of *notify.Mailer the runner uses.
type Notifier interface {
	ReportImports(ctx context.Context, imports []notify.Import) error
	ReportFailure(ctx context.Context, process string, cause error) error
}

// Options control one run.
type Options struct {
	// Projects restricts the run to these project uuids; empty means every
	// project the catalog lists.
	Projects  []string
	OutputDir string
	// NewOnly skips projects in the ledger and accessions already written to OutputDir.
	NewOnly bool
	// KeepGoing continues after a failed experiment instead of aborting the batch.
	KeepGoing bool
	// Parallel is the number of experiments processed at once (minimum 1).
	Parallel int
	// MaxBundles limits the bundles read per experiment; 0 means no limit.
	MaxBundles int
}

// Outcome is the result of one experiment.
type Outcome struct {
	ProjectUUID string
	Accession   string
	Title       string
	Bundles     int
	// Technologies in first-seen order.
	Technologies []string
	Files        []string
	Warnings     []string
	// Skipped is the reason the experiment was not translated, if any.
	Skipped string
	Err     error
}

// Report summarizes a run.
type Report struct {
	Outcomes []Outcome
	Imports  []notify.Import
}

// Failed returns the outcomes that ended in an error.
func (r *Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Runner converts a batch of experiments.
type Runner struct {
	engine  *magetab.Engine
	catalog source.Catalog
	shared  source.Cache
	ledger  Ledger
	mailer  Notifier
	logger  *zap.Logger
	opts    Options
}

// New creates a Runner. shared may be nil, in which case every experiment
// gets its own MemoryCache; mailer may be nil.
func New(engine *magetab.Engine, catalog source.Catalog, shared source.Cache, l Ledger, mailer Notifier, logger *zap.Logger, opts Options) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}
	return &Runner{
		engine:  engine,
		catalog: catalog,
		shared:  shared,
		ledger:  l,
		mailer:  mailer,
		logger:  logger,
		opts:    opts,
	}
}

// experiment carries one project through the run.
type experiment struct {
	outcome Outcome
	bundles []bundle.Bundle
}

// Run processes the worklist. In the default mode the first failure aborts
// the batch, is reported by mail and returned; with KeepGoing failures are
// recorded in the report and Run returns nil.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report, err := r.run(ctx)
	if err != nil {
		r.logger.Error("run aborted", zap.Error(err))
		if r.mailer != nil {
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureReportTimeout)
			if nerr := r.mailer.ReportFailure(nctx, ProcessName, err); nerr != nil {
				r.logger.Error("failed to send failure notification", zap.Error(nerr))
			}
			cancel()
		}
		return report, err
	}
	if r.mailer != nil {
		if err := r.mailer.ReportImports(ctx, report.Imports); err != nil {
			r.logger.Error("failed to send import report", zap.Error(err))
		}
	}
	return report, nil
}

func (r *Runner) run(ctx context.Context) (*Report, error) {
	projects, err := r.worklist(ctx)
	if err != nil {
		return &Report{}, err
	}
	exps := make([]*experiment, len(projects))
	for i, p := range projects {
		exps[i] = &experiment{outcome: Outcome{ProjectUUID: p}}
	}
	idx, err := r.indexOutput()
	if err != nil {
		return r.report(exps), err
	}

	load := func(ctx context.Context, exp *experiment) error {
		return r.load(ctx, exp, idx)
	}
	if err := r.parallel(ctx, exps, load); err != nil {
		return r.report(exps), err
	}
	// Accessions are minted one experiment at a time.
	for _, exp := range exps {
		if exp.outcome.Skipped != "" || exp.outcome.Err != nil {
			continue
		}
		if err := r.resolveAccession(ctx, exp, idx); err != nil {
			if !r.opts.KeepGoing {
				return r.report(exps), err
			}
			exp.outcome.Err = err
		}
	}
	if err := r.parallel(ctx, exps, r.translate); err != nil {
		return r.report(exps), err
	}
	return r.report(exps), nil
}

// outputIndex records the experiments already in the output directory,
// whether or not the ledger knows them.
type outputIndex struct {
	byProject map[string]string
	// accessions holds every accession on disk and every one resolved during
	// the run, so that no candidate number is handed out twice.
	accessions []string
}

func (idx *outputIndex) take(acc string) {
	idx.accessions = append(idx.accessions, acc)
}

func (r *Runner) indexOutput() (*outputIndex, error) {
	idx := &outputIndex{byProject: make(map[string]string)}
	if r.opts.OutputDir == "" {
		return idx, nil
	}
	found, err := writer.Scan(r.opts.OutputDir, secondaryAccessionLabel(r.engine.Config()))
	if err != nil {
		return nil, err
	}
	for _, e := range found {
		idx.take(e.Accession)
		if e.ProjectUUID == "" {
			continue
		}
		if _, ok := idx.byProject[e.ProjectUUID]; !ok {
			idx.byProject[e.ProjectUUID] = e.Accession
		}
	}
	if len(found) > 0 {
		r.logger.Info("output directory indexed", zap.String("dir", r.opts.OutputDir),
			zap.Int("experiments", len(found)), zap.Int("projects", len(idx.byProject)))
	}
	return idx, nil
}

// secondaryAccessionLabel is the IDF line that names the project uuid.
func secondaryAccessionLabel(cfg *config.Config) string {
	for _, rule := range cfg.IDF {
		if rule.Kind == mapping.KindSecondaryAccessions.String() && rule.Label != "" {
			return rule.Label
		}
	}
	return writer.SecondaryAccessionLabel
}

func (r *Runner) worklist(ctx context.Context) ([]string, error) {
	if len(r.opts.Projects) > 0 {
		out := make([]string, 0, len(r.opts.Projects))
		for _, p := range r.opts.Projects {
			id, err := uuid.Parse(p)
			if err != nil {
				return nil, fmt.Errorf("invalid project uuid %q: %w", p, err)
			}
			out = append(out, id.String())
		}
		return out, nil
	}
	lister, ok := r.catalog.(source.ProjectLister)
	if !ok {
		return nil, errors.New("the catalog cannot list projects; name them explicitly")
	}
	projects, err := lister.Projects(ctx)
	if err != nil {
		return nil, err
	}
	r.logger.Info("worklist built", zap.Int("projects", len(projects)))
	return projects, nil
}

// parallel applies step to every pending experiment, at most opts.Parallel at
// a time. Without KeepGoing the first error cancels the remaining steps.
func (r *Runner) parallel(ctx context.Context, exps []*experiment, step func(context.Context, *experiment) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Parallel)
	for _, exp := range exps {
		if exp.outcome.Skipped != "" || exp.outcome.Err != nil {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := step(gctx, exp)
			if err == nil {
				return nil
			}
			exp.outcome.Err = err
			if r.opts.KeepGoing {
				r.logger.Warn("experiment failed, continuing",
					zap.String("project", exp.outcome.ProjectUUID), zap.Error(err))
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

func (r *Runner) load(ctx context.Context, exp *experiment, idx *outputIndex) error {
	project := exp.outcome.ProjectUUID
	if r.opts.NewOnly {
		if acc, ok := idx.byProject[project]; ok {
			exp.outcome.Skipped = "already imported"
			r.logger.Info("skipping project found in the output directory",
				zap.String("project", project), zap.String("accession", acc))
			return nil
		}
	}
	if r.opts.NewOnly && r.ledger != nil {
		imported, err := r.ledger.Imported(ctx, project)
		if err != nil {
			return err
		}
		if imported {
			exp.outcome.Skipped = "already imported"
			r.logger.Info("skipping imported project", zap.String("project", project))
			return nil
		}
	}

	cache := r.shared
	if cache == nil {
		cache = source.NewMemoryCache()
	}
	loader, err := source.NewLoader(r.engine.Config().Checks, r.catalog, cache,
		r.logger.With(zap.String("project", project)), source.WithMaxBundles(r.opts.MaxBundles))
	if err != nil {
		return err
	}
	bundles, err := loader.Load(ctx, project)
	if err != nil {
		return err
	}
	if len(bundles) == 0 {
		exp.outcome.Skipped = "no bundles"
		r.logger.Warn("project has no usable bundles", zap.String("project", project))
		return nil
	}
	exp.bundles = bundles
	exp.outcome.Bundles = len(bundles)
	return nil
}

// resolveAccession takes the accession named by the project document, else
// the one the ledger or an existing IDF holds for the project, else mints
// the next candidate not used on disk or in the ledger.
func (r *Runner) resolveAccession(ctx context.Context, exp *experiment, idx *outputIndex) error {
	cfg := r.engine.Config()
	project := exp.outcome.ProjectUUID

	var doc bundle.Document
	if docs := exp.bundles[0].Record.Documents(cfg.ProjectSchema); len(docs) > 0 {
		doc = docs[0]
	}
	acc := accession.FromProject(doc, cfg.Accession)
	if acc == "" && r.ledger != nil {
		found, ok, err := r.ledger.AccessionFor(ctx, project)
		if err != nil {
			return err
		}
		if ok {
			acc = found
		}
	}
	if acc == "" {
		acc = idx.byProject[project]
	}
	if acc == "" {
		var err error
		if r.ledger != nil {
			acc, err = r.ledger.Mint(ctx, project, idx.accessions...)
			if err != nil {
				return err
			}
		} else {
			acc = accession.NextCandidate(idx.accessions)
		}
		r.logger.Info("candidate accession minted", zap.String("project", project), zap.String("accession", acc))
	}
	idx.take(acc)
	exp.outcome.Accession = acc

	if r.opts.NewOnly && r.opts.OutputDir != "" {
		exists, err := writer.Exists(r.opts.OutputDir, acc)
		if err != nil {
			return err
		}
		if exists {
			exp.outcome.Skipped = "output exists"
			r.logger.Info("skipping experiment with existing output",
				zap.String("project", project), zap.String("accession", acc))
		}
	}
	return nil
}

func (r *Runner) translate(ctx context.Context, exp *experiment) error {
	o := &exp.outcome
	logger := r.logger.With(zap.String("project", o.ProjectUUID), zap.String("accession", o.Accession))

	res, err := r.engine.Translate(o.Accession, o.ProjectUUID, exp.bundles)
	if err != nil {
		logger.Error("translation failed", zap.Error(err))
		return err
	}
	o.Title = res.Title
	o.Warnings = res.Warnings
	for _, tech := range res.Technologies {
		if err := ctx.Err(); err != nil {
			return err
		}
		paths, err := writer.WriteTechnology(r.opts.OutputDir, tech)
		if err != nil {
			return err
		}
		o.Technologies = append(o.Technologies, tech.Technology)
		o.Files = append(o.Files, paths...)
		if r.ledger != nil {
			if err := r.ledger.Record(ctx, ledger.Entry{
				ProjectUUID: o.ProjectUUID,
				Accession:   o.Accession,
				Technology:  tech.Technology,
				Bundles:     res.Bundles,
				Title:       res.Title,
			}); err != nil {
				return err
			}
		}
		logger.Info("experiment written",
			zap.String("technology", tech.Technology), zap.Int("rows", len(tech.SDRF.Rows)), zap.Strings("files", paths))
	}
	return nil
}

func (r *Runner) report(exps []*experiment) *Report {
	rep := &Report{Outcomes: make([]Outcome, 0, len(exps))}
	for _, exp := range exps {
		o := exp.outcome
		rep.Outcomes = append(rep.Outcomes, o)
		if o.Err != nil || o.Skipped != "" {
			continue
		}
		for _, tech := range o.Technologies {
			rep.Imports = append(rep.Imports, notify.Import{
				Accession:  o.Accession,
				Technology: tech,
				Bundles:    o.Bundles,
				Title:      o.Title,
			})
		}
	}
	return rep
}
