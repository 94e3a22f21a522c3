// SPDX-License-Identifier: Apache-2.0

// Package magetab translates the bundles of one experiment into MAGE-TAB
// tables: one SDRF sample table and one IDF investigation table per
// technology found in the experiment.
package magetab

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/gemaraproj/hca2mtab/internal/bundle"
	"github.com/gemaraproj/hca2mtab/internal/config"
	"github.com/gemaraproj/hca2mtab/internal/mapping"
	"github.com/gemaraproj/hca2mtab/internal/resolve"
)

// Engine holds the run-wide, read-only translation state. It is safe for
// concurrent use; each experiment gets its own Translator.
type Engine struct {
	cfg          *config.Config
	rules        *mapping.Set
	resolver     *resolve.Resolver
	protocols    *ProtocolAggregator
	technologies *technologyMatcher
	singleCell   *regexp.Regexp
	logger       *zap.Logger
	now          func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for the last-update date of the IDF.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine compiles the rules, migration table and patterns of cfg.
func NewEngine(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rules, err := mapping.Compile(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to compile mapping rules: %w", err)
	}
	migrations, err := resolve.NewMigrationTable(cfg.Migrations)
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	resolver := resolve.New(logger, migrations, resolve.Vocabulary(cfg.CVTranslate), cfg.SchemaVersionField)

	aggregator, err := NewProtocolAggregator(resolver, cfg.ProtocolTypes, cfg.ProtocolNamePath, cfg.ProtocolDescriptionPath, cfg.ProtocolTypePath)
	if err != nil {
		return nil, err
	}
	technologies, err := newTechnologyMatcher(cfg.Technologies)
	if err != nil {
		return nil, err
	}
	singleCell, err := regexp.Compile(cfg.SingleCellIdentifierPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid single_cell_identifier_pattern: %w", err)
	}

	e := &Engine{
		cfg:          cfg,
		rules:        rules,
		resolver:     resolver,
		protocols:    aggregator,
		technologies: technologies,
		singleCell:   singleCell,
		logger:       logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Translate runs a Translator over bundles.
func (e *Engine) Translate(accession, projectUUID string, bundles []bundle.Bundle) (*Result, error) {
	t := e.NewTranslator(accession, projectUUID)
	for _, b := range bundles {
		if err := t.AddBundle(b); err != nil {
			return nil, err
		}
	}
	return t.Finish()
}

// Table is a header with rows of the same width.
type Table struct {
	Header []string
	Rows   [][]string
}

// TechnologyResult is the MAGE-TAB output of one technology.
type TechnologyResult struct {
	Technology string
	SDRFFile   string
	IDFFile    string
	SDRF       Table
	// IDF lines start with their label.
	IDF       [][]string
	Factors   []Factor
	Protocols *TechnologyProtocols
}

// Result is the translation of one experiment.
type Result struct {
	Accession    string
	ProjectUUID  string
	Title        string
	Bundles      int
	Technologies []TechnologyResult
	Warnings     []string
}

// Translator partitions the rows of one experiment by technology. Bundles must
// be added in order; Finish is called once.
type Translator struct {
	engine      *Engine
	logger      *zap.Logger
	accession   string
	projectUUID string

	rows         *RowBuilder
	tracker      *CharacteristicTracker
	accumulators map[string]*Accumulator
	order        []string
	firstView    bundle.View
	bundles      int
	warnings     []string
	finished     bool
}

// NewTranslator starts the translation of one experiment.
func (e *Engine) NewTranslator(accession, projectUUID string) *Translator {
	tracker := NewCharacteristicTracker()
	return &Translator{
		engine:      e,
		logger:      e.logger.With(zap.String("accession", accession)),
		accession:   accession,
		projectUUID: projectUUID,
		rows: &RowBuilder{
			rules:        e.rules.SDRF,
			resolver:     e.resolver,
			tracker:      tracker,
			technologies: e.technologies,
			columnAfter:  e.cfg.ColumnAfter,
			sequenceType: e.cfg.SequenceFileSchema,
			notFound:     e.cfg.NotFound,
			curate:       e.cfg.Curate,
		},
		tracker:      tracker,
		accumulators: make(map[string]*Accumulator),
	}
}

// Technologies returns the technologies seen so far, in first-seen order.
func (t *Translator) Technologies() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Accumulator returns the accumulator of technology, or nil.
func (t *Translator) Accumulator(technology string) *Accumulator {
	return t.accumulators[technology]
}

// Tracker returns the experiment's characteristic tracker.
func (t *Translator) Tracker() *CharacteristicTracker {
	return t.tracker
}

func (t *Translator) warn(msg string, fields ...zap.Field) {
	t.logger.Warn(msg, fields...)
	t.warnings = append(t.warnings, msg)
}

// AddBundle builds one row per (donor, sequence file) pair of b and routes
// the rows to their technology. The returned error is a *TranslationError.
func (t *Translator) AddBundle(b bundle.Bundle) error {
	cfg := t.engine.cfg
	rec := b.Record
	if rec == nil {
		rec = bundle.NewRecord()
	}
	if t.bundles == 0 {
		t.firstView = bundle.FirstView(rec)
	}
	t.bundles++

	c := resolve.Context{Accession: t.accession, Bundle: b.URL}
	protocols := t.engine.protocols.Collect(rec, c)

	donors := rec.Documents(cfg.DonorSchema)
	suspensions := rec.Documents(cfg.CellSuspensionSchema)
	if len(suspensions) != len(donors) && len(suspensions) != 1 {
		err := newError(CardinalityMismatch, t.accession, b.URL,
			"%d %s and %d %s documents cannot be paired", len(donors), cfg.DonorSchema, len(suspensions), cfg.CellSuspensionSchema)
		t.logger.Error("translation failed", zap.Error(err))
		return err
	}

	strict := len(t.order) == 0
	base := bundle.FirstView(rec)
	var technologies []string
	for i, donor := range donors {
		view := make(bundle.View, len(base))
		for k, v := range base {
			view[k] = v
		}
		view[cfg.DonorSchema] = donor
		if len(suspensions) > 1 {
			view[cfg.CellSuspensionSchema] = suspensions[i]
		} else {
			view[cfg.CellSuspensionSchema] = suspensions[0]
		}

		for _, file := range rec.Documents(cfg.SequenceFileSchema) {
			row := t.rows.build(rowInput{
				accession:    t.accession,
				bundleURL:    b.URL,
				record:       rec,
				view:         view,
				sequenceFile: file,
				protocols:    protocols,
				strict:       strict,
			})
			if row.Technology == "" {
				err := newError(UnresolvedTechnology, t.accession, b.URL,
					"failed to derive a technology from value %q", row.TechnologyValue)
				t.logger.Error("translation failed", zap.Error(err))
				return err
			}
			if err := t.route(row, b.URL); err != nil {
				return err
			}
			technologies = appendUnique(technologies, row.Technology)
		}
	}

	if len(technologies) == 0 {
		t.warn("bundle produced no rows", zap.String("bundle", b.URL))
		return nil
	}
	for _, tech := range technologies {
		t.accumulators[tech].protocols.Merge(protocols)
	}
	return nil
}

func (t *Translator) route(row *Row, bundleURL string) error {
	acc, ok := t.accumulators[row.Technology]
	if !ok {
		acc = newAccumulator(row)
		t.accumulators[row.Technology] = acc
		t.order = append(t.order, row.Technology)
		t.logger.Debug("new technology", zap.String("technology", row.Technology), zap.Int("columns", len(row.Headers)))
	}
	mismatched, ok := acc.add(row)
	if !ok {
		err := newError(ColumnLayout, t.accession, bundleURL,
			"row has %d cells but the %s header has %d", len(row.Cells), row.Technology, len(acc.headers))
		t.logger.Error("translation failed", zap.Error(err))
		return err
	}
	for _, i := range mismatched {
		t.warn("row label differs from header",
			zap.String("bundle", bundleURL),
			zap.Int("column", i),
			zap.String("header", acc.headers[i]),
			zap.String("label", row.Headers[i]),
		)
	}
	return nil
}

// Finish derives factors, prunes empty columns and expands protocol columns
// for every technology, then builds the IDF tables.
func (t *Translator) Finish() (*Result, error) {
	if t.finished {
		return nil, fmt.Errorf("translation of %s already finished", t.accession)
	}
	t.finished = true

	res := &Result{
		Accession:   t.accession,
		ProjectUUID: t.projectUUID,
		Bundles:     t.bundles,
	}
	multi := len(t.order) > 1
	for _, tech := range t.order {
		out, err := t.finishTechnology(t.accumulators[tech], multi)
		if err != nil {
			var te *TranslationError
			if errors.As(err, &te) && te.Accession == "" {
				te.Accession = t.accession
			}
			t.logger.Error("translation failed", zap.String("technology", tech), zap.Error(err))
			return nil, err
		}
		lines, title, err := t.engine.buildIDF(idfInput{
			accession:   t.accession,
			projectUUID: t.projectUUID,
			view:        t.firstView,
			protocols:   out.Protocols,
			factors:     out.Factors,
			sdrfFile:    out.SDRFFile,
		}, t.logger)
		if err != nil {
			t.logger.Error("translation failed", zap.String("technology", tech), zap.Error(err))
			return nil, err
		}
		out.IDF = lines
		if res.Title == "" {
			res.Title = title
		}
		res.Technologies = append(res.Technologies, *out)
	}
	res.Warnings = t.warnings
	return res, nil
}

func (t *Translator) finishTechnology(acc *Accumulator, multi bool) (*TechnologyResult, error) {
	factors, err := deriveFactors(acc.headers, t.tracker, acc.Technology, t.engine.singleCell)
	if err != nil {
		return nil, err
	}

	drop := make(map[int]struct{})
	for _, i := range acc.EmptyColumns() {
		drop[i] = struct{}{}
	}

	headers := acc.Headers()
	for _, f := range factors {
		headers = append(headers, f.Label)
	}
	headers = prune(headers, drop)

	plan := NewExpansionPlan(len(headers), pruneColumns(acc.protocolColumns, drop), acc.protocols.MaxCounts())
	expanded, err := plan.Headers(headers)
	if err != nil {
		return nil, newError(ColumnLayout, t.accession, "", "%v", err)
	}

	rows := make([][]string, 0, len(acc.rows))
	for _, cells := range acc.rows {
		row := make([]string, len(cells), len(cells)+len(factors))
		copy(row, cells)
		for _, f := range factors {
			row = append(row, cells[f.Source])
		}
		out, err := plan.Row(prune(row, drop))
		if err != nil {
			return nil, newError(ColumnLayout, t.accession, "", "%v", err)
		}
		rows = append(rows, out)
	}

	return &TechnologyResult{
		Technology: acc.Technology,
		SDRFFile:   SDRFFileName(t.accession, acc.Technology, multi),
		IDFFile:    IDFFileName(t.accession, acc.Technology, multi),
		SDRF:       Table{Header: expanded, Rows: rows},
		Factors:    factors,
		Protocols:  acc.protocols,
	}, nil
}

// SDRFFileName names the SDRF file of technology; multi-technology
// experiments get the technology appended.
func SDRFFileName(accession, technology string, multi bool) string {
	return fileName(accession, "sdrf", technology, multi)
}

// IDFFileName names the IDF file of technology.
func IDFFileName(accession, technology string, multi bool) string {
	return fileName(accession, "idf", technology, multi)
}

func fileName(accession, kind, technology string, multi bool) string {
	name := accession + "." + kind + ".txt"
	if multi {
		name += "." + technology
	}
	return name
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
