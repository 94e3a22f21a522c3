// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/gemaraproj/hca2mtab/internal/config"
	"github.com/gemaraproj/hca2mtab/internal/ledger"
	"github.com/gemaraproj/hca2mtab/internal/magetab"
	"github.com/gemaraproj/hca2mtab/internal/notify"
	"github.com/gemaraproj/hca2mtab/internal/source"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

const (
	projectA = "0c3b7785-f74d-4091-8616-a68757e4c2a8"
	projectB = "2a2fc2d8-6d83-4bb4-a393-7f1e2bd7bc28"
)

type fakeNotifier struct {
	mu       sync.Mutex
	imports  [][]notify.Import
	failures []error
	// failureCtxErrs holds the context error seen by each failure report.
	failureCtxErrs []error
}

func (f *fakeNotifier) ReportImports(_ context.Context, imports []notify.Import) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imports = append(f.imports, imports)
	return nil
}

func (f *fakeNotifier) ReportFailure(ctx context.Context, _ string, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, cause)
	f.failureCtxErrs = append(f.failureCtxErrs, ctx.Err())
	return nil
}

type catalogDir struct {
	t    *testing.T
	root string
}

func (c catalogDir) write(path string, v any) {
	c.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(c.t, err)
	full := filepath.Join(c.root, path)
	require.NoError(c.t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(c.t, os.WriteFile(full, data, 0o644))
}

// bundle writes one bundle of project with the given documents per schema type.
func (c catalogDir) bundle(project, name string, docs map[string][]map[string]any) {
	c.t.Helper()
	var files []source.FileRef
	for _, schema := range []string{"project", "donor_organism", "cell_suspension", "sequence_file", "library_preparation_protocol"} {
		for i, doc := range docs[schema] {
			id := fmt.Sprintf("%s-%s-%s-%d", project[:8], name, schema, i)
			c.write(filepath.Join("files", id+".json"), doc)
			files = append(files, source.FileRef{UUID: id, Name: fmt.Sprintf("%s_%d.json", schema, i)})
		}
	}
	c.write(filepath.Join("bundles", project, name+".json"), source.BundleRef{URL: "https://dss/bundles/" + name, Files: files})
}

func projectDoc(title string, extra map[string]any) map[string]any {
	doc := map[string]any{
		"describedBy":  "https://schema.humancellatlas.org/type/project/14.0.0/project",
		"project_core": map[string]any{"project_title": title},
	}
	for k, v := range extra {
		doc[k] = v
	}
	return doc
}

func donor(id string) map[string]any {
	return map[string]any{
		"describedBy":      "https://schema.humancellatlas.org/type/biomaterial/15.3.0/donor_organism",
		"biomaterial_core": map[string]any{"biomaterial_id": id},
		"genus_species":    []any{map[string]any{"text": "Homo sapiens"}},
	}
}

func suspension(id string) map[string]any {
	return map[string]any{
		"describedBy":      "https://schema.humancellatlas.org/type/biomaterial/13.1.0/cell_suspension",
		"biomaterial_core": map[string]any{"biomaterial_id": id},
	}
}

func sequenceFile(name string) map[string]any {
	return map[string]any{
		"describedBy": "https://schema.humancellatlas.org/type/file/9.0.0/sequence_file",
		"file_core":   map[string]any{"file_name": name},
	}
}

func libraryPrep() map[string]any {
	return map[string]any{
		"describedBy":                   "https://schema.humancellatlas.org/type/protocol/sequencing/4.4.0/library_preparation_protocol",
		"protocol_core":                 map[string]any{"protocol_id": "P1"},
		"library_construction_approach": map[string]any{"text": "10x v2 sequencing"},
	}
}

func goodBundle(id string, project map[string]any) map[string][]map[string]any {
	return map[string][]map[string]any{
		"project":                      {project},
		"donor_organism":               {donor("d-" + id)},
		"cell_suspension":              {suspension("cs-" + id)},
		"sequence_file":                {sequenceFile("cs-" + id + "_S1_L001_R1_001.fastq.gz")},
		"library_preparation_protocol": {libraryPrep()},
	}
}

type harness struct {
	catalog  *source.DirCatalog
	engine   *magetab.Engine
	ledger   *ledger.Ledger
	notifier *fakeNotifier
	out      string
}

// newHarness builds a catalog where projectA names its archive accession and
// projectB names none; badB replaces projectB's bundle with an unpairable one.
func newHarness(t *testing.T, badB bool) *harness {
	t.Helper()
	dir := catalogDir{t: t, root: t.TempDir()}
	dir.bundle(projectA, "a1", goodBundle("a1", projectDoc("Project A", map[string]any{"array_express_investigation": "E-MTAB-1"})))
	dir.bundle(projectA, "a2", goodBundle("a2", projectDoc("Project A", map[string]any{"array_express_investigation": "E-MTAB-1"})))
	b := goodBundle("b1", projectDoc("Project B", nil))
	if badB {
		b["donor_organism"] = []map[string]any{donor("d1"), donor("d2")}
		b["cell_suspension"] = []map[string]any{suspension("c1"), suspension("c2"), suspension("c3")}
	}
	dir.bundle(projectB, "b1", b)

	cfg, err := config.Default()
	require.NoError(t, err)
	engine, err := magetab.NewEngine(cfg, zaptest.NewLogger(t),
		magetab.WithClock(func() time.Time { return time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC) }))
	require.NoError(t, err)

	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	return &harness{
		catalog:  source.NewDirCatalog(dir.root),
		engine:   engine,
		ledger:   l,
		notifier: &fakeNotifier{},
		out:      filepath.Join(t.TempDir(), "out"),
	}
}

func (h *harness) runner(t *testing.T, opts Options) *Runner {
	opts.OutputDir = h.out
	return New(h.engine, h.catalog, nil, h.ledger, h.notifier, zaptest.NewLogger(t), opts)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRun_ImportsEveryProject(t *testing.T) {
	h := newHarness(t, false)
	report, err := h.runner(t, Options{Projects: []string{projectA, projectB}, Parallel: 2}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 2)
	a, b := report.Outcomes[0], report.Outcomes[1]
	assert.Equal(t, "E-MTAB-1", a.Accession)
	assert.Equal(t, "Project A", a.Title)
	assert.Equal(t, 2, a.Bundles)
	assert.Equal(t, []string{"10xv2"}, a.Technologies)
	assert.Equal(t, "E-CAND-1", b.Accession, "accession minted for a project the archive does not know")
	assert.Empty(t, report.Failed())

	for _, name := range []string{"E-MTAB-1.sdrf.txt", "E-MTAB-1.idf.txt", "E-CAND-1.sdrf.txt", "E-CAND-1.idf.txt"} {
		assert.FileExists(t, filepath.Join(h.out, name))
	}

	entries, err := h.ledger.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "E-CAND-1", entries[0].Accession)
	assert.Equal(t, "E-MTAB-1", entries[1].Accession)
	assert.Equal(t, 2, entries[1].Bundles)

	require.Len(t, h.notifier.imports, 1)
	assert.Equal(t, []notify.Import{
		{Accession: "E-MTAB-1", Technology: "10xv2", Bundles: 2, Title: "Project A"},
		{Accession: "E-CAND-1", Technology: "10xv2", Bundles: 1, Title: "Project B"},
	}, h.notifier.imports[0])
	assert.Empty(t, h.notifier.failures)
}

func TestRun_NewOnlySkipsImported(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	_, err := h.runner(t, Options{Projects: []string{projectA}}).Run(ctx)
	require.NoError(t, err)

	report, err := h.runner(t, Options{Projects: []string{projectA, projectB}, NewOnly: true}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, "already imported", report.Outcomes[0].Skipped)
	assert.Empty(t, report.Outcomes[1].Skipped)
	require.Len(t, report.Imports, 1)
	assert.Equal(t, "E-CAND-1", report.Imports[0].Accession)
}

func TestRun_NewOnlySkipsExistingOutput(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, os.MkdirAll(h.out, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(h.out, "E-MTAB-1.idf.txt.smart-seq2"), nil, 0o644))

	report, err := h.runner(t, Options{Projects: []string{projectA}, NewOnly: true}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "output exists", report.Outcomes[0].Skipped)
	assert.Empty(t, report.Imports)
}

func TestRun_AbortsOnFirstFailure(t *testing.T) {
	h := newHarness(t, true)
	report, err := h.runner(t, Options{Projects: []string{projectA, projectB}}).Run(context.Background())
	require.Error(t, err)

	var te *magetab.TranslationError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, magetab.CardinalityMismatch, te.Kind)
	require.Len(t, report.Failed(), 1)
	assert.Equal(t, projectB, report.Failed()[0].ProjectUUID)

	require.Len(t, h.notifier.failures, 1)
	assert.Empty(t, h.notifier.imports, "no import report after an aborted batch")
}

func TestRun_KeepGoing(t *testing.T) {
	h := newHarness(t, true)
	report, err := h.runner(t, Options{Projects: []string{projectB, projectA}, KeepGoing: true, Parallel: 2}).Run(context.Background())
	require.NoError(t, err)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, projectB, failed[0].ProjectUUID)
	assert.True(t, magetab.IsTranslationError(failed[0].Err))

	require.Len(t, report.Imports, 1)
	assert.Equal(t, "E-MTAB-1", report.Imports[0].Accession)
	assert.Empty(t, h.notifier.failures)
	require.Len(t, h.notifier.imports, 1)
}

func TestRun_ListsCatalogProjects(t *testing.T) {
	h := newHarness(t, false)
	report, err := h.runner(t, Options{}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, projectA, report.Outcomes[0].ProjectUUID)
	assert.Equal(t, projectB, report.Outcomes[1].ProjectUUID)
}

func TestRun_MaxBundles(t *testing.T) {
	h := newHarness(t, false)
	report, err := h.runner(t, Options{Projects: []string{projectA}, MaxBundles: 1}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Outcomes[0].Bundles)
}

func TestRun_InvalidProjectUUID(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.runner(t, Options{Projects: []string{"not-a-uuid"}}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-a-uuid")
	assert.Len(t, h.notifier.failures, 1)
}

func writeIDF(t *testing.T, dir, name, project string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	content := "Investigation Title\tEarlier experiment\nComment[SecondaryAccession]\tSRP000001\t" + project + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return content
}

func TestRun_MintSkipsCandidatesOnDisk(t *testing.T) {
	h := newHarness(t, false)
	other := writeIDF(t, h.out, "E-CAND-1.idf.txt", "ffffffff-0000-4000-8000-000000000000")
	writeIDF(t, h.out, "E-CAND-3.idf.txt.smart-seq2", "eeeeeeee-0000-4000-8000-000000000000")

	report, err := h.runner(t, Options{Projects: []string{projectB}}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "E-CAND-4", report.Outcomes[0].Accession, "numbers used by files the ledger never recorded are skipped")

	data, err := os.ReadFile(filepath.Join(h.out, "E-CAND-1.idf.txt"))
	require.NoError(t, err)
	assert.Equal(t, other, string(data), "another experiment's IDF is left alone")
	assert.FileExists(t, filepath.Join(h.out, "E-CAND-4.idf.txt"))
}

func TestRun_ReusesAccessionOfExistingIDF(t *testing.T) {
	h := newHarness(t, false)
	writeIDF(t, h.out, "E-CAND-7.idf.txt", projectB)

	report, err := h.runner(t, Options{Projects: []string{projectB}}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "E-CAND-7", report.Outcomes[0].Accession)

	acc, ok, err := h.ledger.AccessionFor(context.Background(), projectB)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "E-CAND-7", acc)

	report, err = h.runner(t, Options{Projects: []string{projectB}, NewOnly: true}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "already imported", report.Outcomes[0].Skipped)
}

func TestRun_NewOnlySkipsProjectsOnDisk(t *testing.T) {
	h := newHarness(t, false)
	writeIDF(t, h.out, "E-CAND-2.idf.txt", projectB)

	report, err := h.runner(t, Options{Projects: []string{projectA, projectB}, NewOnly: true}).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Outcomes[0].Skipped)
	assert.Equal(t, "already imported", report.Outcomes[1].Skipped)
	require.Len(t, report.Imports, 1)
	assert.Equal(t, "E-MTAB-1", report.Imports[0].Accession)
}

func TestRun_FailureReportSurvivesCancellation(t *testing.T) {
	h := newHarness(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.runner(t, Options{Projects: []string{projectA}}).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, h.notifier.failures, 1)
	assert.NoError(t, h.notifier.failureCtxErrs[0], "the failure report gets a live context")
}
