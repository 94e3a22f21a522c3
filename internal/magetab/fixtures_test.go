// SPDX-License-Identifier: Apache-2.0

package magetab_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/gemaraproj/hca2mtab/internal/bundle"
	"github.com/gemaraproj/hca2mtab/internal/config"
	"github.com/gemaraproj/hca2mtab/internal/magetab"
)

var fixedClock = func() time.Time { return time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC) }

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	return cfg
}

// compactConfig keeps the built-in schema names and settings but replaces the
// rule lists with a short SDRF layout and a protocols-only IDF.
func compactConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := defaultConfig(t)
	cfg.SDRF = []config.RuleSpec{
		{Label: "Source Name", Path: []string{"cell_suspension", "biomaterial_core", "biomaterial_id"}},
		{Label: "Characteristics[organism]", Kind: "join", Path: []string{"donor_organism", "genus_species"}},
		{Label: "Characteristics[disease]", Kind: "join", Path: []string{"donor_organism", "diseases"}},
		{Label: "Material Type", Value: "RNA"},
		{Label: "Protocol REF", Kind: "protocol_ref", ProtocolType: "enrichment_protocol"},
		{Label: "Protocol REF", Kind: "protocol_ref", ProtocolType: "library_preparation_protocol"},
		{
			Label: "Comment[library construction]", Kind: "protocol_attribute", Technology: true,
			Path: []string{"library_preparation_protocol", "library_construction_approach", "text"},
		},
		{Label: "Comment[RUN]", Kind: "file", Path: []string{"file_core", "file_name"}, StripReadSuffix: true},
		{Label: "Comment[HCA bundle url]", Kind: "bundle_url"},
	}
	cfg.IDF = []config.RuleSpec{
		{Labels: []string{"Protocol Name", "Protocol Type", "Protocol Description"}, Kind: "protocols"},
		{Label: "Experimental Factor Name", Kind: "factor_names"},
		{Label: "SDRF File", Kind: "sdrf_file"},
	}
	return cfg
}

func newEngine(t *testing.T, cfg *config.Config) *magetab.Engine {
	t.Helper()
	return newEngineWithLogger(t, cfg, zaptest.NewLogger(t))
}

func newEngineWithLogger(t *testing.T, cfg *config.Config, logger *zap.Logger) *magetab.Engine {
	t.Helper()
	e, err := magetab.NewEngine(cfg, logger, magetab.WithClock(fixedClock))
	require.NoError(t, err)
	return e
}

type typedDoc struct {
	schema string
	doc    bundle.Document
}

type bundleSpec struct {
	url         string
	project     bundle.Document
	donors      []bundle.Document
	suspensions []bundle.Document
	files       []bundle.Document
	protocols   []typedDoc
}

func (s bundleSpec) build() bundle.Bundle {
	rec := bundle.NewRecord()
	if s.project != nil {
		rec.Add("project", s.project)
	}
	for _, d := range s.donors {
		rec.Add("donor_organism", d)
	}
	for _, d := range s.suspensions {
		rec.Add("cell_suspension", d)
	}
	for _, d := range s.files {
		rec.Add("sequence_file", d)
	}
	for _, p := range s.protocols {
		rec.Add(p.schema, p.doc)
	}
	return bundle.Bundle{URL: s.url, Record: rec}
}

// simpleBundle has one donor, one cell suspension, one sequence file and one
// library preparation protocol.
func simpleBundle(url, suspensionID, species, approach string) bundle.Bundle {
	return bundleSpec{
		url:         url,
		project:     projectDoc(),
		donors:      []bundle.Document{donorDoc("donor-1", species)},
		suspensions: []bundle.Document{suspensionDoc(suspensionID)},
		files:       []bundle.Document{fileDoc(suspensionID+"_S1_L001_R1_001.fastq.gz", "file-"+suspensionID)},
		protocols:   []typedDoc{libraryPrep("P1", approach)},
	}.build()
}

func projectDoc() bundle.Document {
	return bundle.Document{
		"describedBy": "https://schema.humancellatlas.org/type/project/14.0.0/project",
		"project_core": map[string]any{
			"project_title":       "Census of immune cells",
			"project_shortname":   "ImmuneCensus",
			"project_description": "Bone marrow and cord blood.",
		},
		"provenance": map[string]any{"submission_date": "2019-02-14T10:15:00.000Z", "document_id": "project-doc"},
		"contributors": []any{
			map[string]any{"contact_name": "Smith,John", "email": "js@example.org", "institution": "EBI", "address": "Hinxton"},
			map[string]any{"contact_name": "Doe,A.,Jane", "institution": "Sanger"},
		},
		"insdc_project_accessions": []any{"SRP000001"},
		"geo_series_accessions":    []any{"GSE0001", "SRP000001"},
	}
}

func donorDoc(id, species string) bundle.Document {
	return bundle.Document{
		"describedBy":       "https://schema.humancellatlas.org/type/biomaterial/15.3.0/donor_organism",
		"biomaterial_core":  map[string]any{"biomaterial_id": id},
		"genus_species":     []any{map[string]any{"text": species}},
		"sex":               "female",
		"organism_age":      "38",
		"organism_age_unit": map[string]any{"text": "year"},
	}
}

func suspensionDoc(id string) bundle.Document {
	return bundle.Document{
		"describedBy":      "https://schema.humancellatlas.org/type/biomaterial/13.1.0/cell_suspension",
		"biomaterial_core": map[string]any{"biomaterial_id": id},
	}
}

func fileDoc(name, uuid string) bundle.Document {
	return bundle.Document{
		"describedBy": "https://schema.humancellatlas.org/type/file/9.0.0/sequence_file",
		"file_core":   map[string]any{"file_name": name},
		"read_index":  "read1",
		"provenance":  map[string]any{"document_id": uuid},
	}
}

func libraryPrep(name, approach string) typedDoc {
	return typedDoc{schema: "library_preparation_protocol", doc: bundle.Document{
		"describedBy":                   "https://schema.humancellatlas.org/type/protocol/sequencing/4.4.0/library_preparation_protocol",
		"protocol_core":                 map[string]any{"protocol_id": name, "protocol_description": name + " description"},
		"protocol_type":                 map[string]any{"text": "library preparation"},
		"library_construction_approach": map[string]any{"text": approach},
	}}
}

func enrichment(name string) typedDoc {
	return typedDoc{schema: "enrichment_protocol", doc: bundle.Document{
		"describedBy":   "https://schema.humancellatlas.org/type/protocol/biomaterial_collection/2.1.0/enrichment_protocol",
		"protocol_core": map[string]any{"protocol_id": name},
		"protocol_type": map[string]any{"text": "enrichment"},
	}}
}

func indexOf(headers []string, label string) int {
	for i, h := range headers {
		if h == label {
			return i
		}
	}
	return -1
}

func count(headers []string, label string) int {
	n := 0
	for _, h := range headers {
		if h == label {
			n++
		}
	}
	return n
}

func idfLine(lines [][]string, label string) []string {
	for _, l := range lines {
		if len(l) > 0 && l[0] == label {
			return l
		}
	}
	return nil
}
