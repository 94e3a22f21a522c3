// SPDX-License-Identifier: Apache-2.0

package mapping_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemaraproj/hca2mtab/internal/config"
	"github.com/gemaraproj/hca2mtab/internal/mapping"
)

func TestCompile_Default(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)

	set, err := mapping.Compile(cfg)
	require.NoError(t, err)
	require.Len(t, set.SDRF, len(cfg.SDRF))
	require.Len(t, set.IDF, len(cfg.IDF))

	assert.Equal(t, mapping.KindPath, set.SDRF[0].Kind)
	assert.Equal(t, mapping.KindLiteral, set.IDF[0].Kind)
	assert.Equal(t, "1.1", set.IDF[0].Value)

	var technology []mapping.Rule
	for _, r := range set.SDRF {
		if r.Technology {
			technology = append(technology, r)
		}
		if r.Kind == mapping.KindScan {
			assert.NotNil(t, r.Schema, "scan rule %s must carry a compiled schema pattern", r.Label)
		}
		if r.Kind == mapping.KindJoin {
			assert.Equal(t, "text", r.JoinField)
		}
	}
	require.Len(t, technology, 1)
	assert.Equal(t, "Comment[library construction]", technology[0].Label)
}

func TestCompileRules(t *testing.T) {
	tests := []struct {
		name        string
		section     mapping.Section
		spec        config.RuleSpec
		wantKind    mapping.Kind
		errContains string
	}{
		{
			name:     "value only is literal",
			section:  mapping.SectionSDRF,
			spec:     config.RuleSpec{Label: "Material Type", Value: "RNA"},
			wantKind: mapping.KindLiteral,
		},
		{
			name:     "path only is a direct path",
			section:  mapping.SectionSDRF,
			spec:     config.RuleSpec{Label: "Source Name", Path: []string{"cell_suspension", "biomaterial_core", "biomaterial_id"}},
			wantKind: mapping.KindPath,
		},
		{
			name:        "value and path are ambiguous",
			section:     mapping.SectionSDRF,
			spec:        config.RuleSpec{Label: "Source Name", Value: "x", Path: []string{"cell_suspension"}},
			errContains: "both value and path",
		},
		{
			name:        "unknown kind",
			section:     mapping.SectionSDRF,
			spec:        config.RuleSpec{Label: "x", Kind: "lookup"},
			errContains: "unknown rule kind",
		},
		{
			name:        "block kind not allowed in sdrf",
			section:     mapping.SectionSDRF,
			spec:        config.RuleSpec{Labels: []string{"Protocol Name"}, Kind: "protocols"},
			errContains: "not allowed in sdrf",
		},
		{
			name:        "file kind not allowed in idf",
			section:     mapping.SectionIDF,
			spec:        config.RuleSpec{Label: "Scan Name", Kind: "file", Path: []string{"file_core", "file_name"}},
			errContains: "not allowed in idf",
		},
		{
			name:        "scan requires schema",
			section:     mapping.SectionSDRF,
			spec:        config.RuleSpec{Label: "Characteristics[genotype]", Kind: "scan", Path: []string{"genotype"}},
			errContains: "requires schema and path",
		},
		{
			name:        "scan pattern must compile",
			section:     mapping.SectionSDRF,
			spec:        config.RuleSpec{Label: "Characteristics[genotype]", Kind: "scan", Schema: "donor(", Path: []string{"genotype"}},
			errContains: "invalid schema pattern",
		},
		{
			name:        "protocol attribute needs schema and property",
			section:     mapping.SectionSDRF,
			spec:        config.RuleSpec{Label: "Comment[primer]", Kind: "protocol_attribute", Path: []string{"library_preparation_protocol"}},
			errContains: "must name a protocol schema",
		},
		{
			name:        "technology flag only on protocol attributes",
			section:     mapping.SectionSDRF,
			spec:        config.RuleSpec{Label: "Comment[primer]", Path: []string{"library_preparation_protocol", "primer"}, Technology: true},
			errContains: "can be marked technology",
		},
		{
			name:        "block requires labels",
			section:     mapping.SectionIDF,
			spec:        config.RuleSpec{Label: "Protocol Name", Kind: "protocols"},
			errContains: "requires labels",
		},
		{
			name:        "missing label",
			section:     mapping.SectionIDF,
			spec:        config.RuleSpec{Value: "1.1"},
			errContains: "label is required",
		},
		{
			name:     "values list",
			section:  mapping.SectionIDF,
			spec:     config.RuleSpec{Label: "Term Source Name", Values: []string{"EFO"}},
			wantKind: mapping.KindValues,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := mapping.CompileRules(tt.section, []config.RuleSpec{tt.spec})
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			require.Len(t, rules, 1)
			assert.Equal(t, tt.wantKind, rules[0].Kind)
		})
	}
}

func TestCompile_UnknownProtocolType(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.SDRF = append(cfg.SDRF, config.RuleSpec{Label: "Protocol REF", Kind: "protocol_ref", ProtocolType: "imaging_protocol"})

	_, err = mapping.Compile(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "imaging_protocol")
}

func TestCompile_SingleTechnologyRule(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.SDRF = append(cfg.SDRF, config.RuleSpec{
		Label: "Comment[library construction]", Kind: "protocol_attribute", Technology: true,
		Path: []string{"library_preparation_protocol", "library_construction_method", "text"},
	})

	_, err = mapping.Compile(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at most one")
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "protocol_attribute", mapping.KindProtocolAttribute.String())
	k, err := mapping.ParseKind("publications")
	require.NoError(t, err)
	assert.Equal(t, mapping.KindPublications, k)
	assert.True(t, k.IsBlock())
	assert.False(t, mapping.KindPath.IsBlock())
}
