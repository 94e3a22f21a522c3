// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "NOTFOUND", cfg.NotFound)
	assert.Equal(t, "**CURATE**", cfg.Curate)
	assert.Len(t, cfg.ProtocolTypes, 5)
	assert.Equal(t, "library_preparation_protocol", cfg.ProtocolTypes[3])
	require.NotEmpty(t, cfg.SDRF)
	assert.Equal(t, "Source Name", cfg.SDRF[0].Label)
	assert.Equal(t, "Comment[HCA bundle url]", cfg.SDRF[len(cfg.SDRF)-1].Label)
	require.NotEmpty(t, cfg.IDF)
	assert.Equal(t, "MAGE-TAB Version", cfg.IDF[0].Label)
	assert.Len(t, cfg.Migrations, 3)
	assert.Equal(t, "dir", cfg.Source.Kind)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, []int{9606, 10090}, cfg.Source.Discovery.TaxonIDs)
	assert.Equal(t, []DiscoveryTechnology{
		{Name: "smart-seq2", Ontology: "EFO:0008931"},
		{Name: "10xv2", Ontology: "EFO:0009310"},
	}, cfg.Source.Discovery.Technologies)

	timeout, err := cfg.SourceTimeout()
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, timeout)
}

func TestLoad_EmptyPathIsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "project", cfg.ProjectSchema)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_RelativeMigrationsFile(t *testing.T) {
	dir := t.TempDir()
	extra := `{"migrations": [{"source_schema": "cell_suspension", "property": "total_estimated_cells", "effective_from": "13.0.0", "target_schema": "cell_suspension", "replaced_by": "estimated_cell_count"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "migrations.json"), []byte(extra), 0o600))

	data := append(append([]byte{}, defaultConfig...), []byte("\nmigrations_file: \"migrations.json\"\n")...)
	path := filepath.Join(dir, "hca2mtab.yml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Migrations, 4)
	assert.Equal(t, "estimated_cell_count", cfg.Migrations[3].ReplacedBy)
}

// ---------------------------------------------------------------------------
// Schema validation
// ---------------------------------------------------------------------------

func TestValidateSchema(t *testing.T) {
	tests := []struct {
		name    string
		extra   string
		wantErr bool
	}{
		{
			name:    "built-in config is valid",
			extra:   "",
			wantErr: false,
		},
		{
			name:    "unknown top-level key is rejected",
			extra:   "\nbogus_key: 1\n",
			wantErr: true,
		},
		{
			name:    "unknown rule kind is rejected",
			extra:   "  - label: \"Comment[extra]\"\n    kind: \"lookup\"\n",
			wantErr: true,
		},
		{
			name:    "unknown rule key is rejected",
			extra:   "  - label: \"Comment[extra]\"\n    column: 3\n",
			wantErr: true,
		},
		{
			name:    "ledger block is accepted",
			extra:   "\nledger:\n  path: \"ledger.db\"\n",
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := append(append([]byte{}, defaultConfig...), []byte(tt.extra)...)
			err := ValidateSchema(data)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid config")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestValidateSchema_MissingRequiredField(t *testing.T) {
	err := ValidateSchema([]byte("notfound: \"NOTFOUND\"\ncurate: \"**CURATE**\"\n"))
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Semantic validation
// ---------------------------------------------------------------------------

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		errContains string
	}{
		{
			name:        "sentinels must differ",
			mutate:      func(c *Config) { c.Curate = c.NotFound },
			errContains: "must differ",
		},
		{
			name:        "duplicate technology",
			mutate:      func(c *Config) { c.Technologies = append(c.Technologies, c.Technologies[0]) },
			errContains: "duplicate technology",
		},
		{
			name: "technology without synonyms",
			mutate: func(c *Config) {
				c.Technologies = append(c.Technologies, Technology{Name: "seq-well"})
			},
			errContains: "has no synonyms",
		},
		{
			name:        "invalid synonym pattern",
			mutate:      func(c *Config) { c.Technologies[0].Synonyms = []string{"smart("} },
			errContains: "invalid synonym pattern",
		},
		{
			name:        "invalid analysis pattern",
			mutate:      func(c *Config) { c.Checks.AnalysisFilePattern = "[" },
			errContains: "bundle_checks.analysis_file_pattern",
		},
		{
			name:        "incomplete migration",
			mutate:      func(c *Config) { c.Migrations = append(c.Migrations, Migration{SourceSchema: "project"}) },
			errContains: "incomplete migration",
		},
		{
			name:        "unsupported source kind",
			mutate:      func(c *Config) { c.Source.Kind = "ftp" },
			errContains: "unsupported source kind",
		},
		{
			name: "discovery of unknown technology",
			mutate: func(c *Config) {
				c.Source.Discovery.Technologies = append(c.Source.Discovery.Technologies, DiscoveryTechnology{Name: "seq-well", Ontology: "EFO:0008919"})
			},
			errContains: "unknown technology",
		},
		{
			name:        "discovery technology without ontology",
			mutate:      func(c *Config) { c.Source.Discovery.Technologies[0].Ontology = "" },
			errContains: "no ontology term",
		},
		{
			name:        "invalid test title pattern",
			mutate:      func(c *Config) { c.Source.Discovery.TestTitlePattern = "Test (" },
			errContains: "test_title_pattern",
		},
		{
			name:        "unsupported cache backend",
			mutate:      func(c *Config) { c.Cache.Backend = "memcached" },
			errContains: "unsupported cache backend",
		},
		{
			name:        "invalid ttl",
			mutate:      func(c *Config) { c.Cache.TTL = "forever" },
			errContains: "cache.ttl",
		},
		{
			name:        "missing donor schema",
			mutate:      func(c *Config) { c.DonorSchema = "" },
			errContains: "donor_schema is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Default()
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestCacheTTL(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	ttl, err := cfg.CacheTTL()
	require.NoError(t, err)
	assert.Zero(t, ttl)

	cfg.Cache.TTL = "12h"
	ttl, err = cfg.CacheTTL()
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, ttl)
}
