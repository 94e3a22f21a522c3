// SPDX-License-Identifier: Apache-2.0

// Package config loads the translation configuration: sentinel tokens, schema
// names, vocabulary tables, the two ordered mapping rule lists and the settings
// of the I/O collaborators around the engine.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/goccy/go-yaml"
)

//go:embed default.yml
var defaultConfig []byte

// Config is the top-level hca2mtab configuration document.
type Config struct {
	NotFound           string `yaml:"notfound"`
	Curate             string `yaml:"curate"`
	SchemaVersionField string `yaml:"schema_version_field"`

	DonorSchema          string `yaml:"donor_schema"`
	CellSuspensionSchema string `yaml:"cell_suspension_schema"`
	SequenceFileSchema   string `yaml:"sequence_file_schema"`
	ProjectSchema        string `yaml:"project_schema"`

	// ProtocolTypes is ordered; it fixes the order of protocol blocks in the IDF.
	ProtocolTypes           []string `yaml:"protocol_types"`
	ProtocolNamePath        []string `yaml:"protocol_name_path"`
	ProtocolDescriptionPath []string `yaml:"protocol_description_path"`
	ProtocolTypePath        []string `yaml:"protocol_type_path"`

	Technologies                []Technology `yaml:"technologies"`
	SingleCellIdentifierPattern string       `yaml:"single_cell_identifier_pattern"`

	// CVTranslate maps an output label to a value -> replacement table. The
	// "default" key, when present, replaces every value without an explicit entry.
	CVTranslate map[string]map[string]string `yaml:"cv_translate"`
	// ColumnAfter maps a label to the labels allowed immediately before it.
	ColumnAfter map[string][]string `yaml:"sdrf_column_after"`

	Accession                AccessionLabels  `yaml:"accession"`
	SecondaryAccessionLabels []string         `yaml:"secondary_accession_labels"`
	Publication              PublicationPaths `yaml:"publication"`
	Contact                  ContactFields    `yaml:"contact"`
	Checks                   BundleChecks     `yaml:"bundle_checks"`
	TestMaxBundles           int              `yaml:"test_max_bundles"`

	Migrations     []Migration `yaml:"migrations"`
	MigrationsFile string      `yaml:"migrations_file"`

	Source SourceConfig `yaml:"source"`
	Cache  CacheConfig  `yaml:"cache"`
	Ledger LedgerConfig `yaml:"ledger"`
	Notify NotifyConfig `yaml:"notify"`

	IDF  []RuleSpec `yaml:"idf"`
	SDRF []RuleSpec `yaml:"sdrf"`
}

// Technology maps an output technology name to the patterns that identify it.
type Technology struct {
	Name     string   `yaml:"name"`
	Synonyms []string `yaml:"synonyms"`
}

// RuleSpec is one raw mapping entry as written in the configuration file.
// mapping.Compile turns it into a typed rule.
type RuleSpec struct {
	Label           string   `yaml:"label"`
	Labels          []string `yaml:"labels"`
	Kind            string   `yaml:"kind"`
	Value           string   `yaml:"value"`
	Values          []string `yaml:"values"`
	Path            []string `yaml:"path"`
	Schema          string   `yaml:"schema"`
	ProtocolType    string   `yaml:"protocol_type"`
	Technology      bool     `yaml:"technology"`
	JoinField       string   `yaml:"join_field"`
	StripReadSuffix bool     `yaml:"strip_read_suffix"`
}

// Migration records a historical relocation of a schema property.
type Migration struct {
	SourceSchema  string `yaml:"source_schema" json:"source_schema"`
	Property      string `yaml:"property" json:"property"`
	EffectiveFrom string `yaml:"effective_from" json:"effective_from"`
	TargetSchema  string `yaml:"target_schema" json:"target_schema"`
	ReplacedBy    string `yaml:"replaced_by" json:"replaced_by"`
}

// AccessionLabels names the project fields that carry existing accessions.
type AccessionLabels struct {
	OldLabel           string `yaml:"old_label"`
	NewLabel           string `yaml:"new_label"`
	SupplementaryLinks string `yaml:"supplementary_links_label"`
	Placeholder        string `yaml:"placeholder"`
}

// PublicationPaths are resolved against each element of the publication list.
type PublicationPaths struct {
	TitlePath   []string `yaml:"title_path"`
	AuthorsPath []string `yaml:"authors_path"`
	PMIDPath    []string `yaml:"pmid_path"`
	DOIPath     []string `yaml:"doi_path"`
}

// ContactFields name the keys of each contributor object.
type ContactFields struct {
	Name        string `yaml:"name"`
	Email       string `yaml:"email"`
	Institution string `yaml:"institution"`
	Address     string `yaml:"address"`
}

// BundleChecks configure the assumptions the record source enforces per bundle.
type BundleChecks struct {
	AnalysisFilePattern   string   `yaml:"analysis_file_pattern"`
	CacheExcludePattern   string   `yaml:"cache_exclude_pattern"`
	RequiredSchemaTypes   []string `yaml:"required_schema_types"`
	SingleDocumentSchemas []string `yaml:"single_document_schemas"`
}

// SourceConfig selects and configures the record catalog.
type SourceConfig struct {
	Kind                  string   `yaml:"kind"`
	Root                  string   `yaml:"root"`
	URL                   string   `yaml:"url"`
	PerPage               int      `yaml:"per_page"`
	ProjectUUIDSearchPath string   `yaml:"project_uuid_search_path"`
	BundleFilesPath       []string `yaml:"bundle_files_path"`
	Timeout               string   `yaml:"timeout"`
	MaxRetries            int      `yaml:"max_retries"`

	Discovery DiscoveryConfig `yaml:"discovery"`
}

// DiscoveryConfig drives project listing against the data store: one search
// per technology and taxon, reading the project document of every hit.
type DiscoveryConfig struct {
	Technologies       []DiscoveryTechnology `yaml:"technologies"`
	TaxonIDs           []int                 `yaml:"taxon_ids"`
	TechnologyField    string                `yaml:"technology_field"`
	TaxonField         string                `yaml:"taxon_field"`
	ProcessTypeField   string                `yaml:"process_type_field"`
	ExcludeProcessType string                `yaml:"exclude_process_type"`
	ProjectPath        []string              `yaml:"project_path"`
	ProjectUUIDPath    []string              `yaml:"project_uuid_path"`
	ProjectTitlePath   []string              `yaml:"project_title_path"`
	TestTitlePattern   string                `yaml:"test_title_pattern"`
}

// DiscoveryTechnology names the library construction ontology term searched
// for one technology.
type DiscoveryTechnology struct {
	Name     string `yaml:"name"`
	Ontology string `yaml:"ontology"`
}

// CacheConfig selects the document cache backend.
type CacheConfig struct {
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	Prefix    string `yaml:"prefix"`
	TTL       string `yaml:"ttl"`
}

// LedgerConfig locates the SQLite run ledger.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// NotifyConfig configures the end-of-run e-mail report.
type NotifyConfig struct {
	SMTPAddr   string   `yaml:"smtp_addr"`
	Sender     string   `yaml:"sender"`
	Recipients []string `yaml:"recipients"`
}

// Default returns the built-in configuration.
func Default() (*Config, error) {
	return Parse(defaultConfig, "")
}

// Load reads the configuration at path. An empty path selects the built-in default.
// A relative migrations_file is resolved against the directory holding path.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse validates data against the configuration schema, decodes it and loads
// any referenced migrations file relative to baseDir.
func Parse(data []byte, baseDir string) (*Config, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	if cfg.MigrationsFile != "" {
		path := cfg.MigrationsFile
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		migrations, err := LoadMigrations(path)
		if err != nil {
			return nil, err
		}
		cfg.Migrations = append(cfg.Migrations, migrations...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type migrationsFile struct {
	Migrations []Migration `yaml:"migrations"`
}

// LoadMigrations reads a property-migrations document ({"migrations": [...]}).
// JSON documents are accepted as-is, YAML being a superset.
func LoadMigrations(path string) ([]Migration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations %s: %w", path, err)
	}
	var doc migrationsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal migrations %s: %w", path, err)
	}
	return doc.Migrations, nil
}

func (c *Config) applyDefaults() {
	if c.SchemaVersionField == "" {
		c.SchemaVersionField = "describedBy"
	}
	if c.SingleCellIdentifierPattern == "" {
		c.SingleCellIdentifierPattern = "^smart-.*$"
	}
	if c.Contact.Name == "" {
		c.Contact.Name = "contact_name"
	}
	if c.Contact.Email == "" {
		c.Contact.Email = "email"
	}
	if c.Contact.Institution == "" {
		c.Contact.Institution = "institution"
	}
	if c.Contact.Address == "" {
		c.Contact.Address = "address"
	}
	if c.Accession.Placeholder == "" {
		c.Accession.Placeholder = "E-AAAA-00"
	}
	if c.Source.Kind == "" {
		c.Source.Kind = "dir"
	}
	if c.Source.PerPage == 0 {
		c.Source.PerPage = 10
	}
	if c.Source.MaxRetries == 0 {
		c.Source.MaxRetries = 5
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "hca2mtab"
	}
}

// Validate checks the cross-field constraints the schema cannot express.
func (c *Config) Validate() error {
	for name, value := range map[string]string{
		"donor_schema":           c.DonorSchema,
		"cell_suspension_schema": c.CellSuspensionSchema,
		"sequence_file_schema":   c.SequenceFileSchema,
		"project_schema":         c.ProjectSchema,
	} {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	if c.NotFound == c.Curate {
		return fmt.Errorf("notfound and curate tokens must differ (both %q)", c.NotFound)
	}
	if len(c.ProtocolNamePath) == 0 {
		return fmt.Errorf("protocol_name_path is required")
	}
	if len(c.Technologies) == 0 {
		return fmt.Errorf("no technologies defined")
	}
	seen := make(map[string]bool, len(c.Technologies))
	for _, tech := range c.Technologies {
		if tech.Name == "" {
			return fmt.Errorf("technology with empty name")
		}
		if seen[tech.Name] {
			return fmt.Errorf("duplicate technology %q", tech.Name)
		}
		seen[tech.Name] = true
		if len(tech.Synonyms) == 0 {
			return fmt.Errorf("technology %q has no synonyms", tech.Name)
		}
		for _, syn := range tech.Synonyms {
			if _, err := regexp.Compile(syn); err != nil {
				return fmt.Errorf("technology %q: invalid synonym pattern %q: %w", tech.Name, syn, err)
			}
		}
	}
	for name, pattern := range map[string]string{
		"single_cell_identifier_pattern":      c.SingleCellIdentifierPattern,
		"bundle_checks.analysis_file_pattern": c.Checks.AnalysisFilePattern,
		"bundle_checks.cache_exclude_pattern": c.Checks.CacheExcludePattern,
	} {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("%s: invalid pattern %q: %w", name, pattern, err)
		}
	}
	for _, m := range c.Migrations {
		if m.SourceSchema == "" || m.Property == "" || m.TargetSchema == "" || m.ReplacedBy == "" {
			return fmt.Errorf("incomplete migration entry: %+v", m)
		}
	}
	if err := c.validateDiscovery(seen); err != nil {
		return err
	}
	switch c.Source.Kind {
	case "dir", "http":
	default:
		return fmt.Errorf("unsupported source kind: %s (expected dir or http)", c.Source.Kind)
	}
	switch c.Cache.Backend {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("unsupported cache backend: %s (expected memory, redis or none)", c.Cache.Backend)
	}
	if _, err := c.SourceTimeout(); err != nil {
		return err
	}
	if _, err := c.CacheTTL(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDiscovery(technologies map[string]bool) error {
	d := c.Source.Discovery
	for _, tech := range d.Technologies {
		if !technologies[tech.Name] {
			return fmt.Errorf("source.discovery: unknown technology %q", tech.Name)
		}
		if tech.Ontology == "" {
			return fmt.Errorf("source.discovery: technology %q has no ontology term", tech.Name)
		}
	}
	if _, err := regexp.Compile(d.TestTitlePattern); err != nil {
		return fmt.Errorf("source.discovery.test_title_pattern: invalid pattern %q: %w", d.TestTitlePattern, err)
	}
	return nil
}

// SourceTimeout returns the per-request timeout of the record catalog (default 60s).
func (c *Config) SourceTimeout() (time.Duration, error) {
	return parseDuration("source.timeout", c.Source.Timeout, 60*time.Second)
}

// CacheTTL returns how long cached documents live in a shared cache (0 = forever).
func (c *Config) CacheTTL() (time.Duration, error) {
	return parseDuration("cache.ttl", c.Cache.TTL, 0)
}

func parseDuration(name, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", name, value, err)
	}
	return d, nil
}
