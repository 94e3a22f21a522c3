// SPDX-License-Identifier: Apache-2.0

package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gemaraproj/hca2mtab/internal/bundle"
	"github.com/gemaraproj/hca2mtab/internal/config"
)

// NewCatalog builds the catalog selected by cfg.Source.
func NewCatalog(cfg *config.Config, logger *zap.Logger) (Catalog, error) {
	switch cfg.Source.Kind {
	case "dir":
		if cfg.Source.Root == "" {
			return nil, fmt.Errorf("source.root is required for the dir catalog")
		}
		return NewDirCatalog(cfg.Source.Root), nil
	case "http":
		timeout, err := cfg.SourceTimeout()
		if err != nil {
			return nil, err
		}
		return NewHTTPCatalog(cfg.Source, timeout, logger)
	default:
		return nil, fmt.Errorf("unsupported source kind: %s", cfg.Source.Kind)
	}
}

// NewSharedCache returns the cross-experiment cache selected by cfg.Cache, or
// nil when every experiment should get its own MemoryCache.
func NewSharedCache(cfg *config.Config) (Cache, error) {
	switch cfg.Cache.Backend {
	case "memory":
		return nil, nil
	case "none":
		return NoCache(), nil
	case "redis":
		ttl, err := cfg.CacheTTL()
		if err != nil {
			return nil, err
		}
		return NewRedisCache(&redis.Options{Addr: cfg.Cache.RedisAddr, DB: cfg.Cache.RedisDB}, cfg.Cache.Prefix, ttl)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Cache.Backend)
	}
}

// Loader assembles bundle records from a catalog, enforcing the configured
// bundle assumptions.
type Loader struct {
	catalog    Catalog
	cache      Cache
	analysis   *regexp.Regexp
	exclude    *regexp.Regexp
	required   []string
	single     []string
	maxBundles int
	logger     *zap.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithMaxBundles stops after n bundles per project; n <= 0 means no limit.
func WithMaxBundles(n int) LoaderOption {
	return func(l *Loader) { l.maxBundles = n }
}

// NewLoader creates a Loader. A nil cache disables caching.
func NewLoader(checks config.BundleChecks, catalog Catalog, cache Cache, logger *zap.Logger, opts ...LoaderOption) (*Loader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NoCache()
	}
	l := &Loader{
		catalog:  catalog,
		cache:    cache,
		required: checks.RequiredSchemaTypes,
		single:   checks.SingleDocumentSchemas,
		logger:   logger,
	}
	var err error
	if checks.AnalysisFilePattern != "" {
		if l.analysis, err = regexp.Compile(checks.AnalysisFilePattern); err != nil {
			return nil, fmt.Errorf("invalid analysis_file_pattern: %w", err)
		}
	}
	if checks.CacheExcludePattern != "" {
		if l.exclude, err = regexp.Compile(checks.CacheExcludePattern); err != nil {
			return nil, fmt.Errorf("invalid cache_exclude_pattern: %w", err)
		}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Load returns the bundles of projectUUID in catalog order. Analysis bundles
// are skipped.
func (l *Loader) Load(ctx context.Context, projectUUID string) ([]bundle.Bundle, error) {
	refs, err := l.catalog.Bundles(ctx, projectUUID)
	if err != nil {
		return nil, err
	}
	var out []bundle.Bundle
	for _, ref := range refs {
		if l.maxBundles > 0 && len(out) >= l.maxBundles {
			l.logger.Info("bundle limit reached", zap.String("project", projectUUID), zap.Int("limit", l.maxBundles))
			break
		}
		b, ok, err := l.LoadBundle(ctx, projectUUID, ref)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, b)
		}
	}
	l.logger.Info("project retrieved", zap.String("project", projectUUID), zap.Int("bundles", len(out)))
	return out, nil
}

// LoadBundle assembles one bundle. It reports false for analysis bundles.
func (l *Loader) LoadBundle(ctx context.Context, projectUUID string, ref BundleRef) (bundle.Bundle, bool, error) {
	for _, f := range ref.Files {
		if l.analysis != nil && l.analysis.MatchString(SchemaType(f.Name)) {
			l.logger.Debug("skipping analysis bundle", zap.String("bundle", ref.URL), zap.String("file", f.Name))
			return bundle.Bundle{}, false, nil
		}
	}

	rec := bundle.NewRecord()
	for _, f := range ref.Files {
		schemaType := SchemaType(f.Name)
		data, err := l.document(ctx, schemaType, f.UUID)
		if err != nil {
			return bundle.Bundle{}, false, &RetrievalError{Project: projectUUID, Bundle: ref.URL, Message: "failed to retrieve " + f.Name, Err: err}
		}
		doc, err := Decode(data)
		if err != nil {
			return bundle.Bundle{}, false, &RetrievalError{Project: projectUUID, Bundle: ref.URL, Message: "failed to decode " + f.Name, Err: err}
		}
		rec.Add(schemaType, doc)
	}

	for _, t := range l.single {
		if n := len(rec.Documents(t)); n > 1 {
			l.logger.Warn("more than one document of a single-document type",
				zap.String("project", projectUUID), zap.String("bundle", ref.URL),
				zap.String("schema", t), zap.Int("documents", n))
		}
	}
	var missing []string
	for _, t := range l.required {
		if !rec.Has(t) {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		err := &RetrievalError{
			Project: projectUUID,
			Bundle:  ref.URL,
			Message: "bundle lacks required schema types " + strings.Join(missing, ","),
		}
		l.logger.Error("bundle assumption violated", zap.Error(err))
		return bundle.Bundle{}, false, err
	}
	return bundle.Bundle{URL: ref.URL, Record: rec}, true, nil
}

func (l *Loader) document(ctx context.Context, schemaType, fileUUID string) ([]byte, error) {
	cacheable := l.exclude == nil || !l.exclude.MatchString(schemaType)
	if cacheable {
		data, ok, err := l.cache.Get(ctx, fileUUID)
		if err != nil {
			l.logger.Warn("cache read failed", zap.String("file", fileUUID), zap.Error(err))
		} else if ok {
			return data, nil
		}
	}
	data, err := l.catalog.Document(ctx, fileUUID)
	if err != nil {
		return nil, err
	}
	if cacheable {
		if err := l.cache.Put(ctx, fileUUID, data); err != nil {
			l.logger.Warn("cache write failed", zap.String("file", fileUUID), zap.Error(err))
		}
	}
	return data, nil
}

// SchemaType derives the schema type from a document file name:
// "donor_organism_0.json" is "donor_organism".
func SchemaType(fileName string) string {
	stem := strings.TrimSuffix(fileName, ".json")
	stem, _ = bundle.SplitIndexSuffix(stem)
	return stem
}

// Decode parses one JSON object, keeping numbers as json.Number.
func Decode(data []byte) (bundle.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("document is not a JSON object")
	}
	return doc, nil
}
