// SPDX-License-Identifier: Apache-2.0

// Package resolve locates configured field paths inside bundle documents.
// A miss is an ordinary outcome carried in Lookup, never an error; when the
// direct path fails, a relocated path from the migration table is tried once.
package resolve

import (
	"encoding/json"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/gemaraproj/hca2mtab/internal/bundle"
)

// Lookup is the outcome of resolving one path. Found is false when any key
// along the path (and along its migrated location, if any) was absent.
type Lookup struct {
	Value any
	Found bool
}

// Context names the caller of a resolution in diagnostics.
type Context struct {
	Accession string
	Label     string
	Bundle    string
}

func (c Context) fields() []zap.Field {
	return []zap.Field{
		zap.String("accession", c.Accession),
		zap.String("label", c.Label),
		zap.String("bundle", c.Bundle),
	}
}

// Resolver resolves paths against bundle views.
type Resolver struct {
	logger       *zap.Logger
	migrations   *MigrationTable
	vocabulary   Vocabulary
	versionField string
}

// New creates a Resolver. migrations may be nil; versionField names the
// document key holding the schema descriptor (e.g. "describedBy").
func New(logger *zap.Logger, migrations *MigrationTable, vocabulary Vocabulary, versionField string) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		logger:       logger,
		migrations:   migrations,
		vocabulary:   vocabulary,
		versionField: versionField,
	}
}

// Resolve walks path through view. The first element names a schema key of the
// view. A nested object is descended into; a leaf (scalar or list) ends the walk
// and is returned even if path elements remain. When strict is set a miss is
// logged with the key that was absent.
func (r *Resolver) Resolve(view bundle.View, path []string, strict bool, c Context) Lookup {
	value, missing, ok := walk(view, path)
	if ok {
		return Lookup{Value: value, Found: true}
	}
	if rerouted, ok := r.migrate(view, path, c); ok {
		if value, _, ok := walk(view, rerouted); ok {
			return Lookup{Value: value, Found: true}
		}
	}
	if strict {
		r.logger.Warn("field missing", append(c.fields(),
			zap.String("key", missing),
			zap.Strings("path", path),
		)...)
	}
	return Lookup{}
}

// String resolves path and formats the leaf, translating it through the
// vocabulary of c.Label. The boolean is false on a miss.
func (r *Resolver) String(view bundle.View, path []string, strict bool, c Context) (string, bool) {
	l := r.Resolve(view, path, strict, c)
	if !l.Found {
		return "", false
	}
	return r.Translate(c.Label, Format(l.Value)), true
}

// Translate applies the controlled vocabulary of label to value.
func (r *Resolver) Translate(label, value string) string {
	return r.vocabulary.Translate(label, value)
}

func (r *Resolver) migrate(view bundle.View, path []string, c Context) ([]string, bool) {
	if r.migrations.Len() == 0 || len(path) < 2 {
		return nil, false
	}
	doc, ok := view[path[0]].(map[string]any)
	if !ok {
		return nil, false
	}
	descriptor, _ := doc[r.versionField].(string)
	version, err := ParseVersion(bundle.SchemaVersion(descriptor))
	if err != nil {
		r.logger.Debug("no usable schema version, skipping migrations",
			zap.String("schema", path[0]), zap.String("descriptor", descriptor))
		return nil, false
	}
	rerouted, m, ok := r.migrations.Reroute(path, version)
	if !ok {
		return nil, false
	}
	r.logger.Warn("schema migration applied", append(c.fields(),
		zap.String("from", strings.Join(path, ".")),
		zap.String("to", strings.Join(rerouted, ".")),
		zap.String("effective_from", m.EffectiveFrom),
	)...)
	return rerouted, true
}

// walk returns the value at path, or the key that was missing.
func walk(view bundle.View, path []string) (any, string, bool) {
	if len(path) == 0 {
		return nil, "", false
	}
	var cur any = map[string]any(view)
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return cur, "", true
		}
		next, ok := m[key]
		if !ok {
			return nil, key, false
		}
		cur = next
	}
	return cur, "", true
}

// Format renders a resolved JSON value as a cell string. Lists are joined with
// "," and objects are rendered as compact JSON.
func Format(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = Format(item)
		}
		return strings.Join(parts, ",")
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
