// SPDX-License-Identifier: Apache-2.0

// Package bundle holds the in-memory shape of an HCA bundle: typed JSON
// documents grouped by schema type, in the order the source delivered them.
package bundle

import (
	"regexp"
	"strings"
)

// Document is one decoded JSON metadata document.
type Document = map[string]any

// Record maps schema-type names to the documents of that type found in a bundle.
// Iteration order is the order in which schema types were first added.
type Record struct {
	types []string
	docs  map[string][]Document
}

// NewRecord creates an empty Record.
func NewRecord() *Record {
	return &Record{docs: make(map[string][]Document)}
}

// Add appends doc to the documents of schemaType.
func (r *Record) Add(schemaType string, doc Document) {
	if _, ok := r.docs[schemaType]; !ok {
		r.types = append(r.types, schemaType)
	}
	r.docs[schemaType] = append(r.docs[schemaType], doc)
}

// Types returns the schema types in insertion order.
func (r *Record) Types() []string {
	out := make([]string, len(r.types))
	copy(out, r.types)
	return out
}

// Documents returns the documents of schemaType, or nil if the type is absent.
func (r *Record) Documents(schemaType string) []Document {
	return r.docs[schemaType]
}

// Has reports whether the record contains at least one document of schemaType.
func (r *Record) Has(schemaType string) bool {
	return len(r.docs[schemaType]) > 0
}

// Matching returns the schema types whose name contains a match for re,
// in insertion order.
func (r *Record) Matching(re *regexp.Regexp) []string {
	var out []string
	for _, t := range r.types {
		if re.MatchString(t) {
			out = append(out, t)
		}
	}
	return out
}

// Bundle is one sample-processing unit of an experiment.
type Bundle struct {
	// URL identifies the bundle; it is copied verbatim into the sample table.
	URL    string
	Record *Record
}

// View selects at most one document per schema key. Paths are resolved against
// a View: the first path segment names the schema key, the rest walk the document.
type View map[string]any

// FirstView builds a View holding the first document of every schema type in r.
func FirstView(r *Record) View {
	v := make(View, len(r.types))
	for _, t := range r.types {
		if docs := r.docs[t]; len(docs) > 0 {
			v[t] = docs[0]
		}
	}
	return v
}

// SchemaVersion extracts the version segment from a schema descriptor such as
// "https://schema.humancellatlas.org/type/project/9.0.3/project".
// It returns "" when the descriptor has fewer than two path segments.
func SchemaVersion(describedBy string) string {
	parts := strings.Split(describedBy, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

var indexSuffix = regexp.MustCompile(`_\d+$`)

// SplitIndexSuffix separates a bundle-scoped numeric suffix ("_0", "_1") from a
// schema key, returning the bare schema name and the suffix (possibly "").
func SplitIndexSuffix(key string) (string, string) {
	loc := indexSuffix.FindStringIndex(key)
	if loc == nil {
		return key, ""
	}
	return key[:loc[0]], key[loc[0]:]
}
