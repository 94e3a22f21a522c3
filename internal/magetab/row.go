// SPDX-License-Identifier: Apache-2.0

package magetab

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gemaraproj/hca2mtab/internal/bundle"
	"github.com/gemaraproj/hca2mtab/internal/config"
	"github.com/gemaraproj/hca2mtab/internal/mapping"
	"github.com/gemaraproj/hca2mtab/internal/resolve"
)

// readSuffix matches read, lane and pair suffixes plus the compressed fastq
// extension, e.g. "_S1_L001_R2_001.fastq.gz" leaves "..._S1_L001".
var readSuffix = regexp.MustCompile(`(_\w\d|_\w\d_\d+|_\d)*\.f\w+\.gz`)

// StripReadSuffix returns the run identifier of a sequence file name.
func StripReadSuffix(name string) string {
	return readSuffix.ReplaceAllString(name, "")
}

// technologyMatcher maps a library-construction value to a technology name.
type technologyMatcher struct {
	names    []string
	synonyms [][]*regexp.Regexp
}

func newTechnologyMatcher(techs []config.Technology) (*technologyMatcher, error) {
	m := &technologyMatcher{}
	for _, tech := range techs {
		var patterns []*regexp.Regexp
		for _, syn := range tech.Synonyms {
			re, err := regexp.Compile("^(?:" + syn + ")")
			if err != nil {
				return nil, fmt.Errorf("technology %q: invalid synonym %q: %w", tech.Name, syn, err)
			}
			patterns = append(patterns, re)
		}
		m.names = append(m.names, tech.Name)
		m.synonyms = append(m.synonyms, patterns)
	}
	return m, nil
}

// Match lower-cases value and returns the first technology with a synonym
// matching at its start.
func (m *technologyMatcher) Match(value string) (string, bool) {
	value = strings.ToLower(value)
	for i, patterns := range m.synonyms {
		for _, re := range patterns {
			if re.MatchString(value) {
				return m.names[i], true
			}
		}
	}
	return "", false
}

// Row is one sample row with its header labels, before it is routed to the
// accumulator of its technology.
type Row struct {
	Headers []string
	Cells   []string
	// NonEmpty holds the indices of cells with a non-empty value.
	NonEmpty map[int]struct{}
	// ProtocolColumns maps the index of each Protocol REF cell to its protocol type.
	ProtocolColumns map[int]string
	Technology      string
	// TechnologyValue is the raw value the technology was derived from.
	TechnologyValue string
}

func newRow(capacity int) *Row {
	return &Row{
		Headers:         make([]string, 0, capacity),
		Cells:           make([]string, 0, capacity),
		NonEmpty:        make(map[int]struct{}),
		ProtocolColumns: make(map[int]string),
	}
}

// rowInput is the bundle-scoped context of one (donor, sequence file) row.
type rowInput struct {
	accession string
	bundleURL string
	record    *bundle.Record
	// view selects the row's donor and cell suspension and the first document
	// of every other schema type.
	view         bundle.View
	sequenceFile bundle.Document
	protocols    BundleProtocols
	strict       bool
}

// RowBuilder applies the SDRF rules to one bundle row.
type RowBuilder struct {
	rules        []mapping.Rule
	resolver     *resolve.Resolver
	tracker      *CharacteristicTracker
	technologies *technologyMatcher
	columnAfter  map[string][]string
	sequenceType string
	notFound     string
	curate       string
}

func (b *RowBuilder) build(in rowInput) *Row {
	row := newRow(len(b.rules))
	for _, rule := range b.rules {
		if !b.positionValid(rule.Label, row.Headers) {
			continue
		}
		c := resolve.Context{Accession: in.accession, Label: rule.Label, Bundle: in.bundleURL}
		value, found := b.value(rule, in, row, c)
		b.appendCell(row, rule.Label, value, found)
	}
	return row
}

// positionValid checks the adjacency constraint of label against the header
// emitted just before it.
func (b *RowBuilder) positionValid(label string, headers []string) bool {
	allowed, ok := b.columnAfter[label]
	if !ok {
		return true
	}
	if len(headers) == 0 {
		return false
	}
	prev := headers[len(headers)-1]
	for _, a := range allowed {
		if a == prev {
			return true
		}
	}
	return false
}

func (b *RowBuilder) value(rule mapping.Rule, in rowInput, row *Row, c resolve.Context) (string, bool) {
	switch rule.Kind {
	case mapping.KindLiteral:
		return rule.Value, true

	case mapping.KindPath:
		return b.resolver.String(in.view, rule.Path, in.strict, c)

	case mapping.KindScan:
		for _, schema := range in.record.Matching(rule.Schema) {
			for _, doc := range in.record.Documents(schema) {
				if v, ok := b.resolver.String(bundle.View{schema: doc}, prefixed(schema, rule.Path), in.strict, c); ok {
					return v, true
				}
			}
		}
		return "", false

	case mapping.KindJoin:
		l := b.resolver.Resolve(in.view, rule.Path, in.strict, c)
		if !l.Found {
			return "", false
		}
		return joinField(l.Value, rule.JoinField, func(v string) string {
			return b.resolver.Translate(rule.Label, v)
		}), true

	case mapping.KindProtocolRef:
		row.ProtocolColumns[len(row.Headers)] = rule.ProtocolType
		return strings.Join(in.protocols[rule.ProtocolType].Names(), ","), true

	case mapping.KindProtocolAttribute:
		return b.protocolAttribute(rule, in, row, c)

	case mapping.KindFile:
		schema := b.sequenceType
		v, ok := b.resolver.String(bundle.View{schema: in.sequenceFile}, prefixed(schema, rule.Path), in.strict, c)
		if ok && rule.StripReadSuffix {
			v = StripReadSuffix(v)
		}
		return v, ok

	case mapping.KindBundleURL:
		return in.bundleURL, true
	}
	return "", false
}

// protocolAttribute unions a property over every document of the protocol
// schema named by rule.Path[0], deduplicated in discovery order.
func (b *RowBuilder) protocolAttribute(rule mapping.Rule, in rowInput, row *Row, c resolve.Context) (string, bool) {
	schema := rule.Path[0]
	var values []string
	seen := make(map[string]struct{})
	for _, doc := range in.record.Documents(schema) {
		v, ok := b.resolver.String(bundle.View{schema: doc}, rule.Path, in.strict, c)
		if !ok {
			continue
		}
		if rule.Technology {
			row.TechnologyValue = v
			tech, ok := b.technologies.Match(v)
			if !ok {
				continue
			}
			if row.Technology == "" {
				row.Technology = tech
			}
			v = tech
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}
	if len(values) == 0 {
		return "", false
	}
	return strings.Join(values, ", "), true
}

// appendCell appends label and value to row. Characteristic values other than
// a miss or the curation marker are tracked; a miss is written as "".
func (b *RowBuilder) appendCell(row *Row, label, value string, found bool) {
	if value == b.notFound {
		found = false
	}
	row.Headers = append(row.Headers, label)
	if found && value != b.curate && strings.Contains(label, "Characteristic") {
		b.tracker.Observe(label, value)
	}
	if !found {
		value = ""
	}
	if value != "" {
		row.NonEmpty[len(row.Headers)-1] = struct{}{}
	}
	row.Cells = append(row.Cells, value)
}

// joinField translates field of every object in a resolved list and joins
// the results with ",". Plain list items are translated as they are.
func joinField(v any, field string, translate func(string) string) string {
	items, ok := v.([]any)
	if !ok {
		return translate(resolve.Format(v))
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			item = obj[field]
		}
		parts = append(parts, translate(resolve.Format(item)))
	}
	return strings.Join(parts, ",")
}
