// SPDX-License-Identifier: Apache-2.0

// Package mapping compiles the raw rule lists of the configuration into typed
// rules. The rule kind is decided once, here, so the row and IDF builders only
// switch over Kind and never re-inspect the shape of a configured path.
package mapping

import (
	"fmt"
	"regexp"

	"github.com/gemaraproj/hca2mtab/internal/config"
)

// Kind enumerates the value sources a rule can carry.
type Kind int

const (
	// KindLiteral emits the configured value unchanged.
	KindLiteral Kind = iota
	// KindValues emits a list of literal values on one IDF line.
	KindValues
	// KindPath resolves a [schema, property...] path against the bundle view.
	KindPath
	// KindScan tries every schema type matching Schema until Path resolves.
	KindScan
	// KindJoin resolves a list of objects and joins their JoinField with ",".
	KindJoin
	// KindProtocolRef lists the names of the bundle's protocols of ProtocolType.
	KindProtocolRef
	// KindProtocolAttribute unions a property over every document of one protocol schema.
	KindProtocolAttribute
	// KindFile resolves Path against the current sequence-file document.
	KindFile
	// KindBundleURL emits the bundle URL.
	KindBundleURL

	KindTitle
	KindDate
	KindAccession
	KindSDRFFile
	KindToday
	KindSecondaryAccessions
	KindFactorNames
	KindFactorTypes

	// KindContacts, KindProtocols and KindPublications expand one rule into
	// several IDF lines, one per entry of Labels.
	KindContacts
	KindProtocols
	KindPublications
)

var kindNames = [...]string{
	KindLiteral:             "literal",
	KindValues:              "values",
	KindPath:                "path",
	KindScan:                "scan",
	KindJoin:                "join",
	KindProtocolRef:         "protocol_ref",
	KindProtocolAttribute:   "protocol_attribute",
	KindFile:                "file",
	KindBundleURL:           "bundle_url",
	KindTitle:               "title",
	KindDate:                "date",
	KindAccession:           "accession",
	KindSDRFFile:            "sdrf_file",
	KindToday:               "today",
	KindSecondaryAccessions: "secondary_accessions",
	KindFactorNames:         "factor_names",
	KindFactorTypes:         "factor_types",
	KindContacts:            "contacts",
	KindProtocols:           "protocols",
	KindPublications:        "publications",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a configuration kind name to its Kind.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown rule kind: %s", name)
}

// IsBlock reports whether the kind expands into several labelled lines.
func (k Kind) IsBlock() bool {
	return k == KindContacts || k == KindProtocols || k == KindPublications
}

// Section identifies one of the two rule lists.
type Section string

const (
	SectionIDF  Section = "idf"
	SectionSDRF Section = "sdrf"
)

var sectionKinds = map[Section]map[Kind]bool{
	SectionSDRF: {
		KindLiteral: true, KindPath: true, KindScan: true, KindJoin: true,
		KindProtocolRef: true, KindProtocolAttribute: true, KindFile: true, KindBundleURL: true,
	},
	SectionIDF: {
		KindLiteral: true, KindValues: true, KindPath: true, KindTitle: true, KindDate: true,
		KindAccession: true, KindSDRFFile: true, KindToday: true, KindSecondaryAccessions: true,
		KindFactorNames: true, KindFactorTypes: true,
		KindContacts: true, KindProtocols: true, KindPublications: true,
	},
}

// Rule is one compiled mapping entry.
type Rule struct {
	Label  string
	Labels []string
	Kind   Kind

	Value  string
	Values []string
	Path   []string
	// Schema is set for KindScan.
	Schema       *regexp.Regexp
	ProtocolType string
	// Technology marks the protocol attribute the bundle technology is derived from.
	Technology      bool
	JoinField       string
	StripReadSuffix bool
}

// Set holds both compiled rule lists.
type Set struct {
	IDF  []Rule
	SDRF []Rule
}

// Compile compiles the IDF and SDRF rule lists of cfg.
func Compile(cfg *config.Config) (*Set, error) {
	idf, err := CompileRules(SectionIDF, cfg.IDF)
	if err != nil {
		return nil, err
	}
	sdrf, err := CompileRules(SectionSDRF, cfg.SDRF)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(cfg.ProtocolTypes))
	for _, p := range cfg.ProtocolTypes {
		known[p] = true
	}
	technologyRules := 0
	for i, r := range sdrf {
		if r.Kind == KindProtocolRef && !known[r.ProtocolType] {
			return nil, fmt.Errorf("sdrf rule %d (%s): protocol type %q is not listed in protocol_types", i, r.Label, r.ProtocolType)
		}
		if r.Technology {
			technologyRules++
		}
	}
	if technologyRules > 1 {
		return nil, fmt.Errorf("sdrf: %d rules are marked technology, expected at most one", technologyRules)
	}
	return &Set{IDF: idf, SDRF: sdrf}, nil
}

// CompileRules compiles one rule list.
func CompileRules(section Section, specs []config.RuleSpec) ([]Rule, error) {
	allowed, ok := sectionKinds[section]
	if !ok {
		return nil, fmt.Errorf("unknown rule section: %s", section)
	}
	rules := make([]Rule, 0, len(specs))
	for i, spec := range specs {
		r, err := compileRule(spec)
		if err != nil {
			return nil, fmt.Errorf("%s rule %d (%s): %w", section, i, describe(spec), err)
		}
		if !allowed[r.Kind] {
			return nil, fmt.Errorf("%s rule %d (%s): kind %s is not allowed in %s", section, i, describe(spec), r.Kind, section)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func describe(spec config.RuleSpec) string {
	if spec.Label != "" {
		return spec.Label
	}
	if len(spec.Labels) > 0 {
		return spec.Labels[0]
	}
	return "unlabelled"
}

func compileRule(spec config.RuleSpec) (Rule, error) {
	kind, err := inferKind(spec)
	if err != nil {
		return Rule{}, err
	}
	r := Rule{
		Label:           spec.Label,
		Labels:          spec.Labels,
		Kind:            kind,
		Value:           spec.Value,
		Values:          spec.Values,
		Path:            spec.Path,
		ProtocolType:    spec.ProtocolType,
		Technology:      spec.Technology,
		JoinField:       spec.JoinField,
		StripReadSuffix: spec.StripReadSuffix,
	}

	if kind.IsBlock() {
		if len(r.Labels) == 0 {
			return Rule{}, fmt.Errorf("%s rule requires labels", kind)
		}
		if r.Label != "" {
			return Rule{}, fmt.Errorf("%s rule takes labels, not label", kind)
		}
	} else if r.Label == "" {
		return Rule{}, fmt.Errorf("label is required")
	}

	switch kind {
	case KindValues:
		if len(r.Values) == 0 {
			return Rule{}, fmt.Errorf("values rule requires values")
		}
	case KindPath, KindTitle, KindDate, KindFile, KindContacts, KindPublications:
		if len(r.Path) == 0 {
			return Rule{}, fmt.Errorf("%s rule requires a path", kind)
		}
	case KindJoin:
		if len(r.Path) == 0 {
			return Rule{}, fmt.Errorf("join rule requires a path")
		}
		if r.JoinField == "" {
			r.JoinField = "text"
		}
	case KindScan:
		if spec.Schema == "" || len(r.Path) == 0 {
			return Rule{}, fmt.Errorf("scan rule requires schema and path")
		}
		re, err := regexp.Compile(spec.Schema)
		if err != nil {
			return Rule{}, fmt.Errorf("invalid schema pattern %q: %w", spec.Schema, err)
		}
		r.Schema = re
	case KindProtocolRef:
		if r.ProtocolType == "" {
			return Rule{}, fmt.Errorf("protocol_ref rule requires protocol_type")
		}
	case KindProtocolAttribute:
		if len(r.Path) < 2 {
			return Rule{}, fmt.Errorf("protocol_attribute path must name a protocol schema and a property")
		}
	}

	if r.Technology && kind != KindProtocolAttribute {
		return Rule{}, fmt.Errorf("only protocol_attribute rules can be marked technology")
	}
	if r.StripReadSuffix && kind != KindFile {
		return Rule{}, fmt.Errorf("strip_read_suffix applies to file rules only")
	}
	return r, nil
}

// inferKind applies the shorthand: a rule with only a value is literal, a
// rule with only a path is a direct path.
func inferKind(spec config.RuleSpec) (Kind, error) {
	if spec.Kind != "" {
		return ParseKind(spec.Kind)
	}
	switch {
	case len(spec.Path) > 0 && spec.Value != "":
		return 0, fmt.Errorf("rule has both value and path; set kind explicitly")
	case len(spec.Path) > 0:
		return KindPath, nil
	case len(spec.Values) > 0:
		return KindValues, nil
	default:
		return KindLiteral, nil
	}
}
