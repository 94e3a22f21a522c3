// SPDX-License-Identifier: Apache-2.0

package magetab

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/gemaraproj/hca2mtab/internal/bundle"
	"github.com/gemaraproj/hca2mtab/internal/resolve"
)

// Protocol is one (name, description, type) triple. Missing descriptions and
// types are empty strings.
type Protocol struct {
	Name        string
	Description string
	Type        string
}

// ProtocolSet is an insertion-ordered set of protocols.
type ProtocolSet struct {
	items []Protocol
	seen  map[Protocol]struct{}
}

// NewProtocolSet creates an empty set.
func NewProtocolSet() *ProtocolSet {
	return &ProtocolSet{seen: make(map[Protocol]struct{})}
}

// Add inserts p unless an equal triple is already present.
func (s *ProtocolSet) Add(p Protocol) bool {
	if _, ok := s.seen[p]; ok {
		return false
	}
	s.seen[p] = struct{}{}
	s.items = append(s.items, p)
	return true
}

// Len returns the number of distinct protocols.
func (s *ProtocolSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Items returns the protocols in insertion order.
func (s *ProtocolSet) Items() []Protocol {
	if s == nil {
		return nil
	}
	out := make([]Protocol, len(s.items))
	copy(out, s.items)
	return out
}

// Names returns the protocol names in insertion order.
func (s *ProtocolSet) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.items))
	for i, p := range s.items {
		out[i] = p.Name
	}
	return out
}

// SortedByName returns the protocols ordered by name; ties keep insertion order.
func (s *ProtocolSet) SortedByName() []Protocol {
	out := s.Items()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BundleProtocols holds the protocols found in one bundle, per protocol type.
type BundleProtocols map[string]*ProtocolSet

// TechnologyProtocols is the cross-bundle protocol state of one technology:
// the union of protocols per type and the largest per-bundle count per type.
type TechnologyProtocols struct {
	sets map[string]*ProtocolSet
	max  map[string]int
}

// NewTechnologyProtocols creates empty per-technology protocol state.
func NewTechnologyProtocols() *TechnologyProtocols {
	return &TechnologyProtocols{
		sets: make(map[string]*ProtocolSet),
		max:  make(map[string]int),
	}
}

// Merge unions one bundle's protocols into the technology state.
func (tp *TechnologyProtocols) Merge(b BundleProtocols) {
	for ptype, set := range b {
		n := set.Len()
		if n == 0 {
			continue
		}
		if n > tp.max[ptype] {
			tp.max[ptype] = n
		}
		union, ok := tp.sets[ptype]
		if !ok {
			union = NewProtocolSet()
			tp.sets[ptype] = union
		}
		for _, p := range set.items {
			union.Add(p)
		}
	}
}

// Set returns the union of protocols of ptype, or nil.
func (tp *TechnologyProtocols) Set(ptype string) *ProtocolSet {
	return tp.sets[ptype]
}

// MaxCount returns the largest number of distinct ptype protocols seen in one bundle.
func (tp *TechnologyProtocols) MaxCount(ptype string) int {
	return tp.max[ptype]
}

// MaxCounts returns a copy of the per-type maxima.
func (tp *TechnologyProtocols) MaxCounts() map[string]int {
	out := make(map[string]int, len(tp.max))
	for k, v := range tp.max {
		out[k] = v
	}
	return out
}

// ProtocolAggregator collects protocol triples from a bundle record.
type ProtocolAggregator struct {
	resolver *resolve.Resolver
	types    []string
	patterns []*regexp.Regexp

	namePath        []string
	descriptionPath []string
	typePath        []string
}

// NewProtocolAggregator compiles the protocol-type keys. Each key selects the
// schema types whose name contains a match for it.
func NewProtocolAggregator(resolver *resolve.Resolver, types, namePath, descriptionPath, typePath []string) (*ProtocolAggregator, error) {
	a := &ProtocolAggregator{
		resolver:        resolver,
		types:           types,
		namePath:        namePath,
		descriptionPath: descriptionPath,
		typePath:        typePath,
	}
	for _, t := range types {
		re, err := regexp.Compile(t)
		if err != nil {
			return nil, fmt.Errorf("invalid protocol type pattern %q: %w", t, err)
		}
		a.patterns = append(a.patterns, re)
	}
	return a, nil
}

// Collect returns the distinct protocols of every configured type in rec.
// Documents whose name does not resolve are left out.
func (a *ProtocolAggregator) Collect(rec *bundle.Record, c resolve.Context) BundleProtocols {
	out := make(BundleProtocols, len(a.types))
	for i, ptype := range a.types {
		set := NewProtocolSet()
		for _, schema := range rec.Matching(a.patterns[i]) {
			for _, doc := range rec.Documents(schema) {
				view := bundle.View{schema: doc}
				name, ok := a.resolver.String(view, prefixed(schema, a.namePath), false, c)
				if !ok {
					continue
				}
				set.Add(Protocol{
					Name:        name,
					Description: a.optional(view, schema, a.descriptionPath, c),
					Type:        a.optional(view, schema, a.typePath, c),
				})
			}
		}
		out[ptype] = set
	}
	return out
}

func (a *ProtocolAggregator) optional(view bundle.View, schema string, path []string, c resolve.Context) string {
	if len(path) == 0 {
		return ""
	}
	v, _ := a.resolver.String(view, prefixed(schema, path), false, c)
	return v
}

func prefixed(schema string, path []string) []string {
	out := make([]string, 0, len(path)+1)
	out = append(out, schema)
	return append(out, path...)
}
