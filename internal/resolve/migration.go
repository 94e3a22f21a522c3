// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gemaraproj/hca2mtab/internal/bundle"
	"github.com/gemaraproj/hca2mtab/internal/config"
)

// Migration is a property relocation with its effective-from version
// pre-parsed for comparison.
type Migration struct {
	config.Migration
	from int
}

// MigrationTable looks up relocations of schema properties. It is built once
// per run and shared read-only between experiments.
type MigrationTable struct {
	entries []Migration
}

// NewMigrationTable validates and indexes the migration entries.
func NewMigrationTable(entries []config.Migration) (*MigrationTable, error) {
	t := &MigrationTable{entries: make([]Migration, 0, len(entries))}
	for _, e := range entries {
		from, err := ParseVersion(e.EffectiveFrom)
		if err != nil {
			return nil, fmt.Errorf("migration %s.%s: %w", e.SourceSchema, e.Property, err)
		}
		t.entries = append(t.entries, Migration{Migration: e, from: from})
	}
	return t, nil
}

// Len returns the number of entries.
func (t *MigrationTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// ParseVersion turns a dotted version into a comparable integer by dropping the
// dots: "5.1.0" becomes 510. Versions compared this way must use the same number
// of digits per component.
func ParseVersion(version string) (int, error) {
	digits := strings.ReplaceAll(version, ".", "")
	if digits == "" {
		return 0, fmt.Errorf("empty version")
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", version, err)
	}
	return n, nil
}

// Find returns the first entry relocating property of schema that already
// applies at the declared version.
func (t *MigrationTable) Find(schema, property string, version int) (Migration, bool) {
	if t == nil {
		return Migration{}, false
	}
	for _, e := range t.entries {
		if e.SourceSchema == schema && e.Property == property && e.from <= version {
			return e, true
		}
	}
	return Migration{}, false
}

// Reroute computes the migrated location of path for a schema object at the
// given version. path[0] is a schema key that may carry a bundle-scoped index
// suffix ("donor_organism_1"); the suffix is kept on the target schema key.
func (t *MigrationTable) Reroute(path []string, version int) ([]string, Migration, bool) {
	if len(path) < 2 {
		return nil, Migration{}, false
	}
	schema, suffix := bundle.SplitIndexSuffix(path[0])
	m, ok := t.Find(schema, strings.Join(path[1:], "."), version)
	if !ok {
		return nil, Migration{}, false
	}
	rerouted := append([]string{m.TargetSchema + suffix}, strings.Split(m.ReplacedBy, ".")...)
	return rerouted, m, true
}
