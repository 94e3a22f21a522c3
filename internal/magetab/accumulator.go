// SPDX-License-Identifier: Apache-2.0

package magetab

import (
	"sort"
)

// Accumulator collects the rows of one technology. Every row has exactly the
// length of the header snapshot taken from the technology's first row.
type Accumulator struct {
	Technology string

	headers         []string
	rows            [][]string
	nonEmpty        map[int]struct{}
	protocolColumns map[int]string
	protocols       *TechnologyProtocols
}

func newAccumulator(first *Row) *Accumulator {
	headers := make([]string, len(first.Headers))
	copy(headers, first.Headers)
	columns := make(map[int]string, len(first.ProtocolColumns))
	for i, t := range first.ProtocolColumns {
		columns[i] = t
	}
	return &Accumulator{
		Technology:      first.Technology,
		headers:         headers,
		nonEmpty:        make(map[int]struct{}),
		protocolColumns: columns,
		protocols:       NewTechnologyProtocols(),
	}
}

// Headers returns the header snapshot.
func (a *Accumulator) Headers() []string {
	out := make([]string, len(a.headers))
	copy(out, a.headers)
	return out
}

// Rows returns the number of rows collected.
func (a *Accumulator) Rows() int {
	return len(a.rows)
}

// Protocols returns the cross-bundle protocol state.
func (a *Accumulator) Protocols() *TechnologyProtocols {
	return a.protocols
}

// add appends row. The returned label indices differ from the header snapshot;
// a length mismatch is reported by the caller as a layout error.
func (a *Accumulator) add(row *Row) (mismatched []int, ok bool) {
	if len(row.Cells) != len(a.headers) {
		return nil, false
	}
	for i, h := range row.Headers {
		if h != a.headers[i] {
			mismatched = append(mismatched, i)
		}
	}
	for i := range row.NonEmpty {
		a.nonEmpty[i] = struct{}{}
	}
	cells := make([]string, len(row.Cells))
	copy(cells, row.Cells)
	a.rows = append(a.rows, cells)
	return mismatched, true
}

// EmptyColumns returns, in ascending order, the header indices no row has
// filled so far.
func (a *Accumulator) EmptyColumns() []int {
	var out []int
	for i := range a.headers {
		if _, ok := a.nonEmpty[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

// prune removes the cells at the given indices, keeping the order of the rest.
func prune(cells []string, drop map[int]struct{}) []string {
	out := make([]string, 0, len(cells))
	for i, c := range cells {
		if _, ok := drop[i]; ok {
			continue
		}
		out = append(out, c)
	}
	return out
}

// pruneColumns renumbers a column-index map after the indices in drop are removed.
func pruneColumns(columns map[int]string, drop map[int]struct{}) map[int]string {
	kept := make([]int, 0, len(columns))
	for i := range columns {
		if _, ok := drop[i]; !ok {
			kept = append(kept, i)
		}
	}
	sort.Ints(kept)
	dropped := make([]int, 0, len(drop))
	for i := range drop {
		dropped = append(dropped, i)
	}
	sort.Ints(dropped)

	out := make(map[int]string, len(kept))
	for _, i := range kept {
		shift := sort.SearchInts(dropped, i)
		out[i-shift] = columns[i]
	}
	return out
}
