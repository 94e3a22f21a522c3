// SPDX-License-Identifier: Apache-2.0

package magetab

import (
	"fmt"
	"strings"
)

// ExpansionPlan fixes, for every column of a pruned SDRF layout, how many
// output columns it becomes. A Protocol REF column of a protocol type seen up
// to N times in one bundle becomes N columns; every other column stays one.
// One plan is computed per technology and applied to the header and to each row.
type ExpansionPlan struct {
	widths []int
	total  int
}

// NewExpansionPlan builds the plan for a layout of width columns.
// protocolColumns maps placeholder indices to their protocol type.
func NewExpansionPlan(width int, protocolColumns map[int]string, maxCounts map[string]int) ExpansionPlan {
	p := ExpansionPlan{widths: make([]int, width)}
	for i := range p.widths {
		w := 1
		if ptype, ok := protocolColumns[i]; ok && maxCounts[ptype] > 1 {
			w = maxCounts[ptype]
		}
		p.widths[i] = w
		p.total += w
	}
	return p
}

// Width returns the number of columns after expansion.
func (p ExpansionPlan) Width() int {
	return p.total
}

// Headers repeats each placeholder label to its planned width.
func (p ExpansionPlan) Headers(headers []string) ([]string, error) {
	if len(headers) != len(p.widths) {
		return nil, fmt.Errorf("header has %d columns, plan expects %d", len(headers), len(p.widths))
	}
	out := make([]string, 0, p.total)
	for i, h := range headers {
		for n := 0; n < p.widths[i]; n++ {
			out = append(out, h)
		}
	}
	return out, nil
}

// Row distributes each expanded cell's comma-joined values over its columns,
// left to right, padding with "". Values beyond the planned width stay joined
// in the last column.
func (p ExpansionPlan) Row(row []string) ([]string, error) {
	if len(row) != len(p.widths) {
		return nil, fmt.Errorf("row has %d cells, plan expects %d", len(row), len(p.widths))
	}
	out := make([]string, 0, p.total)
	for i, cell := range row {
		w := p.widths[i]
		if w == 1 {
			out = append(out, cell)
			continue
		}
		var values []string
		if cell != "" {
			values = strings.Split(cell, ",")
		}
		for n := 0; n < w; n++ {
			switch {
			case n >= len(values):
				out = append(out, "")
			case n == w-1:
				out = append(out, strings.Join(values[n:], ","))
			default:
				out = append(out, values[n])
			}
		}
	}
	return out, nil
}
