// SPDX-License-Identifier: Apache-2.0

package resolve

// defaultKey selects the replacement for values without an explicit entry.
const defaultKey = "default"

// Vocabulary translates resolved values into the controlled vocabulary of the
// output, per output label.
type Vocabulary map[string]map[string]string

// Translate returns the replacement for value under label. Labels without a
// table, and values without an entry in a table lacking a default, pass through.
func (v Vocabulary) Translate(label, value string) string {
	table, ok := v[label]
	if !ok {
		return value
	}
	if out, ok := table[value]; ok {
		return out
	}
	if out, ok := table[defaultKey]; ok {
		return out
	}
	return value
}
