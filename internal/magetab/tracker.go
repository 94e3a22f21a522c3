// SPDX-License-Identifier: Apache-2.0

package magetab

// CharacteristicTracker records the distinct values seen per characteristic
// label over every technology of one experiment.
type CharacteristicTracker struct {
	labels []string
	values map[string]map[string]struct{}
}

// NewCharacteristicTracker creates an empty tracker.
func NewCharacteristicTracker() *CharacteristicTracker {
	return &CharacteristicTracker{values: make(map[string]map[string]struct{})}
}

// Observe records value for label.
func (t *CharacteristicTracker) Observe(label, value string) {
	set, ok := t.values[label]
	if !ok {
		set = make(map[string]struct{})
		t.values[label] = set
		t.labels = append(t.labels, label)
	}
	set[value] = struct{}{}
}

// Distinct returns the number of distinct values observed for label.
func (t *CharacteristicTracker) Distinct(label string) int {
	return len(t.values[label])
}

// Labels returns the tracked labels in first-observed order.
func (t *CharacteristicTracker) Labels() []string {
	out := make([]string, len(t.labels))
	copy(out, t.labels)
	return out
}
