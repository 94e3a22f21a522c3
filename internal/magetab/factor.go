// SPDX-License-Identifier: Apache-2.0

package magetab

import (
	"regexp"
	"strings"
)

const (
	characteristicMarker = "Characteristics"
	factorMarker         = "FactorValue"
	sourceNameLabel      = "Source Name"
	singleCellFactor     = "FactorValue[single cell identifier]"
)

var bracketed = regexp.MustCompile(`\[(.*)\]`)

// Factor is a derived FactorValue column. Each row's factor cell is a copy of
// the cell at Source.
type Factor struct {
	Label  string
	Name   string
	Source int
}

// deriveFactors returns the factor columns of one technology: one per tracked
// characteristic present in headers with more than one distinct value, plus the
// single-cell identifier factor for technologies matching singleCell.
func deriveFactors(headers []string, tracker *CharacteristicTracker, technology string, singleCell *regexp.Regexp) ([]Factor, error) {
	index := make(map[string]int, len(headers))
	for i := len(headers) - 1; i >= 0; i-- {
		index[headers[i]] = i
	}

	var factors []Factor
	for _, label := range tracker.Labels() {
		src, ok := index[label]
		if !ok || tracker.Distinct(label) <= 1 {
			continue
		}
		f, err := newFactor(strings.Replace(label, characteristicMarker, factorMarker, 1), src)
		if err != nil {
			return nil, err
		}
		factors = append(factors, f)
	}

	if singleCell != nil && singleCell.MatchString(technology) {
		src, ok := index[sourceNameLabel]
		if !ok {
			return nil, &TranslationError{
				Kind:    StructuralConfiguration,
				Message: "single cell identifier factor requires a " + sourceNameLabel + " column",
			}
		}
		f, err := newFactor(singleCellFactor, src)
		if err != nil {
			return nil, err
		}
		factors = append(factors, f)
	}
	return factors, nil
}

func newFactor(label string, source int) (Factor, error) {
	m := bracketed.FindStringSubmatch(label)
	if m == nil {
		return Factor{}, &TranslationError{
			Kind:    StructuralConfiguration,
			Message: "failed to extract factor name from " + label,
		}
	}
	return Factor{Label: label, Name: m[1], Source: source}, nil
}
