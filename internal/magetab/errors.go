// SPDX-License-Identifier: Apache-2.0

package magetab

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a fatal translation error.
type ErrorKind int

const (
	// CardinalityMismatch: a bundle's donor and cell-suspension counts cannot be paired.
	CardinalityMismatch ErrorKind = iota + 1
	// UnresolvedTechnology: a row could not be attributed to a technology.
	UnresolvedTechnology
	// StructuralConfiguration: a block or factor rule cannot find the label it is built around.
	StructuralConfiguration
	// ColumnLayout: a row does not line up with its technology's header.
	ColumnLayout
)

func (k ErrorKind) String() string {
	switch k {
	case CardinalityMismatch:
		return "cardinality mismatch"
	case UnresolvedTechnology:
		return "unresolved technology"
	case StructuralConfiguration:
		return "structural configuration"
	case ColumnLayout:
		return "column layout"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// TranslationError aborts the translation of one experiment.
type TranslationError struct {
	Kind      ErrorKind
	Accession string
	// Bundle is empty for errors raised after all bundles were read.
	Bundle  string
	Message string
}

func (e *TranslationError) Error() string {
	if e.Bundle != "" {
		return fmt.Sprintf("%s: %s (accession %s, bundle %s)", e.Kind, e.Message, e.Accession, e.Bundle)
	}
	return fmt.Sprintf("%s: %s (accession %s)", e.Kind, e.Message, e.Accession)
}

// IsTranslationError reports whether err wraps a *TranslationError.
func IsTranslationError(err error) bool {
	var te *TranslationError
	return errors.As(err, &te)
}

func newError(kind ErrorKind, accession, bundleURL, format string, args ...any) *TranslationError {
	return &TranslationError{
		Kind:      kind,
		Accession: accession,
		Bundle:    bundleURL,
		Message:   fmt.Sprintf(format, args...),
	}
}
