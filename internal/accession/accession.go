// SPDX-License-Identifier: Apache-2.0

// Package accession derives the expression-archive accession of an experiment.
package accession

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gemaraproj/hca2mtab/internal/bundle"
	"github.com/gemaraproj/hca2mtab/internal/config"
)

// CandidatePrefix starts every locally minted accession.
const CandidatePrefix = "E-CAND-"

var (
	linkAccession = regexp.MustCompile(`^.*?/(E-\w{4}-\d+)`)
	candidate     = regexp.MustCompile(`^E-CAND-(\d+)$`)
)

// FromProject returns the accessions the project document names, concatenated
// in discovery order, or "" when it names none.
//
// The old single-valued label wins over the new list unless it holds the
// placeholder; accessions embedded in supplementary links are added after both.
func FromProject(project bundle.Document, labels config.AccessionLabels) string {
	if project == nil {
		return ""
	}
	var found []string
	add := func(acc string) {
		if acc == "" {
			return
		}
		for _, f := range found {
			if f == acc {
				return
			}
		}
		found = append(found, acc)
	}

	if old, ok := project[labels.OldLabel]; ok {
		if s, _ := old.(string); s != labels.Placeholder {
			add(s)
		}
	} else if list, ok := project[labels.NewLabel].([]any); ok {
		for _, item := range list {
			s, _ := item.(string)
			add(s)
		}
	}
	if links, ok := project[labels.SupplementaryLinks].([]any); ok {
		for _, item := range links {
			s, _ := item.(string)
			if m := linkAccession.FindStringSubmatch(s); m != nil {
				add(m[1])
			}
		}
	}
	return strings.Join(found, "")
}

// Candidate formats the n-th locally minted accession.
func Candidate(n int) string {
	return fmt.Sprintf("%s%d", CandidatePrefix, n)
}

// CandidateNumber returns n for "E-CAND-<n>".
func CandidateNumber(acc string) (int, bool) {
	m := candidate.FindStringSubmatch(acc)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// NextCandidate mints the accession after the highest candidate in existing.
func NextCandidate(existing []string) string {
	max := 0
	for _, acc := range existing {
		if n, ok := CandidateNumber(acc); ok && n > max {
			max = n
		}
	}
	return Candidate(max + 1)
}
