// Package search implements the title filter and display ordering used by
// the omnibar and wiki-link autocomplete.
package search

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/starford/notetaker/internal/models"
)

// CandidateLimit caps the number of autocomplete suggestions.
const CandidateLimit = 8

var digitsRe = regexp.MustCompile(`[0-9]+`)

var folder = cases.Fold()

// Fold normalises s for case-insensitive comparison (NFKC, then Unicode
// case folding).
func Fold(s string) string {
	return folder.String(norm.NFKC.String(s))
}

// Contains reports whether haystack contains needle, ignoring case.
func Contains(haystack, needle string) bool {
	return strings.Contains(Fold(haystack), Fold(needle))
}

// Filter returns the notes whose title contains query, ignoring case.
// An empty query yields an empty result: it is the "no active filter"
// sentinel, not "match everything".
func Filter(notes []models.Note, query string) []models.Note {
	if query == "" {
		return nil
	}
	q := Fold(query)
	var out []models.Note
	for _, n := range notes {
		if strings.Contains(Fold(n.Title), q) {
			out = append(out, n)
		}
	}
	return out
}

// Sorted returns a copy of notes ordered by the numeric part of the id,
// highest first. Ids without digits count as 0. Ties keep input order.
func Sorted(notes []models.Note) []models.Note {
	out := make([]models.Note, len(notes))
	copy(out, notes)
	keys := make(map[string]string, len(out))
	for _, n := range out {
		keys[n.ID] = numericKey(n.ID)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return compareDigits(keys[out[i].ID], keys[out[j].ID]) > 0
	})
	return out
}

// View is the list a caller should display for the current omnibar query:
// the filtered notes when the filter matched something, the sorted
// collection otherwise.
func View(notes []models.Note, query string) []models.Note {
	if filtered := Filter(notes, query); len(filtered) > 0 {
		return filtered
	}
	return Sorted(notes)
}

// Candidates returns up to CandidateLimit notes whose title contains query.
// An empty query returns the first CandidateLimit notes unfiltered.
func Candidates(notes []models.Note, query string) []models.Note {
	var out []models.Note
	if query == "" {
		n := min(len(notes), CandidateLimit)
		out = make([]models.Note, n)
		copy(out, notes[:n])
		return out
	}
	q := Fold(query)
	for _, n := range notes {
		if strings.Contains(Fold(n.Title), q) {
			out = append(out, n)
			if len(out) == CandidateLimit {
				break
			}
		}
	}
	return out
}

// numericKey extracts the first run of digits in id without leading zeros.
func numericKey(id string) string {
	return strings.TrimLeft(digitsRe.FindString(id), "0")
}

// compareDigits compares two leading-zero-free digit strings as integers of
// arbitrary size.
func compareDigits(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
