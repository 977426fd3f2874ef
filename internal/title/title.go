// Package title implements the filename validity policy for note titles.
package title

import (
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/notetaker/internal/apperr"
)

// MaxLength is the longest title accepted, in characters.
const MaxLength = 255

var pattern = regexp.MustCompile(`^[a-zA-Z0-9_.\- ()]{1,255}$`)

var rules = []validation.Rule{
	validation.Required,
	validation.Length(1, MaxLength),
	validation.Match(pattern).Error("must contain only letters, digits, spaces, '_', '.', '-', '(' and ')'"),
}

// Validate checks a proposed title against the policy. Whitespace-only
// titles are rejected. The returned error wraps apperr.ErrInvalidTitle.
func Validate(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: title is empty", apperr.ErrInvalidTitle)
	}
	if err := validation.Validate(s, rules...); err != nil {
		return fmt.Errorf("%w: %q %s", apperr.ErrInvalidTitle, s, err.Error())
	}
	return nil
}

// ValidQuery reports whether a filter query is acceptable. The empty query
// is always accepted: it means "no active filter".
func ValidQuery(q string) bool {
	return q == "" || pattern.MatchString(q)
}
