// Package parser extracts [[wiki links]] from note content and handles the
// text side of link autocompletion.
package parser

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/starford/notetaker/internal/models"
)

// wikilinkRe matches [[Target]] and [[Target|Alias]]. Brackets are excluded
// from the inner text so that stray leading '[' characters are skipped.
var wikilinkRe = regexp.MustCompile(`\[\[([^\[\]]*)\]\]`)

// Parse returns one LinkRef per wiki-link token in content, in order of
// first occurrence. TargetID is left empty; resolution is the link graph's
// job. Parsing is pure: the same input always yields the same output.
func Parse(content, sourceID string) []models.LinkRef {
	matches := wikilinkRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]models.LinkRef, 0, len(matches))
	for _, m := range matches {
		target, alias, hasAlias := strings.Cut(m[1], "|")
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		display := target
		if hasAlias {
			if a := strings.TrimSpace(alias); a != "" {
				display = a
			}
		}
		out = append(out, models.LinkRef{
			SourceID:       sourceID,
			TargetTitleRaw: target,
			DisplayText:    display,
		})
	}
	return out
}

// Slug normalises a title for best-effort link matching: everything but
// letters and digits is dropped and the rest is lowercased.
func Slug(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range title {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Span is a piece of content, either plain text or a wiki link.
type Span struct {
	Text string
	Link *models.LinkRef
}

// Split cuts content into plain and link spans. Concatenating the Text of
// every span yields content again.
func Split(content, sourceID string) []Span {
	idx := wikilinkRe.FindAllStringSubmatchIndex(content, -1)
	var out []Span
	last := 0
	for _, m := range idx {
		refs := Parse(content[m[0]:m[1]], sourceID)
		if len(refs) == 0 {
			continue
		}
		if m[0] > last {
			out = append(out, Span{Text: content[last:m[0]]})
		}
		ref := refs[0]
		out = append(out, Span{Text: content[m[0]:m[1]], Link: &ref})
		last = m[1]
	}
	if last < len(content) {
		out = append(out, Span{Text: content[last:]})
	}
	return out
}
