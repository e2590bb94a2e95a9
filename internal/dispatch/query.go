package dispatch

import (
	"strings"
	"unicode"

	"github.com/mohammad-safakhou/comicsearch/models"
)

// NormalizeQuery drops every rune that is not a letter, digit, underscore or whitespace,
// collapses whitespace runs to one space and trims the result.
func NormalizeQuery(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// BuildQuery composes "<volume name> <issue number> <year>" and normalizes it. Missing parts
// leave no gaps.
func BuildQuery(job models.SearchJob) string {
	return NormalizeQuery(job.VolumeName + " " + job.IssueNumber + " " + job.Year)
}
