package report

import "fmt"

// Pluralizer turns a count and a singular noun into a display fragment.
type Pluralizer interface {
	Pluralize(count int, singular string) string
}

// EnglishPluralizer appends "s" for any count other than one. It is an
// English-only heuristic and does not handle irregular nouns.
type EnglishPluralizer struct{}

func (EnglishPluralizer) Pluralize(count int, singular string) string {
	if count == 1 {
		return fmt.Sprintf("%d %s", count, singular)
	}
	return fmt.Sprintf("%d %ss", count, singular)
}
