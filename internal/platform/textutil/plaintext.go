package textutil

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// PlainText strips markup from free-form user input, collapses whitespace runs and trims the
// result. Entities escaped by the sanitiser are decoded back so the stored value stays readable.
func PlainText(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}
	cleaned := html.UnescapeString(strictPolicy.Sanitize(input))
	return strings.Join(strings.FieldsFunc(cleaned, unicode.IsSpace), " ")
}

// Truncate shortens s to at most limit runes.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
