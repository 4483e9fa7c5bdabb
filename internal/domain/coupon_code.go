package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FoldCouponCode trims and lower-cases a coupon code. The mapping is the simple Unicode
// lower-casing Postgres lower() applies, so "ß" stays "ß" in every store.
func FoldCouponCode(code string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(code))
}
