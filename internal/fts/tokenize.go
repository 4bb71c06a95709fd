package fts

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var fold = cases.Fold()

// Tokenize splits text into normalized terms. Text is NFKC-normalized and
// case-folded, then split on every rune that is neither a letter nor a
// digit.
func Tokenize(text string) []string {
	s := fold.String(norm.NFKC.String(text))
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
