// Package textutil normalises conversational text for phrase matching and
// lexical scoring, and pulls JSON objects out of free-form model replies.
package textutil

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	wordPattern  = regexp.MustCompile(`[\p{L}]+`)
	digitPattern = regexp.MustCompile(`\d[\d,]*`)
	moneyPattern = regexp.MustCompile(`[$₹€£]\s?\d[\d,]*(?:\.\d+)?`)
)

// Normalize applies NFKC and Unicode case folding so "Can You Clarify?" and
// "can you clarify?" compare equal.
func Normalize(s string) string {
	// Casers are stateful; build one per call so Normalize stays goroutine-safe.
	return cases.Fold().String(norm.NFKC.String(s))
}

// Words returns the normalised alphabetic tokens of s in order.
func Words(s string) []string {
	return wordPattern.FindAllString(Normalize(s), -1)
}

// WordSet returns the distinct normalised tokens of s.
func WordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range Words(s) {
		set[w] = struct{}{}
	}
	return set
}

// ContainsAny reports whether the normalised text contains any of phrases.
func ContainsAny(text string, phrases ...string) bool {
	_, ok := FirstMatch(text, phrases...)
	return ok
}

// FirstMatch returns the first phrase, in the given order, found in text.
func FirstMatch(text string, phrases ...string) (string, bool) {
	normalized := Normalize(text)
	for _, p := range phrases {
		if p == "" {
			continue
		}
		if strings.Contains(normalized, Normalize(p)) {
			return p, true
		}
	}
	return "", false
}

// HasDigits reports whether s carries at least one number.
func HasDigits(s string) bool {
	return digitPattern.MatchString(s)
}

// Numbers returns the numeric literals in s with thousands separators removed.
func Numbers(s string) []string {
	found := digitPattern.FindAllString(s, -1)
	for i, n := range found {
		found[i] = strings.ReplaceAll(n, ",", "")
	}
	return found
}

// MoneyAmounts returns currency amounts such as "$100" or "₹2,500" found in s.
func MoneyAmounts(s string) []string {
	return moneyPattern.FindAllString(s, -1)
}
