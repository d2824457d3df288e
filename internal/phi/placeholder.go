package phi

import (
	"fmt"
	"regexp"
)

// placeholderPattern matches both ordinal placeholders ([REDACTED_PHI_3])
// and labelled placeholders ([REDACTED_EMAIL]).
var placeholderPattern = regexp.MustCompile(`\[REDACTED_[A-Z0-9_]+\]`)

// ordinalPattern matches only the ordinal form produced by the deterministic path.
var ordinalPattern = regexp.MustCompile(`^\[REDACTED_PHI_\d+\]$`)

// Placeholder returns the deterministic replacement token for ordinal n.
func Placeholder(n int) string {
	return fmt.Sprintf("[REDACTED_PHI_%d]", n)
}

// LabelPlaceholder returns the labelled token the assisted path is asked to emit.
func LabelPlaceholder(c Category) string {
	return "[REDACTED_" + c.Label() + "]"
}

// FindPlaceholders returns every placeholder token in s, in order.
func FindPlaceholders(s string) []string {
	return placeholderPattern.FindAllString(s, -1)
}

// PlaceholderCategory resolves the category named by a placeholder token.
// Ordinal placeholders and unrecognised labels resolve to CategoryUnknown.
func PlaceholderCategory(token string) Category {
	if ordinalPattern.MatchString(token) || len(token) < len("[REDACTED_]") {
		return CategoryUnknown
	}
	label := token[len("[REDACTED_") : len(token)-1]
	c, _ := ParseLabel(label)
	return c
}

// placeholderSpans returns the byte ranges of placeholder tokens in text.
func placeholderSpans(text string) [][]int {
	return placeholderPattern.FindAllStringIndex(text, -1)
}
