// Package tokens provides token estimation for context budget management.
// Every size decision in the engine goes through the same Counter so that
// budgets computed on different artifacts stay comparable.
package tokens

import (
	"strings"
	"unicode/utf8"
)

// Counter estimates token counts from text.
// The heuristic is calibrated for current frontier tokenizers (~4 characters
// per token).
type Counter struct {
	charsPerToken float64
}

// NewCounter creates a counter with default calibration.
func NewCounter() *Counter {
	return &Counter{charsPerToken: 4.0}
}

// Count estimates tokens in a string.
func (c *Counter) Count(s string) int {
	if s == "" {
		return 0
	}
	// Rune count for proper unicode handling
	runeCount := utf8.RuneCountInString(s)
	return int(float64(runeCount) / c.charsPerToken)
}

// CountAll estimates total tokens across multiple strings.
func (c *Counter) CountAll(parts ...string) int {
	total := 0
	for _, p := range parts {
		total += c.Count(p)
	}
	return total
}

// Truncate cuts text down so its estimate fits within maxTokens.
// Truncation happens on rune boundaries; a best effort is made to end on a
// word boundary when one is close.
func (c *Counter) Truncate(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if c.Count(s) <= maxTokens {
		return s
	}

	maxRunes := int(float64(maxTokens) * c.charsPerToken)
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	cut := string(runes[:maxRunes])

	// Back up to the last whitespace if it is near the cut point, so we do
	// not hand the model a sheared word.
	if idx := strings.LastIndexAny(cut, " \t\n"); idx > maxRunes-32 && idx > 0 {
		cut = cut[:idx]
	}
	return cut
}
