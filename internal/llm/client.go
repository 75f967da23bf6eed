// Package llm provides clients for the language-model backend used by all
// judgment agents (evaluation, gap analysis, consolidation, decomposition,
// optimization).
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Client defines the interface for language-model providers.
// Implementations must return the raw completion text; parsing into a
// structured shape is the caller's responsibility and must fail explicitly
// on mismatch.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// CleanJSON removes markdown code fences from a model response.
// Models frequently wrap JSON output in ```json fences despite instructions.
func CleanJSON(resp string) string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	return strings.TrimSpace(resp)
}

// DecodeStrict unmarshals a model response into out after fence cleanup.
// Unknown fields are tolerated (models pad responses), but malformed JSON is
// surfaced, never coerced.
func DecodeStrict(resp string, out interface{}) error {
	cleaned := CleanJSON(resp)
	if cleaned == "" {
		return fmt.Errorf("empty response")
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	return nil
}
