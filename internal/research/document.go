package research

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"hypercog/internal/config"
	"hypercog/internal/logging"
)

// DocumentBackend searches indexed reference material through Gemini.
type DocumentBackend struct {
	client *genai.Client
	model  string
}

// NewDocumentBackend creates the document backend from config.
func NewDocumentBackend(ctx context.Context, cfg config.BackendConfig) (*DocumentBackend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &DocumentBackend{client: client, model: model}, nil
}

func (d *DocumentBackend) Name() string { return BackendDocument }

// Search asks the model to locate information in its indexed documents.
func (d *DocumentBackend) Search(ctx context.Context, query string) (string, error) {
	prompt := "Search for information about: " + query

	result, err := d.client.Models.GenerateContent(ctx, d.model,
		genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("document search failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("document search returned empty response")
	}
	logging.Get(logging.CategoryResearch).Info("document search %q: %d chars", truncate(query, 60), len(text))
	return text, nil
}
