package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"hypercog/internal/config"
	"hypercog/internal/logging"
)

// Search types understood by the knowledge service.
const (
	searchTypeGraph      = "GRAPH_COMPLETION"
	searchTypeSimilarity = "SIMILARITY"
)

// CogneeBackend talks to a cognee-style knowledge service over HTTP. The
// same client serves both the knowledge-graph and vector-similarity
// backends; the search type selects the retrieval mode.
type CogneeBackend struct {
	name       string
	searchType string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewCogneeBackend creates a graph or vector backend from config. name
// must be BackendGraph or BackendVector.
func NewCogneeBackend(name string, cfg config.BackendConfig) *CogneeBackend {
	searchType := searchTypeSimilarity
	if name == BackendGraph {
		searchType = searchTypeGraph
	}
	return &CogneeBackend{
		name:       name,
		searchType: searchType,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.GetTimeout()},
	}
}

func (c *CogneeBackend) Name() string { return c.name }

type cogneeSearchRequest struct {
	SearchType string `json:"search_type"`
	Query      string `json:"query"`
}

type cogneeSearchResponse struct {
	Results []string `json:"results"`
	Error   string   `json:"error,omitempty"`
}

// Search runs one query against the knowledge service.
func (c *CogneeBackend) Search(ctx context.Context, query string) (string, error) {
	data, err := json.Marshal(cogneeSearchRequest{
		SearchType: c.searchType,
		Query:      query,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s search request: %w", c.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/search", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s search request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s search HTTP %d: %s", c.name, resp.StatusCode, truncate(string(body), 200))
	}

	var parsed cogneeSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode %s search response: %w", c.name, err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("%s search error: %s", c.name, parsed.Error)
	}
	if len(parsed.Results) == 0 {
		return "", nil
	}

	out := strings.Join(parsed.Results, "\n\n")
	logging.Get(logging.CategoryResearch).Info("%s search %q: %d results", c.name, truncate(query, 60), len(parsed.Results))
	return out, nil
}
