package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"

	"hypercog/internal/config"
	"hypercog/internal/logging"
)

const webSystemPrompt = "You are a research assistant. Provide accurate, well-sourced information."

// WebBackend runs live web searches against a Perplexity-style
// chat-completions API. Cited pages are fetched and stripped to text so
// the consolidator sees source material, not just the model's summary.
type WebBackend struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	// Cap on cited pages fetched per query.
	maxCitations int
}

// NewWebBackend creates the web backend from config.
func NewWebBackend(cfg config.BackendConfig) *WebBackend {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.perplexity.ai"
	}
	return &WebBackend{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		model:        cfg.Model,
		httpClient:   &http.Client{Timeout: cfg.GetTimeout()},
		maxCitations: 3,
	}
}

func (w *WebBackend) Name() string { return BackendWeb }

type webChatRequest struct {
	Model    string       `json:"model"`
	Messages []webMessage `json:"messages"`
}

type webMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type webChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
}

// Search runs one online search query.
func (w *WebBackend) Search(ctx context.Context, query string) (string, error) {
	log := logging.Get(logging.CategoryResearch)

	reqBody := webChatRequest{
		Model: w.model,
		Messages: []webMessage{
			{Role: "system", Content: webSystemPrompt},
			{Role: "user", Content: query},
		},
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal web search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		w.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+w.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("web search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("web search HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed webChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode web search response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("web search returned no choices")
	}

	answer := parsed.Choices[0].Message.Content
	log.Info("web search %q: %d chars, %d citations", truncate(query, 60), len(answer), len(parsed.Citations))

	// Append stripped text from cited pages. Failures here only lose
	// supplementary material, never the answer itself.
	var b strings.Builder
	b.WriteString(answer)
	for i, url := range parsed.Citations {
		if i >= w.maxCitations {
			break
		}
		text, err := w.fetchPageText(ctx, url)
		if err != nil {
			log.Warn("citation fetch failed for %s: %v", url, err)
			continue
		}
		if text == "" {
			continue
		}
		b.WriteString("\n\n[source: ")
		b.WriteString(url)
		b.WriteString("]\n")
		b.WriteString(text)
	}
	return b.String(), nil
}

// fetchPageText fetches a URL and extracts readable text from its main
// content sections.
func (w *WebBackend) fetchPageText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "hypercog-research/1.0")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	return extractReadableText(doc), nil
}

// extractReadableText pulls text out of article/main/section elements,
// falling back to the whole body when a page has no semantic structure.
func extractReadableText(doc *html.Node) string {
	var sections []string
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "nav", "footer", "header":
				return
			case "article", "main", "section":
				if text := textContent(n); len(text) > 100 {
					sections = append(sections, truncate(text, 2000))
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)

	if len(sections) == 0 {
		if text := textContent(doc); len(text) > 100 {
			return truncate(text, 2000)
		}
		return ""
	}
	return strings.Join(sections, "\n\n")
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var traverse func(*html.Node)
	traverse = func(node *html.Node) {
		if node.Type == html.ElementNode {
			switch node.Data {
			case "script", "style":
				return
			}
		}
		if node.Type == html.TextNode {
			trimmed := strings.TrimSpace(node.Data)
			if trimmed != "" {
				sb.WriteString(trimmed)
				sb.WriteString(" ")
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(n)
	return strings.TrimSpace(sb.String())
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
