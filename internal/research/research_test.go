package research

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"hypercog/internal/config"
)

func TestWebBackendSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req webChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		require.Equal(t, "system", req.Messages[0].Role)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "gRPC uses HTTP/2 framing."}},
			},
		})
	}))
	defer srv.Close()

	b := NewWebBackend(config.BackendConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "test-model",
	})

	out, err := b.Search(context.Background(), "how does grpc framing work")
	require.NoError(t, err)
	require.Equal(t, "gRPC uses HTTP/2 framing.", out)
}

func TestWebBackendAppendsCitationText(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("/cited", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Doc</title></head><body>
			<nav>skip this navigation</nav>
			<article>`+strings.Repeat("The retry budget caps client retries. ", 10)+`</article>
		</body></html>`)
	})
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices":   []map[string]any{{"message": map[string]any{"content": "summary"}}},
			"citations": []string{srv.URL + "/cited"},
		})
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	b := NewWebBackend(config.BackendConfig{APIKey: "k", BaseURL: srv.URL})

	out, err := b.Search(context.Background(), "retry budgets")
	require.NoError(t, err)
	require.Contains(t, out, "summary")
	require.Contains(t, out, "retry budget caps")
	require.NotContains(t, out, "skip this navigation")
}

func TestWebBackendHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := NewWebBackend(config.BackendConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := b.Search(context.Background(), "anything")
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
}

func TestCogneeBackendSearchTypes(t *testing.T) {
	var gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		var req cogneeSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotType = req.SearchType
		json.NewEncoder(w).Encode(cogneeSearchResponse{Results: []string{"a", "b"}})
	}))
	defer srv.Close()

	cfg := config.BackendConfig{BaseURL: srv.URL}

	graph := NewCogneeBackend(BackendGraph, cfg)
	out, err := graph.Search(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, "GRAPH_COMPLETION", gotType)
	require.Equal(t, "a\n\nb", out)

	vector := NewCogneeBackend(BackendVector, cfg)
	_, err = vector.Search(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, "SIMILARITY", gotType)
}

func TestCogneeBackendEmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(cogneeSearchResponse{})
	}))
	defer srv.Close()

	b := NewCogneeBackend(BackendVector, config.BackendConfig{BaseURL: srv.URL})
	out, err := b.Search(context.Background(), "q")
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestRegistryFallback(t *testing.T) {
	vec := &fakeBackend{name: BackendVector}
	r := NewRegistry(vec)

	// Preferred backend missing, falls back to vector.
	b, ok := r.Get(BackendGraph)
	require.True(t, ok)
	require.Equal(t, BackendVector, b.Name())

	b, ok = r.Get(BackendVector)
	require.True(t, ok)
	require.Equal(t, BackendVector, b.Name())
}

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get(BackendWeb)
	require.False(t, ok)
	require.Zero(t, r.Size())
}

func TestExtractReadableTextFallsBackToBody(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(
		`<html><body><p>` + strings.Repeat("plain paragraph text ", 10) + `</p></body></html>`))
	require.NoError(t, err)

	text := extractReadableText(doc)
	require.Contains(t, text, "plain paragraph text")
}

type fakeBackend struct {
	name   string
	result string
	err    error
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Search(ctx context.Context, query string) (string, error) {
	return f.result, f.err
}
