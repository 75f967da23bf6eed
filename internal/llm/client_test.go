package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCleanJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tc := range cases {
		if got := CleanJSON(tc.in); got != tc.want {
			t.Errorf("CleanJSON(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDecodeStrict(t *testing.T) {
	var out struct {
		Sufficient bool `json:"sufficient"`
	}
	if err := DecodeStrict("```json\n{\"sufficient\": true}\n```", &out); err != nil {
		t.Fatalf("DecodeStrict failed: %v", err)
	}
	if !out.Sufficient {
		t.Error("field not decoded")
	}

	if err := DecodeStrict("this is not json", &out); err == nil {
		t.Error("expected error on malformed JSON")
	}
	if err := DecodeStrict("", &out); err == nil {
		t.Error("expected error on empty response")
	}
}

func TestOpenAIClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"ok\":true}"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "gpt-4",
		Timeout: 5 * time.Second,
	})

	got, err := c.Complete(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != `{"ok":true}` {
		t.Errorf("Complete = %q", got)
	}
}

func TestOpenAIClientNoKey(t *testing.T) {
	c := NewOpenAIClient(OpenAIConfig{Model: "gpt-4"})
	if _, err := c.Complete(context.Background(), "hello"); err == nil {
		t.Error("expected error without API key")
	}
}

func TestOpenAIClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad request"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "gpt-4"})
	if _, err := c.Complete(context.Background(), "hello"); err == nil {
		t.Error("expected error on 400 status")
	}
}
