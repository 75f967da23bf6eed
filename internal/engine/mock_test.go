package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hypercog/internal/prompts"
	"hypercog/internal/research"
)

// reply is one scripted LLM turn.
type reply struct {
	text string
	err  error
}

// mockLLM plays back scripted responses in order.
type mockLLM struct {
	mu      sync.Mutex
	replies []reply
	calls   []string
}

func newMockLLM(responses ...string) *mockLLM {
	m := &mockLLM{}
	for _, r := range responses {
		m.replies = append(m.replies, reply{text: r})
	}
	return m
}

func (m *mockLLM) push(r reply) { m.replies = append(m.replies, r) }

func (m *mockLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, "", prompt)
}

func (m *mockLLM) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, user)
	if len(m.replies) == 0 {
		return "{}", nil
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r.text, r.err
}

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// stubBackend is a scriptable research backend.
type stubBackend struct {
	name  string
	text  string
	err   error
	delay time.Duration

	mu    sync.Mutex
	calls int
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Search(ctx context.Context, query string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.text, s.err
}

func (s *stubBackend) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// sleeperBackend ignores cancellation entirely, modeling a
// non-cooperative backend.
type sleeperBackend struct {
	name  string
	delay time.Duration
}

func (s *sleeperBackend) Name() string { return s.name }

func (s *sleeperBackend) Search(ctx context.Context, query string) (string, error) {
	time.Sleep(s.delay)
	return "too late", nil
}

func testPromptStore(t *testing.T) *prompts.Store {
	t.Helper()
	s, err := prompts.NewStore("")
	require.NoError(t, err)
	return s
}

func registryOf(backends ...research.Backend) *research.Registry {
	return research.NewRegistry(backends...)
}
