package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"hypercog/internal/tokens"
)

func newTestOptimizer(t *testing.T, llm *mockLLM) *Optimizer {
	t.Helper()
	return NewOptimizer(llm, testPromptStore(t), tokens.NewCounter())
}

func TestOptimizeZonesAndCounts(t *testing.T) {
	llm := newMockLLM(`{
		"task_zone": "implement the flow",
		"core_zone": "the essential context",
		"supporting_zone": "background material",
		"gotchas_zone": "never log the verifier",
		"actions": ["removed duplicate section", "compressed file listing"]
	}`)
	o := newTestOptimizer(t, llm)

	out := o.Optimize(context.Background(), TaskDescriptor{Text: "implement the flow"}, "raw context here")
	require.Equal(t, "never log the verifier", out.GotchasZone)
	require.Len(t, out.Actions, 2)
	require.Positive(t, out.OriginalTokens)
	require.Positive(t, out.OptimizedTokens)

	// Gotchas render last, closest to the point of execution.
	rendered := out.Render()
	require.Greater(t, strings.Index(rendered, "never log the verifier"), strings.Index(rendered, "the essential context"))
	require.True(t, strings.HasSuffix(strings.TrimSpace(rendered), "never log the verifier"))
}

func TestOptimizeDegradesToIdentityLayout(t *testing.T) {
	llm := newMockLLM("definitely not json")
	o := newTestOptimizer(t, llm)

	out := o.Optimize(context.Background(), TaskDescriptor{Text: "task", Intent: "debugging"}, "full context")
	require.Equal(t, "full context", out.CoreZone)
	require.Contains(t, out.TaskZone, "task")
	require.Contains(t, out.TaskZone, "debugging")
	require.Equal(t, []string{"pass-through"}, out.Actions)
	require.Positive(t, out.OptimizedTokens)
}

func TestOptimizeEmptyCoreZoneDegrades(t *testing.T) {
	// A layout that drops the core context is unusable.
	llm := newMockLLM(`{"task_zone": "t", "core_zone": "", "gotchas_zone": "g"}`)
	o := newTestOptimizer(t, llm)

	out := o.Optimize(context.Background(), TaskDescriptor{Text: "task"}, "the context")
	require.Equal(t, "the context", out.CoreZone)
	require.Equal(t, []string{"pass-through"}, out.Actions)
}

func TestRenderSkipsEmptyZones(t *testing.T) {
	out := &OptimizedContext{TaskZone: "t", CoreZone: "c"}
	rendered := out.Render()
	require.NotContains(t, rendered, "Supporting Context")
	require.NotContains(t, rendered, "Critical Gotchas")
}
