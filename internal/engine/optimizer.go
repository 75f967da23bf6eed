package engine

import (
	"context"
	"strings"

	"hypercog/internal/llm"
	"hypercog/internal/logging"
	"hypercog/internal/prompts"
	"hypercog/internal/tokens"
)

// Optimizer produces the terminal four-zone context layout. Every
// successful pipeline path passes through it exactly once.
type Optimizer struct {
	client  llm.Client
	prompts *prompts.Store
	counter *tokens.Counter
}

// NewOptimizer creates an optimizer sharing the engine's token counter.
func NewOptimizer(client llm.Client, store *prompts.Store, counter *tokens.Counter) *Optimizer {
	return &Optimizer{client: client, prompts: store, counter: counter}
}

type optimizerResponse struct {
	TaskZone       string   `json:"task_zone"`
	CoreZone       string   `json:"core_zone"`
	SupportingZone string   `json:"supporting_zone"`
	GotchasZone    string   `json:"gotchas_zone"`
	Actions        []string `json:"actions"`
}

// Optimize arranges the context into the four zones, gotchas last. It
// never fails: when the model call or parse fails, the layout degrades
// to an identity arrangement with the full context in the core zone.
func (o *Optimizer) Optimize(ctx context.Context, task TaskDescriptor, contextText string) *OptimizedContext {
	log := logging.Get(logging.CategoryOptimize)
	timer := logging.StartTimer(logging.CategoryOptimize, "optimize")
	defer timer.Stop()

	original := o.counter.CountAll(task.Text, contextText)

	parsed, err := o.callModel(ctx, task, contextText)
	if err != nil {
		log.Warn("optimization degraded to identity layout: %v", err)
		out := o.identityLayout(task, contextText)
		out.OriginalTokens = original
		out.OptimizedTokens = o.counter.Count(out.Render())
		return out
	}

	out := &OptimizedContext{
		TaskZone:       parsed.TaskZone,
		CoreZone:       parsed.CoreZone,
		SupportingZone: parsed.SupportingZone,
		GotchasZone:    parsed.GotchasZone,
		Actions:        parsed.Actions,
		OriginalTokens: original,
	}
	if strings.TrimSpace(out.TaskZone) == "" {
		out.TaskZone = taskZoneText(task)
	}
	if strings.TrimSpace(out.CoreZone) == "" {
		// A layout that drops the core context is not usable.
		log.Warn("optimization returned empty core zone, degrading to identity layout")
		out = o.identityLayout(task, contextText)
		out.OriginalTokens = original
	}
	out.OptimizedTokens = o.counter.Count(out.Render())

	logging.Optimize("optimization: %d -> %d tokens, %d actions", out.OriginalTokens, out.OptimizedTokens, len(out.Actions))
	return out
}

func (o *Optimizer) callModel(ctx context.Context, task TaskDescriptor, contextText string) (*optimizerResponse, error) {
	var b strings.Builder
	b.WriteString("TASK:\n")
	b.WriteString(task.Text)
	if task.Intent != "" {
		b.WriteString("\n\nINTENT: ")
		b.WriteString(task.Intent)
	}
	b.WriteString("\n\nCONTEXT:\n")
	b.WriteString(contextText)

	resp, err := o.client.CompleteWithSystem(ctx, o.prompts.Get(prompts.AgentOptimizer), b.String())
	if err != nil {
		return nil, err
	}
	var parsed optimizerResponse
	if err := llm.DecodeStrict(resp, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

func (o *Optimizer) identityLayout(task TaskDescriptor, contextText string) *OptimizedContext {
	return &OptimizedContext{
		TaskZone: taskZoneText(task),
		CoreZone: contextText,
		Actions:  []string{"pass-through"},
	}
}

func taskZoneText(task TaskDescriptor) string {
	if task.Intent == "" {
		return task.Text
	}
	return task.Text + "\n\nIntent: " + task.Intent
}
