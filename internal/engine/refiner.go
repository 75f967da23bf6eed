package engine

import (
	"context"
	"fmt"
	"strings"

	"hypercog/internal/llm"
	"hypercog/internal/logging"
	"hypercog/internal/prompts"
	"hypercog/internal/research"
)

// Refiner runs the bounded hermeneutic loop: each iteration reconsiders
// the known gaps in light of the accumulated understanding, alternating
// between gap-level and task-level views.
type Refiner struct {
	client        llm.Client
	prompts       *prompts.Store
	maxIterations int
}

// NewRefiner creates a refiner with the given iteration cap.
func NewRefiner(client llm.Client, store *prompts.Store, maxIterations int) *Refiner {
	if maxIterations < 1 {
		maxIterations = 1
	}
	return &Refiner{client: client, prompts: store, maxIterations: maxIterations}
}

// RefineOutcome is the loop's result. Degraded marks a fail-soft exit
// where an iteration's backend call failed and the prior gap set was
// reused.
type RefineOutcome struct {
	GapSet     GapSet
	Iterations int
	Degraded   bool
}

type thinkingResponse struct {
	Understanding string        `json:"understanding"`
	Gaps          []gapResponse `json:"gaps"`
	Done          bool          `json:"done"`
}

type gapResponse struct {
	Description string `json:"description"`
	Depth       string `json:"depth"`
	Breadth     string `json:"breadth"`
	Priority    int    `json:"priority"`
}

// Refine deepens the evaluation's missing elements into classified gaps.
// The loop runs at most maxIterations; the model's early-exit signal is
// advisory and honored, but the cap is the binding constraint. A failed
// iteration reuses the previous iteration's gap set and stops the loop.
func (r *Refiner) Refine(ctx context.Context, task TaskDescriptor, eval *Evaluation) *RefineOutcome {
	log := logging.Get(logging.CategoryThinking)
	timer := logging.StartTimer(logging.CategoryThinking, "refine")
	defer timer.Stop()

	outcome := &RefineOutcome{
		GapSet: gapSetFromEvaluation(eval),
	}

	system := r.prompts.Get(prompts.AgentDeepThinking)
	for i := 0; i < r.maxIterations; i++ {
		user := r.buildPrompt(task, eval, outcome.GapSet, i)
		logging.ThinkingDebug("iteration %d prompt: %d chars, %d prior gaps",
			i+1, len(user), len(outcome.GapSet.Gaps))

		resp, err := r.client.CompleteWithSystem(ctx, system, user)
		if err == nil {
			var parsed thinkingResponse
			err = llm.DecodeStrict(resp, &parsed)
			if err == nil {
				outcome.GapSet = r.buildGapSet(i+1, parsed, eval)
				outcome.Iterations = i + 1
				logging.Thinking("iteration %d: %d gaps, done=%v", i+1, len(outcome.GapSet.Gaps), parsed.Done)
				if parsed.Done {
					break
				}
				continue
			}
		}
		// Fail-soft: keep whatever the prior iteration produced.
		log.Warn("refinement iteration %d failed, reusing prior gap set: %v", i+1, err)
		outcome.Degraded = true
		break
	}

	return outcome
}

func (r *Refiner) buildPrompt(task TaskDescriptor, eval *Evaluation, prior GapSet, iteration int) string {
	var b strings.Builder
	b.WriteString("TASK:\n")
	b.WriteString(task.Text)
	b.WriteString("\n\nMISSING ELEMENTS:\n")
	for _, m := range eval.MissingElements {
		b.WriteString("- ")
		b.WriteString(m)
		b.WriteString("\n")
	}
	if iteration > 0 {
		b.WriteString("\nACCUMULATED UNDERSTANDING (iteration ")
		fmt.Fprintf(&b, "%d", iteration)
		b.WriteString("):\n")
		b.WriteString(prior.Understanding)
		b.WriteString("\n\nCURRENT GAPS:\n")
		for _, g := range prior.Gaps {
			fmt.Fprintf(&b, "- [%s/%s p%d] %s\n", g.Depth, g.Breadth, g.Priority, g.Description)
		}
		b.WriteString("\nReconsider each gap against the whole task and the whole task against each gap. Refine, merge, or split gaps as understanding improves.")
	}
	return b.String()
}

func (r *Refiner) buildGapSet(iteration int, parsed thinkingResponse, eval *Evaluation) GapSet {
	gs := GapSet{
		Iteration:     iteration,
		Understanding: parsed.Understanding,
		Gaps:          make([]Gap, 0, len(parsed.Gaps)),
	}
	for _, g := range parsed.Gaps {
		gs.Gaps = append(gs.Gaps, Gap{
			Description:      g.Description,
			Depth:            normalizeDepth(g.Depth),
			Breadth:          normalizeBreadth(g.Breadth),
			Priority:         clampPriority(g.Priority),
			PreferredBackend: ClassifyBackend(g.Description),
		})
	}
	if len(gs.Gaps) == 0 {
		// The model produced no gaps; fall back to the evaluation's.
		gs.Gaps = gapSetFromEvaluation(eval).Gaps
	}
	return gs
}

// gapSetFromEvaluation builds the iteration-zero gap set directly from
// the evaluation's missing elements. It is both the loop seed and the
// degraded result when the very first iteration fails.
func gapSetFromEvaluation(eval *Evaluation) GapSet {
	gs := GapSet{Understanding: eval.Reasoning}
	for _, m := range eval.MissingElements {
		gs.Gaps = append(gs.Gaps, Gap{
			Description:      m,
			Depth:            DepthMedium,
			Breadth:          BreadthMedium,
			Priority:         5,
			PreferredBackend: ClassifyBackend(m),
		})
	}
	return gs
}

// ClassifyBackend deterministically assigns a research backend to a gap
// description. The model never chooses the backend.
func ClassifyBackend(description string) string {
	lower := strings.ToLower(description)

	for _, kw := range []string{"documentation", "docs", "api reference", "specification", "manual", "readme", "rfc"} {
		if strings.Contains(lower, kw) {
			return research.BackendDocument
		}
	}
	for _, kw := range []string{"relationship", "depends on", "dependency", "related to", "interacts", "connects", "architecture", "between"} {
		if strings.Contains(lower, kw) {
			return research.BackendGraph
		}
	}
	for _, kw := range []string{"latest", "current", "recent", "news", "release", "changelog", "version", "deprecat", "today"} {
		if strings.Contains(lower, kw) {
			return research.BackendWeb
		}
	}
	return research.BackendVector
}

func normalizeDepth(s string) GapDepth {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(DepthSurface):
		return DepthSurface
	case string(DepthDeep):
		return DepthDeep
	default:
		return DepthMedium
	}
}

func normalizeBreadth(s string) GapBreadth {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(BreadthNarrow):
		return BreadthNarrow
	case string(BreadthBroad):
		return BreadthBroad
	default:
		return BreadthMedium
	}
}

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}
