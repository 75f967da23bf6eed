// Package engine implements the context-enrichment decision pipeline:
// evaluate whether context is sufficient for a task, refine gaps, fan
// out research, consolidate findings, decompose oversized work, and
// optimize the final context for hand-off.
package engine

import "strings"

// ============================================================================
// TASK & EVALUATION
// ============================================================================

// TaskDescriptor is the immutable task input to the whole pipeline.
type TaskDescriptor struct {
	Text   string `json:"text"`
	Intent string `json:"intent,omitempty"`
}

// SizeAssessment is the evaluator's coarse size verdict.
type SizeAssessment string

const (
	SizeManageable SizeAssessment = "manageable"
	SizeTooLarge   SizeAssessment = "too_large"
)

// Evaluation is one sufficiency judgment. Instances are never mutated;
// re-evaluation produces a new Evaluation.
//
// Sufficient is true exactly when MissingElements is empty.
type Evaluation struct {
	Sufficient      bool           `json:"sufficient"`
	Confidence      float64        `json:"confidence"`
	Reasoning       string         `json:"reasoning"`
	MissingElements []string       `json:"missing_elements"`
	SizeAssessment  SizeAssessment `json:"size_assessment"`
}

// ============================================================================
// GAP REFINEMENT
// ============================================================================

// GapDepth grades how deep the missing knowledge runs.
type GapDepth string

const (
	DepthSurface GapDepth = "surface"
	DepthMedium  GapDepth = "medium"
	DepthDeep    GapDepth = "deep"
)

// GapBreadth grades how wide the missing knowledge spans.
type GapBreadth string

const (
	BreadthNarrow GapBreadth = "narrow"
	BreadthMedium GapBreadth = "medium"
	BreadthBroad  GapBreadth = "broad"
)

// Gap is one identified piece of missing information.
type Gap struct {
	Description      string     `json:"description"`
	Depth            GapDepth   `json:"depth"`
	Breadth          GapBreadth `json:"breadth"`
	Priority         int        `json:"priority"` // 1-10
	PreferredBackend string     `json:"preferred_backend"`
}

// GapSet is the output of one refinement iteration. Only the latest
// GapSet is authoritative at loop exit.
type GapSet struct {
	Iteration     int    `json:"iteration"`
	Understanding string `json:"understanding"`
	Gaps          []Gap  `json:"gaps"`
}

// SearchQuery targets one research backend with one question.
type SearchQuery struct {
	Text    string `json:"text"`
	Backend string `json:"backend"`
}

// BuildQueries instantiates one query per gap, targeting each gap's
// preferred backend.
func BuildQueries(gs GapSet) []SearchQuery {
	queries := make([]SearchQuery, 0, len(gs.Gaps))
	for _, g := range gs.Gaps {
		queries = append(queries, SearchQuery{
			Text:    g.Description,
			Backend: g.PreferredBackend,
		})
	}
	return queries
}

// ============================================================================
// RESEARCH RESULTS
// ============================================================================

// ResultItem is one piece of content returned by a research backend.
type ResultItem struct {
	SourceID string            `json:"source_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SubAgentResult is the outcome of one dispatched query. Failures are
// recorded in Err with an empty item list, never discarded.
type SubAgentResult struct {
	Backend string      `json:"backend"`
	Query   SearchQuery `json:"query"`
	Items   []ResultItem
	Err     error
}

// ConsolidatedContext is the merged, deduplicated view of the original
// context plus all usable research results.
type ConsolidatedContext struct {
	MergedText      string              `json:"merged_text"`
	SourceIndex     map[string][]string `json:"source_index"`
	QualityScore    float64             `json:"quality_score"`
	Conflicts       []string            `json:"conflicts,omitempty"`
	EstimatedTokens int                 `json:"estimated_tokens"`
}

// ============================================================================
// DECOMPOSITION
// ============================================================================

// Subtask is one DAG node in a decomposition plan.
type Subtask struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	ScopedContext   string   `json:"scoped_context"`
	DependsOn       []string `json:"depends_on,omitempty"`
	ExecutionRank   int      `json:"execution_rank"`
	SuccessCriteria string   `json:"success_criteria"`
}

// Plan is a set of subtasks whose dependencies form a DAG and whose
// execution ranks admit a valid topological order.
type Plan struct {
	Subtasks []Subtask `json:"subtasks"`
}

// Ordered returns the subtasks sorted by execution rank, ties already
// resolved at validation time by declaration order.
func (p *Plan) Ordered() []Subtask {
	out := make([]Subtask, len(p.Subtasks))
	copy(out, p.Subtasks)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].ExecutionRank > out[j].ExecutionRank; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// ============================================================================
// OPTIMIZED OUTPUT
// ============================================================================

// OptimizedContext is the terminal artifact: four ordered zones with the
// critical gotchas placed last, closest to the point of execution.
type OptimizedContext struct {
	TaskZone        string   `json:"task_zone"`
	CoreZone        string   `json:"core_zone"`
	SupportingZone  string   `json:"supporting_zone,omitempty"`
	GotchasZone     string   `json:"gotchas_zone,omitempty"`
	OriginalTokens  int      `json:"original_tokens"`
	OptimizedTokens int      `json:"optimized_tokens"`
	Actions         []string `json:"actions,omitempty"`
}

// Render flattens the zones in consumption order. Gotchas always come
// last.
func (o *OptimizedContext) Render() string {
	var b strings.Builder
	writeZone := func(header, body string) {
		if body == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(header)
		b.WriteString("\n")
		b.WriteString(body)
	}
	writeZone("Task", o.TaskZone)
	writeZone("Core Context", o.CoreZone)
	writeZone("Supporting Context", o.SupportingZone)
	writeZone("Critical Gotchas", o.GotchasZone)
	return b.String()
}

// ============================================================================
// PIPELINE RESULT
// ============================================================================

// Result is the successful output of one enrichment run.
type Result struct {
	ExtractionID    string                       `json:"extraction_id"`
	Optimized       *OptimizedContext            `json:"optimized"`
	Plan            *Plan                        `json:"plan,omitempty"`
	SubtaskContexts map[string]*OptimizedContext `json:"subtask_contexts,omitempty"`
	FinalState      State                        `json:"final_state"`
	Events          []string                     `json:"events,omitempty"`
}
