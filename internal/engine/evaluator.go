package engine

import (
	"context"
	"fmt"
	"strings"

	"hypercog/internal/llm"
	"hypercog/internal/logging"
	"hypercog/internal/prompts"
)

const evaluatorRetryNote = "\n\nYour previous response was not valid JSON matching the required shape. Respond with ONLY the JSON object, no prose, no markdown fences."

// Evaluator judges whether the current context is sufficient to execute
// a task well.
type Evaluator struct {
	client          llm.Client
	prompts         *prompts.Store
	confidenceFloor float64
}

// NewEvaluator creates an evaluator. Verdicts with confidence below
// floor are forced to insufficient.
func NewEvaluator(client llm.Client, store *prompts.Store, floor float64) *Evaluator {
	return &Evaluator{client: client, prompts: store, confidenceFloor: floor}
}

type evaluationResponse struct {
	Sufficient      bool     `json:"sufficient"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
	MissingElements []string `json:"missing_elements"`
	SizeAssessment  string   `json:"size_assessment"`
}

// Evaluate runs one sufficiency judgment over the task and context. A
// malformed response is retried once with a corrective instruction; if
// still unparsable the call fails with ErrMalformedEvaluation. The
// verdict is never silently defaulted to sufficient.
func (e *Evaluator) Evaluate(ctx context.Context, task TaskDescriptor, contextText string) (*Evaluation, error) {
	log := logging.Get(logging.CategoryEvaluate)
	timer := logging.StartTimer(logging.CategoryEvaluate, "evaluate")
	defer timer.Stop()

	system := e.prompts.Get(prompts.AgentEvaluator)
	user := e.buildPrompt(task, contextText)

	parsed, err := e.callAndParse(ctx, system, user)
	if err != nil {
		log.Warn("evaluation response malformed, retrying once: %v", err)
		parsed, err = e.callAndParse(ctx, system, user+evaluatorRetryNote)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvaluation, err)
		}
	}

	eval := normalizeEvaluation(parsed, e.confidenceFloor)
	logging.Evaluate("evaluation: sufficient=%v confidence=%.2f missing=%d size=%s",
		eval.Sufficient, eval.Confidence, len(eval.MissingElements), eval.SizeAssessment)
	return eval, nil
}

func (e *Evaluator) callAndParse(ctx context.Context, system, user string) (*evaluationResponse, error) {
	resp, err := e.client.CompleteWithSystem(ctx, system, user)
	if err != nil {
		return nil, err
	}
	var parsed evaluationResponse
	if err := llm.DecodeStrict(resp, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

func (e *Evaluator) buildPrompt(task TaskDescriptor, contextText string) string {
	var b strings.Builder
	b.WriteString("TASK:\n")
	b.WriteString(task.Text)
	if task.Intent != "" {
		b.WriteString("\n\nINTENT: ")
		b.WriteString(task.Intent)
	}
	b.WriteString("\n\nCONTEXT:\n")
	b.WriteString(contextText)
	b.WriteString("\n\nJudge the context on all five axes: completeness, accuracy, relevance, depth, and critical-edge-case coverage.")
	return b.String()
}

// normalizeEvaluation enforces the evaluation contract. Sufficient is
// true exactly when missing_elements is empty, and an ambiguous verdict
// resolves to insufficient.
func normalizeEvaluation(r *evaluationResponse, floor float64) *Evaluation {
	eval := &Evaluation{
		Sufficient:      r.Sufficient,
		Confidence:      clamp01(r.Confidence),
		Reasoning:       r.Reasoning,
		MissingElements: r.MissingElements,
		SizeAssessment:  SizeManageable,
	}
	if strings.EqualFold(strings.TrimSpace(r.SizeAssessment), string(SizeTooLarge)) {
		eval.SizeAssessment = SizeTooLarge
	}

	// Named gaps override a sufficient verdict.
	if len(eval.MissingElements) > 0 {
		eval.Sufficient = false
	}

	// A low-confidence "sufficient" is ambiguous, which resolves to
	// insufficient.
	if eval.Sufficient && eval.Confidence < floor {
		eval.Sufficient = false
		eval.MissingElements = append(eval.MissingElements,
			fmt.Sprintf("verification of low-confidence judgment (%.2f): %s",
				eval.Confidence, firstSentence(eval.Reasoning)))
	}

	// Insufficient with no named gaps still needs something to research.
	if !eval.Sufficient && len(eval.MissingElements) == 0 {
		gap := firstSentence(eval.Reasoning)
		if gap == "" {
			gap = "unspecified missing information"
		}
		eval.MissingElements = []string{gap}
	}
	return eval
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".\n"); i > 0 {
		return s[:i]
	}
	return s
}
