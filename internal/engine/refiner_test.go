package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"hypercog/internal/research"
)

func insufficientEval(missing ...string) *Evaluation {
	return &Evaluation{
		Sufficient:      false,
		Confidence:      0.6,
		Reasoning:       "gaps remain",
		MissingElements: missing,
		SizeAssessment:  SizeManageable,
	}
}

func TestRefineEarlyExit(t *testing.T) {
	llm := newMockLLM(
		`{"understanding": "u1", "gaps": [{"description": "PKCE verifier generation", "depth": "deep", "breadth": "narrow", "priority": 8}], "done": true}`,
	)
	r := NewRefiner(llm, testPromptStore(t), 3)

	outcome := r.Refine(context.Background(), TaskDescriptor{Text: "oauth"}, insufficientEval("PKCE verifier generation"))
	require.False(t, outcome.Degraded)
	require.Equal(t, 1, outcome.Iterations)
	require.Len(t, outcome.GapSet.Gaps, 1)
	require.Equal(t, DepthDeep, outcome.GapSet.Gaps[0].Depth)
	require.Equal(t, 8, outcome.GapSet.Gaps[0].Priority)
}

func TestRefineIterationCapBinds(t *testing.T) {
	// The model never signals done; the cap is the binding constraint.
	llm := newMockLLM(
		`{"understanding": "u1", "gaps": [{"description": "g1", "priority": 5}], "done": false}`,
		`{"understanding": "u2", "gaps": [{"description": "g2", "priority": 5}], "done": false}`,
		`{"understanding": "u3", "gaps": [{"description": "g3", "priority": 5}], "done": false}`,
		`{"understanding": "u4", "gaps": [{"description": "g4", "priority": 5}], "done": false}`,
	)
	r := NewRefiner(llm, testPromptStore(t), 3)

	outcome := r.Refine(context.Background(), TaskDescriptor{Text: "t"}, insufficientEval("m"))
	require.Equal(t, 3, outcome.Iterations)
	require.Equal(t, 3, llm.callCount())
	require.Equal(t, "u3", outcome.GapSet.Understanding)
}

func TestRefineDegradesOnFirstIterationFailure(t *testing.T) {
	llm := newMockLLM()
	llm.push(reply{err: errors.New("backend down")})
	r := NewRefiner(llm, testPromptStore(t), 3)

	outcome := r.Refine(context.Background(), TaskDescriptor{Text: "t"},
		insufficientEval("latest oauth spec changes", "api documentation for token endpoint"))
	require.True(t, outcome.Degraded)
	// Gaps fall back to the evaluation's missing elements, classified.
	require.Len(t, outcome.GapSet.Gaps, 2)
	require.Equal(t, research.BackendWeb, outcome.GapSet.Gaps[0].PreferredBackend)
	require.Equal(t, research.BackendDocument, outcome.GapSet.Gaps[1].PreferredBackend)
}

func TestRefineDegradesMidLoopKeepsPrior(t *testing.T) {
	llm := newMockLLM(
		`{"understanding": "good", "gaps": [{"description": "refined gap", "priority": 7}], "done": false}`,
	)
	llm.push(reply{err: errors.New("rate limited")})
	r := NewRefiner(llm, testPromptStore(t), 3)

	outcome := r.Refine(context.Background(), TaskDescriptor{Text: "t"}, insufficientEval("m"))
	require.True(t, outcome.Degraded)
	require.Equal(t, 1, outcome.Iterations)
	require.Equal(t, "refined gap", outcome.GapSet.Gaps[0].Description)
}

func TestClassifyBackendDeterministic(t *testing.T) {
	cases := []struct {
		desc, want string
	}{
		{"api documentation for the token endpoint", research.BackendDocument},
		{"rfc 7636 requirements", research.BackendDocument},
		{"how auth service interacts with the gateway", research.BackendGraph},
		{"what this module depends on", research.BackendGraph},
		{"latest breaking changes in v2 release", research.BackendWeb},
		{"deprecated grant types", research.BackendWeb},
		{"general background on code challenges", research.BackendVector},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ClassifyBackend(tc.desc), tc.desc)
	}
}

func TestBuildQueriesOnePerGap(t *testing.T) {
	gs := GapSet{Gaps: []Gap{
		{Description: "a", PreferredBackend: research.BackendWeb},
		{Description: "b", PreferredBackend: research.BackendVector},
	}}
	queries := BuildQueries(gs)
	require.Len(t, queries, 2)
	require.Equal(t, SearchQuery{Text: "a", Backend: research.BackendWeb}, queries[0])
	require.Equal(t, SearchQuery{Text: "b", Backend: research.BackendVector}, queries[1])
}

func TestRefinePriorityClamped(t *testing.T) {
	llm := newMockLLM(
		`{"understanding": "u", "gaps": [{"description": "g", "priority": 40}], "done": true}`,
	)
	r := NewRefiner(llm, testPromptStore(t), 3)

	outcome := r.Refine(context.Background(), TaskDescriptor{Text: "t"}, insufficientEval("m"))
	require.Equal(t, 10, outcome.GapSet.Gaps[0].Priority)
}
