package engine

import (
	"context"
	"fmt"
	"strings"

	"hypercog/internal/llm"
	"hypercog/internal/logging"
	"hypercog/internal/prompts"
	"hypercog/internal/tokens"
)

// Similarity at or above this threshold marks two texts as near
// duplicates. Shingles are 3-word windows compared by Jaccard overlap.
const (
	dedupThreshold = 0.72
	shingleSize    = 3
)

// Score ceiling for degraded pass-through merges and for results that
// add nothing novel over the original context.
const degradedQualityCeiling = 0.3

// Consolidator merges research results into the original context,
// dropping near duplicates and recording conflicts.
type Consolidator struct {
	client  llm.Client
	prompts *prompts.Store
	counter *tokens.Counter
}

// NewConsolidator creates a consolidator sharing the engine's token
// counter so size decisions stay comparable across artifacts.
func NewConsolidator(client llm.Client, store *prompts.Store, counter *tokens.Counter) *Consolidator {
	return &Consolidator{client: client, prompts: store, counter: counter}
}

type consolidationResponse struct {
	MergedText   string   `json:"merged_text"`
	QualityScore float64  `json:"quality_score"`
	Conflicts    []string `json:"conflicts"`
}

// Consolidate merges results into the original context. It never hard
// fails: a failed language-model call degrades to a pass-through merge
// with attribution and a capped quality score.
func (c *Consolidator) Consolidate(ctx context.Context, task TaskDescriptor, original string, results []SubAgentResult) *ConsolidatedContext {
	log := logging.Get(logging.CategoryConsolidate)
	timer := logging.StartTimer(logging.CategoryConsolidate, "consolidate")
	defer timer.Stop()

	out := &ConsolidatedContext{
		MergedText:  original,
		SourceIndex: make(map[string][]string),
	}

	// Failed queries become recorded conflicts, never silent drops.
	for _, r := range results {
		if r.Err != nil {
			out.Conflicts = append(out.Conflicts,
				fmt.Sprintf("no data from backend %s: %v", r.Backend, r.Err))
		}
	}

	accepted, novelty := c.dedupe(original, results)
	if len(accepted) == 0 {
		out.EstimatedTokens = c.counter.Count(out.MergedText)
		logging.Consolidate("consolidation: no usable items, score=%.2f", out.QualityScore)
		return out
	}
	for _, item := range accepted {
		out.SourceIndex[item.backend] = append(out.SourceIndex[item.backend], item.item.SourceID)
	}

	merged, err := c.mergeWithModel(ctx, task, original, accepted)
	if err != nil {
		log.Warn("consolidation degraded to pass-through merge: %v", err)
		out.MergedText = passThroughMerge(original, accepted)
		out.QualityScore = minFloat(degradedQualityCeiling, novelty)
	} else {
		out.MergedText = merged.MergedText
		out.QualityScore = clamp01(merged.QualityScore)
		out.Conflicts = append(out.Conflicts, merged.Conflicts...)
		// Quality measures improvement over the original, not volume.
		// Redundant additions cannot score high.
		if novelty < 0.1 {
			out.QualityScore = minFloat(out.QualityScore, degradedQualityCeiling)
		}
	}

	out.EstimatedTokens = c.counter.Count(out.MergedText)
	logging.Consolidate("consolidation: %d items accepted, score=%.2f, %d conflicts, %d tokens",
		len(accepted), out.QualityScore, len(out.Conflicts), out.EstimatedTokens)
	return out
}

type acceptedItem struct {
	backend string
	item    ResultItem
}

// dedupe filters near-duplicate items across backends and against the
// original context. Novelty is the fraction of accepted shingles not
// already present in the original.
func (c *Consolidator) dedupe(original string, results []SubAgentResult) ([]acceptedItem, float64) {
	originalShingles := shingles(original)
	var kept []acceptedItem
	var keptShingles []map[string]struct{}

	totalNew, totalSeen := 0, 0
	for _, r := range results {
		if r.Err != nil {
			continue
		}
	itemLoop:
		for _, item := range r.Items {
			if strings.TrimSpace(item.Content) == "" {
				continue
			}
			s := shingles(item.Content)
			for _, prior := range keptShingles {
				if jaccard(s, prior) >= dedupThreshold {
					continue itemLoop
				}
			}
			if jaccard(s, originalShingles) >= dedupThreshold {
				continue
			}
			kept = append(kept, acceptedItem{backend: r.Backend, item: item})
			keptShingles = append(keptShingles, s)
			for sh := range s {
				totalSeen++
				if _, dup := originalShingles[sh]; !dup {
					totalNew++
				}
			}
		}
	}

	novelty := 0.0
	if totalSeen > 0 {
		novelty = float64(totalNew) / float64(totalSeen)
	}
	return kept, novelty
}

func (c *Consolidator) mergeWithModel(ctx context.Context, task TaskDescriptor, original string, accepted []acceptedItem) (*consolidationResponse, error) {
	var b strings.Builder
	b.WriteString("TASK:\n")
	b.WriteString(task.Text)
	if task.Intent != "" {
		b.WriteString("\n\nINTENT: ")
		b.WriteString(task.Intent)
	}
	b.WriteString("\n\nORIGINAL CONTEXT:\n")
	b.WriteString(original)
	b.WriteString("\n\nRESEARCH FINDINGS:\n")
	for _, a := range accepted {
		fmt.Fprintf(&b, "\n[%s, source %s]\n%s\n", a.backend, a.item.SourceID, a.item.Content)
	}
	b.WriteString("\nMerge the findings relevant to the task into the context. Drop findings the task does not need. On conflicting claims prefer the more authoritative and recent source and record the discarded alternative under conflicts.")

	resp, err := c.client.CompleteWithSystem(ctx, c.prompts.Get(prompts.AgentConsolidator), b.String())
	if err != nil {
		return nil, err
	}
	var parsed consolidationResponse
	if err := llm.DecodeStrict(resp, &parsed); err != nil {
		return nil, err
	}
	if strings.TrimSpace(parsed.MergedText) == "" {
		return nil, fmt.Errorf("consolidation returned empty merged_text")
	}
	return &parsed, nil
}

// passThroughMerge concatenates accepted items onto the original with
// attribution and no dedup beyond what already happened.
func passThroughMerge(original string, accepted []acceptedItem) string {
	var b strings.Builder
	b.WriteString(original)
	for _, a := range accepted {
		fmt.Fprintf(&b, "\n\n[%s, source %s]\n%s", a.backend, a.item.SourceID, a.item.Content)
	}
	return b.String()
}

// shingles returns the set of word windows in s. Texts shorter than one
// window collapse to a single shingle.
func shingles(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	out := make(map[string]struct{})
	if len(words) < shingleSize {
		if len(words) > 0 {
			out[strings.Join(words, " ")] = struct{}{}
		}
		return out
	}
	for i := 0; i+shingleSize <= len(words); i++ {
		out[strings.Join(words[i:i+shingleSize], " ")] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for s := range a {
		if _, ok := b[s]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
