package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hypercog/internal/capture"
	"hypercog/internal/config"
	"hypercog/internal/llm"
	"hypercog/internal/logging"
	"hypercog/internal/prompts"
	"hypercog/internal/research"
	"hypercog/internal/store"
	"hypercog/internal/tokens"
)

// Request is the single inbound entry point's input.
type Request struct {
	TaskText       string   `json:"task_text"`
	Intent         string   `json:"intent,omitempty"`
	SessionText    string   `json:"raw_session_text"`
	AttachedFiles  []string `json:"attached_file_refs,omitempty"`
	WorkspacePath  string   `json:"workspace_path,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
	TokenCeiling   int      `json:"token_ceiling,omitempty"`
}

// Orchestrator drives the enrichment state machine. One logical task
// runs the machine sequentially; concurrency exists only inside
// dispatch.
type Orchestrator struct {
	cfg          *config.Config
	extractor    *capture.Extractor
	evaluator    *Evaluator
	refiner      *Refiner
	dispatcher   *Dispatcher
	consolidator *Consolidator
	decomposer   *Decomposer
	optimizer    *Optimizer
	counter      *tokens.Counter
	sessions     *store.SessionStore
}

// NewOrchestrator wires the pipeline from its collaborators. The session
// store may be nil to disable persistence.
func NewOrchestrator(cfg *config.Config, client llm.Client, promptStore *prompts.Store, registry *research.Registry, sessions *store.SessionStore) *Orchestrator {
	counter := tokens.NewCounter()
	return &Orchestrator{
		cfg:          cfg,
		extractor:    capture.NewExtractor(cfg.Storage.Root, sessions),
		evaluator:    NewEvaluator(client, promptStore, cfg.Orchestrator.ConfidenceFloor),
		refiner:      NewRefiner(client, promptStore, cfg.Orchestrator.MaxIterations),
		dispatcher:   NewDispatcher(registry, cfg.Orchestrator.MaxConcurrent, cfg.GetSemaphoreWait()),
		consolidator: NewConsolidator(client, promptStore, counter),
		decomposer:   NewDecomposer(client, promptStore, counter, cfg.Orchestrator.TokenCeiling),
		optimizer:    NewOptimizer(client, promptStore, counter),
		counter:      counter,
		sessions:     sessions,
	}
}

// Enrich runs one full enrichment. On failure the returned error is a
// *Failure carrying the last reached state and any partial artifact.
// The deadline spans capture through optimization.
func (o *Orchestrator) Enrich(ctx context.Context, req Request) (*Result, error) {
	log := logging.Get(logging.CategoryOrchestrator)

	timeout := o.cfg.GetOuterTimeout()
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	ceiling := o.cfg.Orchestrator.TokenCeiling
	if req.TokenCeiling > 0 {
		ceiling = req.TokenCeiling
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	machine := NewMachine()
	task := TaskDescriptor{Text: req.TaskText, Intent: req.Intent}
	result := &Result{}

	fail := func(kind FailureKind, err error, partial any) (*Result, error) {
		last := machine.Fail()
		log.Error("enrichment failed in %s: %v", last, err)
		return nil, &Failure{
			Kind:      kind,
			Message:   err.Error(),
			LastState: last,
			Partial:   partial,
			Err:       err,
		}
	}

	// Capturing.
	manifest, err := o.extractor.Capture(ctx, capture.Request{
		SessionText:   req.SessionText,
		AttachedFiles: req.AttachedFiles,
		WorkspacePath: req.WorkspacePath,
		UserIntent:    req.Intent,
	})
	if err != nil {
		if ctx.Err() != nil {
			return fail(FailTimeout, ErrTimeout, nil)
		}
		return fail(FailInternal, fmt.Errorf("capture failed: %w", err), nil)
	}
	result.ExtractionID = manifest.ExtractionID
	contextText := manifest.CombinedText()

	// Evaluating.
	if err := machine.Transition(StateEvaluating); err != nil {
		return fail(FailInternal, err, nil)
	}
	eval, err := o.evaluator.Evaluate(ctx, task, contextText)
	if err != nil {
		if ctx.Err() != nil {
			return fail(FailTimeout, ErrTimeout, nil)
		}
		if errors.Is(err, ErrMalformedEvaluation) {
			return fail(FailMalformedEvaluation, err, nil)
		}
		return fail(FailInternal, err, nil)
	}

	var consolidated *ConsolidatedContext
	if eval.Sufficient {
		// Sufficient context skips research entirely and goes straight
		// to the size decision.
		if err := machine.Transition(StateSizeChecking); err != nil {
			return fail(FailInternal, err, nil)
		}
	} else {
		// Refining.
		if err := machine.Transition(StateRefining); err != nil {
			return fail(FailInternal, err, nil)
		}
		outcome := o.refiner.Refine(ctx, task, eval)
		if outcome.Degraded {
			result.Events = append(result.Events, "refinement_degraded")
		}
		if ctx.Err() != nil {
			return fail(FailTimeout, ErrTimeout, nil)
		}

		// Dispatching.
		if err := machine.Transition(StateDispatching); err != nil {
			return fail(FailInternal, err, nil)
		}
		queries := BuildQueries(outcome.GapSet)
		results := o.dispatcher.Dispatch(ctx, queries)
		o.persistRoughResults(manifest.ExtractionID, results)
		if ctx.Err() != nil {
			// Partial research is discarded, never handed to execution.
			return fail(FailTimeout, ErrTimeout, nil)
		}

		// Consolidating.
		if err := machine.Transition(StateConsolidating); err != nil {
			return fail(FailInternal, err, nil)
		}
		consolidated = o.consolidator.Consolidate(ctx, task, contextText, results)
		contextText = consolidated.MergedText
		if ctx.Err() != nil {
			return fail(FailTimeout, ErrTimeout, nil)
		}

		if err := machine.Transition(StateSizeChecking); err != nil {
			return fail(FailInternal, err, nil)
		}
	}

	// SizeChecking is a pure decision on the shared token count; it
	// never calls a backend.
	estimated := o.counter.CountAll(task.Text, contextText)
	if consolidated != nil {
		estimated = o.counter.Count(task.Text) + consolidated.EstimatedTokens
	}
	logging.Orchestrator("size check: %d tokens against ceiling %d", estimated, ceiling)

	if estimated > ceiling {
		// Decomposing.
		if err := machine.Transition(StateDecomposing); err != nil {
			return fail(FailInternal, err, consolidated)
		}
		plan, err := o.decomposer.Decompose(ctx, task, contextText)
		if err != nil {
			if ctx.Err() != nil {
				return fail(FailTimeout, ErrTimeout, consolidated)
			}
			if errors.Is(err, ErrInvalidDecomposition) {
				return fail(FailInvalidDecomposition, err, consolidated)
			}
			return fail(FailInternal, err, consolidated)
		}
		result.Plan = plan
	}

	// Optimizing. Every successful path goes through here.
	if err := machine.Transition(StateOptimizing); err != nil {
		return fail(FailInternal, err, consolidated)
	}
	result.Optimized = o.optimizer.Optimize(ctx, task, contextText)
	o.persistOptimized(manifest.ExtractionID, "", result.Optimized)

	if result.Plan != nil {
		result.SubtaskContexts = make(map[string]*OptimizedContext, len(result.Plan.Subtasks))
		for _, st := range result.Plan.Ordered() {
			subTask := TaskDescriptor{Text: st.Description, Intent: st.SuccessCriteria}
			opt := o.optimizer.Optimize(ctx, subTask, st.ScopedContext)
			result.SubtaskContexts[st.ID] = opt
			o.persistOptimized(manifest.ExtractionID, st.ID, opt)
		}
	}

	// The deadline covers capture through optimization.
	if ctx.Err() != nil {
		return fail(FailTimeout, ErrTimeout, consolidated)
	}

	if err := machine.Transition(StateExecuting); err != nil {
		return fail(FailInternal, err, consolidated)
	}
	result.FinalState = machine.Current()
	logging.Orchestrator("enrichment complete: extraction=%s path=%v", result.ExtractionID, machine.Path())
	return result, nil
}

func (o *Orchestrator) persistRoughResults(extractionID string, results []SubAgentResult) {
	for i, r := range results {
		payload := map[string]any{"backend": r.Backend, "query": r.Query.Text, "items": r.Items}
		if r.Err != nil {
			payload["error"] = r.Err.Error()
		}
		data, err := json.Marshal(payload)
		if err != nil {
			continue
		}
		o.dumpArtifact("rough", fmt.Sprintf("%s_%s_%d.json", extractionID, r.Backend, i), data)
		if o.sessions == nil {
			continue
		}
		if err := o.sessions.SaveRoughResult(extractionID, r.Backend, r.Query.Text, string(data)); err != nil {
			logging.Get(logging.CategoryStore).Warn("failed to persist rough result: %v", err)
		}
	}
}

func (o *Orchestrator) persistOptimized(extractionID, subtaskID string, opt *OptimizedContext) {
	data, err := json.Marshal(opt)
	if err != nil {
		return
	}
	name := extractionID + ".json"
	if subtaskID != "" {
		name = extractionID + "_" + subtaskID + ".json"
	}
	o.dumpArtifact("optimized", name, data)
	if o.sessions == nil {
		return
	}
	if err := o.sessions.SaveOptimized(extractionID, subtaskID, string(data), opt.OriginalTokens, opt.OptimizedTokens); err != nil {
		logging.Get(logging.CategoryStore).Warn("failed to persist optimized context: %v", err)
	}
}

// dumpArtifact writes a JSON artifact under the storage root. Failures
// are logged, never fatal.
func (o *Orchestrator) dumpArtifact(subdir, name string, data []byte) {
	dir := filepath.Join(o.cfg.Storage.Root, subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logging.Get(logging.CategoryStore).Warn("failed to create %s dir: %v", subdir, err)
		return
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		logging.Get(logging.CategoryStore).Warn("failed to write %s artifact: %v", subdir, err)
	}
}
