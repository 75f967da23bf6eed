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

const decomposerRetryNote = "\n\nYour previous plan contained a dependency cycle: %s. Propose a new plan whose dependencies form a directed acyclic graph."

// Decomposer splits an oversized task and context into independently
// executable, context-scoped subtasks.
type Decomposer struct {
	client       llm.Client
	prompts      *prompts.Store
	counter      *tokens.Counter
	tokenCeiling int
}

// NewDecomposer creates a decomposer targeting the given per-task token
// ceiling.
func NewDecomposer(client llm.Client, store *prompts.Store, counter *tokens.Counter, ceiling int) *Decomposer {
	return &Decomposer{client: client, prompts: store, counter: counter, tokenCeiling: ceiling}
}

type scrumResponse struct {
	Subtasks []subtaskResponse `json:"subtasks"`
}

type subtaskResponse struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	ScopedContext   string   `json:"scoped_context"`
	DependsOn       []string `json:"depends_on"`
	ExecutionRank   int      `json:"execution_rank"`
	SuccessCriteria string   `json:"success_criteria"`
}

// Decompose produces a validated plan. A cyclic proposal is rejected and
// re-requested once with a corrective note; a second invalid proposal
// fails with ErrInvalidDecomposition. Execution ranks are recomputed
// from the dependency graph so they always admit a topological order,
// with ties broken by declaration order.
func (d *Decomposer) Decompose(ctx context.Context, task TaskDescriptor, contextText string) (*Plan, error) {
	log := logging.Get(logging.CategoryScrum)
	timer := logging.StartTimer(logging.CategoryScrum, "decompose")
	defer timer.Stop()

	system := d.prompts.Get(prompts.AgentScrum)
	user := d.buildPrompt(task, contextText)

	plan, cycleErr := d.request(ctx, system, user, contextText)
	if cycleErr != nil {
		log.Warn("decomposition rejected, re-requesting once: %v", cycleErr)
		plan, cycleErr = d.request(ctx, system, user+fmt.Sprintf(decomposerRetryNote, cycleErr), contextText)
		if cycleErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDecomposition, cycleErr)
		}
	}

	logging.Scrum("decomposition: %d subtasks", len(plan.Subtasks))
	return plan, nil
}

func (d *Decomposer) request(ctx context.Context, system, user, parentContext string) (*Plan, error) {
	resp, err := d.client.CompleteWithSystem(ctx, system, user)
	if err != nil {
		return nil, err
	}
	var parsed scrumResponse
	if err := llm.DecodeStrict(resp, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Subtasks) == 0 {
		return nil, fmt.Errorf("plan has no subtasks")
	}

	plan := &Plan{Subtasks: make([]Subtask, 0, len(parsed.Subtasks))}
	nameToID := make(map[string]string, len(parsed.Subtasks))
	for i, st := range parsed.Subtasks {
		id := fmt.Sprintf("subtask-%d", i+1)
		nameToID[strings.ToLower(strings.TrimSpace(st.Name))] = id
		plan.Subtasks = append(plan.Subtasks, Subtask{
			ID:              id,
			Name:            st.Name,
			Description:     st.Description,
			ScopedContext:   st.ScopedContext,
			ExecutionRank:   st.ExecutionRank,
			SuccessCriteria: st.SuccessCriteria,
		})
	}

	// Dependencies may reference subtasks by name or by our IDs.
	for i, st := range parsed.Subtasks {
		for _, dep := range st.DependsOn {
			key := strings.ToLower(strings.TrimSpace(dep))
			id, ok := nameToID[key]
			if !ok {
				if !isKnownID(plan, key) {
					return nil, fmt.Errorf("subtask %q depends on unknown subtask %q", st.Name, dep)
				}
				id = key
			}
			if id == plan.Subtasks[i].ID {
				return nil, fmt.Errorf("subtask %q depends on itself", st.Name)
			}
			plan.Subtasks[i].DependsOn = append(plan.Subtasks[i].DependsOn, id)
		}
	}

	if err := assignRanks(plan); err != nil {
		return nil, err
	}
	repairCoverage(plan, parentContext)
	return plan, nil
}

func isKnownID(plan *Plan, id string) bool {
	for _, st := range plan.Subtasks {
		if st.ID == id {
			return true
		}
	}
	return false
}

func (d *Decomposer) buildPrompt(task TaskDescriptor, contextText string) string {
	var b strings.Builder
	b.WriteString("TASK:\n")
	b.WriteString(task.Text)
	if task.Intent != "" {
		b.WriteString("\n\nINTENT: ")
		b.WriteString(task.Intent)
	}
	fmt.Fprintf(&b, "\n\nThe context below is %d tokens, above the %d token ceiling. Split the task into subtasks whose scoped contexts each fit under the ceiling. Each subtask's scoped context must carry everything that subtask needs and nothing it does not.",
		d.counter.Count(contextText), d.tokenCeiling)
	b.WriteString("\n\nCONTEXT:\n")
	b.WriteString(contextText)
	return b.String()
}

// assignRanks validates acyclicity and recomputes execution ranks via
// Kahn's algorithm, breaking ties by declaration order.
func assignRanks(plan *Plan) error {
	n := len(plan.Subtasks)
	index := make(map[string]int, n)
	for i, st := range plan.Subtasks {
		index[st.ID] = i
	}

	indegree := make([]int, n)
	dependents := make([][]int, n)
	for i, st := range plan.Subtasks {
		for _, dep := range st.DependsOn {
			j := index[dep]
			dependents[j] = append(dependents[j], i)
			indegree[i]++
		}
	}

	// Ready set kept in declaration order.
	var ready []int
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	rank, processed := 1, 0
	for len(ready) > 0 {
		var next []int
		for _, i := range ready {
			plan.Subtasks[i].ExecutionRank = rank
			processed++
			for _, dep := range dependents[i] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
			rank++
		}
		ready = next
	}

	if processed != n {
		var cyclic []string
		for i := 0; i < n; i++ {
			if indegree[i] > 0 {
				cyclic = append(cyclic, plan.Subtasks[i].Name)
			}
		}
		return fmt.Errorf("dependency cycle involving: %s", strings.Join(cyclic, ", "))
	}
	return nil
}

// repairCoverage enforces losslessness: any parent-context line that a
// subtask's success criteria references must appear in that subtask's
// scoped context. Missing lines are appended rather than silently
// dropped.
func repairCoverage(plan *Plan, parentContext string) {
	if parentContext == "" {
		return
	}
	parentLines := strings.Split(parentContext, "\n")

	for i := range plan.Subtasks {
		st := &plan.Subtasks[i]
		scopedLower := strings.ToLower(st.ScopedContext)
		for _, term := range significantTerms(st.SuccessCriteria) {
			if strings.Contains(scopedLower, term) {
				continue
			}
			// Pull the parent lines that mention the term into scope.
			for _, line := range parentLines {
				if strings.Contains(strings.ToLower(line), term) {
					st.ScopedContext += "\n" + strings.TrimSpace(line)
					scopedLower = strings.ToLower(st.ScopedContext)
					break
				}
			}
		}
	}
}

// significantTerms extracts the content-bearing words of a success
// criteria string.
func significantTerms(s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:()[]\"'")
		if len(w) < 5 || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
