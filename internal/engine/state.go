package engine

import (
	"fmt"

	"hypercog/internal/logging"
)

// State is a node in the orchestration state machine.
type State string

const (
	StateCapturing     State = "capturing"
	StateEvaluating    State = "evaluating"
	StateRefining      State = "refining"
	StateDispatching   State = "dispatching"
	StateConsolidating State = "consolidating"
	StateSizeChecking  State = "size_checking"
	StateDecomposing   State = "decomposing"
	StateOptimizing    State = "optimizing"
	StateExecuting     State = "executing"
	StateFailed        State = "failed"
)

// transitions is the full edge set. Executing is reachable from
// Optimizing and nowhere else: optimization cannot be skipped on any
// successful path. SizeChecking is a pure decision node.
var transitions = map[State][]State{
	StateCapturing:     {StateEvaluating},
	StateEvaluating:    {StateSizeChecking, StateRefining},
	StateRefining:      {StateDispatching},
	StateDispatching:   {StateConsolidating},
	StateConsolidating: {StateSizeChecking},
	StateSizeChecking:  {StateDecomposing, StateOptimizing},
	StateDecomposing:   {StateOptimizing},
	StateOptimizing:    {StateExecuting},
}

// Machine tracks the pipeline's current state and the path taken. Every
// state may transition to Failed; all other edges come from the
// transition table.
type Machine struct {
	current State
	path    []State
}

// NewMachine starts a machine in Capturing.
func NewMachine() *Machine {
	return &Machine{
		current: StateCapturing,
		path:    []State{StateCapturing},
	}
}

// Current returns the active state.
func (m *Machine) Current() State { return m.current }

// Path returns every state visited so far, in order.
func (m *Machine) Path() []State {
	out := make([]State, len(m.path))
	copy(out, m.path)
	return out
}

// CanTransition reports whether an edge from the current state to next
// exists.
func (m *Machine) CanTransition(next State) bool {
	if next == StateFailed {
		return m.current != StateFailed
	}
	for _, allowed := range transitions[m.current] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves to next or returns an error if no such edge exists.
func (m *Machine) Transition(next State) error {
	if !m.CanTransition(next) {
		return fmt.Errorf("no transition from %s to %s", m.current, next)
	}
	logging.OrchestratorDebug("state %s -> %s", m.current, next)
	m.current = next
	m.path = append(m.path, next)
	return nil
}

// Fail moves to Failed and returns the state that was active before.
func (m *Machine) Fail() State {
	last := m.current
	if m.current != StateFailed {
		m.current = StateFailed
		m.path = append(m.path, StateFailed)
	}
	return last
}

// Terminal reports whether the machine has reached Executing or Failed.
func (m *Machine) Terminal() bool {
	return m.current == StateExecuting || m.current == StateFailed
}
