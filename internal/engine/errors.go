package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for pipeline-aborting faults.
var (
	// ErrMalformedEvaluation means the evaluation response stayed
	// unparsable after the one corrective retry.
	ErrMalformedEvaluation = errors.New("malformed evaluation response")

	// ErrInvalidDecomposition means the proposed plan stayed cyclic or
	// incomplete after the one re-request.
	ErrInvalidDecomposition = errors.New("invalid decomposition plan")

	// ErrTimeout means the outer wall-clock deadline was exceeded.
	ErrTimeout = errors.New("outer deadline exceeded")

	// ErrCapacityExceeded means a query waited longer than the
	// configured bound for a dispatch slot.
	ErrCapacityExceeded = errors.New("dispatch capacity exceeded")
)

// SubAgentFault records a single query's failure inside dispatch. It is
// soft and isolated: siblings are unaffected and the dispatch call as a
// whole still completes.
type SubAgentFault struct {
	Backend string
	Query   string
	Err     error
}

func (f *SubAgentFault) Error() string {
	return fmt.Sprintf("sub-agent %s failed on %q: %v", f.Backend, f.Query, f.Err)
}

func (f *SubAgentFault) Unwrap() error { return f.Err }

// FailureKind classifies pipeline-aborting failures.
type FailureKind string

const (
	FailMalformedEvaluation  FailureKind = "malformed_evaluation"
	FailInvalidDecomposition FailureKind = "invalid_decomposition"
	FailTimeout              FailureKind = "timeout"
	FailInternal             FailureKind = "internal"
)

// Failure is the typed error surfaced to callers when the pipeline
// aborts. It carries the last successfully reached state and, when one
// exists, the partial artifact, so a caller can decide whether to retry
// from that point.
type Failure struct {
	Kind      FailureKind
	Message   string
	LastState State
	Partial   any
	Err       error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s in state %s: %s", f.Kind, f.LastState, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }
