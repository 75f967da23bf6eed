package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"hypercog/internal/logging"
	"hypercog/internal/research"
)

// Dispatcher fans queries out to research backends under a shared
// concurrency ceiling. It is the only component holding cross-call
// state, and that state is just the ticket pool.
type Dispatcher struct {
	registry *research.Registry
	sem      *semaphore.Weighted
	maxWait  time.Duration
}

// NewDispatcher creates a dispatcher with at most maxConcurrent queries
// in flight. A query waiting longer than maxWait for a slot fails with
// ErrCapacityExceeded instead of hanging.
func NewDispatcher(registry *research.Registry, maxConcurrent int, maxWait time.Duration) *Dispatcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Dispatcher{
		registry: registry,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		maxWait:  maxWait,
	}
}

// Dispatch runs all queries concurrently and returns exactly one result
// per query, index-correlated with the input. Each query has its own
// failure boundary: a fault lands in that slot's Err with an empty item
// list and never blocks or corrupts siblings. Queries still outstanding
// when ctx's deadline passes are recorded as timeout faults. No query is
// retried.
func (d *Dispatcher) Dispatch(ctx context.Context, queries []SearchQuery) []SubAgentResult {
	timer := logging.StartTimer(logging.CategoryDispatch, "dispatch")
	defer timer.Stop()

	results := make([]SubAgentResult, len(queries))

	var wg sync.WaitGroup
	for i, q := range queries {
		results[i] = SubAgentResult{Backend: q.Backend, Query: q}

		wg.Add(1)
		go func(i int, q SearchQuery) {
			defer wg.Done()
			results[i] = d.runOne(ctx, i, q)
		}(i, q)
	}
	wg.Wait()

	ok := 0
	for _, r := range results {
		if r.Err == nil {
			ok++
		}
	}
	logging.Dispatch("dispatch complete: %d/%d queries succeeded", ok, len(queries))
	return results
}

func (d *Dispatcher) runOne(ctx context.Context, index int, q SearchQuery) SubAgentResult {
	result := SubAgentResult{Backend: q.Backend, Query: q}
	fault := func(err error) SubAgentResult {
		result.Err = &SubAgentFault{Backend: q.Backend, Query: q.Text, Err: err}
		return result
	}

	// Bounded wait for a dispatch slot. The bound is also cut short by
	// the outer deadline, in which case the fault is a timeout, not
	// capacity starvation.
	waitCtx, cancel := context.WithTimeout(ctx, d.maxWait)
	err := d.sem.Acquire(waitCtx, 1)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return fault(ErrTimeout)
		}
		return fault(ErrCapacityExceeded)
	}
	defer d.sem.Release(1)

	backend, ok := d.registry.Get(q.Backend)
	if !ok {
		return fault(fmt.Errorf("no backend available for %q", q.Backend))
	}
	logging.DispatchDebug("query %d -> backend %s", index, backend.Name())

	// The search runs in its own goroutine so a backend that ignores
	// cancellation still cannot hold dispatch past the deadline.
	type searchOut struct {
		text string
		err  error
	}
	done := make(chan searchOut, 1)
	go func() {
		text, err := backend.Search(ctx, q.Text)
		done <- searchOut{text: text, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if ctx.Err() != nil {
				return fault(ErrTimeout)
			}
			return fault(out.err)
		}
		if out.text != "" {
			result.Items = []ResultItem{{
				SourceID: fmt.Sprintf("%s-%d", backend.Name(), index),
				Content:  out.text,
				Metadata: map[string]string{"backend": backend.Name()},
			}}
		}
		return result
	case <-ctx.Done():
		return fault(ErrTimeout)
	}
}
