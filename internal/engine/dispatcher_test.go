package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"hypercog/internal/research"
)

func TestDispatchCountPreserving(t *testing.T) {
	reg := registryOf(
		&stubBackend{name: research.BackendWeb, err: errors.New("boom")},
		&stubBackend{name: research.BackendVector, err: errors.New("boom")},
	)
	d := NewDispatcher(reg, 10, time.Second)

	queries := []SearchQuery{
		{Text: "q1", Backend: research.BackendWeb},
		{Text: "q2", Backend: research.BackendVector},
		{Text: "q3", Backend: research.BackendWeb},
	}
	results := d.Dispatch(context.Background(), queries)

	// One result per query even when every backend fails.
	require.Len(t, results, len(queries))
	for _, r := range results {
		require.Error(t, r.Err)
		require.Empty(t, r.Items)
	}
}

func TestDispatchIndexCorrelated(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := registryOf(
		&stubBackend{name: research.BackendWeb, text: "web answer"},
		&stubBackend{name: research.BackendVector, text: "vector answer"},
	)
	d := NewDispatcher(reg, 10, time.Second)

	queries := []SearchQuery{
		{Text: "first", Backend: research.BackendVector},
		{Text: "second", Backend: research.BackendWeb},
	}
	results := d.Dispatch(context.Background(), queries)

	// Result i belongs to query i regardless of arrival order.
	require.Equal(t, queries[0], results[0].Query)
	require.Equal(t, queries[1], results[1].Query)
	require.Equal(t, "vector answer", results[0].Items[0].Content)
	require.Equal(t, "web answer", results[1].Items[0].Content)
}

func TestDispatchIsolatesFaults(t *testing.T) {
	reg := registryOf(
		&stubBackend{name: research.BackendWeb, text: "ok"},
		&stubBackend{name: research.BackendVector, err: errors.New("rate limited")},
	)
	d := NewDispatcher(reg, 10, time.Second)

	results := d.Dispatch(context.Background(), []SearchQuery{
		{Text: "a", Backend: research.BackendWeb},
		{Text: "b", Backend: research.BackendVector},
	})

	require.NoError(t, results[0].Err)
	require.Len(t, results[0].Items, 1)

	var fault *SubAgentFault
	require.ErrorAs(t, results[1].Err, &fault)
	require.Equal(t, research.BackendVector, fault.Backend)
	require.Empty(t, results[1].Items)
}

func TestDispatchDeadlineMarksTimeouts(t *testing.T) {
	// Backends take far longer than the deadline, and ignore
	// cancellation. Dispatch must still return near the deadline with
	// every slot a timeout fault.
	reg := registryOf(
		&sleeperBackend{name: research.BackendWeb, delay: 5 * time.Second},
		&sleeperBackend{name: research.BackendVector, delay: 5 * time.Second},
		&sleeperBackend{name: research.BackendGraph, delay: 5 * time.Second},
		&sleeperBackend{name: research.BackendDocument, delay: 5 * time.Second},
	)
	d := NewDispatcher(reg, 10, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	results := d.Dispatch(ctx, []SearchQuery{
		{Text: "a", Backend: research.BackendWeb},
		{Text: "b", Backend: research.BackendVector},
		{Text: "c", Backend: research.BackendGraph},
		{Text: "d", Backend: research.BackendDocument},
	})
	elapsed := time.Since(start)

	require.Less(t, elapsed, time.Second)
	require.Len(t, results, 4)
	for _, r := range results {
		require.ErrorIs(t, r.Err, ErrTimeout)
		require.Empty(t, r.Items)
	}
}

func TestDispatchCapacityExceeded(t *testing.T) {
	// One slot, a slow occupant, and a tiny wait bound: the waiting
	// query surfaces capacity starvation instead of hanging.
	reg := registryOf(&stubBackend{name: research.BackendWeb, text: "ok", delay: 500 * time.Millisecond})
	d := NewDispatcher(reg, 1, 50*time.Millisecond)

	results := d.Dispatch(context.Background(), []SearchQuery{
		{Text: "a", Backend: research.BackendWeb},
		{Text: "b", Backend: research.BackendWeb},
	})

	var capacityFaults, successes int
	for _, r := range results {
		switch {
		case r.Err == nil:
			successes++
		case errors.Is(r.Err, ErrCapacityExceeded):
			capacityFaults++
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, 1, capacityFaults)
}

func TestDispatchConcurrencyCeiling(t *testing.T) {
	defer goleak.VerifyNone(t)

	backend := &countingBackend{name: research.BackendVector, delay: 50 * time.Millisecond}
	d := NewDispatcher(registryOf(backend), 2, 5*time.Second)

	queries := make([]SearchQuery, 6)
	for i := range queries {
		queries[i] = SearchQuery{Text: "q", Backend: research.BackendVector}
	}
	results := d.Dispatch(context.Background(), queries)

	require.Len(t, results, 6)
	for _, r := range results {
		require.NoError(t, r.Err)
	}
	require.LessOrEqual(t, backend.maxInFlight(), 2)
}

func TestDispatchEmptyInput(t *testing.T) {
	d := NewDispatcher(registryOf(), 10, time.Second)
	results := d.Dispatch(context.Background(), nil)
	require.Empty(t, results)
}

// countingBackend tracks peak concurrent Search calls.
type countingBackend struct {
	name  string
	delay time.Duration

	mu       sync.Mutex
	inFlight int
	peak     int
}

func (c *countingBackend) Name() string { return c.name }

func (c *countingBackend) Search(ctx context.Context, query string) (string, error) {
	c.mu.Lock()
	c.inFlight++
	if c.inFlight > c.peak {
		c.peak = c.inFlight
	}
	c.mu.Unlock()

	time.Sleep(c.delay)

	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()
	return "ok", nil
}

func (c *countingBackend) maxInFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peak
}
