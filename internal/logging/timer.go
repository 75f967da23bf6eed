package logging

import "time"

// Timer measures operation duration for performance logging.
type Timer struct {
	category  Category
	operation string
	start     time.Time
}

// StartTimer begins timing an operation.
//
//	timer := logging.StartTimer(logging.CategoryDispatch, "dispatch")
//	defer timer.Stop()
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category:  category,
		operation: operation,
		start:     time.Now(),
	}
}

// Stop logs the elapsed time. Slow operations (>1s) are logged at warn level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	l := Get(t.category)
	if elapsed > time.Second {
		l.Warn("%s took %v (slow)", t.operation, elapsed)
	} else {
		l.Debug("%s took %v", t.operation, elapsed)
	}
	return elapsed
}
