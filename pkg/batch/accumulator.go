package batch

import "sync"

// Outcome is the result of one batch item
type Outcome string

const (
	OutcomeCreated   Outcome = "CREATED"
	OutcomeDuplicate Outcome = "DUPLICATE"
	OutcomeError     Outcome = "ERROR"
)

// Status summarizes a whole batch
type Status string

const (
	StatusComplete Status = "COMPLETE"
	StatusPartial  Status = "PARTIAL"
	StatusFailed   Status = "FAILED"
)

// Accumulator folds per-item outcomes into counts and an overall status.
// Safe for concurrent use.
type Accumulator struct {
	mu         sync.Mutex
	total      int
	created    int
	duplicates int
	errors     int
}

// Add records one outcome
func (a *Accumulator) Add(o Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	switch o {
	case OutcomeCreated:
		a.created++
	case OutcomeDuplicate:
		a.duplicates++
	default:
		a.errors++
	}
}

// Counts returns created, duplicate and error counts
func (a *Accumulator) Counts() (created, duplicates, errors int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.created, a.duplicates, a.errors
}

// Failed is every item that did not create an assignment
func (a *Accumulator) Failed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.duplicates + a.errors
}

// Status is COMPLETE when every item created an assignment, FAILED when none
// did, and PARTIAL otherwise
func (a *Accumulator) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case a.total > 0 && a.created == a.total:
		return StatusComplete
	case a.created == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}
