package pipeline

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// RunResult aggregates the terminal status of every worker of a run.
type RunResult struct {
	RunID    uuid.UUID
	Expected int
	Duration time.Duration

	// ProducerErrors is keyed by source id.
	ProducerErrors map[int]error
	// StartErrors holds producers that could not be started at all.
	StartErrors []error
	ConsumerErr error
	LogErr      error
	SaveErr     error

	// InventoryLoadErr is a diagnostic only; the run proceeds with what was read.
	InventoryLoadErr error

	Stats Stats
}

// Err combines every failure of the run, or returns nil. Rejected orders are
// never failures.
func (r RunResult) Err() error {
	var errs []error
	for _, id := range r.FailedSources() {
		errs = append(errs, r.ProducerErrors[id])
	}
	errs = append(errs, r.StartErrors...)
	errs = append(errs, r.ConsumerErr, r.LogErr, r.SaveErr)
	return multierr.Combine(errs...)
}

// OK reports whether the run finished without failures.
func (r RunResult) OK() bool { return r.Err() == nil }

// FailedSources returns the ids of producers that reported an error.
func (r RunResult) FailedSources() []int {
	ids := make([]int, 0, len(r.ProducerErrors))
	for id := range r.ProducerErrors {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
