package workflow

import (
	"context"

	"github.com/pitabwire/switchboard/model"
)

// RunStore persists workflow runs so they can be looked up after the call
// that started them has returned.
type RunStore interface {
	// Create persists a new run. Returns CONFLICT if the id is taken.
	Create(ctx context.Context, run model.WorkflowRun) error

	// Update replaces a stored run. Returns NOT_FOUND if it was never created.
	Update(ctx context.Context, run model.WorkflowRun) error

	// Get retrieves a run by id. Returns NOT_FOUND if it doesn't exist.
	Get(ctx context.Context, runID string) (model.WorkflowRun, error)

	// List returns runs newest first, optionally filtered.
	List(ctx context.Context, filters RunFilters) ([]model.WorkflowRun, error)
}

// RunFilters are optional filters for listing runs.
type RunFilters struct {
	WorkflowID string
	Status     string
	Limit      int
	Offset     int
}

// cloneRun copies the result log so stored runs never alias the engine's
// working slice.
func cloneRun(run model.WorkflowRun) model.WorkflowRun {
	if run.Results != nil {
		results := make([]model.StepResult, len(run.Results))
		copy(results, run.Results)
		run.Results = results
	}
	if run.FinishedAt != nil {
		t := *run.FinishedAt
		run.FinishedAt = &t
	}
	return run
}
