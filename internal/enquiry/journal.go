package enquiry

import (
	"context"
	"sync"

	"enquiry-workers/internal/models"
)

// Journal records saga step outcomes keyed by submission ID.
type Journal interface {
	Load(ctx context.Context, submissionID string) ([]models.StepResult, error)
	Record(ctx context.Context, result models.StepResult) error
}

// MemoryJournal keeps step results for the life of the process.
type MemoryJournal struct {
	mu      sync.Mutex
	entries map[string][]models.StepResult
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[string][]models.StepResult)}
}

func (j *MemoryJournal) Load(_ context.Context, submissionID string) ([]models.StepResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]models.StepResult(nil), j.entries[submissionID]...), nil
}

// Record replaces any earlier result for the same step.
func (j *MemoryJournal) Record(_ context.Context, result models.StepResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries := j.entries[result.SubmissionID]
	for i, e := range entries {
		if e.Step == result.Step {
			entries[i] = result
			return nil
		}
	}
	j.entries[result.SubmissionID] = append(entries, result)
	return nil
}

// latest indexes results by step; later entries win.
func latest(results []models.StepResult) map[models.StepName]models.StepResult {
	out := make(map[models.StepName]models.StepResult, len(results))
	for _, r := range results {
		out[r.Step] = r
	}
	return out
}
