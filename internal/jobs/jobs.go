package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/driveimport/pkg/models"
)

var (
	ErrNotFound       = errors.New("job not found")
	ErrInvalidOutcome = errors.New("invalid outcome")
	ErrDuplicateJob   = errors.New("job already exists")
)

// Store holds job status. Apply must be atomic per job: counters, the imported list,
// the item dedupe set and the status transition change together or not at all.
type Store interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	Apply(ctx context.Context, outcome models.Outcome, now time.Time) (ApplyResult, error)
}

// ApplyResult describes what Apply did with an outcome.
type ApplyResult struct {
	// Counted is false when the outcome was ignored: duplicate item, job already
	// completed, or deltas that would overrun the job total.
	Counted bool
	// Completed is true only for the single Apply that moved the job to completed.
	Completed bool
	Processed int
	Failed    int
	Total     int
}

// ValidateOutcome rejects outcomes no store should apply.
func ValidateOutcome(o models.Outcome) error {
	switch {
	case o.JobID == "":
		return fmt.Errorf("%w: job_id is required", ErrInvalidOutcome)
	case o.ItemID == "":
		return fmt.Errorf("%w: item_id is required", ErrInvalidOutcome)
	case o.Processed < 0 || o.Failed < 0:
		return fmt.Errorf("%w: counts must not be negative", ErrInvalidOutcome)
	case o.Processed+o.Failed == 0:
		return fmt.Errorf("%w: outcome carries no progress", ErrInvalidOutcome)
	}
	return nil
}

// NewJob builds a job in processing state with zeroed counters.
func NewJob(id, source string, total int, now time.Time) *models.Job {
	return &models.Job{
		ID:        id,
		Source:    source,
		Status:    models.JobStatusProcessing,
		Total:     total,
		Imported:  []models.ImportedRecord{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// fits reports whether adding the outcome keeps processed+failed within total.
func fits(job *models.Job, o models.Outcome) bool {
	return job.Processed+job.Failed+o.Processed+o.Failed <= job.Total
}

// applyTo mutates job in place. Callers hold whatever lock guards job and have
// already checked status, dedupe and fits.
func applyTo(job *models.Job, o models.Outcome, now time.Time) ApplyResult {
	job.Processed += o.Processed
	job.Failed += o.Failed
	job.Imported = append(job.Imported, o.Imported...)
	job.UpdatedAt = now

	res := ApplyResult{Counted: true}
	if job.Status != models.JobStatusCompleted && job.Done() {
		job.Status = models.JobStatusCompleted
		completedAt := now
		job.CompletedAt = &completedAt
		res.Completed = true
	}
	res.Processed, res.Failed, res.Total = job.Processed, job.Failed, job.Total
	return res
}

func ignored(job *models.Job) ApplyResult {
	return ApplyResult{Processed: job.Processed, Failed: job.Failed, Total: job.Total}
}
