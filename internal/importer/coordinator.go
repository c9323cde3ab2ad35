package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/driveimport/internal/dispatch"
	"github.com/kiranshivaraju/driveimport/internal/jobs"
	"github.com/kiranshivaraju/driveimport/pkg/models"
)

// NoImagesMessage is returned by Submit when the source folder holds no images.
const NoImagesMessage = "No images found in the folder"

var ErrInvalidSource = errors.New("source locator is required")

// Enumerator lists the work items behind a source locator.
type Enumerator interface {
	ListImages(ctx context.Context, locator string) ([]models.WorkItem, error)
}

// SubmitResult is returned to the client that started an import.
// JobID is empty when nothing was found to import.
type SubmitResult struct {
	JobID   string `json:"job_id,omitempty"`
	Total   int    `json:"total_images"`
	Message string `json:"message"`
}

type Options struct {
	BatchSize int
	Now       func() time.Time
	NewID     func() string
}

// Coordinator owns job status. It splits a submitted source into batches, hands
// them to the dispatcher and folds item outcomes into the job store.
type Coordinator struct {
	enum       Enumerator
	store      jobs.Store
	dispatcher dispatch.Dispatcher
	batchSize  int
	now        func() time.Time
	newID      func() string

	inflight sync.WaitGroup
}

func NewCoordinator(enum Enumerator, store jobs.Store, dispatcher dispatch.Dispatcher, opts Options) *Coordinator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Coordinator{
		enum:       enum,
		store:      store,
		dispatcher: dispatcher,
		batchSize:  opts.BatchSize,
		now:        opts.Now,
		newID:      opts.NewID,
	}
}

// Submit enumerates the source once, creates the job and starts dispatching its
// batches in the background. It returns before any item is processed.
func (c *Coordinator) Submit(ctx context.Context, locator string) (*SubmitResult, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, ErrInvalidSource
	}

	items, err := c.enum.ListImages(ctx, locator)
	if err != nil {
		return nil, fmt.Errorf("listing source: %w", err)
	}
	if len(items) == 0 {
		slog.Info("import submitted with no images", "source", locator)
		return &SubmitResult{Total: 0, Message: NoImagesMessage}, nil
	}

	job := jobs.NewJob(c.newID(), locator, len(items), c.now())
	if err := c.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	batches := Partition(job.ID, items, c.batchSize, c.newID)
	slog.Info("import job created", "job_id", job.ID, "total", job.Total, "batches", len(batches))

	// Dispatch outlives the submitting request.
	dctx := context.WithoutCancel(ctx)
	for _, b := range batches {
		c.inflight.Add(1)
		go c.dispatch(dctx, b)
	}

	return &SubmitResult{
		JobID:   job.ID,
		Total:   job.Total,
		Message: fmt.Sprintf("Import started for %d images", job.Total),
	}, nil
}

func (c *Coordinator) dispatch(ctx context.Context, b models.Batch) {
	defer c.inflight.Done()
	if err := c.dispatcher.Dispatch(ctx, b); err != nil {
		slog.Error("batch lost, job will not complete",
			"job_id", b.JobID, "batch_id", b.ID, "items", len(b.Items), "error", err)
		return
	}
	slog.Debug("batch dispatched", "job_id", b.JobID, "batch_id", b.ID, "items", len(b.Items))
}

// Status returns a snapshot of the job.
func (c *Coordinator) Status(ctx context.Context, jobID string) (*models.Job, error) {
	return c.store.Get(ctx, jobID)
}

// ReportOutcome applies one item outcome. Reports for unknown jobs are dropped
// without error so a reporter never retries them.
func (c *Coordinator) ReportOutcome(ctx context.Context, o models.Outcome) error {
	res, err := c.store.Apply(ctx, o, c.now())
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		slog.Warn("outcome for unknown job ignored", "job_id", o.JobID, "item_id", o.ItemID)
		return nil
	case err != nil:
		return err
	}

	if !res.Counted {
		slog.Debug("outcome ignored", "job_id", o.JobID, "item_id", o.ItemID,
			"processed", res.Processed, "failed", res.Failed, "total", res.Total)
		return nil
	}
	if res.Completed {
		slog.Info("import job completed", "job_id", o.JobID,
			"processed", res.Processed, "failed", res.Failed, "total", res.Total)
	}
	return nil
}

// Wait blocks until background dispatches finish or ctx expires.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Partition splits items into batches of at most size, each with a fresh id.
func Partition(jobID string, items []models.WorkItem, size int, newID func() string) []models.Batch {
	if size <= 0 {
		size = max(len(items), 1)
	}
	batches := make([]models.Batch, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, models.Batch{
			ID:    newID(),
			JobID: jobID,
			Items: items[start:end],
		})
	}
	return batches
}
