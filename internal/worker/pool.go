package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/driveimport/internal/cache"
	"github.com/kiranshivaraju/driveimport/pkg/models"
)

var (
	ErrEmptyBatch = errors.New("batch has no files")
	ErrPoolClosed = errors.New("worker pool is shutting down")
)

// Reporter delivers item outcomes to the coordinator.
type Reporter interface {
	Report(ctx context.Context, outcome models.Outcome) error
}

// ItemProcessor runs one item to completion.
type ItemProcessor interface {
	Process(ctx context.Context, jobID string, item models.WorkItem) Result
}

type Config struct {
	Capacity      int
	BacklogSize   int
	ReportTimeout time.Duration
	// DedupeTTL is how long an accepted batch id is remembered.
	DedupeTTL time.Duration
}

type task struct {
	jobID string
	item  models.WorkItem
}

// Pool processes items with a fixed number of goroutines. Accepted batches are fed
// into a bounded backlog; feeders block while it is full, so excess items wait
// rather than fail.
type Pool struct {
	proc     ItemProcessor
	reporter Reporter
	accepted cache.Cache
	cfg      Config

	tasks   chan task
	workers sync.WaitGroup
	feeders sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

func NewPool(proc ItemProcessor, reporter Reporter, accepted cache.Cache, cfg Config) *Pool {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 50
	}
	if cfg.BacklogSize <= 0 {
		cfg.BacklogSize = 1000
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = 30 * time.Second
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 24 * time.Hour
	}
	if accepted == nil {
		accepted = cache.NewMemoryCache()
	}

	return &Pool{
		proc:     proc,
		reporter: reporter,
		accepted: accepted,
		cfg:      cfg,
		tasks:    make(chan task, cfg.BacklogSize),
	}
}

// Start launches the workers. ctx is used for item processing and should outlive Shutdown.
func (p *Pool) Start(ctx context.Context) {
	p.once.Do(func() {
		for i := 0; i < p.cfg.Capacity; i++ {
			p.workers.Add(1)
			go p.worker(ctx)
		}
		slog.Info("worker pool started", "capacity", p.cfg.Capacity, "backlog", p.cfg.BacklogSize)
	})
}

// AcceptBatch schedules the batch and returns without waiting for any item.
// A batch id seen before is acknowledged as a duplicate and not scheduled again.
func (p *Pool) AcceptBatch(ctx context.Context, batch models.Batch) (models.BatchAck, error) {
	if len(batch.Items) == 0 {
		return models.BatchAck{}, ErrEmptyBatch
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return models.BatchAck{}, ErrPoolClosed
	}

	ack := models.BatchAck{BatchID: batch.ID, BatchSize: len(batch.Items)}
	if batch.ID != "" {
		first, err := p.accepted.SetNX(ctx, cache.BatchAcceptedKey(batch.ID), p.cfg.DedupeTTL)
		if err != nil {
			return models.BatchAck{}, err
		}
		if !first {
			slog.Info("duplicate batch ignored", "job_id", batch.JobID, "batch_id", batch.ID)
			ack.Duplicate = true
			return ack, nil
		}
	}

	p.feeders.Add(1)
	go p.feed(batch)

	ack.Accepted = len(batch.Items)
	slog.Info("batch accepted", "job_id", batch.JobID, "batch_id", batch.ID, "items", ack.Accepted)
	return ack, nil
}

// ProcessItem runs one item synchronously, outside the backlog, and reports its
// outcome when jobID is set.
func (p *Pool) ProcessItem(ctx context.Context, jobID string, item models.WorkItem) Result {
	res := p.proc.Process(ctx, jobID, item)
	if jobID != "" {
		p.report(res.Outcome)
	}
	return res
}

// Shutdown stops accepting batches, lets queued items finish and waits for the
// workers or for ctx to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.feeders.Wait()
		close(p.tasks)
		p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("worker pool drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) feed(batch models.Batch) {
	defer p.feeders.Done()
	for _, item := range batch.Items {
		p.tasks <- task{jobID: batch.JobID, item: item}
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.workers.Done()
	for t := range p.tasks {
		res := p.proc.Process(ctx, t.jobID, t.item)
		p.report(res.Outcome)
	}
}

func (p *Pool) report(o models.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ReportTimeout)
	defer cancel()
	if err := p.reporter.Report(ctx, o); err != nil {
		slog.Error("outcome report lost", "job_id", o.JobID, "item_id", o.ItemID, "error", err)
	}
}
