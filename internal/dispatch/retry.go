package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kiranshivaraju/driveimport/pkg/models"
)

// Retry configures at-least-once delivery. Receivers dedupe by batch id and item id.
type Retry struct {
	MaxRetries      int
	AttemptTimeout  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (r Retry) do(ctx context.Context, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		b.InitialInterval = r.InitialInterval
	}
	if r.MaxInterval > 0 {
		b.MaxInterval = r.MaxInterval
	}
	b.MaxElapsedTime = 0

	maxRetries := r.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx)

	return backoff.Retry(func() error {
		attemptCtx := ctx
		if r.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, r.AttemptTimeout)
			defer cancel()
		}
		err := op(attemptCtx)
		if errors.Is(err, ErrRejected) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

type retryingDispatcher struct {
	next  Dispatcher
	retry Retry
}

// WithRetry retries failed dispatches with exponential backoff. The final error wraps ErrDispatchFailed.
func WithRetry(next Dispatcher, retry Retry) Dispatcher {
	return &retryingDispatcher{next: next, retry: retry}
}

func (d *retryingDispatcher) Dispatch(ctx context.Context, batch models.Batch) error {
	attempt := 0
	err := d.retry.do(ctx, func(ctx context.Context) error {
		attempt++
		err := d.next.Dispatch(ctx, batch)
		if err != nil {
			slog.Warn("batch dispatch attempt failed",
				"job_id", batch.JobID, "batch_id", batch.ID, "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: batch %s after %d attempts: %w", ErrDispatchFailed, batch.ID, attempt, err)
	}
	return nil
}

type retryingReporter struct {
	next  Reporter
	retry Retry
}

// WithReportRetry retries failed reports with exponential backoff. The final error wraps ErrReportFailed.
func WithReportRetry(next Reporter, retry Retry) Reporter {
	return &retryingReporter{next: next, retry: retry}
}

func (r *retryingReporter) Report(ctx context.Context, outcome models.Outcome) error {
	attempt := 0
	err := r.retry.do(ctx, func(ctx context.Context) error {
		attempt++
		return r.next.Report(ctx, outcome)
	})
	if err != nil {
		return fmt.Errorf("%w: job %s item %s after %d attempts: %w",
			ErrReportFailed, outcome.JobID, outcome.ItemID, attempt, err)
	}
	return nil
}
