package dispatch

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/driveimport/pkg/models"
)

const (
	SubjectBatches  = "imports.batches"
	SubjectOutcomes = "imports.outcomes"
)

var (
	ErrDispatchFailed = errors.New("batch dispatch failed")
	ErrReportFailed   = errors.New("outcome report failed")
	// ErrRejected marks a delivery the receiver refused; retrying it cannot help.
	ErrRejected = errors.New("rejected by receiver")
)

// Dispatcher hands a batch to the worker side.
type Dispatcher interface {
	Dispatch(ctx context.Context, batch models.Batch) error
}

// Reporter hands an item outcome to the coordinator side.
type Reporter interface {
	Report(ctx context.Context, outcome models.Outcome) error
}

// BatchAcceptor is the worker side of Dispatch.
type BatchAcceptor interface {
	AcceptBatch(ctx context.Context, batch models.Batch) (models.BatchAck, error)
}

// OutcomeSink is the coordinator side of Report.
type OutcomeSink interface {
	ReportOutcome(ctx context.Context, outcome models.Outcome) error
}
