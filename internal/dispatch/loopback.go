package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/kiranshivaraju/driveimport/pkg/models"
)

// Loopback connects a coordinator and a worker pool living in the same process.
// It is both a Dispatcher and a Reporter; Attach wires the two ends once both exist.
type Loopback struct {
	mu       sync.RWMutex
	acceptor BatchAcceptor
	sink     OutcomeSink
}

func NewLoopback() *Loopback {
	return &Loopback{}
}

func (l *Loopback) Attach(acceptor BatchAcceptor, sink OutcomeSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acceptor = acceptor
	l.sink = sink
}

func (l *Loopback) Dispatch(ctx context.Context, batch models.Batch) error {
	l.mu.RLock()
	acceptor := l.acceptor
	l.mu.RUnlock()
	if acceptor == nil {
		return fmt.Errorf("loopback: no worker pool attached")
	}
	_, err := acceptor.AcceptBatch(ctx, batch)
	return err
}

func (l *Loopback) Report(ctx context.Context, outcome models.Outcome) error {
	l.mu.RLock()
	sink := l.sink
	l.mu.RUnlock()
	if sink == nil {
		return fmt.Errorf("loopback: no coordinator attached")
	}
	return sink.ReportOutcome(ctx, outcome)
}
