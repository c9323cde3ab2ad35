package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/driveimport/internal/jobs"
	"github.com/kiranshivaraju/driveimport/internal/worker"
	"github.com/kiranshivaraju/driveimport/pkg/models"
	"github.com/nats-io/nats.go"
)

const (
	workerQueue      = "import-workers"
	coordinatorQueue = "import-coordinators"
)

// natsReply is the body of every request-reply answer on the import subjects.
type natsReply struct {
	OK       bool             `json:"ok"`
	Error    string           `json:"error,omitempty"`
	Rejected bool             `json:"rejected,omitempty"`
	Ack      *models.BatchAck `json:"ack,omitempty"`
}

// NATSDispatcher publishes batches as requests on SubjectBatches.
type NATSDispatcher struct {
	conn *nats.Conn
}

func NewNATSDispatcher(conn *nats.Conn) *NATSDispatcher {
	return &NATSDispatcher{conn: conn}
}

func (d *NATSDispatcher) Dispatch(ctx context.Context, batch models.Batch) error {
	return request(ctx, d.conn, SubjectBatches, batch)
}

// NATSReporter publishes outcomes as requests on SubjectOutcomes.
type NATSReporter struct {
	conn *nats.Conn
}

func NewNATSReporter(conn *nats.Conn) *NATSReporter {
	return &NATSReporter{conn: conn}
}

func (r *NATSReporter) Report(ctx context.Context, outcome models.Outcome) error {
	return request(ctx, r.conn, SubjectOutcomes, outcome)
}

func request(ctx context.Context, conn *nats.Conn, subject string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %v", ErrRejected, subject, err)
	}

	msg, err := conn.RequestWithContext(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("request %s: %w", subject, err)
	}

	var reply natsReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("decoding %s reply: %w", subject, err)
	}
	if reply.OK {
		return nil
	}
	if reply.Rejected {
		return fmt.Errorf("%w: %s", ErrRejected, reply.Error)
	}
	return fmt.Errorf("%s: %s", subject, reply.Error)
}

// ServeBatches answers batch requests with the acceptor. Workers share a queue group
// so each batch reaches one pool.
func ServeBatches(conn *nats.Conn, acceptor BatchAcceptor) (*nats.Subscription, error) {
	return conn.QueueSubscribe(SubjectBatches, workerQueue, func(msg *nats.Msg) {
		var batch models.Batch
		if err := json.Unmarshal(msg.Data, &batch); err != nil {
			respond(msg, natsReply{Error: "malformed batch: " + err.Error(), Rejected: true})
			return
		}

		ack, err := acceptor.AcceptBatch(context.Background(), batch)
		if err != nil {
			respond(msg, natsReply{Error: err.Error(), Rejected: errors.Is(err, worker.ErrEmptyBatch)})
			return
		}
		respond(msg, natsReply{OK: true, Ack: &ack})
	})
}

// ServeOutcomes answers outcome reports with the sink.
func ServeOutcomes(conn *nats.Conn, sink OutcomeSink) (*nats.Subscription, error) {
	return conn.QueueSubscribe(SubjectOutcomes, coordinatorQueue, func(msg *nats.Msg) {
		var outcome models.Outcome
		if err := json.Unmarshal(msg.Data, &outcome); err != nil {
			respond(msg, natsReply{Error: "malformed outcome: " + err.Error(), Rejected: true})
			return
		}

		if err := sink.ReportOutcome(context.Background(), outcome); err != nil {
			respond(msg, natsReply{Error: err.Error(), Rejected: errors.Is(err, jobs.ErrInvalidOutcome)})
			return
		}
		respond(msg, natsReply{OK: true})
	})
}

func respond(msg *nats.Msg, reply natsReply) {
	data, _ := json.Marshal(reply)
	if err := msg.Respond(data); err != nil {
		slog.Warn("nats respond failed", "subject", msg.Subject, "error", err)
	}
}
