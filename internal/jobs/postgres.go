package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/driveimport/internal/store"
	"github.com/kiranshivaraju/driveimport/pkg/models"
)

// PostgresStore keeps job status in import_jobs and the per-item ledger in import_job_items.
// Apply runs in one transaction holding the job row lock.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO import_jobs (id, source, status, total, processed, failed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.Source, job.Status, job.Total, job.Processed, job.Failed, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if store.IsDuplicateKeyError(err) {
			return ErrDuplicateJob
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// Get reads the job row and its ledger in one repeatable-read snapshot.
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Job, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin get job: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var j models.Job
	err = tx.QueryRow(ctx,
		`SELECT id, source, status, total, processed, failed, created_at, updated_at, completed_at
		 FROM import_jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.Source, &j.Status, &j.Total, &j.Processed, &j.Failed,
		&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT imported FROM import_job_items
		 WHERE job_id = $1 AND imported IS NOT NULL ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("get job imported: %w", err)
	}
	defer rows.Close()

	j.Imported = []models.ImportedRecord{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan imported: %w", err)
		}
		var recs []models.ImportedRecord
		if err := json.Unmarshal(raw, &recs); err != nil {
			return nil, fmt.Errorf("decode imported: %w", err)
		}
		j.Imported = append(j.Imported, recs...)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read imported: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) Apply(ctx context.Context, o models.Outcome, now time.Time) (ApplyResult, error) {
	if err := ValidateOutcome(o); err != nil {
		return ApplyResult{}, err
	}

	var imported []byte
	if len(o.Imported) > 0 {
		b, err := json.Marshal(o.Imported)
		if err != nil {
			return ApplyResult{}, fmt.Errorf("encode imported: %w", err)
		}
		imported = b
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("begin apply: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	job := models.Job{ID: o.JobID}
	err = tx.QueryRow(ctx,
		`SELECT status, total, processed, failed FROM import_jobs WHERE id = $1 FOR UPDATE`, o.JobID,
	).Scan(&job.Status, &job.Total, &job.Processed, &job.Failed)
	if errors.Is(err, pgx.ErrNoRows) {
		return ApplyResult{}, ErrNotFound
	}
	if err != nil {
		return ApplyResult{}, fmt.Errorf("lock job: %w", err)
	}

	if job.Status == models.JobStatusCompleted || !fits(&job, o) {
		return ignored(&job), nil
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO import_job_items (job_id, item_id, processed, failed, imported, reason, reported_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (job_id, item_id) DO NOTHING`,
		o.JobID, o.ItemID, o.Processed, o.Failed, imported, o.Reason, now)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("record item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ignored(&job), nil
	}

	err = tx.QueryRow(ctx,
		`UPDATE import_jobs SET
		   processed = processed + $2,
		   failed = failed + $3,
		   updated_at = $4,
		   status = CASE WHEN processed + failed + $2 + $3 >= total THEN 'completed' ELSE status END,
		   completed_at = CASE WHEN processed + failed + $2 + $3 >= total THEN $4 ELSE completed_at END
		 WHERE id = $1
		 RETURNING status, processed, failed`,
		o.JobID, o.Processed, o.Failed, now,
	).Scan(&job.Status, &job.Processed, &job.Failed)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("update job counters: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return ApplyResult{}, fmt.Errorf("commit apply: %w", err)
	}

	return ApplyResult{
		Counted:   true,
		Completed: job.Status == models.JobStatusCompleted,
		Processed: job.Processed,
		Failed:    job.Failed,
		Total:     job.Total,
	}, nil
}
