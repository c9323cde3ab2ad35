package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/driveimport/pkg/models"
)

const recordColumns = `id, external_id, name, size, mime_type, storage_path, storage_provider, checksum, created_at`

// PostgresRegistry stores image records in the images table.
// The unique index on external_id is the authority on duplicates.
type PostgresRegistry struct {
	pool *pgxpool.Pool
}

// NewPostgresRegistry creates a new PostgresRegistry.
func NewPostgresRegistry(pool *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{pool: pool}
}

// Ping checks database connectivity.
func (r *PostgresRegistry) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Register inserts rec unless its external id is already present.
// On conflict the existing row is returned with created=false.
func (r *PostgresRegistry) Register(ctx context.Context, rec models.ImportedRecord) (*models.ImportedRecord, bool, error) {
	if err := Validate(&rec); err != nil {
		return nil, false, err
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO images (external_id, name, size, mime_type, storage_path, storage_provider, checksum, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (external_id) DO NOTHING
		 RETURNING `+recordColumns,
		rec.ExternalID, rec.Name, rec.Size, rec.MimeType, rec.StoragePath, rec.StorageProvider,
		rec.Checksum, rec.CreatedAt)

	created, err := scanRecord(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("register image: %w", err)
	}

	existing, err := r.GetByExternalID(ctx, rec.ExternalID)
	if err != nil {
		return nil, false, fmt.Errorf("load conflicting image: %w", err)
	}
	return existing, false, nil
}

func (r *PostgresRegistry) GetByExternalID(ctx context.Context, externalID string) (*models.ImportedRecord, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM images WHERE external_id = $1`, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get image by external id: %w", err)
	}
	return rec, nil
}

func (r *PostgresRegistry) Get(ctx context.Context, id int64) (*models.ImportedRecord, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM images WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	return rec, nil
}

// List returns one page of records, newest first, and the total matching count.
func (r *PostgresRegistry) List(ctx context.Context, filter Filter) ([]*models.ImportedRecord, int, error) {
	filter = filter.Normalized()

	where := ""
	args := []any{}
	if filter.StorageProvider != "" {
		where = " WHERE storage_provider = $1"
		args = append(args, filter.StorageProvider)
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM images"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count images: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM images%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		recordColumns, where, len(args)+1, len(args)+2)
	args = append(args, filter.PerPage, filter.offset())

	records, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list images: %w", err)
	}
	return records, total, nil
}

// All returns every record, newest first.
func (r *PostgresRegistry) All(ctx context.Context) ([]*models.ImportedRecord, error) {
	records, err := r.query(ctx, `SELECT `+recordColumns+` FROM images ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list all images: %w", err)
	}
	return records, nil
}

func (r *PostgresRegistry) Stats(ctx context.Context) (*models.RecordStats, error) {
	stats := &models.RecordStats{ByProvider: map[string]int{}}

	err := r.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM images`).
		Scan(&stats.TotalImages, &stats.TotalSizeBytes)
	if err != nil {
		return nil, fmt.Errorf("image totals: %w", err)
	}
	stats.TotalSizeMB = bytesToMB(stats.TotalSizeBytes)

	rows, err := r.pool.Query(ctx, `SELECT storage_provider, COUNT(*) FROM images GROUP BY storage_provider`)
	if err != nil {
		return nil, fmt.Errorf("images by provider: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var provider string
		var count int
		if err := rows.Scan(&provider, &count); err != nil {
			return nil, fmt.Errorf("scan provider count: %w", err)
		}
		stats.ByProvider[provider] = count
	}
	return stats, rows.Err()
}

func (r *PostgresRegistry) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRegistry) query(ctx context.Context, sql string, args ...any) ([]*models.ImportedRecord, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*models.ImportedRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(row pgx.Row) (*models.ImportedRecord, error) {
	var rec models.ImportedRecord
	err := row.Scan(&rec.ID, &rec.ExternalID, &rec.Name, &rec.Size, &rec.MimeType,
		&rec.StoragePath, &rec.StorageProvider, &rec.Checksum, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// bytesToMB rounds to two decimals.
func bytesToMB(b int64) float64 {
	return float64(int64(float64(b)/(1024*1024)*100+0.5)) / 100
}
