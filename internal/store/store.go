package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var ErrDuplicateKey = errors.New("duplicate key violation")

// IsDuplicateKeyError checks if a pgx error is a unique constraint violation.
func IsDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
