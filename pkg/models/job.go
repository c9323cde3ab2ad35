package models

import "time"

const (
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
)

// Job tracks one bulk import request. The API returns a job_id on POST /api/v1/import/google-drive;
// the client polls GET /api/v1/import/status/{job_id} until status is completed.
type Job struct {
	ID          string           `db:"id"           json:"job_id"`
	Source      string           `db:"source"       json:"source"`
	Status      string           `db:"status"       json:"status"`
	Total       int              `db:"total"        json:"total"`
	Processed   int              `db:"processed"    json:"processed"`
	Failed      int              `db:"failed"       json:"failed"`
	Imported    []ImportedRecord `db:"-"            json:"imported"`
	CreatedAt   time.Time        `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at"   json:"updated_at"`
	CompletedAt *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
}

// Done reports whether every discovered item has been accounted for.
func (j *Job) Done() bool {
	return j.Processed+j.Failed >= j.Total
}
