package models

// WorkItem is a single file discovered in the source folder, awaiting import.
type WorkItem struct {
	ExternalID   string `json:"id"`
	Name         string `json:"name"`
	DeclaredSize int64  `json:"size"`
	MimeType     string `json:"mimeType"`
}

// Batch is a bounded group of work items dispatched together to the worker pool.
// ID makes acceptance idempotent when a dispatch is retried.
type Batch struct {
	ID    string     `json:"batch_id"`
	JobID string     `json:"job_id"`
	Items []WorkItem `json:"files"`
}

// BatchAck is the worker's answer to a dispatched batch.
// Duplicate is set when the batch id was already accepted; nothing new is scheduled then.
type BatchAck struct {
	BatchID   string `json:"batch_id"`
	Accepted  int    `json:"accepted"`
	BatchSize int    `json:"batch_size"`
	Duplicate bool   `json:"duplicate"`
}
