package models

import "time"

// ImportedRecord is the registered metadata of an image that was copied into blob storage.
// ExternalID is unique across all records.
type ImportedRecord struct {
	ID              int64     `db:"id"               json:"id"`
	ExternalID      string    `db:"external_id"      json:"google_drive_id"`
	Name            string    `db:"name"             json:"name"`
	Size            int64     `db:"size"             json:"size"`
	MimeType        string    `db:"mime_type"        json:"mime_type"`
	StoragePath     string    `db:"storage_path"     json:"storage_path"`
	StorageProvider string    `db:"storage_provider" json:"storage_provider"`
	Checksum        string    `db:"checksum"         json:"checksum,omitempty"`
	CreatedAt       time.Time `db:"created_at"       json:"created_at"`
}

// RecordStats aggregates the registry contents.
type RecordStats struct {
	TotalImages    int            `json:"total_images"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
	TotalSizeMB    float64        `json:"total_size_mb"`
	ByProvider     map[string]int `json:"by_provider"`
}
