package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/driveimport/pkg/models"
)

// Store is the record persistence the Service works on. PostgresRegistry implements it.
type Store interface {
	Ping(ctx context.Context) error
	Register(ctx context.Context, rec models.ImportedRecord) (*models.ImportedRecord, bool, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.ImportedRecord, error)
	Get(ctx context.Context, id int64) (*models.ImportedRecord, error)
	List(ctx context.Context, filter Filter) ([]*models.ImportedRecord, int, error)
	All(ctx context.Context) ([]*models.ImportedRecord, error)
	Stats(ctx context.Context) (*models.RecordStats, error)
	Delete(ctx context.Context, id int64) error
}

// BlobRemover deletes stored content for one storage provider.
type BlobRemover interface {
	Provider() string
	Delete(ctx context.Context, path string) error
}

// Service adds the cross-store flows on top of a Store: explicit creation with
// conflict reporting, and deletion that removes the blob before the record.
type Service struct {
	Store
	blobs map[string]BlobRemover
}

// NewService creates a Service. Records whose provider has no remover keep their blob on delete.
func NewService(st Store, removers ...BlobRemover) *Service {
	blobs := make(map[string]BlobRemover, len(removers))
	for _, r := range removers {
		blobs[r.Provider()] = r
	}
	return &Service{Store: st, blobs: blobs}
}

// Create registers rec. When the external id is already present it returns the
// existing record together with ErrConflict.
func (s *Service) Create(ctx context.Context, rec models.ImportedRecord) (*models.ImportedRecord, error) {
	stored, created, err := s.Register(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !created {
		return stored, ErrConflict
	}
	return stored, nil
}

// DeleteImage removes the blob first, then the metadata row.
// A failed blob delete is logged and the record is still removed.
func (s *Service) DeleteImage(ctx context.Context, id int64) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if remover, ok := s.blobs[rec.StorageProvider]; ok {
		if err := remover.Delete(ctx, rec.StoragePath); err != nil {
			slog.Warn("blob delete failed, removing record anyway",
				"image_id", id, "storage_path", rec.StoragePath, "error", err)
		}
	} else {
		slog.Warn("no blob remover for provider", "image_id", id, "provider", rec.StorageProvider)
	}

	if err := s.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete image record: %w", err)
	}
	return nil
}
