package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/driveimport/internal/blob"
	"github.com/kiranshivaraju/driveimport/internal/registry"
	"github.com/kiranshivaraju/driveimport/pkg/models"
)

// Fetcher downloads item content from the source.
type Fetcher interface {
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// Registry is the part of the metadata registry the processor needs.
type Registry interface {
	GetByExternalID(ctx context.Context, externalID string) (*models.ImportedRecord, error)
	Register(ctx context.Context, rec models.ImportedRecord) (*models.ImportedRecord, bool, error)
}

// Result is what processing one item produced. Record is the created or already
// existing registry row; it is nil when the item failed.
type Result struct {
	Outcome models.Outcome
	Record  *models.ImportedRecord
	Err     error
}

// Processor runs the fetch, store, register chain for one item.
type Processor struct {
	fetcher  Fetcher
	sink     blob.Sink
	registry Registry
}

func NewProcessor(fetcher Fetcher, sink blob.Sink, reg Registry) *Processor {
	return &Processor{fetcher: fetcher, sink: sink, registry: reg}
}

// Process never panics; a panic inside the chain becomes a failed outcome.
func (p *Processor) Process(ctx context.Context, jobID string, item models.WorkItem) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic processing item",
				"job_id", jobID, "item_id", item.ExternalID, "error", r, "stack", string(debug.Stack()))
			res = failed(jobID, item, fmt.Errorf("panic: %v", r))
		}
	}()

	existing, err := p.registry.GetByExternalID(ctx, item.ExternalID)
	if err == nil {
		return Result{Outcome: models.Succeeded(jobID, item.ExternalID, nil), Record: existing}
	}
	if !errors.Is(err, registry.ErrNotFound) {
		slog.Warn("registry pre-check failed, importing anyway",
			"job_id", jobID, "item_id", item.ExternalID, "error", err)
	}

	body, err := p.fetcher.Download(ctx, item.ExternalID)
	if err != nil {
		return failed(jobID, item, fmt.Errorf("download: %w", err))
	}
	obj, err := p.sink.Put(ctx, item.Name, item.MimeType, body)
	body.Close()
	if err != nil {
		return failed(jobID, item, fmt.Errorf("store: %w", err))
	}

	rec, created, err := p.registry.Register(ctx, models.ImportedRecord{
		ExternalID:      item.ExternalID,
		Name:            item.Name,
		Size:            obj.Size,
		MimeType:        item.MimeType,
		StoragePath:     obj.Path,
		StorageProvider: obj.Provider,
		Checksum:        obj.Checksum,
	})
	if err != nil {
		// the blob stays behind; orphans are tolerated
		return failed(jobID, item, fmt.Errorf("register: %w", err))
	}
	if !created {
		slog.Info("item registered concurrently, keeping existing record",
			"job_id", jobID, "item_id", item.ExternalID, "orphan_path", obj.Path)
		return Result{Outcome: models.Succeeded(jobID, item.ExternalID, nil), Record: rec}
	}
	return Result{Outcome: models.Succeeded(jobID, item.ExternalID, rec), Record: rec}
}

func failed(jobID string, item models.WorkItem, err error) Result {
	slog.Warn("item failed", "job_id", jobID, "item_id", item.ExternalID, "name", item.Name, "error", err)
	return Result{
		Outcome: models.FailedWith(jobID, item.ExternalID, truncateReason(err.Error())),
		Err:     err,
	}
}

// truncateReason caps the reason at maxLen bytes without splitting a rune, so the
// result is always valid UTF-8 for the job stores.
func truncateReason(reason string) string {
	const maxLen = 1000
	reason = strings.ToValidUTF8(strings.TrimSpace(reason), "\uFFFD")
	if len(reason) <= maxLen {
		return reason
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
