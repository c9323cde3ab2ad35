package registry

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/kiranshivaraju/driveimport/pkg/models"
)

var (
	ErrNotFound      = errors.New("image not found")
	ErrConflict      = errors.New("image already registered")
	ErrInvalidRecord = errors.New("invalid image record")
)

const (
	defaultPerPage = 50
	maxPerPage     = 100
	// maxPage keeps (Page-1)*PerPage inside a 32-bit OFFSET.
	maxPage = math.MaxInt32 / maxPerPage
)

// Filter selects a page of records. Zero values mean page 1, default page size, any provider.
type Filter struct {
	Page            int
	PerPage         int
	StorageProvider string
}

// Normalized applies defaults and caps PerPage and Page.
func (f Filter) Normalized() Filter {
	if f.PerPage <= 0 {
		f.PerPage = defaultPerPage
	}
	if f.PerPage > maxPerPage {
		f.PerPage = maxPerPage
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Page > maxPage {
		f.Page = maxPage
	}
	return f
}

func (f Filter) offset() int {
	return (f.Page - 1) * f.PerPage
}

// Validate checks the fields every registered record must carry and fills CreatedAt.
func Validate(rec *models.ImportedRecord) error {
	switch {
	case strings.TrimSpace(rec.ExternalID) == "":
		return errors.Join(ErrInvalidRecord, errors.New("google_drive_id is required"))
	case strings.TrimSpace(rec.Name) == "":
		return errors.Join(ErrInvalidRecord, errors.New("name is required"))
	case rec.StoragePath == "":
		return errors.Join(ErrInvalidRecord, errors.New("storage_path is required"))
	case rec.StorageProvider == "":
		return errors.Join(ErrInvalidRecord, errors.New("storage_provider is required"))
	case rec.Size < 0:
		return errors.Join(ErrInvalidRecord, errors.New("size must not be negative"))
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return nil
}
