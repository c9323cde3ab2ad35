package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/driveimport/internal/api/response"
	"github.com/kiranshivaraju/driveimport/internal/registry"
	"github.com/kiranshivaraju/driveimport/pkg/models"
)

// Images is the registry surface served over HTTP. registry.Service implements it.
type Images interface {
	List(ctx context.Context, filter registry.Filter) ([]*models.ImportedRecord, int, error)
	All(ctx context.Context) ([]*models.ImportedRecord, error)
	Get(ctx context.Context, id int64) (*models.ImportedRecord, error)
	Create(ctx context.Context, rec models.ImportedRecord) (*models.ImportedRecord, error)
	DeleteImage(ctx context.Context, id int64) error
	Stats(ctx context.Context) (*models.RecordStats, error)
}

// NewListImagesHandler returns GET /api/v1/images.
func NewListImagesHandler(images Images) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := registry.Filter{
			Page:            queryInt(q.Get("page")),
			PerPage:         queryInt(q.Get("per_page")),
			StorageProvider: q.Get("storage_provider"),
		}.Normalized()

		records, total, err := images.List(r.Context(), filter)
		if err != nil {
			internalError(w, "listing images failed", err)
			return
		}
		response.Collection(w, records, response.NewPaginationMeta(filter.Page, filter.PerPage, total))
	}
}

// NewAllImagesHandler returns GET /api/v1/images/all.
func NewAllImagesHandler(images Images) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := images.All(r.Context())
		if err != nil {
			internalError(w, "listing all images failed", err)
			return
		}
		response.JSON(w, map[string]any{
			"total":  len(records),
			"images": records,
		})
	}
}

// NewGetImageHandler returns GET /api/v1/images/{imageID}.
func NewGetImageHandler(images Images) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := imageID(w, r)
		if !ok {
			return
		}
		rec, err := images.Get(r.Context(), id)
		if errors.Is(err, registry.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "IMAGE_NOT_FOUND", "Image not found", nil)
			return
		}
		if err != nil {
			internalError(w, "reading image failed", err)
			return
		}
		response.JSON(w, rec)
	}
}

// NewCreateImageHandler returns POST /api/v1/images. A duplicate google_drive_id
// answers 409 with the existing record as details.
func NewCreateImageHandler(images Images) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rec models.ImportedRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		rec.ID = 0

		stored, err := images.Create(r.Context(), rec)
		switch {
		case errors.Is(err, registry.ErrInvalidRecord):
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		case errors.Is(err, registry.ErrConflict):
			response.Error(w, http.StatusConflict, "DUPLICATE_IMAGE", "Image already registered", stored)
		case err != nil:
			internalError(w, "creating image failed", err)
		default:
			response.Created(w, stored)
		}
	}
}

// NewDeleteImageHandler returns DELETE /api/v1/images/{imageID}.
func NewDeleteImageHandler(images Images) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := imageID(w, r)
		if !ok {
			return
		}
		err := images.DeleteImage(r.Context(), id)
		if errors.Is(err, registry.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "IMAGE_NOT_FOUND", "Image not found", nil)
			return
		}
		if err != nil {
			internalError(w, "deleting image failed", err)
			return
		}
		response.JSON(w, map[string]any{"deleted": true, "id": id})
	}
}

// NewStatsHandler returns GET /api/v1/stats.
func NewStatsHandler(images Images) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := images.Stats(r.Context())
		if err != nil {
			internalError(w, "reading stats failed", err)
			return
		}
		response.JSON(w, stats)
	}
}

func imageID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "imageID"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "image id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}

// queryInt parses a query value; anything unparsable becomes 0 and takes the default.
func queryInt(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func internalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
}
