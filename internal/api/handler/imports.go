package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/driveimport/internal/api/response"
	"github.com/kiranshivaraju/driveimport/internal/drive"
	"github.com/kiranshivaraju/driveimport/internal/importer"
	"github.com/kiranshivaraju/driveimport/internal/jobs"
	"github.com/kiranshivaraju/driveimport/pkg/models"
)

// Importer is the coordinator as seen by the HTTP layer.
type Importer interface {
	Submit(ctx context.Context, locator string) (*importer.SubmitResult, error)
	Status(ctx context.Context, jobID string) (*models.Job, error)
	ReportOutcome(ctx context.Context, outcome models.Outcome) error
}

// NewSubmitImportHandler returns POST /api/v1/import/google-drive.
func NewSubmitImportHandler(imp Importer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			FolderURL string `json:"folder_url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if strings.TrimSpace(req.FolderURL) == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "folder_url is required", nil)
			return
		}

		res, err := imp.Submit(r.Context(), req.FolderURL)
		switch {
		case errors.Is(err, importer.ErrInvalidSource), errors.Is(err, drive.ErrInvalidFolder):
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "folder_url does not name a folder", nil)
			return
		case errors.Is(err, drive.ErrDriveUnreachable),
			errors.Is(err, drive.ErrDriveTimeout),
			errors.Is(err, drive.ErrDriveRequest):
			slog.Warn("listing source failed", "folder_url", req.FolderURL, "error", err)
			response.Error(w, http.StatusBadGateway, "SOURCE_UNAVAILABLE", "Could not list the folder", nil)
			return
		case err != nil:
			slog.Error("submit import failed", "folder_url", req.FolderURL, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start import", nil)
			return
		}

		if res.Total == 0 {
			response.JSON(w, res)
			return
		}
		response.Accepted(w, res)
	}
}

// NewImportStatusHandler returns GET /api/v1/import/status/{jobID}.
func NewImportStatusHandler(imp Importer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := imp.Status(r.Context(), chi.URLParam(r, "jobID"))
		if errors.Is(err, jobs.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
			return
		}
		if err != nil {
			slog.Error("reading job status failed", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read job status", nil)
			return
		}
		response.JSON(w, job)
	}
}

// NewUpdateStatusHandler returns POST /api/v1/import/update-status, the outcome
// intake for remote workers. Unknown jobs are acknowledged.
//
// Every report describes one item and must carry item_id next to job_id. The item
// id is what makes a retried report count once, so bare count deltas such as
// {job_id, processed, failed, imported} are rejected with 400.
func NewUpdateStatusHandler(imp Importer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var outcome models.Outcome
		if err := json.NewDecoder(r.Body).Decode(&outcome); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		err := imp.ReportOutcome(r.Context(), outcome)
		if errors.Is(err, jobs.ErrInvalidOutcome) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}
		if err != nil {
			slog.Error("applying outcome failed", "job_id", outcome.JobID, "item_id", outcome.ItemID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update status", nil)
			return
		}
		response.JSON(w, map[string]bool{"ack": true})
	}
}
