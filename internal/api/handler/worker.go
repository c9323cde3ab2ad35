package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/driveimport/internal/api/response"
	"github.com/kiranshivaraju/driveimport/internal/worker"
	"github.com/kiranshivaraju/driveimport/pkg/models"
)

type BatchAcceptor interface {
	AcceptBatch(ctx context.Context, batch models.Batch) (models.BatchAck, error)
}

type ItemRunner interface {
	ProcessItem(ctx context.Context, jobID string, item models.WorkItem) worker.Result
}

// NewAcceptBatchHandler returns POST /api/v1/worker/batches.
func NewAcceptBatchHandler(pool BatchAcceptor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var batch models.Batch
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		ack, err := pool.AcceptBatch(r.Context(), batch)
		switch {
		case errors.Is(err, worker.ErrEmptyBatch):
			response.Error(w, http.StatusBadRequest, "EMPTY_BATCH", "No files provided", nil)
			return
		case errors.Is(err, worker.ErrPoolClosed):
			response.Error(w, http.StatusServiceUnavailable, "WORKER_UNAVAILABLE", "Worker is shutting down", nil)
			return
		case err != nil:
			slog.Error("accepting batch failed", "job_id", batch.JobID, "batch_id", batch.ID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to accept batch", nil)
			return
		}
		response.Accepted(w, ack)
	}
}

// NewProcessItemHandler returns POST /api/v1/worker/items, which imports one
// file synchronously. It is the manual retry path for a failed item.
func NewProcessItemHandler(runner ItemRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JobID    string          `json:"job_id"`
			FileData models.WorkItem `json:"file_data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.FileData.ExternalID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "file_data.id is required", nil)
			return
		}

		res := runner.ProcessItem(r.Context(), req.JobID, req.FileData)
		if res.Err != nil {
			response.Error(w, http.StatusInternalServerError, "ITEM_FAILED", res.Outcome.Reason,
				map[string]any{"success": false, "file_id": req.FileData.ExternalID})
			return
		}
		response.JSON(w, map[string]any{
			"success": true,
			"image":   res.Record,
		})
	}
}
