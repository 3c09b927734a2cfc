package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/scholarrelay/inkgate/internal/api/response"
	"github.com/scholarrelay/inkgate/internal/store"
	"github.com/scholarrelay/inkgate/pkg/models"
)

// StatusReader is the cache-side fast path for status polling.
type StatusReader interface {
	GetJobStatus(ctx context.Context, jobID string) (string, bool, error)
}

// NewStatusHandler returns an http.HandlerFunc for GET /api/v1/submissions/{jobID}.
// Non-terminal statuses are answered from the cache when possible; terminal
// statuses always come from the store so the response carries the completion
// data or error message.
func NewStatusHandler(q Queue, statusCache StatusReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		if jobID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Missing job id", nil)
			return
		}

		if statusCache != nil {
			if cached, ok, err := statusCache.GetJobStatus(r.Context(), jobID); err == nil && ok {
				if !models.JobStatus(cached).Terminal() {
					response.JSON(w, map[string]any{
						"id":     jobID,
						"status": cached,
					})
					return
				}
			}
		}

		status, err := q.GetJobStatus(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Unknown job id", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load job status", nil)
			return
		}

		response.JSON(w, status)
	}
}
