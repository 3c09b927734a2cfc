package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/scholarrelay/inkgate/internal/api/response"
	"github.com/scholarrelay/inkgate/internal/queue"
	"github.com/scholarrelay/inkgate/internal/store"
)

// NewRetryHandler returns an http.HandlerFunc for POST /api/v1/submissions/{jobID}/retry.
func NewRetryHandler(q Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		if jobID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Missing job id", nil)
			return
		}

		if err := q.RetryJob(r.Context(), jobID); err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Unknown job id", nil)
			case errors.Is(err, queue.ErrInvalidState):
				response.Error(w, http.StatusConflict, "INVALID_STATE",
					"Only failed or stalled jobs can be retried", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"Failed to retry job", nil)
			}
			return
		}

		response.Accepted(w, map[string]any{
			"id":     jobID,
			"status": "pending",
		})
	}
}
