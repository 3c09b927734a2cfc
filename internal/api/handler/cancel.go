package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/scholarrelay/inkgate/internal/api/response"
	"github.com/scholarrelay/inkgate/internal/queue"
	"github.com/scholarrelay/inkgate/internal/store"
)

// NewCancelHandler returns an http.HandlerFunc for DELETE /api/v1/submissions/{jobID}.
func NewCancelHandler(q Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		if jobID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Missing job id", nil)
			return
		}

		if err := q.CancelJob(r.Context(), jobID); err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Unknown job id", nil)
			case errors.Is(err, queue.ErrInvalidState):
				response.Error(w, http.StatusConflict, "INVALID_STATE",
					"Completed jobs cannot be cancelled", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"Failed to cancel job", nil)
			}
			return
		}

		response.JSON(w, map[string]any{
			"id":     jobID,
			"status": "failed",
		})
	}
}
