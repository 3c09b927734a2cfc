package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	mw "github.com/scholarrelay/inkgate/internal/api/middleware"
	"github.com/scholarrelay/inkgate/internal/api/response"
	"github.com/scholarrelay/inkgate/internal/notify"
	"github.com/scholarrelay/inkgate/internal/queue"
	"github.com/scholarrelay/inkgate/internal/store"
	"github.com/scholarrelay/inkgate/internal/submission"
	"github.com/scholarrelay/inkgate/pkg/models"
)

// Queue is the slice of the queue manager the handlers depend on.
type Queue interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (*models.Job, error)
	GetJobStatus(ctx context.Context, id string) (*queue.JobStatus, error)
	RetryJob(ctx context.Context, id string) error
	CancelJob(ctx context.Context, id string) error
}

// PartnerGetter resolves the authenticated partner's record, used to fall
// back to the partner's registered webhook when a submission names none.
type PartnerGetter interface {
	GetPartner(ctx context.Context, id uuid.UUID) (*models.Partner, error)
}

// SubmitDeps bundles what the submit handler needs.
type SubmitDeps struct {
	Queue         Queue
	Partners      PartnerGetter
	Processor     *submission.Processor
	Notifier      notify.Notifier
	StagingDir    string
	MaxUploadSize int64
	MaxRetries    int
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/submissions.
// The request is multipart/form-data: one or more "files" parts plus optional
// "id" (idempotency key), "origin", "metadata" (JSON object of strings), and
// "notify_url" fields. Files are spooled to the staging directory before the
// job is enqueued, so retries re-read the same bytes.
func NewSubmitHandler(d SubmitDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		partnerID, ok := mw.GetPartnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing partner", nil)
			return
		}

		if err := r.ParseMultipartForm(d.MaxUploadSize); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Request must be multipart/form-data within the size limit", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()

		fileHeaders := r.MultipartForm.File["files"]
		if len(fileHeaders) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"At least one file part named 'files' is required", nil)
			return
		}

		jobID := r.FormValue("id")
		if jobID == "" {
			jobID = uuid.NewString()
		}

		origin := r.FormValue("origin")
		if origin == "" {
			origin = "api"
		}

		var metadata map[string]string
		if raw := r.FormValue("metadata"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"metadata must be a JSON object of strings", nil)
				return
			}
		}

		notifyURL := r.FormValue("notify_url")
		if notifyURL == "" {
			if partner, err := d.Partners.GetPartner(r.Context(), partnerID); err == nil && partner.NotifyURL != nil {
				notifyURL = *partner.NotifyURL
			}
		}

		staged, err := stageFiles(d.StagingDir, jobID, fileHeaders)
		if err != nil {
			removeStaged(staged)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to store uploaded files", nil)
			return
		}

		payload := submission.Payload{
			PartnerID: partnerID.String(),
			Origin:    origin,
			Files:     staged,
			Metadata:  metadata,
			NotifyURL: notifyURL,
		}
		rawPayload, err := json.Marshal(payload)
		if err != nil {
			removeStaged(staged)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to encode submission", nil)
			return
		}

		job, err := d.Queue.Enqueue(r.Context(), queue.EnqueueRequest{
			ID:         jobID,
			Type:       submission.JobType,
			Payload:    rawPayload,
			MaxRetries: d.MaxRetries,
			Processor:  d.Processor.Process,
			OnComplete: d.Processor.Completion(jobID, payload, d.Notifier),
		})
		if err != nil {
			removeStaged(staged)
			if errors.Is(err, store.ErrDuplicateJob) {
				response.Error(w, http.StatusConflict, "DUPLICATE_SUBMISSION",
					"A submission with this id already exists", map[string]string{"id": jobID})
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to enqueue submission", nil)
			return
		}

		response.Accepted(w, map[string]any{
			"id":     job.ID,
			"status": job.Status,
			"files":  len(staged),
		})
	}
}

func stageFiles(dir, jobID string, headers []*multipart.FileHeader) ([]submission.StagedFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	var staged []submission.StagedFile
	for i, fh := range headers {
		src, err := fh.Open()
		if err != nil {
			return staged, fmt.Errorf("open upload %s: %w", fh.Filename, err)
		}

		name := fmt.Sprintf("%s-%d%s", jobID, i, filepath.Ext(fh.Filename))
		path := filepath.Join(dir, name)
		dst, err := os.Create(path)
		if err != nil {
			src.Close()
			return staged, fmt.Errorf("create staged file: %w", err)
		}

		size, err := io.Copy(dst, src)
		src.Close()
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return staged, fmt.Errorf("spool %s: %w", fh.Filename, err)
		}

		mimeType := fh.Header.Get("Content-Type")
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}

		staged = append(staged, submission.StagedFile{
			Path:         path,
			OriginalName: filepath.Base(fh.Filename),
			Size:         size,
			MimeType:     mimeType,
			Provenance:   "upload",
		})
	}
	return staged, nil
}

func removeStaged(files []submission.StagedFile) {
	for _, f := range files {
		os.Remove(f.Path)
	}
}
