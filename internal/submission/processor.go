// Package submission implements the job processor for partner manuscript
// submissions: it drives a processing session through staged-file capture,
// the downstream analysis call, and the single audit flush, and builds the
// completion callback that notifies the partner and releases staged files.
package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/scholarrelay/inkgate/internal/analysis"
	"github.com/scholarrelay/inkgate/internal/audit"
	"github.com/scholarrelay/inkgate/internal/notify"
	"github.com/scholarrelay/inkgate/internal/queue"
	"github.com/scholarrelay/inkgate/internal/session"
	"github.com/scholarrelay/inkgate/pkg/models"
)

// JobType tags submission jobs in the queue's type table.
const JobType = "submission"

const notifyTimeout = 30 * time.Second

// StagedFile points at one uploaded artifact spooled to local disk.
type StagedFile struct {
	Path         string `json:"path"`
	OriginalName string `json:"original_name"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mime_type"`
	Provenance   string `json:"provenance"`
}

// Payload is the serializable job payload for a submission. Everything a
// retry needs must live here: the processor is rebuilt from this record on
// every attempt.
type Payload struct {
	PartnerID string            `json:"partner_id"`
	Origin    string            `json:"origin"`
	Files     []StagedFile      `json:"files"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	NotifyURL string            `json:"notify_url,omitempty"`
}

// Processor executes submission jobs.
type Processor struct {
	analysis analysis.Client
	sink     audit.Sink
}

func NewProcessor(ac analysis.Client, sink audit.Sink) *Processor {
	return &Processor{analysis: ac, sink: sink}
}

// Process runs one attempt. Staged files are never deleted here: a failed
// attempt may be retried from the same payload, so only the completion
// callback — which fires on terminal outcomes — releases them.
func (p *Processor) Process(ctx context.Context, job *models.Job) (result json.RawMessage, err error) {
	var payload Payload
	if uerr := json.Unmarshal(job.Payload, &payload); uerr != nil {
		return nil, fmt.Errorf("decode submission payload: %w", uerr)
	}
	if len(payload.Files) == 0 {
		return nil, fmt.Errorf("submission %s has no staged files", job.ID)
	}

	sess := session.New(payload.PartnerID, job.ID)
	sess.SetOrigin(payload.Origin)

	// One flush per execution, on every exit path. A flush failure is
	// logged and never changes the job's own outcome.
	defer func() {
		if _, ferr := sess.Flush(ctx, p.sink); ferr != nil {
			slog.Error("submission: audit flush failed",
				"job_id", job.ID, "partner_id", payload.PartnerID, "error", ferr)
		}
	}()

	sess.AddLog(fmt.Sprintf("attempt %d/%d started", job.Retries+1, job.MaxRetries+1), session.LevelInfo)

	for _, f := range payload.Files {
		sess.AddFile(session.File{
			OriginalName: f.OriginalName,
			Size:         f.Size,
			MimeType:     f.MimeType,
			Provenance:   f.Provenance,
			Path:         f.Path,
		})
	}

	primary := payload.Files[0]
	content, rerr := os.ReadFile(primary.Path)
	if rerr != nil {
		sess.AddLog(fmt.Sprintf("staged file %s unreadable: %v", primary.OriginalName, rerr), session.LevelError)
		return nil, fmt.Errorf("read staged file %s: %w", primary.OriginalName, rerr)
	}
	sess.AddLog(fmt.Sprintf("submitting %s (%d bytes) for analysis", primary.OriginalName, len(content)), session.LevelInfo)

	req := analysis.Request{
		FileName:    primary.OriginalName,
		ContentType: primary.MimeType,
		Content:     content,
		Metadata:    payload.Metadata,
	}
	sess.SetRequest(map[string]any{
		"file_name": req.FileName,
		"size":      len(req.Content),
		"metadata":  req.Metadata,
	})

	report, aerr := p.analysis.Analyze(ctx, req)
	if aerr != nil {
		sess.AddLog(fmt.Sprintf("analysis call failed: %v", aerr), session.LevelError)
		return nil, aerr
	}

	sess.SetResponse(report)
	sess.SetReport(report.Result)
	sess.AddLog("analysis completed", session.LevelInfo)

	completion, merr := json.Marshal(map[string]any{
		"report_id":  report.ID,
		"session_id": sess.ID(),
		"result":     report.Result,
	})
	if merr != nil {
		return nil, fmt.Errorf("encode completion data: %w", merr)
	}
	return completion, nil
}

// Completion builds the onComplete callback for a submission job. The
// queue invokes it exactly once, after the terminal state is persisted, so
// the partner notification and the staged-file cleanup both happen only
// once the outcome is durable and final.
func (p *Processor) Completion(jobID string, payload Payload, notifier notify.Notifier) queue.CompletionFunc {
	return func(err error, result json.RawMessage) {
		for _, f := range payload.Files {
			if rmErr := os.Remove(f.Path); rmErr != nil && !os.IsNotExist(rmErr) {
				slog.Warn("submission: removing staged file failed",
					"job_id", jobID, "path", f.Path, "error", rmErr)
			}
		}

		if payload.NotifyURL == "" || notifier == nil {
			return
		}

		n := notify.Notification{JobID: jobID}
		if err != nil {
			n.Status = string(models.JobStatusFailed)
			n.ErrorMessage = err.Error()
		} else {
			n.Status = string(models.JobStatusCompleted)
			n.Report = result
		}

		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if nerr := notifier.Notify(ctx, payload.NotifyURL, n); nerr != nil {
			slog.Warn("submission: partner notification failed",
				"job_id", jobID, "endpoint", payload.NotifyURL, "error", nerr)
		}
	}
}
