package models

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a background job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Terminal reports whether s is a terminal state. A failed job is terminal
// only once its retry budget is exhausted, which the caller checks against
// the job record; at the status level failed and completed are the two
// states no worker owns.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one unit of asynchronous background work. The ID is caller-supplied
// and doubles as the externally visible request/report identifier.
type Job struct {
	ID             string          `db:"id"              json:"id"`
	Type           string          `db:"type"            json:"type"`
	Payload        json.RawMessage `db:"payload"         json:"payload,omitempty"`
	Status         JobStatus       `db:"status"          json:"status"`
	Priority       int             `db:"priority"        json:"priority"`
	Retries        int             `db:"retries"         json:"retries"`
	MaxRetries     int             `db:"max_retries"     json:"max_retries"`
	ErrorMessage   *string         `db:"error_message"   json:"error_message,omitempty"`
	CompletionData json.RawMessage `db:"completion_data" json:"completion_data,omitempty"`
	NextAttemptAt  *time.Time      `db:"next_attempt_at" json:"next_attempt_at,omitempty"`
	CreatedAt      time.Time       `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"      json:"updated_at"`
}
