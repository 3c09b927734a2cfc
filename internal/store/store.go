package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/scholarrelay/inkgate/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateJob = errors.New("job id already exists")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetPartner(ctx context.Context, id uuid.UUID) (*models.Partner, error)
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error

	// AddJob inserts a new pending job. Returns ErrDuplicateJob if the id
	// is already taken.
	AddJob(ctx context.Context, job *models.Job) error

	GetJob(ctx context.Context, id string) (*models.Job, error)

	// UpdateStatus moves a job to the given status. The new status is
	// decided by the caller; the store only enforces that the transition
	// is legal (see validTransitions) and applies it atomically. Returns
	// false when the id is unknown or the job is not in a state the
	// transition is allowed from.
	UpdateStatus(ctx context.Context, id string, status models.JobStatus, opts ...JobUpdateOption) (bool, error)

	// IncrementRetries bumps the attempt counter and returns the new value.
	// The bump applies only while the row is still processing and its
	// updated_at matches the caller's claim time, so a worker whose job was
	// reaped and re-claimed cannot touch the new owner's attempt.
	IncrementRetries(ctx context.Context, id string, claimedAt time.Time) (int, bool, error)

	// NextEligibleJob claims the next runnable job: highest priority first,
	// oldest first within a priority band. Eligible are pending jobs and
	// retrying/failed jobs whose next_attempt_at has passed and whose
	// counter has not gone past max_retries; retries == max_retries is the
	// final attempt, still claimable. The claim marks the row processing in
	// the same statement, so two concurrent callers never receive the
	// same job. Returns nil when nothing is eligible.
	NextEligibleJob(ctx context.Context) (*models.Job, error)

	// FindStuck returns processing jobs whose updated_at is older than the
	// timeout.
	FindStuck(ctx context.Context, timeout time.Duration) ([]*models.Job, error)

	// MarkStuckAsFailed fails every stuck processing job and makes it
	// immediately eligible for re-dispatch if retries remain. Returns the
	// number of jobs reaped.
	MarkStuckAsFailed(ctx context.Context, timeout time.Duration, reason string) (int64, error)

	// ResetForRetry moves a failed (or force-recovered processing) job
	// back to pending with a fresh retry budget.
	ResetForRetry(ctx context.Context, id string) (bool, error)

	// DeleteCompletedBefore purges completed jobs older than the cutoff.
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UpdateParams collects the optional column updates a status transition may
// carry. Alternative Store implementations resolve options through
// ApplyUpdateOptions.
type UpdateParams struct {
	ErrorMessage     *string
	CompletionData   []byte
	NextAttemptAt    *time.Time
	ClearNextAttempt bool
	ClaimedAt        *time.Time
}

type JobUpdateOption func(*UpdateParams)

// ApplyUpdateOptions folds a set of options into concrete params.
func ApplyUpdateOptions(opts ...JobUpdateOption) UpdateParams {
	var p UpdateParams
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *UpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithCompletionData(data []byte) JobUpdateOption {
	return func(p *UpdateParams) {
		p.CompletionData = data
	}
}

func WithNextAttemptAt(t time.Time) JobUpdateOption {
	return func(p *UpdateParams) {
		p.NextAttemptAt = &t
	}
}

func WithoutNextAttempt() JobUpdateOption {
	return func(p *UpdateParams) {
		p.ClearNextAttempt = true
	}
}

// WithClaimedAt fences the transition on the claim-time updated_at: the
// write applies only if no one has touched the row since this worker
// claimed it. Worker-driven transitions carry it; caller-driven ones
// (cancel, manual retry) do not.
func WithClaimedAt(t time.Time) JobUpdateOption {
	return func(p *UpdateParams) {
		u := t.UTC()
		p.ClaimedAt = &u
	}
}

// validTransitions is the job state machine. Completed has no outgoing
// transitions; failed jobs leave only through a manual retry (-> pending)
// or a claim while retry budget remains (-> processing).
var validTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusPending:    {models.JobStatusProcessing, models.JobStatusFailed},
	models.JobStatusProcessing: {models.JobStatusCompleted, models.JobStatusRetrying, models.JobStatusFailed},
	models.JobStatusRetrying:   {models.JobStatusProcessing, models.JobStatusFailed},
	models.JobStatusFailed:     {models.JobStatusPending, models.JobStatusProcessing},
	models.JobStatusCompleted:  {},
}

// TransitionSources returns the statuses a job may be in for a transition
// to the given status to be legal.
func TransitionSources(to models.JobStatus) []models.JobStatus {
	var from []models.JobStatus
	for src, dsts := range validTransitions {
		for _, d := range dsts {
			if d == to {
				from = append(from, src)
			}
		}
	}
	return from
}
