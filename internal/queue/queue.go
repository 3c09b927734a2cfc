// Package queue implements the background job queue: a durable-store-backed
// dispatcher with bounded concurrency, exponential-backoff retries, a
// stuck-job reaper, and exactly-once completion callbacks fired only after
// the terminal state is persisted.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scholarrelay/inkgate/internal/store"
	"github.com/scholarrelay/inkgate/pkg/models"
)

// CancelReason is the fixed error message recorded when a job is cancelled.
// Cancelled jobs share the failed status with genuinely errored jobs and are
// distinguished only by this string.
const CancelReason = "cancelled by caller"

// StuckReason is recorded when the reaper fails a job stranded in processing.
const StuckReason = "processing timed out and was reclaimed"

var ErrInvalidState = errors.New("job is not in a state that allows this operation")
var ErrCancelled = errors.New(CancelReason)
var ErrNoProcessor = errors.New("no processor registered for job type")

// ProcessorFunc executes one job attempt. It receives the persisted job
// record (including the raw payload) and must be safe to re-invoke on retry.
type ProcessorFunc func(ctx context.Context, job *models.Job) (json.RawMessage, error)

// CompletionFunc is invoked exactly once per job, strictly after the
// terminal state has been persisted. err is nil iff the job completed.
type CompletionFunc func(err error, result json.RawMessage)

// Store is the durable state the manager runs against. *store.PostgresStore
// satisfies it; tests substitute an in-memory implementation.
type Store interface {
	AddJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	UpdateStatus(ctx context.Context, id string, status models.JobStatus, opts ...store.JobUpdateOption) (bool, error)
	IncrementRetries(ctx context.Context, id string, claimedAt time.Time) (int, bool, error)
	NextEligibleJob(ctx context.Context) (*models.Job, error)
	FindStuck(ctx context.Context, timeout time.Duration) ([]*models.Job, error)
	MarkStuckAsFailed(ctx context.Context, timeout time.Duration, reason string) (int64, error)
	ResetForRetry(ctx context.Context, id string) (bool, error)
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StatusCache is an optional fast path for status polling. Writes happen
// after the durable transition and before any callback, so a cached read
// never lags a notification.
type StatusCache interface {
	SetJobStatus(ctx context.Context, jobID string, status string, ttl time.Duration) error
}

// EnqueueRequest describes a job to enqueue. MaxRetries 0 takes the
// manager's default. Processor may be nil when a handler for Type was
// registered via RegisterType.
type EnqueueRequest struct {
	ID         string
	Type       string
	Payload    json.RawMessage
	MaxRetries int
	Priority   int
	Processor  ProcessorFunc
	OnComplete CompletionFunc
}

// JobStatus is the caller-visible view of a job.
type JobStatus struct {
	ID             string          `json:"id"`
	Status         models.JobStatus `json:"status"`
	Retries        int             `json:"retries"`
	MaxRetries     int             `json:"max_retries"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	CompletionData json.RawMessage `json:"completion_data,omitempty"`
}

// Manager is the queue manager: enqueue entry point, dispatch worker pool,
// retry state machine, and reaper.
type Manager struct {
	store    Store
	opts     Options
	registry *registry

	typeMu       sync.RWMutex
	typeHandlers map[string]ProcessorFunc

	cache    StatusCache
	cacheTTL time.Duration

	wake chan struct{}

	subMu       sync.Mutex
	subscribers map[int]chan StatusChange
	nextSubID   int

	runMu   sync.Mutex
	running bool
}

// New creates a Manager on top of a durable store.
func New(st Store, options ...Option) *Manager {
	opts := defaultOptions()
	for _, o := range options {
		o(&opts)
	}
	return &Manager{
		store:        st,
		opts:         opts,
		registry:     newRegistry(),
		typeHandlers: make(map[string]ProcessorFunc),
		cache:        opts.statusCache,
		cacheTTL:     opts.statusCacheTTL,
		wake:         make(chan struct{}, 1),
		subscribers:  make(map[int]chan StatusChange),
	}
}

// RegisterType installs the fallback processor for a job type. The
// per-job registry is a process-local optimization; this table is what
// lets jobs that survive a restart be picked up again.
func (m *Manager) RegisterType(jobType string, fn ProcessorFunc) {
	m.typeMu.Lock()
	defer m.typeMu.Unlock()
	m.typeHandlers[jobType] = fn
}

// Enqueue persists a pending job and signals the dispatcher. It returns
// store.ErrDuplicateJob when the id is already taken; the existing job is
// left untouched.
func (m *Manager) Enqueue(ctx context.Context, req EnqueueRequest) (*models.Job, error) {
	if req.ID == "" {
		return nil, fmt.Errorf("enqueue: job id is required")
	}
	if req.Type == "" {
		return nil, fmt.Errorf("enqueue: job type is required")
	}

	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = m.opts.DefaultMaxRetries
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:         req.ID,
		Type:       req.Type,
		Payload:    req.Payload,
		Status:     models.JobStatusPending,
		Priority:   req.Priority,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := m.store.AddJob(ctx, job); err != nil {
		return nil, err
	}

	if req.Processor != nil || req.OnComplete != nil {
		m.registry.put(req.ID, registration{processor: req.Processor, onComplete: req.OnComplete})
	}

	jobsEnqueued.WithLabelValues(req.Type).Inc()
	m.setCache(ctx, job.ID, job.Status)
	m.publish(job.ID, job.Status)
	m.notify()
	return job, nil
}

// GetJobStatus returns the current state of a job, or store.ErrNotFound.
func (m *Manager) GetJobStatus(ctx context.Context, id string) (*JobStatus, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return &JobStatus{
		ID:             job.ID,
		Status:         job.Status,
		Retries:        job.Retries,
		MaxRetries:     job.MaxRetries,
		ErrorMessage:   job.ErrorMessage,
		CompletionData: job.CompletionData,
	}, nil
}

// RetryJob returns a failed job to pending with a fresh retry budget.
// Processing jobs are also accepted so a wedged job can be force-recovered.
// The re-run resolves its processor through the type table: the original
// closure was dropped when the job went terminal.
func (m *Manager) RetryJob(ctx context.Context, id string) error {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusFailed && job.Status != models.JobStatusProcessing {
		return fmt.Errorf("%w: retry from %s", ErrInvalidState, job.Status)
	}

	ok, err := m.store.ResetForRetry(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: retry from %s", ErrInvalidState, job.Status)
	}

	m.setCache(ctx, id, models.JobStatusPending)
	m.publish(id, models.JobStatusPending)
	m.notify()
	return nil
}

// CancelJob forces a not-yet-completed job to failed with CancelReason.
// The completion callback, if registered, fires with ErrCancelled after
// the transition is persisted.
func (m *Manager) CancelJob(ctx context.Context, id string) error {
	ok, err := m.store.UpdateStatus(ctx, id, models.JobStatusFailed,
		store.WithErrorMessage(CancelReason), store.WithoutNextAttempt())
	if err != nil {
		return err
	}
	if !ok {
		if _, getErr := m.store.GetJob(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: cancel", ErrInvalidState)
	}

	jobsFailed.WithLabelValues("cancelled").Inc()
	m.setCache(ctx, id, models.JobStatusFailed)
	m.publish(id, models.JobStatusFailed)
	m.finishCallback(id, ErrCancelled, nil)
	return nil
}

// Start reconciles leftover state, then runs the worker pool and the reaper
// until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	m.runMu.Lock()
	if m.running {
		m.runMu.Unlock()
		return errors.New("queue manager already running")
	}
	m.running = true
	m.runMu.Unlock()

	defer func() {
		m.runMu.Lock()
		m.running = false
		m.runMu.Unlock()
	}()

	// Reap stale processing rows before dispatch resumes, so a restarted
	// process never runs alongside jobs a dead process still "owns".
	if reaped, err := m.store.MarkStuckAsFailed(ctx, m.opts.StuckTimeout, StuckReason); err != nil {
		slog.Warn("queue: startup reconciliation failed", "error", err)
	} else if reaped > 0 {
		slog.Info("queue: reclaimed stale processing jobs on startup", "count", reaped)
	}

	cronStop := m.startSweeps(ctx)
	defer cronStop()

	slog.Info("queue: starting workers", "concurrency", m.opts.Concurrency)

	var wg sync.WaitGroup
	for i := range m.opts.Concurrency {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			m.workerLoop(ctx, id)
		}(i)
	}

	m.notify()

	<-ctx.Done()
	slog.Info("queue: shutting down workers...")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("queue: all workers stopped")
	case <-time.After(m.opts.ShutdownTimeout):
		slog.Warn("queue: shutdown timed out, some jobs may be reclaimed by the reaper later")
	}

	return nil
}

// notify nudges the worker pool without blocking. The channel holds one
// pending signal; workers drain the store anyway, so coalescing is fine.
func (m *Manager) notify() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) workerLoop(ctx context.Context, id int) {
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-ticker.C:
		}

		// Drain: keep claiming until the store has nothing eligible, so a
		// burst of enqueues is not throttled to one job per poll tick.
		for {
			if ctx.Err() != nil {
				return
			}
			job, err := m.store.NextEligibleJob(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("queue: claim failed", "worker", id, "error", err)
				}
				break
			}
			if job == nil {
				break
			}
			m.runJob(ctx, job)
		}
	}
}

func (m *Manager) runJob(ctx context.Context, job *models.Job) {
	jobsInFlight.Inc()
	defer jobsInFlight.Dec()
	start := time.Now()

	m.setCache(ctx, job.ID, models.JobStatusProcessing)
	m.publish(job.ID, models.JobStatusProcessing)

	processor := m.resolveProcessor(job)
	if processor == nil {
		slog.Error("queue: no processor for job", "job_id", job.ID, "type", job.Type)
		m.failTerminal(ctx, job, ErrNoProcessor)
		return
	}

	result, err := processor(ctx, job)
	processingDuration.WithLabelValues(job.Type).Observe(time.Since(start).Seconds())

	if err != nil {
		m.handleFailure(ctx, job, err)
		return
	}

	ok, updErr := m.store.UpdateStatus(ctx, job.ID, models.JobStatusCompleted,
		store.WithCompletionData(result), store.WithoutNextAttempt(),
		store.WithClaimedAt(job.UpdatedAt))
	if updErr != nil {
		slog.Error("queue: persisting completion failed", "job_id", job.ID, "error", updErr)
		return
	}
	if !ok {
		// The job left processing under us (cancelled mid-flight, or reaped
		// and re-claimed); whichever path owns it now handles the callback.
		slog.Warn("queue: lost claim on job, discarding result", "job_id", job.ID)
		return
	}

	jobsCompleted.WithLabelValues(job.Type).Inc()
	m.setCache(ctx, job.ID, models.JobStatusCompleted)
	m.publish(job.ID, models.JobStatusCompleted)
	m.finishCallback(job.ID, nil, result)
	m.notify()
}

func (m *Manager) resolveProcessor(job *models.Job) ProcessorFunc {
	if reg, ok := m.registry.get(job.ID); ok && reg.processor != nil {
		return reg.processor
	}
	m.typeMu.RLock()
	defer m.typeMu.RUnlock()
	return m.typeHandlers[job.Type]
}

func (m *Manager) handleFailure(ctx context.Context, job *models.Job, procErr error) {
	slog.Warn("queue: job attempt failed",
		"job_id", job.ID, "type", job.Type, "retries", job.Retries, "error", procErr)

	// The claim-time counter decides terminality: MaxRetries increments are
	// allowed, so the attempt that claimed at retries == MaxRetries is the
	// last one.
	if job.Retries >= job.MaxRetries {
		m.failTerminal(ctx, job, procErr)
		return
	}

	retries, found, err := m.store.IncrementRetries(ctx, job.ID, job.UpdatedAt)
	if err != nil {
		slog.Error("queue: incrementing retries failed", "job_id", job.ID, "error", err)
		return
	}
	if !found {
		slog.Warn("queue: lost claim on job, skipping retry", "job_id", job.ID)
		return
	}

	delay := Backoff(m.opts.BackoffBase, m.opts.BackoffMultiplier, retries)
	ok, err := m.store.UpdateStatus(ctx, job.ID, models.JobStatusRetrying,
		store.WithErrorMessage(procErr.Error()),
		store.WithNextAttemptAt(time.Now().UTC().Add(delay)))
	if err != nil {
		slog.Error("queue: persisting retry failed", "job_id", job.ID, "error", err)
		return
	}
	if !ok {
		slog.Warn("queue: job no longer processing, skipping retry", "job_id", job.ID)
		return
	}

	jobsRetried.WithLabelValues(job.Type).Inc()
	m.setCache(ctx, job.ID, models.JobStatusRetrying)
	m.publish(job.ID, models.JobStatusRetrying)

	// The durable next_attempt_at gate is what makes the retry run; this
	// timer only wakes a worker promptly once the backoff elapses.
	time.AfterFunc(delay, m.notify)

	slog.Info("queue: job scheduled for retry",
		"job_id", job.ID, "retries", retries, "max_retries", job.MaxRetries, "delay", delay)
}

func (m *Manager) failTerminal(ctx context.Context, job *models.Job, procErr error) {
	ok, err := m.store.UpdateStatus(ctx, job.ID, models.JobStatusFailed,
		store.WithErrorMessage(procErr.Error()), store.WithoutNextAttempt(),
		store.WithClaimedAt(job.UpdatedAt))
	if err != nil {
		slog.Error("queue: persisting terminal failure failed", "job_id", job.ID, "error", err)
		return
	}
	if !ok {
		slog.Warn("queue: lost claim on job, skipping terminal failure", "job_id", job.ID)
		return
	}

	jobsFailed.WithLabelValues(job.Type).Inc()
	m.setCache(ctx, job.ID, models.JobStatusFailed)
	m.publish(job.ID, models.JobStatusFailed)
	m.finishCallback(job.ID, procErr, nil)
	m.notify()
}

// finishCallback fires the registered completion callback, if any, and
// drops the job's registry entries so the map cannot grow unbounded.
// Callers invoke it only after the terminal state is durably persisted.
func (m *Manager) finishCallback(jobID string, err error, result json.RawMessage) {
	reg, ok := m.registry.take(jobID)
	if !ok || reg.onComplete == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("queue: completion callback panicked", "job_id", jobID, "panic", r)
			}
		}()
		reg.onComplete(err, result)
	}()
}

func (m *Manager) setCache(ctx context.Context, jobID string, status models.JobStatus) {
	if m.cache == nil {
		return
	}
	if err := m.cache.SetJobStatus(ctx, jobID, string(status), m.cacheTTL); err != nil {
		slog.Debug("queue: status cache write failed", "job_id", jobID, "error", err)
	}
}
