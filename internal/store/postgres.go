package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scholarrelay/inkgate/pkg/models"
)

const jobColumns = `id, type, payload, status, priority, retries, max_retries,
	 error_message, completion_data, next_attempt_at, created_at, updated_at`

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Partners ---

func (s *PostgresStore) GetPartner(ctx context.Context, id uuid.UUID) (*models.Partner, error) {
	var p models.Partner
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, notify_url, created_at, updated_at FROM partners WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.NotifyURL, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get partner: %w", err)
	}
	return &p, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, partner_id, name, key_hash, key_prefix, last_used_at, revoked_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND revoked_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.PartnerID, &k.Name, &k.KeyHash, &k.KeyPrefix,
			&k.LastUsedAt, &k.RevokedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

// --- Jobs ---

func (s *PostgresStore) AddJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, type, payload, status, priority, retries, max_retries, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.Type, job.Payload, job.Status, job.Priority, job.Retries,
		job.MaxRetries, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateJob
		}
		return fmt.Errorf("add job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status models.JobStatus, opts ...JobUpdateOption) (bool, error) {
	params := &UpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	sources := TransitionSources(status)
	if len(sources) == 0 {
		return false, nil
	}
	from := make([]string, len(sources))
	for i, s := range sources {
		from[i] = string(s)
	}

	query := `UPDATE jobs SET status = $2, updated_at = $3`
	args := []any{id, status, time.Now().UTC()}
	argIdx := 4

	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.CompletionData != nil {
		query += fmt.Sprintf(", completion_data = $%d", argIdx)
		args = append(args, params.CompletionData)
		argIdx++
	}
	if params.NextAttemptAt != nil {
		query += fmt.Sprintf(", next_attempt_at = $%d", argIdx)
		args = append(args, params.NextAttemptAt.UTC())
		argIdx++
	} else if params.ClearNextAttempt {
		query += ", next_attempt_at = NULL"
	}

	// The source-status check rides in the WHERE clause so the transition
	// is a single atomic statement, never a read followed by a write.
	query += fmt.Sprintf(" WHERE id = $1 AND status = ANY($%d)", argIdx)
	args = append(args, from)
	argIdx++

	if params.ClaimedAt != nil {
		query += fmt.Sprintf(" AND updated_at = $%d", argIdx)
		args = append(args, *params.ClaimedAt)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update job status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) IncrementRetries(ctx context.Context, id string, claimedAt time.Time) (int, bool, error) {
	// The fence on updated_at keeps a worker that lost its claim (reaped,
	// then re-claimed elsewhere) from bumping the new owner's counter.
	var retries int
	err := s.pool.QueryRow(ctx,
		`UPDATE jobs SET retries = retries + 1, updated_at = NOW()
		 WHERE id = $1 AND status = $2 AND updated_at = $3
		 RETURNING retries`,
		id, models.JobStatusProcessing, claimedAt.UTC()).Scan(&retries)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("increment retries: %w", err)
	}
	return retries, true, nil
}

func (s *PostgresStore) NextEligibleJob(ctx context.Context) (*models.Job, error) {
	// Claim and fetch in one statement. SKIP LOCKED keeps concurrent
	// claimers from blocking on (or double-claiming) the same row.
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET status = $1, updated_at = NOW()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = $2
			   OR (status = ANY($3) AND retries <= max_retries
			       AND next_attempt_at IS NOT NULL AND next_attempt_at <= NOW())
			ORDER BY priority DESC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		models.JobStatusProcessing, models.JobStatusPending,
		[]string{string(models.JobStatusRetrying), string(models.JobStatusFailed)})
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next eligible job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) FindStuck(ctx context.Context, timeout time.Duration) ([]*models.Job, error) {
	cutoff := time.Now().UTC().Add(-timeout)
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 AND updated_at < $2`,
		models.JobStatusProcessing, cutoff)
	if err != nil {
		return nil, fmt.Errorf("find stuck jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stuck job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) MarkStuckAsFailed(ctx context.Context, timeout time.Duration, reason string) (int64, error) {
	cutoff := time.Now().UTC().Add(-timeout)
	// A reaped run counts as an attempt: retries is bumped so a job that
	// keeps wedging its worker cannot cycle forever. next_attempt_at is set
	// so the claim query picks the job up again while budget remains, and
	// cleared when the wedged run was the final attempt (the SET expression
	// reads the pre-update retries).
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, retries = retries + 1, error_message = $2,
		        next_attempt_at = CASE WHEN retries >= max_retries THEN NULL ELSE NOW() END,
		        updated_at = NOW()
		 WHERE status = $3 AND updated_at < $4`,
		models.JobStatusFailed, reason, models.JobStatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark stuck jobs failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResetForRetry returns a failed job to pending with a fresh retry budget.
// Processing is also accepted so an operator can force-recover a wedged job
// without waiting for the reaper.
func (s *PostgresStore) ResetForRetry(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, retries = 0, error_message = NULL,
		        completion_data = NULL, next_attempt_at = NULL, updated_at = NOW()
		 WHERE id = $2 AND status = ANY($3)`,
		models.JobStatusPending, id,
		[]string{string(models.JobStatusFailed), string(models.JobStatusProcessing)})
	if err != nil {
		return false, fmt.Errorf("reset job for retry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE status = $1 AND updated_at < $2`,
		models.JobStatusCompleted, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete completed jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.Type, &j.Payload, &j.Status, &j.Priority, &j.Retries,
		&j.MaxRetries, &j.ErrorMessage, &j.CompletionData, &j.NextAttemptAt,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
