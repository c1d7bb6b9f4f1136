package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"archgen/internal/cache"
	"archgen/internal/domain"
	"archgen/internal/infra"
	"archgen/internal/sqlinline"
)

const foreignKeyViolation = "23503"

// AssetPersister copies a transient result into durable storage.
type AssetPersister interface {
	Persist(ctx context.Context, ownerID, source string) (string, bool)
}

// JobOptions configures a JobRepositoryPG.
type JobOptions struct {
	Persister AssetPersister
	Markers   *cache.Markers
	Logger    infra.Logger
	// Retries is how many times Create retries a foreign-key violation.
	Retries    int
	RetryDelay time.Duration
}

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	db         infra.SQLExecutor
	persister  AssetPersister
	markers    *cache.Markers
	logger     infra.Logger
	retries    int
	retryDelay time.Duration
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(db infra.SQLExecutor, opts JobOptions) *JobRepositoryPG {
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	return &JobRepositoryPG{
		db:         db,
		persister:  opts.Persister,
		markers:    opts.Markers,
		logger:     opts.Logger,
		retries:    retries,
		retryDelay: delay,
	}
}

// Create inserts a pending job. A foreign-key violation usually means the
// user or tool row is not visible yet, so it is retried after a fixed delay.
func (r *JobRepositoryPG) Create(ctx context.Context, job domain.NewJob) (string, error) {
	var (
		id       string
		attempts int
	)
	insert := func() error {
		attempts++
		err := r.db.QueryRow(ctx, sqlinline.QInsertJob,
			job.UserID,
			string(job.ToolID),
			job.Prompt,
			job.Cost,
			job.UsageLogID,
		).Scan(&id)
		switch {
		case err == nil:
			return nil
		case isForeignKeyViolation(err):
			r.logger.Warn().
				Err(err).
				Str("user_id", job.UserID).
				Str("tool_id", string(job.ToolID)).
				Int("attempt", attempts).
				Msg("job insert hit foreign key violation")
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.retryDelay), uint64(r.retries)),
		ctx,
	)
	if err := backoff.Retry(insert, policy); err != nil {
		return "", &domain.JobCreationError{Attempts: attempts, Err: err}
	}
	if strings.TrimSpace(id) == "" {
		return "", &domain.JobCreationError{Attempts: attempts, Err: errors.New("insert returned no id")}
	}

	if r.markers != nil {
		r.markers.Clear(job.UsageLogID)
	}
	r.logger.Debug().
		Str("job_id", id).
		Str("user_id", job.UserID).
		Str("usage_log_id", job.UsageLogID).
		Msg("job created")
	return id, nil
}

// UpdateStatus moves a job forward to update.Status if its current status is
// a legal predecessor. Unless update.ResultDurable is set, a result URL is
// first copied into the owner's storage namespace; the original URL is kept
// when that fails. Errors are logged and
// reported as domain.UpdateFailed.
func (r *JobRepositoryPG) UpdateStatus(ctx context.Context, jobID string, update domain.StatusUpdate) domain.UpdateResult {
	log := r.logger.With().Str("job_id", jobID).Str("status", string(update.Status)).Logger()

	predecessors := update.Status.Predecessors()
	if len(predecessors) == 0 {
		log.Warn().Msg("refusing status update without legal predecessor")
		return domain.UpdateStale
	}

	resultURL := strings.TrimSpace(update.ResultURL)
	if resultURL != "" && !update.ResultDurable && r.persister != nil {
		var owner, current string
		err := r.db.QueryRow(ctx, sqlinline.QSelectJobOwner, jobID).Scan(&owner, &current)
		switch {
		case infra.IsNoRows(err):
			log.Warn().Msg("status update for unknown job")
			return domain.UpdateStale
		case err != nil:
			log.Error().Err(err).Msg("resolve job owner failed; storing original result url")
		case !domain.CanTransition(domain.JobStatus(current), update.Status):
			// Settled elsewhere; an upload now would never be referenced.
			log.Info().Str("current", current).Msg("job status update skipped; job already past this status")
			return domain.UpdateStale
		default:
			if durable, ok := r.persister.Persist(ctx, owner, resultURL); ok {
				resultURL = durable
			}
		}
	}

	statuses := make([]string, len(predecessors))
	for i, s := range predecessors {
		statuses[i] = string(s)
	}
	tag, err := r.db.Exec(ctx, sqlinline.QUpdateJobStatus,
		jobID,
		string(update.Status),
		resultURL,
		update.ErrorMessage,
		statuses,
	)
	if err != nil {
		log.Error().Err(err).Msg("job status update failed")
		return domain.UpdateFailed
	}
	if tag.RowsAffected() == 0 {
		log.Info().Msg("job status update skipped; job missing or already past this status")
		return domain.UpdateStale
	}
	return domain.UpdateApplied
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := scanJob(r.db.QueryRow(ctx, sqlinline.QSelectJobByID, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// QueuePosition returns 1 + the number of open jobs created before jobID, or
// 0 when the job is unknown.
func (r *JobRepositoryPG) QueuePosition(ctx context.Context, jobID string) int {
	var position int
	if err := r.db.QueryRow(ctx, sqlinline.QJobQueuePosition, jobID).Scan(&position); err != nil {
		if !infra.IsNoRows(err) {
			r.logger.Error().Err(err).Str("job_id", jobID).Msg("queue position lookup failed")
		}
		return 0
	}
	if position < 0 {
		return 0
	}
	return position
}

// ListStuck returns processing jobs created before createdBefore, oldest
// first. An empty userID matches every owner.
func (r *JobRepositoryPG) ListStuck(ctx context.Context, userID string, createdBefore time.Time) ([]domain.Job, error) {
	rows, err := r.db.Query(ctx, sqlinline.QListStuckJobs, userID, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("list stuck jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stuck job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stuck jobs: %w", err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job    domain.Job
		toolID string
		status string
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&toolID,
		&job.Prompt,
		&job.Cost,
		&job.UsageLogID,
		&status,
		&job.ResultURL,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.ToolID = domain.ToolID(toolID)
	job.Status = domain.JobStatus(status)
	return &job, nil
}

// isForeignKeyViolation recognises SQLSTATE 23503 from either driver.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == foreignKeyViolation
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == foreignKeyViolation
	}
	return false
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
