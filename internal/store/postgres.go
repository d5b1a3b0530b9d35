package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/imagehunter/pkg/models"
)

const jobColumns = `id, query, email, image_count, job_type, status, email_sent,
	failure_reason, started_at, completed_at, created_at, updated_at`

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPgJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.Query, &j.Email, &j.ImageCount, &j.JobType, &j.Status, &j.EmailSent,
		&j.FailureReason, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.JobType == "" {
		job.JobType = models.JobTypeFor(job.ImageCount)
	}
	now := time.Now().UTC()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO jobs (query, email, image_count, job_type, status, email_sent, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, FALSE, $6, $6)
		 RETURNING id, created_at, updated_at`,
		job.Query, job.Email, job.ImageCount, job.JobType, job.Status, now,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	j, err := scanPgJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, file_path, position FROM job_images
		 WHERE job_id = $1 ORDER BY position, id`, id)
	if err != nil {
		return nil, fmt.Errorf("get job images: %w", err)
	}
	defer rows.Close()

	j.Images = []models.JobImage{}
	for rows.Next() {
		var img models.JobImage
		if err := rows.Scan(&img.ID, &img.JobID, &img.FilePath, &img.Position); err != nil {
			return nil, fmt.Errorf("scan job image: %w", err)
		}
		j.Images = append(j.Images, img)
	}
	return j, rows.Err()
}

func (s *PostgresStore) ListJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	return s.queryJobs(ctx, "list jobs",
		`SELECT `+jobColumns+` FROM jobs ORDER BY id DESC LIMIT $1`, normalizeLimit(limit))
}

func (s *PostgresStore) ListUnnotifiedCompleted(ctx context.Context) ([]*models.Job, error) {
	return s.queryJobs(ctx, "list unnotified jobs",
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = 'completed' AND email_sent = FALSE ORDER BY id`)
}

func (s *PostgresStore) queryJobs(ctx context.Context, op, query string, args ...any) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ClaimNextPending uses SKIP LOCKED so a second poller never claims the same row.
func (s *PostgresStore) ClaimNextPending(ctx context.Context) (*models.Job, error) {
	j, err := scanPgJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = 'processing', started_at = NOW(), updated_at = NOW()
		 WHERE id = (
			SELECT id FROM jobs WHERE status = 'pending'
			ORDER BY id LIMIT 1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("claim pending job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id int64, status string, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}

	if err := validateStatusUpdate(currentStatus, status); err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `UPDATE jobs SET status = $3, updated_at = $4`
	args := []any{id, currentStatus, status, now}
	argIdx := 5

	if status == models.JobStatusProcessing {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if status == models.JobStatusFailed {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.FailureReason != nil {
		query += fmt.Sprintf(", failure_reason = $%d", argIdx)
		args = append(args, *params.FailureReason)
	}

	query += " WHERE id = $1 AND status = $2"

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %d left %s concurrently", ErrInvalidTransition, id, currentStatus)
	}
	return nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id int64, paths []string) error {
	if len(paths) == 0 {
		return ErrNoImages
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin complete job: %w", err)
	}
	defer tx.Rollback(ctx)

	var currentStatus string
	err = tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock job: %w", err)
	}
	if err := validateTransition(currentStatus, models.JobStatusCompleted); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i, p := range paths {
		batch.Queue(`INSERT INTO job_images (job_id, file_path, position) VALUES ($1, $2, $3)`, id, p, i)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert job images: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE jobs SET status = 'completed', completed_at = NOW(), updated_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit complete job: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkEmailSent(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET email_sent = TRUE, updated_at = NOW()
		 WHERE id = $1 AND status = 'completed' AND email_sent = FALSE`, id)
	if err != nil {
		return fmt.Errorf("mark email sent: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check job exists: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return fmt.Errorf("%w: job %d is not awaiting notification", ErrInvalidTransition, id)
}
