package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/imagehunter/pkg/models"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	query          TEXT    NOT NULL,
	email          TEXT    NOT NULL,
	image_count    INTEGER NOT NULL CHECK (image_count > 0),
	job_type       TEXT    NOT NULL CHECK (job_type IN ('free', 'paid')),
	status         TEXT    NOT NULL DEFAULT 'pending'
	                       CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
	email_sent     INTEGER NOT NULL DEFAULT 0,
	failure_reason TEXT,
	started_at     INTEGER,
	completed_at   INTEGER,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status_id ON jobs (status, id);

CREATE TABLE IF NOT EXISTS job_images (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id    INTEGER NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
	file_path TEXT    NOT NULL,
	position  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_job_images_job ON job_images (job_id, position);
`

// SQLiteStore implements the Store interface on an embedded SQLite file.
// Timestamps are stored as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral ledger.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps claims serialized and lets :memory: survive across calls.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row rowScanner) (*models.Job, error) {
	var (
		j                    models.Job
		emailSent            int
		reason               sql.NullString
		started, completed   sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(&j.ID, &j.Query, &j.Email, &j.ImageCount, &j.JobType, &j.Status, &emailSent,
		&reason, &started, &completed, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	j.EmailSent = emailSent != 0
	if reason.Valid {
		j.FailureReason = &reason.String
	}
	j.StartedAt = fromMilli(started)
	j.CompletedAt = fromMilli(completed)
	j.CreatedAt = time.UnixMilli(createdAt).UTC()
	j.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &j, nil
}

func fromMilli(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func nowMilli() int64 {
	return time.Now().UnixMilli()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *models.Job) error {
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.JobType == "" {
		job.JobType = models.JobTypeFor(job.ImageCount)
	}
	now := nowMilli()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (query, email, image_count, job_type, status, email_sent, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		job.Query, job.Email, job.ImageCount, job.JobType, job.Status, now, now)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create job id: %w", err)
	}
	job.ID = id
	job.CreatedAt = time.UnixMilli(now).UTC()
	job.UpdatedAt = job.CreatedAt
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	j, err := scanSQLiteJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, file_path, position FROM job_images
		 WHERE job_id = ? ORDER BY position, id`, id)
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

func (s *SQLiteStore) ListJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	return s.queryJobs(ctx, "list jobs",
		`SELECT `+jobColumns+` FROM jobs ORDER BY id DESC LIMIT ?`, normalizeLimit(limit))
}

func (s *SQLiteStore) ListUnnotifiedCompleted(ctx context.Context) ([]*models.Job, error) {
	return s.queryJobs(ctx, "list unnotified jobs",
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = 'completed' AND email_sent = 0 ORDER BY id`)
}

func (s *SQLiteStore) queryJobs(ctx context.Context, op, query string, args ...any) ([]*models.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *SQLiteStore) ClaimNextPending(ctx context.Context) (*models.Job, error) {
	now := nowMilli()
	j, err := scanSQLiteJob(s.db.QueryRowContext(ctx,
		`UPDATE jobs SET status = 'processing', started_at = ?, updated_at = ?
		 WHERE id = (
			SELECT id FROM jobs WHERE status = 'pending'
			ORDER BY id LIMIT 1
		 ) AND status = 'pending'
		 RETURNING `+jobColumns, now, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("claim pending job: %w", err)
	}
	return j, nil
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id int64, status string, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	var currentStatus string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&currentStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}

	if err := validateStatusUpdate(currentStatus, status); err != nil {
		return err
	}

	now := nowMilli()
	query := `UPDATE jobs SET status = ?, updated_at = ?`
	args := []any{status, now}

	if status == models.JobStatusProcessing {
		query += ", started_at = ?"
		args = append(args, now)
	}
	if status == models.JobStatusFailed {
		query += ", completed_at = ?"
		args = append(args, now)
	}
	if params.FailureReason != nil {
		query += ", failure_reason = ?"
		args = append(args, *params.FailureReason)
	}

	query += " WHERE id = ? AND status = ?"
	args = append(args, id, currentStatus)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: job %d left %s concurrently", ErrInvalidTransition, id, currentStatus)
	}
	return nil
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id int64, paths []string) error {
	if len(paths) == 0 {
		return ErrNoImages
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete job: %w", err)
	}
	defer tx.Rollback()

	var currentStatus string
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&currentStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	if err := validateTransition(currentStatus, models.JobStatusCompleted); err != nil {
		return err
	}

	for i, p := range paths {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO job_images (job_id, file_path, position) VALUES (?, ?, ?)`, id, p, i); err != nil {
			return fmt.Errorf("insert job image: %w", err)
		}
	}

	now := nowMilli()
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = 'completed', completed_at = ?, updated_at = ? WHERE id = ?`,
		now, now, id); err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkEmailSent(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET email_sent = 1, updated_at = ?
		 WHERE id = ? AND status = 'completed' AND email_sent = 0`, nowMilli(), id)
	if err != nil {
		return fmt.Errorf("mark email sent: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = ?)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check job exists: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return fmt.Errorf("%w: job %d is not awaiting notification", ErrInvalidTransition, id)
}
