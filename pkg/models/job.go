package models

import (
	"path/filepath"
	"time"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

const (
	JobTypeFree = "free"
	JobTypePaid = "paid"
)

// FreeTierMaxImages is the largest request that is still billed as a free job.
const FreeTierMaxImages = 50

// JobTypeFor returns the billing type for a request of count images.
func JobTypeFor(count int) string {
	if count <= FreeTierMaxImages {
		return JobTypeFree
	}
	return JobTypePaid
}

// Job is one image curation request. The poller claims pending jobs in id
// order and the pipeline drives them to completed or failed; a completed job
// always owns at least one JobImage.
type Job struct {
	ID            int64      `db:"id"             json:"id"`
	Query         string     `db:"query"          json:"query"`
	Email         string     `db:"email"          json:"email"`
	ImageCount    int        `db:"image_count"    json:"image_count"`
	JobType       string     `db:"job_type"       json:"job_type"`
	Status        string     `db:"status"         json:"status"`
	EmailSent     bool       `db:"email_sent"     json:"email_sent"`
	FailureReason *string    `db:"failure_reason" json:"failure_reason,omitempty"`
	StartedAt     *time.Time `db:"started_at"     json:"started_at,omitempty"`
	CompletedAt   *time.Time `db:"completed_at"   json:"completed_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"     json:"updated_at"`
	Images        []JobImage `db:"-"              json:"images"`
}

// IsTerminal reports whether the job can no longer change status.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// JobImage is a curated image file that survived the pipeline for a job.
type JobImage struct {
	ID       int64  `db:"id"        json:"id"`
	JobID    int64  `db:"job_id"    json:"job_id"`
	FilePath string `db:"file_path" json:"file_path"`
	Position int    `db:"position"  json:"position"`
}

// Filename returns the base name of the stored file.
func (i JobImage) Filename() string {
	return filepath.Base(i.FilePath)
}
