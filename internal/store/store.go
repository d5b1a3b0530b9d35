package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiranshivaraju/imagehunter/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrInvalidTransition = errors.New("invalid job status transition")
var ErrNoImages = errors.New("job has no images")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	ListJobs(ctx context.Context, limit int) ([]*models.Job, error)

	// ClaimNextPending moves the oldest pending job to processing and returns it.
	// Returns ErrNotFound when nothing is pending.
	ClaimNextPending(ctx context.Context) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id int64, status string, opts ...JobUpdateOption) error
	// CompleteJob stores the curated images and marks the job completed in one transaction.
	CompleteJob(ctx context.Context, id int64, paths []string) error

	ListUnnotifiedCompleted(ctx context.Context) ([]*models.Job, error)
	MarkEmailSent(ctx context.Context, id int64) error
}

type jobUpdateParams struct {
	FailureReason *string
}

type JobUpdateOption func(*jobUpdateParams)

func WithFailureReason(reason string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.FailureReason = &reason
	}
}

var validTransitions = map[string][]string{
	models.JobStatusPending:    {models.JobStatusProcessing},
	models.JobStatusProcessing: {models.JobStatusCompleted, models.JobStatusFailed},
}

func validateTransition(from, to string) error {
	for _, a := range validTransitions[from] {
		if a == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// validateStatusUpdate guards UpdateJobStatus. Completion carries image rows and
// must go through CompleteJob.
func validateStatusUpdate(from, to string) error {
	if to == models.JobStatusCompleted {
		return fmt.Errorf("%w: completion requires images, use CompleteJob", ErrInvalidTransition)
	}
	return validateTransition(from, to)
}

// Listing bounds for ListJobs.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
