// Package pipeline runs a claimed job through fetch, dedupe and relevance
// filtering, then records the outcome on the job.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/imagehunter/internal/cache"
	"github.com/kiranshivaraju/imagehunter/internal/metrics"
	"github.com/kiranshivaraju/imagehunter/internal/store"
	"github.com/kiranshivaraju/imagehunter/pkg/models"
)

// Failure reasons recorded on jobs that end without images.
const (
	ReasonFetchEmpty     = "fetch returned no images"
	ReasonDedupeEmpty    = "deduplication left no images"
	ReasonRelevanceEmpty = "relevance filter left no images"
)

type Fetcher interface {
	Fetch(ctx context.Context, query string, count int, jobID int64) []string
}

type Deduplicator interface {
	Deduplicate(paths []string, jobID int64) []string
}

type RelevanceFilter interface {
	Filter(ctx context.Context, paths []string, query string, jobID int64) []string
}

// Dependencies holds everything a Runner needs. Cache and Metrics are optional.
type Dependencies struct {
	Store   store.Store
	Cache   cache.Cache
	Fetcher Fetcher
	Dedupe  Deduplicator
	Filter  RelevanceFilter
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	// Oversample multiplies the requested image count when fetching. Default: 2.
	Oversample int
}

// Runner takes one claimed job through fetch, dedupe and relevance filtering
// and records the terminal status.
type Runner struct {
	deps Dependencies
}

// NewRunner returns a Runner. A nil Logger uses slog.Default and a
// non-positive Oversample becomes 2.
func NewRunner(deps Dependencies) *Runner {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Oversample <= 0 {
		deps.Oversample = 2
	}
	return &Runner{deps: deps}
}

// Run processes jobID. Jobs that are missing or not in processing status are
// left untouched. Every terminal transition is committed before Run returns.
func (r *Runner) Run(ctx context.Context, jobID int64) (err error) {
	log := r.deps.Logger.With("job_id", jobID, "run_id", uuid.NewString())

	job, err := r.deps.Store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("pipeline: job not found, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %d: %w", jobID, err)
	}
	if job.Status != models.JobStatusProcessing {
		log.Warn("pipeline: job not in processing state, skipping", "status", job.Status)
		return nil
	}

	start := time.Now()
	log.Info("pipeline: started", "query", job.Query, "image_count", job.ImageCount)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("pipeline: panic", "error", rec)
			err = r.fail(ctx, log, jobID, fmt.Sprintf("panic: %v", rec), start)
		}
	}()

	paths := r.deps.Fetcher.Fetch(ctx, job.Query, job.ImageCount*r.deps.Oversample, jobID)
	if r.interrupted(ctx, log, "fetch") {
		return nil
	}
	r.deps.Metrics.StageImages("fetch", len(paths))
	if len(paths) == 0 {
		return r.fail(ctx, log, jobID, ReasonFetchEmpty, start)
	}

	paths = r.deps.Dedupe.Deduplicate(paths, jobID)
	if r.interrupted(ctx, log, "dedupe") {
		return nil
	}
	r.deps.Metrics.StageImages("dedupe", len(paths))
	if len(paths) == 0 {
		return r.fail(ctx, log, jobID, ReasonDedupeEmpty, start)
	}

	paths = r.deps.Filter.Filter(ctx, paths, job.Query, jobID)
	if r.interrupted(ctx, log, "relevance") {
		return nil
	}
	r.deps.Metrics.StageImages("relevance", len(paths))
	if len(paths) == 0 {
		return r.fail(ctx, log, jobID, ReasonRelevanceEmpty, start)
	}

	if err := r.deps.Store.CompleteJob(ctx, jobID, paths); err != nil {
		if r.interrupted(ctx, log, "save") {
			return nil
		}
		log.Error("pipeline: saving results failed", "error", err)
		if ferr := r.fail(ctx, log, jobID, "saving results failed", start); ferr != nil {
			return errors.Join(fmt.Errorf("complete job %d: %w", jobID, err), ferr)
		}
		return nil
	}

	r.setStatus(ctx, log, jobID, models.JobStatusCompleted)
	r.deps.Metrics.JobFinished(models.JobStatusCompleted, time.Since(start))
	log.Info("pipeline: completed", "images", len(paths), "elapsed", time.Since(start).String())
	return nil
}

// interrupted reports whether ctx was cancelled during stage. An interrupted
// job gets no transition and stays processing.
func (r *Runner) interrupted(ctx context.Context, log *slog.Logger, stage string) bool {
	if ctx.Err() == nil {
		return false
	}
	log.Warn("pipeline: interrupted, job left processing", "stage", stage, "error", ctx.Err())
	return true
}

// fail marks the job failed. The write ignores cancellation of ctx so a
// shutdown mid-run still records the outcome.
func (r *Runner) fail(ctx context.Context, log *slog.Logger, jobID int64, reason string, start time.Time) error {
	ctx = context.WithoutCancel(ctx)
	log.Warn("pipeline: job failed", "reason", reason)

	if err := r.deps.Store.UpdateJobStatus(ctx, jobID, models.JobStatusFailed, store.WithFailureReason(reason)); err != nil {
		return fmt.Errorf("mark job %d failed: %w", jobID, err)
	}
	r.setStatus(ctx, log, jobID, models.JobStatusFailed)
	r.deps.Metrics.JobFinished(models.JobStatusFailed, time.Since(start))
	return nil
}

func (r *Runner) setStatus(ctx context.Context, log *slog.Logger, jobID int64, status string) {
	if r.deps.Cache == nil {
		return
	}
	if err := r.deps.Cache.SetJobStatus(ctx, jobID, status, cache.JobStatusTTL); err != nil {
		log.Warn("pipeline: cache status update failed", "error", err)
	}
}
