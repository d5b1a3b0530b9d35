// Package poller drives the job ledger: it claims pending jobs for the
// pipeline and sends result emails for completed ones.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/imagehunter/internal/cache"
	"github.com/kiranshivaraju/imagehunter/internal/metrics"
	"github.com/kiranshivaraju/imagehunter/internal/store"
	"github.com/kiranshivaraju/imagehunter/pkg/models"
)

// JobRunner processes a job that has just been claimed.
type JobRunner interface {
	Run(ctx context.Context, jobID int64) error
}

// Notifier sends the results-ready email.
type Notifier interface {
	NotifyResultsReady(ctx context.Context, recipient, query, resultsURL string) error
}

// Config configures the poller.
type Config struct {
	// Interval is how often to poll the ledger. Default: 30 seconds.
	Interval time.Duration
	// BaseURL prefixes the results link in emails.
	BaseURL string
	// Cache mirrors job status on claim. Optional.
	Cache cache.Cache
	// Metrics records tick and notification outcomes. Optional.
	Metrics *metrics.Metrics
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

// ResultsURL returns the public results page for jobID.
func ResultsURL(baseURL string, jobID int64) string {
	return fmt.Sprintf("%s/api/results/%d", strings.TrimRight(baseURL, "/"), jobID)
}

// Poller runs one tick at a time: claim and process a pending job, then mail
// any completed jobs that have not been notified.
type Poller struct {
	store    store.Store
	runner   JobRunner
	notifier Notifier
	config   Config
	logger   *slog.Logger

	running atomic.Bool
	wake    chan struct{}
}

// New returns a Poller. A zero Interval becomes 30s and a nil logger uses
// slog.Default.
func New(st store.Store, runner JobRunner, notifier Notifier, cfg Config, logger *slog.Logger) *Poller {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		store:    st,
		runner:   runner,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}
}

// Run polls on a ticker until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.logger.Info("poller: started", "interval", p.config.Interval.String())

	// Run once immediately on start.
	p.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller: stopped")
			return
		case <-ticker.C:
			p.Tick(ctx)
		case <-p.wake:
			p.Tick(ctx)
		}
	}
}

// Wake asks Run to tick now instead of waiting for the next interval.
// Calls made while a wake-up is already queued are coalesced.
func (p *Poller) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Tick runs one claim pass and one notification pass. It returns false
// without doing anything if another tick is still in progress.
func (p *Poller) Tick(ctx context.Context) bool {
	if !p.running.CompareAndSwap(false, true) {
		p.logger.Debug("poller: previous tick still running, skipping")
		return false
	}
	defer p.running.Store(false)

	ok := true
	if err := p.ProcessOnePending(ctx); err != nil {
		ok = false
		p.logger.Error("poller: process pending job", "error", err)
	}
	if _, err := p.SendCompletedNotifications(ctx); err != nil {
		ok = false
		p.logger.Error("poller: send notifications", "error", err)
	}
	p.config.Metrics.Tick(ok)
	return true
}

// ProcessOnePending claims the oldest pending job and runs it to a terminal state.
func (p *Poller) ProcessOnePending(ctx context.Context) error {
	job, err := p.store.ClaimNextPending(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	p.config.Metrics.JobClaimed()
	p.logger.Info("poller: claimed job", "job_id", job.ID, "query", job.Query)
	if p.config.Cache != nil {
		if err := p.config.Cache.SetJobStatus(ctx, job.ID, models.JobStatusProcessing, cache.JobStatusTTL); err != nil {
			p.logger.Warn("poller: cache status update failed", "job_id", job.ID, "error", err)
		}
	}

	if err := p.runner.Run(ctx, job.ID); err != nil {
		return fmt.Errorf("run job %d: %w", job.ID, err)
	}
	return nil
}

// SendCompletedNotifications emails every completed job that has not been
// notified yet. A failed send leaves the job eligible for the next tick.
func (p *Poller) SendCompletedNotifications(ctx context.Context) (int, error) {
	jobs, err := p.store.ListUnnotifiedCompleted(ctx)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		log := p.logger.With("job_id", job.ID)

		link := ResultsURL(p.config.BaseURL, job.ID)
		if err := p.notifier.NotifyResultsReady(ctx, job.Email, job.Query, link); err != nil {
			p.config.Metrics.Notification(false)
			log.Error("poller: email failed, will retry next tick", "error", err)
			continue
		}
		p.config.Metrics.Notification(true)

		if err := p.store.MarkEmailSent(ctx, job.ID); err != nil {
			log.Error("poller: mark email sent", "error", err)
			continue
		}
		sent++
		log.Info("poller: results email sent")
	}
	return sent, nil
}
