package relevance

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/kiranshivaraju/imagehunter/pkg/models"
)

type modelState int

const (
	stateUninitialized modelState = iota
	stateReady
	stateFailed
)

func (s modelState) String() string {
	switch s {
	case stateReady:
		return "ready"
	case stateFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// DefaultThreshold is the similarity cutoff used when FilterConfig.Threshold is nil.
const DefaultThreshold = 0.28

// FilterConfig tunes a Filter. Zero values fall back to defaults, except that
// an explicit zero Threshold is honored.
type FilterConfig struct {
	Threshold *float64 // Keep images scoring at or above this. Default: DefaultThreshold.
	BatchSize int      // Images per Score call. Default: 16.
	MaxSide   int      // Images are downscaled to fit MaxSide x MaxSide. Default: 336.
}

func (c *FilterConfig) defaults() {
	t := DefaultThreshold
	if c.Threshold != nil {
		t = *c.Threshold
	}
	c.Threshold = &t
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.MaxSide <= 0 {
		c.MaxSide = 336
	}
}

// Filter drops images whose text-image similarity to the query is below the
// threshold. The scorer is loaded lazily on first use; if loading fails the
// filter passes every image through for the rest of the process.
type Filter struct {
	scorer models.SimilarityScorer
	config FilterConfig
	logger *slog.Logger

	mu      sync.Mutex
	state   modelState
	loadErr error
}

// NewFilter returns a Filter around scorer. The scorer is not loaded until
// Load or the first Filter call.
func NewFilter(scorer models.SimilarityScorer, cfg FilterConfig, logger *slog.Logger) *Filter {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{scorer: scorer, config: cfg, logger: logger}
}

// Load initializes the scorer once. Later calls return the cached outcome.
func (f *Filter) Load(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case stateReady:
		return nil
	case stateFailed:
		return f.loadErr
	}

	f.logger.Info("relevance: loading scorer", "scorer", f.scorer.Name())
	if err := f.scorer.Load(ctx); err != nil {
		f.state = stateFailed
		f.loadErr = fmt.Errorf("load %s scorer: %w", f.scorer.Name(), err)
		f.logger.Error("relevance: scorer unavailable, filtering disabled", "scorer", f.scorer.Name(), "error", err)
		return f.loadErr
	}
	f.state = stateReady
	f.logger.Info("relevance: scorer ready", "scorer", f.scorer.Name())
	return nil
}

// State reports the scorer lifecycle: uninitialized, ready or failed.
func (f *Filter) State() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.String()
}

// Filter returns the paths relevant to query, in input order. Any scoring
// problem returns paths unchanged.
func (f *Filter) Filter(ctx context.Context, paths []string, query string, jobID int64) []string {
	log := f.logger.With("job_id", jobID, "stage", "relevance")
	if len(paths) == 0 {
		return paths
	}

	if err := f.Load(ctx); err != nil {
		log.Warn("relevance: scorer not loaded, keeping all images", "error", err)
		return paths
	}

	kept := make([]string, 0, len(paths))
	for start := 0; start < len(paths); start += f.config.BatchSize {
		end := min(start+f.config.BatchSize, len(paths))
		batch := paths[start:end]

		scores, err := f.scoreBatch(ctx, query, batch)
		if err != nil {
			log.Error("relevance: batch failed, keeping all images", "batch_start", start, "error", err)
			return paths
		}
		for i, score := range scores {
			if score >= *f.config.Threshold {
				kept = append(kept, batch[i])
			}
		}
	}

	log.Info("relevance: done", "input", len(paths), "kept", len(kept), "removed", len(paths)-len(kept))
	return kept
}

func (f *Filter) scoreBatch(ctx context.Context, query string, batch []string) ([]float64, error) {
	images := make([]image.Image, 0, len(batch))
	for _, p := range batch {
		img, err := imaging.Open(p)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", filepath.Base(p), err)
		}
		images = append(images, imaging.Fit(img, f.config.MaxSide, f.config.MaxSide, imaging.Lanczos))
	}

	scores, err := f.scorer.Score(ctx, query, images)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(batch) {
		return nil, fmt.Errorf("%w: got %d for %d images", ErrScoreMismatch, len(scores), len(batch))
	}
	return scores, nil
}
