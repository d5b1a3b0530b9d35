package relevance

import (
	"context"
	"fmt"
	"image"

	"github.com/kiranshivaraju/imagehunter/internal/config"
	"github.com/kiranshivaraju/imagehunter/internal/relevance/clip"
	"github.com/kiranshivaraju/imagehunter/pkg/models"
)

// NewScorer constructs the similarity scorer selected in config.
// Called once at server startup.
func NewScorer(cfg config.RelevanceConfig) (models.SimilarityScorer, error) {
	switch cfg.Provider {
	case "clip":
		return clip.NewScorer(cfg.CLIP), nil
	case "none":
		return disabledScorer{}, nil
	default:
		return nil, fmt.Errorf("unknown relevance provider %q: must be one of clip, none", cfg.Provider)
	}
}

// disabledScorer never loads, which turns the Filter into a passthrough.
type disabledScorer struct{}

func (disabledScorer) Name() string { return "none" }

func (disabledScorer) Load(context.Context) error { return ErrScorerDisabled }

func (disabledScorer) Score(context.Context, string, []image.Image) ([]float64, error) {
	return nil, ErrScorerDisabled
}

var _ models.SimilarityScorer = disabledScorer{}
