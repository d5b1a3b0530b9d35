package mock

import (
	"context"
	"image"
	"sync/atomic"

	"github.com/kiranshivaraju/imagehunter/internal/relevance"
	"github.com/kiranshivaraju/imagehunter/pkg/models"
)

// MockScorer satisfies models.SimilarityScorer for testing.
type MockScorer struct {
	Name_     string
	LoadFunc  func(ctx context.Context) error
	ScoreFunc func(ctx context.Context, text string, images []image.Image) ([]float64, error)

	LoadCalls  atomic.Int32
	ScoreCalls atomic.Int32
}

func (m *MockScorer) Name() string { return m.Name_ }

func (m *MockScorer) Load(ctx context.Context) error {
	m.LoadCalls.Add(1)
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx)
	}
	return nil
}

func (m *MockScorer) Score(ctx context.Context, text string, images []image.Image) ([]float64, error) {
	m.ScoreCalls.Add(1)
	if m.ScoreFunc != nil {
		return m.ScoreFunc(ctx, text, images)
	}
	return make([]float64, len(images)), nil
}

// NewMockScorer returns a MockScorer that rates every image 1.0.
func NewMockScorer() *MockScorer {
	return NewFixedScorer(1.0)
}

// NewFixedScorer returns a MockScorer that gives every image the same score.
func NewFixedScorer(score float64) *MockScorer {
	return &MockScorer{
		Name_: "mock",
		ScoreFunc: func(_ context.Context, _ string, images []image.Image) ([]float64, error) {
			out := make([]float64, len(images))
			for i := range out {
				out[i] = score
			}
			return out, nil
		},
	}
}

// NewSequenceScorer returns scores from seq in order across calls.
func NewSequenceScorer(seq ...float64) *MockScorer {
	var next atomic.Int32
	return &MockScorer{
		Name_: "mock-sequence",
		ScoreFunc: func(_ context.Context, _ string, images []image.Image) ([]float64, error) {
			out := make([]float64, len(images))
			for i := range out {
				out[i] = seq[int(next.Add(1)-1)%len(seq)]
			}
			return out, nil
		},
	}
}

// NewFailingScorer returns a MockScorer whose Score always returns err.
func NewFailingScorer(err error) *MockScorer {
	return &MockScorer{
		Name_: "mock-failing",
		ScoreFunc: func(context.Context, string, []image.Image) ([]float64, error) {
			return nil, err
		},
	}
}

// NewUnloadableScorer returns a MockScorer that cannot be loaded.
func NewUnloadableScorer() *MockScorer {
	return &MockScorer{
		Name_: "mock-unloadable",
		LoadFunc: func(context.Context) error {
			return relevance.ErrScorerUnavailable
		},
	}
}

// Compile-time check that MockScorer implements SimilarityScorer.
var _ models.SimilarityScorer = (*MockScorer)(nil)
