// Package models contains shared data models used across the imagehunter codebase.
package models

import (
	"context"
	"image"
)

// SimilarityScorer is the interface every text-image relevance backend implements.
// Never call a specific scorer directly; always inject this interface.
type SimilarityScorer interface {
	// Load prepares the backend (model download, health check). It is called
	// at most once per process by the relevance filter.
	Load(ctx context.Context) error
	// Score returns one similarity score per image, in input order.
	Score(ctx context.Context, text string, images []image.Image) ([]float64, error)
	// Name returns the scorer identifier (e.g., "clip").
	Name() string
}
