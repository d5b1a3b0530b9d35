// Package dedupe drops perceptually identical images from a job's downloads.
package dedupe

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/corona10/goimagehash"
	"github.com/disintegration/imaging"
)

// HashFunc computes a 64-bit perceptual hash for the image at path.
type HashFunc func(path string) (uint64, error)

// PerceptualHash decodes the image at path and returns its DCT-based pHash.
func PerceptualHash(path string) (uint64, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return 0, fmt.Errorf("hash %s: %w", filepath.Base(path), err)
	}
	return h.GetHash(), nil
}

// Deduplicator removes images whose perceptual hash was already seen in the
// same batch.
type Deduplicator struct {
	hash   HashFunc
	logger *slog.Logger
}

// New returns a Deduplicator using PerceptualHash.
func New(logger *slog.Logger) *Deduplicator {
	return NewWithHash(PerceptualHash, logger)
}

// NewWithHash returns a Deduplicator that uses hash instead of PerceptualHash.
func NewWithHash(hash HashFunc, logger *slog.Logger) *Deduplicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduplicator{hash: hash, logger: logger}
}

// Deduplicate keeps the first image of every distinct hash, in input order.
// Images that cannot be decoded are logged and dropped.
func (d *Deduplicator) Deduplicate(paths []string, jobID int64) []string {
	log := d.logger.With("job_id", jobID, "stage", "dedupe")

	seen := make(map[uint64]struct{}, len(paths))
	unique := make([]string, 0, len(paths))
	for _, p := range paths {
		h, err := d.hash(p)
		if err != nil {
			log.Warn("dedupe: skipping unreadable image", "file", filepath.Base(p), "error", err)
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		unique = append(unique, p)
	}

	log.Info("dedupe: done", "input", len(paths), "unique", len(unique), "removed", len(paths)-len(unique))
	return unique
}
