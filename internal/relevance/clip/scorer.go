// Package clip scores text-image similarity through a CLIP inference service.
package clip

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/kiranshivaraju/imagehunter/internal/config"
	"github.com/kiranshivaraju/imagehunter/pkg/models"
)

var (
	ErrUnavailable     = errors.New("clip service unavailable")
	ErrInvalidResponse = errors.New("clip service returned invalid response")
)

// Scorer implements models.SimilarityScorer against a CLIP HTTP service.
//
//	GET  {base}/health
//	POST {base}/v1/similarity  {"model","text","images":[base64 jpeg]} -> {"scores":[...]}
type Scorer struct {
	cfg    config.CLIPConfig
	client *http.Client
}

func NewScorer(cfg config.CLIPConfig) *Scorer {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Scorer{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (s *Scorer) Name() string { return "clip" }

// Load checks that the service is up and serving the configured model.
func (s *Scorer) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ErrUnavailable, resp.StatusCode)
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err == nil && len(health.Models) > 0 {
		for _, m := range health.Models {
			if m == s.cfg.Model {
				return nil
			}
		}
		return fmt.Errorf("%w: model %q not served", ErrUnavailable, s.cfg.Model)
	}
	return nil
}

func (s *Scorer) Score(ctx context.Context, text string, images []image.Image) ([]float64, error) {
	body := similarityRequest{Model: s.cfg.Model, Text: text, Images: make([]string, 0, len(images))}
	for i, img := range images {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
			return nil, fmt.Errorf("encode image %d: %w", i, err)
		}
		body.Images = append(body.Images, base64.StdEncoding.EncodeToString(buf.Bytes()))
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/v1/similarity", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out similarityResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(out.Scores) != len(images) {
		return nil, fmt.Errorf("%w: %d scores for %d images", ErrInvalidResponse, len(out.Scores), len(images))
	}
	return out.Scores, nil
}

type healthResponse struct {
	Status string   `json:"status"`
	Models []string `json:"models"`
}

type similarityRequest struct {
	Model  string   `json:"model"`
	Text   string   `json:"text"`
	Images []string `json:"images"`
}

type similarityResponse struct {
	Scores []float64 `json:"scores"`
}

var _ models.SimilarityScorer = (*Scorer)(nil)
