package clip

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/kiranshivaraju/imagehunter/internal/config"
)

func clipServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func newTestScorer(baseURL string) *Scorer {
	return NewScorer(config.CLIPConfig{BaseURL: baseURL + "/", Model: "openai/clip-vit-base-patch32", Timeout: 5 * time.Second})
}

func testImages(n int) []image.Image {
	out := make([]image.Image, n)
	for i := range out {
		out[i] = imaging.New(32, 32, color.NRGBA{R: 255, A: 255})
	}
	return out
}

func TestLoad_Healthy(t *testing.T) {
	ts := clipServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"status":"ok","models":["openai/clip-vit-base-patch32"]}`))
	})

	if err := newTestScorer(ts.URL).Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoad_ModelNotServed(t *testing.T) {
	ts := clipServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","models":["laion/clip-vit-h-14"]}`))
	})

	err := newTestScorer(ts.URL).Load(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestLoad_Unhealthy(t *testing.T) {
	ts := clipServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := newTestScorer(ts.URL).Load(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestLoad_Unreachable(t *testing.T) {
	s := NewScorer(config.CLIPConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	if err := s.Load(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestScore_SendsTextAndImages(t *testing.T) {
	ts := clipServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/similarity" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req similarityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Text != "red bicycle" {
			t.Errorf("unexpected text: %q", req.Text)
		}
		if req.Model != "openai/clip-vit-base-patch32" {
			t.Errorf("unexpected model: %q", req.Model)
		}
		if len(req.Images) != 2 {
			t.Errorf("expected 2 images, got %d", len(req.Images))
			return
		}
		raw, err := base64.StdEncoding.DecodeString(req.Images[0])
		if err != nil || len(raw) < 2 || raw[0] != 0xFF || raw[1] != 0xD8 {
			t.Errorf("image 0 is not a base64 JPEG")
		}
		json.NewEncoder(w).Encode(similarityResponse{Scores: []float64{0.31, 0.12}})
	})

	scores, err := newTestScorer(ts.URL).Score(context.Background(), "red bicycle", testImages(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scores) != 2 || scores[0] != 0.31 || scores[1] != 0.12 {
		t.Errorf("unexpected scores: %v", scores)
	}
}

func TestScore_CountMismatch(t *testing.T) {
	ts := clipServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"scores":[0.5]}`))
	})

	_, err := newTestScorer(ts.URL).Score(context.Background(), "q", testImages(3))
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestScore_ServerError(t *testing.T) {
	ts := clipServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := newTestScorer(ts.URL).Score(context.Background(), "q", testImages(1))
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestName(t *testing.T) {
	if got := newTestScorer("http://x").Name(); got != "clip" {
		t.Errorf("expected clip, got %s", got)
	}
}
