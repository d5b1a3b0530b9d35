package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/mail"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/imagehunter/internal/api/response"
	"github.com/kiranshivaraju/imagehunter/internal/cache"
	"github.com/kiranshivaraju/imagehunter/internal/metrics"
	"github.com/kiranshivaraju/imagehunter/internal/store"
	"github.com/kiranshivaraju/imagehunter/pkg/models"
	"github.com/microcosm-cc/bluemonday"
)

const (
	MinImageCount = 1
	MaxImageCount = 1000
	maxQueryLen   = 200
)

// Waker is notified when a new job is queued.
type Waker interface {
	Wake()
}

// Jobs serves the job endpoints.
type Jobs struct {
	Store        store.Store
	Cache        cache.Cache
	Metrics      *metrics.Metrics
	Waker        Waker
	DownloadsDir string
	Logger       *slog.Logger

	sanitizer *bluemonday.Policy
}

// NewJobs wires the job handlers. Cache, Metrics, Waker and Logger may be nil.
func NewJobs(st store.Store, c cache.Cache, m *metrics.Metrics, w Waker, downloadsDir string, logger *slog.Logger) *Jobs {
	if logger == nil {
		logger = slog.Default()
	}
	return &Jobs{
		Store:        st,
		Cache:        c,
		Metrics:      m,
		Waker:        w,
		DownloadsDir: downloadsDir,
		Logger:       logger,
		sanitizer:    bluemonday.StrictPolicy(),
	}
}

type createJobRequest struct {
	Query string `json:"query"`
	Email string `json:"email"`
	Count int    `json:"count"`
}

type createJobResponse struct {
	Message string `json:"message"`
	JobID   int64  `json:"job_id"`
}

// SanitizeQuery strips markup from a search query and trims surrounding space.
func (h *Jobs) SanitizeQuery(q string) string {
	clean := h.sanitizer.Sanitize(strings.TrimSpace(q))
	// StrictPolicy escapes entities; the query is stored as plain text.
	return strings.TrimSpace(html.UnescapeString(clean))
}

// Create handles POST /api/request-images.
func (h *Jobs) Create(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	query := h.SanitizeQuery(req.Query)
	if query == "" {
		response.BadRequest(w, "query is required")
		return
	}
	if len(query) > maxQueryLen {
		response.BadRequest(w, fmt.Sprintf("query must be at most %d characters", maxQueryLen))
		return
	}

	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		response.BadRequest(w, "email must be a valid address")
		return
	}

	if req.Count < MinImageCount || req.Count > MaxImageCount {
		response.BadRequest(w, fmt.Sprintf("count must be between %d and %d", MinImageCount, MaxImageCount))
		return
	}

	job := &models.Job{Query: query, Email: addr.Address, ImageCount: req.Count}
	if err := h.Store.CreateJob(r.Context(), job); err != nil {
		h.Logger.Error("create job failed", "error", err)
		response.InternalError(w, "Failed to create job", nil)
		return
	}

	h.Logger.Info("job accepted", "job_id", job.ID, "job_type", job.JobType, "count", job.ImageCount)
	h.Metrics.JobCreated(job.JobType)
	if h.Cache != nil {
		if err := h.Cache.SetJobStatus(r.Context(), job.ID, job.Status, cache.JobStatusTTL); err != nil {
			h.Logger.Warn("cache job status failed", "job_id", job.ID, "error", err)
		}
	}
	if h.Waker != nil {
		h.Waker.Wake()
	}

	response.Accepted(w, createJobResponse{
		Message: job.JobType + " job accepted.",
		JobID:   job.ID,
	})
}

type imageView struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

type jobView struct {
	ID            int64       `json:"id"`
	Query         string      `json:"query"`
	Email         string      `json:"email"`
	ImageCount    int         `json:"image_count"`
	JobType       string      `json:"job_type"`
	Status        string      `json:"status"`
	EmailSent     bool        `json:"email_sent"`
	FailureReason *string     `json:"failure_reason,omitempty"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	Images        []imageView `json:"images"`
	ResultsURL    string      `json:"results_url"`
	DownloadURL   string      `json:"download_url,omitempty"`
}

func (h *Jobs) view(j *models.Job) jobView {
	v := jobView{
		ID:            j.ID,
		Query:         j.Query,
		Email:         j.Email,
		ImageCount:    j.ImageCount,
		JobType:       j.JobType,
		Status:        j.Status,
		EmailSent:     j.EmailSent,
		FailureReason: j.FailureReason,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
		CreatedAt:     j.CreatedAt,
		Images:        make([]imageView, 0, len(j.Images)),
		ResultsURL:    fmt.Sprintf("/api/results/%d", j.ID),
	}
	for _, img := range j.Images {
		v.Images = append(v.Images, imageView{Filename: img.Filename(), URL: h.imageURL(j.ID, img)})
	}
	if len(j.Images) > 0 {
		v.DownloadURL = fmt.Sprintf("/api/download/%d", j.ID)
	}
	return v
}

// imageURL maps a stored file path to its URL under /downloads/.
func (h *Jobs) imageURL(jobID int64, img models.JobImage) string {
	if h.DownloadsDir != "" {
		if rel, err := filepath.Rel(h.DownloadsDir, img.FilePath); err == nil && !strings.HasPrefix(rel, "..") {
			return "/downloads/" + filepath.ToSlash(rel)
		}
	}
	return fmt.Sprintf("/downloads/job_%d/%s", jobID, img.Filename())
}

// List handles GET /api/jobs.
func (h *Jobs) List(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > store.MaxListLimit {
			response.BadRequest(w, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	jobs, err := h.Store.ListJobs(r.Context(), limit)
	if err != nil {
		h.Logger.Error("list jobs failed", "error", err)
		response.InternalError(w, "Failed to list jobs", nil)
		return
	}

	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, h.view(j))
	}
	response.Collection(w, views, response.PaginationMeta{
		Limit:   limit,
		Count:   len(views),
		HasMore: len(views) == limit,
	})
}

// Get handles GET /api/jobs/{jobID}.
func (h *Jobs) Get(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	response.JSON(w, h.view(job))
}

// Status handles GET /api/jobs/{jobID}/status, answering from the cache
// when it holds the job and from the store otherwise.
func (h *Jobs) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}

	if h.Cache != nil {
		status, found, err := h.Cache.GetJobStatus(r.Context(), id)
		if err != nil {
			h.Logger.Warn("cache job status lookup failed", "job_id", id, "error", err)
		}
		if found {
			response.JSON(w, map[string]any{"job_id": id, "status": status})
			return
		}
	}

	job, err := h.Store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		response.NotFound(w, "Job not found")
		return
	}
	if err != nil {
		response.InternalError(w, "Failed to load job", err)
		return
	}
	response.JSON(w, map[string]any{"job_id": id, "status": job.Status})
}

func (h *Jobs) loadJob(w http.ResponseWriter, r *http.Request) (*models.Job, bool) {
	id, ok := parseJobID(w, r)
	if !ok {
		return nil, false
	}

	job, err := h.Store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		response.NotFound(w, "Job not found")
		return nil, false
	}
	if err != nil {
		h.Logger.Error("get job failed", "job_id", id, "error", err)
		response.InternalError(w, "Failed to load job", nil)
		return nil, false
	}
	return job, true
}

func parseJobID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(w, "Invalid job ID")
		return 0, false
	}
	return id, true
}
