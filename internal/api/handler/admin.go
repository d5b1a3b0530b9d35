package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/imagehunter/internal/api/response"
	"github.com/kiranshivaraju/imagehunter/internal/cache"
	"github.com/kiranshivaraju/imagehunter/internal/store"
	"github.com/kiranshivaraju/imagehunter/pkg/models"
)

const defaultAdminFailReason = "failed by administrator"

// FailJob handles POST /api/admin/jobs/{jobID}/fail. It moves a job stuck
// in processing to failed; any other status is a conflict.
func (h *Jobs) FailJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = defaultAdminFailReason
	}

	err := h.Store.UpdateJobStatus(r.Context(), id, models.JobStatusFailed, store.WithFailureReason(reason))
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.NotFound(w, "Job not found")
		return
	case errors.Is(err, store.ErrInvalidTransition):
		response.Conflict(w, "Only processing jobs can be failed")
		return
	case err != nil:
		h.Logger.Error("admin fail job failed", "job_id", id, "error", err)
		response.InternalError(w, "Failed to update job", nil)
		return
	}

	job, err := h.Store.GetJob(r.Context(), id)
	if err != nil {
		response.InternalError(w, "Failed to load job", err)
		return
	}

	var elapsed time.Duration
	if job.StartedAt != nil {
		elapsed = time.Since(*job.StartedAt)
	}
	h.Metrics.JobFinished(models.JobStatusFailed, elapsed)
	if h.Cache != nil {
		if err := h.Cache.SetJobStatus(r.Context(), id, models.JobStatusFailed, cache.JobStatusTTL); err != nil {
			h.Logger.Warn("cache job status failed", "job_id", id, "error", err)
		}
	}
	h.Logger.Warn("job failed by administrator", "job_id", id, "reason", reason)

	response.JSON(w, h.view(job))
}
