package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kiranshivaraju/imagehunter/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.JobCreated("free")
		m.JobClaimed()
		m.JobFinished("completed", time.Second)
		m.StageImages("fetch", 3)
		m.Notification(true)
		m.Tick(false)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_ExposesCounters(t *testing.T) {
	m := metrics.New()
	m.JobCreated("paid")
	m.JobFinished("failed", 2*time.Second)
	m.Notification(false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `imagehunter_jobs_created_total{job_type="paid"} 1`))
	assert.True(t, strings.Contains(body, `imagehunter_jobs_finished_total{status="failed"} 1`))
	assert.True(t, strings.Contains(body, `imagehunter_notifications_total{result="failure"} 1`))
}

func TestGather_CountsStageObservations(t *testing.T) {
	m := metrics.New()
	m.StageImages("dedupe", 4)
	m.StageImages("dedupe", 2)

	n, err := testutil.GatherAndCount(m.Registry(), "imagehunter_stage_images")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
