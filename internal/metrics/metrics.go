// Package metrics exposes Prometheus collectors for the job pipeline.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry     *prometheus.Registry
	jobsCreated  *prometheus.CounterVec
	jobsClaimed  prometheus.Counter
	jobsFinished *prometheus.CounterVec
	jobDuration  prometheus.Histogram
	stageImages  *prometheus.HistogramVec
	emails       *prometheus.CounterVec
	ticks        *prometheus.CounterVec
}

// New registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagehunter",
			Name:      "jobs_created_total",
			Help:      "Jobs accepted through the API, by job type.",
		}, []string{"job_type"}),
		jobsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "imagehunter",
			Name:      "jobs_claimed_total",
			Help:      "Pending jobs claimed by the poller.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagehunter",
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "imagehunter",
			Name:      "job_duration_seconds",
			Help:      "Wall time of a pipeline run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		stageImages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imagehunter",
			Name:      "stage_images",
			Help:      "Images surviving each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"stage"}),
		emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagehunter",
			Name:      "notifications_total",
			Help:      "Result emails attempted, by outcome.",
		}, []string{"result"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagehunter",
			Name:      "poller_ticks_total",
			Help:      "Poller ticks, by outcome.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsCreated, m.jobsClaimed, m.jobsFinished, m.jobDuration,
		m.stageImages, m.emails, m.ticks,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) JobCreated(jobType string) {
	if m == nil {
		return
	}
	m.jobsCreated.WithLabelValues(jobType).Inc()
}

func (m *Metrics) JobClaimed() {
	if m == nil {
		return
	}
	m.jobsClaimed.Inc()
}

func (m *Metrics) JobFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(status).Inc()
	m.jobDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) StageImages(stage string, n int) {
	if m == nil {
		return
	}
	m.stageImages.WithLabelValues(stage).Observe(float64(n))
}

func (m *Metrics) Notification(ok bool) {
	if m == nil {
		return
	}
	m.emails.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) Tick(ok bool) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(outcome(ok)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
