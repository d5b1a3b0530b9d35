package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/imagehunter/internal/api/middleware"
	"github.com/kiranshivaraju/imagehunter/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	AdminAuth *mw.AdminAuth
	RateLimit *mw.RateLimit

	// DownloadsDir is served read-only under /downloads/. Empty disables it.
	DownloadsDir string
	// TrustedProxies is how many X-Forwarded-For hops are added by our own proxies.
	TrustedProxies int

	IndexHandler     http.HandlerFunc
	HealthHandler    http.HandlerFunc
	MetricsHandler   http.Handler
	CreateJobHandler http.HandlerFunc
	ListJobsHandler  http.HandlerFunc
	GetJobHandler    http.HandlerFunc
	JobStatusHandler http.HandlerFunc
	ResultsHandler   http.HandlerFunc
	DownloadHandler  http.HandlerFunc
	FailJobHandler   http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(mw.ClientIP(deps.TrustedProxies))

	r.Get("/", orNotImplemented(deps.IndexHandler))
	r.Get("/api/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}
		r.Post("/api/request-images", orNotImplemented(deps.CreateJobHandler))
	})

	r.Get("/api/jobs", orNotImplemented(deps.ListJobsHandler))
	r.Get("/api/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
	r.Get("/api/jobs/{jobID}/status", orNotImplemented(deps.JobStatusHandler))
	r.Get("/api/results/{jobID}", orNotImplemented(deps.ResultsHandler))
	r.Get("/api/download/{jobID}", orNotImplemented(deps.DownloadHandler))

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(deps.AdminAuth.Authenticate)

		r.Post("/api/admin/jobs/{jobID}/fail", orNotImplemented(deps.FailJobHandler))
	})

	if deps.DownloadsDir != "" {
		fs := http.StripPrefix("/downloads/", http.FileServer(http.Dir(deps.DownloadsDir)))
		r.Method(http.MethodGet, "/downloads/*", fs)
		r.Method(http.MethodHead, "/downloads/*", fs)
	}

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, response.CodeNotImplemented, "Endpoint not yet implemented", nil)
	}
}
