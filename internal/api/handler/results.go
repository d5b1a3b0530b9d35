package handler

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/kiranshivaraju/imagehunter/pkg/models"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	indexTemplate   = template.Must(template.ParseFS(templateFS, "templates/index.html"))
	resultsTemplate = template.Must(template.ParseFS(templateFS, "templates/results.html"))
)

type indexPage struct {
	MinCount    int
	MaxCount    int
	FreeTierMax int
	MaxQueryLen int
}

// Index handles GET /, the request form that posts to /api/request-images.
func (h *Jobs) Index(w http.ResponseWriter, _ *http.Request) {
	h.render(w, indexTemplate, indexPage{
		MinCount:    MinImageCount,
		MaxCount:    MaxImageCount,
		FreeTierMax: models.FreeTierMaxImages,
		MaxQueryLen: maxQueryLen,
	})
}

type resultsPage struct {
	Job         jobView
	Images      []imageView
	DownloadURL string
}

// Results handles GET /api/results/{jobID}, the page linked from the
// results email.
func (h *Jobs) Results(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}

	v := h.view(job)
	h.render(w, resultsTemplate, resultsPage{Job: v, Images: v.Images, DownloadURL: v.DownloadURL}, "job_id", job.ID)
}

// render executes t into a buffer first so a template error never leaves a
// half-written page.
func (h *Jobs) render(w http.ResponseWriter, t *template.Template, data any, logAttrs ...any) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		h.Logger.Error("render page failed", append(logAttrs, "template", t.Name(), "error", err)...)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
