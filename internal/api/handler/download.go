package handler

import (
	"archive/zip"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/kiranshivaraju/imagehunter/internal/api/response"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ArchiveName is the download filename for a job's images.
func ArchiveName(jobID int64, query string) string {
	q := strings.Trim(unsafeFilenameChars.ReplaceAllString(query, "_"), "_")
	if q == "" {
		return fmt.Sprintf("job_%d.zip", jobID)
	}
	return fmt.Sprintf("job_%d_%s.zip", jobID, q)
}

// Download handles GET /api/download/{jobID}: a zip of every image file
// still on disk. Missing files are skipped.
func (h *Jobs) Download(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	if len(job.Images) == 0 {
		response.NotFound(w, "No completed job or images found to download.")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, ArchiveName(job.ID, job.Query)))

	zw := zip.NewWriter(w)
	added := 0
	for _, img := range job.Images {
		if err := addFile(zw, img.FilePath, img.Filename()); err != nil {
			h.Logger.Warn("skipping image in archive", "job_id", job.ID, "path", img.FilePath, "error", err)
			continue
		}
		added++
	}
	if err := zw.Close(); err != nil {
		h.Logger.Error("finish archive failed", "job_id", job.ID, "error", err)
		return
	}
	h.Logger.Info("archive sent", "job_id", job.ID, "count", added)
}

func addFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	// Images are already compressed.
	hdr.Method = zip.Store

	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, f)
	return err
}
