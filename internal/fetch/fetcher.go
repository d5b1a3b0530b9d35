package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Config configures the Fetcher.
type Config struct {
	DownloadsDir string        // Root for job_<id> directories. Default: "downloads".
	PageSize     int           // Results per search page. Default: 80.
	MaxPages     int           // Upper bound on pages per fetch. Default: 50.
	Delay        time.Duration // Pause between downloads. Zero disables it.
	Timeout      time.Duration // Per-download HTTP timeout. Default: 20s.
	MaxBytes     int64         // Max image body size. Default: 25MB.
	// UserAgent sent with image downloads; some CDNs reject the Go default.
	UserAgent string
}

func (c *Config) defaults() {
	if c.DownloadsDir == "" {
		c.DownloadsDir = "downloads"
	}
	if c.PageSize <= 0 {
		c.PageSize = 80
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 50
	}
	if c.Delay < 0 {
		c.Delay = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 25 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	}
}

var errTooLarge = errors.New("image exceeds size limit")

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{2,5}$`)

// Fetcher searches for candidate images and downloads them into a per-job directory.
type Fetcher struct {
	searcher Searcher
	client   *http.Client
	config   Config
	logger   *slog.Logger
}

// New creates a Fetcher.
func New(searcher Searcher, cfg Config, logger *slog.Logger) *Fetcher {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		searcher: searcher,
		client:   &http.Client{Timeout: cfg.Timeout},
		config:   cfg,
		logger:   logger,
	}
}

// JobDir returns the directory that holds downloads for jobID.
func (f *Fetcher) JobDir(jobID int64) string {
	return filepath.Join(f.config.DownloadsDir, fmt.Sprintf("job_%d", jobID))
}

// Fetch returns up to count local image paths for query, collecting about
// count candidate URLs first. Callers that expect losses downstream pass an
// already inflated count. It is best effort: a failed search yields no paths,
// a failed download is skipped.
func (f *Fetcher) Fetch(ctx context.Context, query string, count int, jobID int64) []string {
	if count <= 0 {
		return []string{}
	}
	log := f.logger.With("job_id", jobID, "stage", "fetch")

	if cc, ok := f.searcher.(CredentialChecker); ok && !cc.HasCredentials() {
		log.Warn("fetch: search credentials missing, skipping")
		return []string{}
	}

	candidates, err := f.collect(ctx, query, count)
	if err != nil {
		if errors.Is(err, ErrNoCredentials) {
			log.Warn("fetch: search credentials missing, skipping")
		} else {
			log.Error("fetch: search failed", "query", query, "error", err)
		}
		return []string{}
	}
	log.Info("fetch: candidates collected", "candidates", len(candidates), "wanted", count)

	dir := f.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Error("fetch: create job directory", "dir", dir, "error", err)
		return []string{}
	}

	saved := make([]string, 0, count)
	for _, u := range candidates {
		if len(saved) >= count {
			break
		}
		p, err := f.download(ctx, u, dir, len(saved))
		if err != nil {
			if ctx.Err() != nil {
				log.Warn("fetch: cancelled", "saved", len(saved))
				return saved
			}
			log.Warn("fetch: download failed, skipping", "url", u, "error", err)
			continue
		}
		saved = append(saved, p)

		if f.config.Delay > 0 && len(saved) < count {
			select {
			case <-ctx.Done():
				return saved
			case <-time.After(f.config.Delay):
			}
		}
	}

	log.Info("fetch: done", "saved", len(saved))
	return saved
}

// collect pages through the searcher until want URLs are gathered or a page comes back empty.
func (f *Fetcher) collect(ctx context.Context, query string, want int) ([]string, error) {
	var urls []string
	for page := 1; page <= f.config.MaxPages && len(urls) < want; page++ {
		batch, err := f.searcher.Search(ctx, query, page, f.config.PageSize)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		urls = append(urls, batch...)
	}
	return urls, nil
}

func (f *Fetcher) download(ctx context.Context, rawURL, dir string, index int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("http %d", resp.StatusCode)
	}

	dst := filepath.Join(dir, fmt.Sprintf("image_%04d%s", index, extensionFor(rawURL)))
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}

	n, err := io.Copy(out, io.LimitReader(resp.Body, f.config.MaxBytes+1))
	if err == nil && n > f.config.MaxBytes {
		err = errTooLarge
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("write %s: %w", dst, err)
	}
	return dst, nil
}

// extensionFor takes the file extension from the URL path, ignoring the query
// string, and falls back to .jpg.
func extensionFor(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if !extPattern.MatchString(ext) {
		return ".jpg"
	}
	return ext
}
