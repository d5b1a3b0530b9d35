package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the imagehunter server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Fetch     FetchConfig
	Relevance RelevanceConfig
	Mail      MailConfig
	Poller    PollerConfig
}

type ServerConfig struct {
	Port         int
	Env          string
	BaseURL      string
	RateLimit    int
	AdminKeyHash string
	// TrustedProxies is the number of reverse proxies in front of the server.
	// Zero means X-Forwarded-For is ignored.
	TrustedProxies int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL       string
	KeyPrefix string
}

type StorageConfig struct {
	DataRoot     string
	DownloadsDir string
}

type FetchConfig struct {
	PexelsAPIKey    string
	PexelsBaseURL   string
	PageSize        int
	MaxPages        int
	DownloadDelay   time.Duration
	DownloadTimeout time.Duration
	SearchCacheTTL  time.Duration
	Oversample      int
}

type RelevanceConfig struct {
	Provider  string
	Threshold float64
	BatchSize int
	CLIP      CLIPConfig
}

type CLIPConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

type MailConfig struct {
	Server         string
	Port           int
	Username       string
	Password       string
	From           string
	StartTLS       bool
	SSLTLS         bool
	UseCredentials bool
	ValidateCerts  bool
}

type PollerConfig struct {
	Interval time.Duration
}

var validProviders = map[string]bool{
	"clip": true,
	"none": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	dataRoot := envString("DATA_ROOT", envString("RENDER_DISK_PATH", "."))

	cfg := &Config{
		Server: ServerConfig{
			Port:           envInt("IMAGEHUNTER_PORT", 8000),
			Env:            envString("IMAGEHUNTER_ENV", "development"),
			BaseURL:        strings.TrimRight(envString("BASE_URL", "http://127.0.0.1:8000"), "/"),
			RateLimit:      envInt("RATE_LIMIT_PER_MINUTE", 10),
			AdminKeyHash:   os.Getenv("ADMIN_KEY_HASH"),
			TrustedProxies: envInt("TRUSTED_PROXY_COUNT", 0),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:       os.Getenv("REDIS_URL"),
			KeyPrefix: envString("REDIS_KEY_PREFIX", "imagehunter:"),
		},
		Storage: StorageConfig{
			DataRoot:     dataRoot,
			DownloadsDir: envString("DOWNLOADS_DIR", filepath.Join(dataRoot, "downloads")),
		},
		Fetch: FetchConfig{
			PexelsAPIKey:    os.Getenv("PEXELS_API_KEY"),
			PexelsBaseURL:   strings.TrimRight(envString("PEXELS_BASE_URL", "https://api.pexels.com/v1"), "/"),
			PageSize:        envInt("FETCH_PAGE_SIZE", 80),
			MaxPages:        envInt("FETCH_MAX_PAGES", 50),
			DownloadDelay:   envDuration("FETCH_DOWNLOAD_DELAY", 500*time.Millisecond),
			DownloadTimeout: envDuration("FETCH_DOWNLOAD_TIMEOUT", 20*time.Second),
			SearchCacheTTL:  envDuration("FETCH_SEARCH_CACHE_TTL", time.Hour),
			Oversample:      envInt("FETCH_OVERSAMPLE", 2),
		},
		Relevance: RelevanceConfig{
			Provider:  envString("RELEVANCE_PROVIDER", "clip"),
			Threshold: envFloat("CLIP_FILTER_THRESHOLD", 0.28),
			BatchSize: envInt("RELEVANCE_BATCH_SIZE", 16),
			CLIP: CLIPConfig{
				BaseURL: strings.TrimRight(envString("CLIP_BASE_URL", "http://localhost:8100"), "/"),
				Model:   envString("CLIP_MODEL", "openai/clip-vit-base-patch32"),
				Timeout: envDurationSecs("CLIP_TIMEOUT_SECS", 60*time.Second),
			},
		},
		Mail: MailConfig{
			Server:         envString("MAIL_SERVER", "smtp.sendgrid.net"),
			Port:           envInt("MAIL_PORT", 587),
			Username:       os.Getenv("MAIL_USERNAME"),
			Password:       os.Getenv("MAIL_PASSWORD"),
			From:           os.Getenv("MAIL_FROM"),
			StartTLS:       envBool("MAIL_STARTTLS", true),
			SSLTLS:         envBool("MAIL_SSL_TLS", false),
			UseCredentials: envBool("USE_CREDENTIALS", true),
			ValidateCerts:  envBool("VALIDATE_CERTS", false),
		},
		Poller: PollerConfig{
			Interval: envDuration("POLL_INTERVAL", 30*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if !hasAnyPrefix(c.Database.URL, "postgres://", "postgresql://", "sqlite://") {
		return fmt.Errorf("DATABASE_URL must be a postgres:// or sqlite:// URL")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !hasAnyPrefix(c.Server.BaseURL, "http://", "https://") {
		return fmt.Errorf("BASE_URL must start with http:// or https://, got %q", c.Server.BaseURL)
	}

	if c.Server.TrustedProxies < 0 {
		return fmt.Errorf("TRUSTED_PROXY_COUNT must not be negative, got %d", c.Server.TrustedProxies)
	}

	if !validProviders[c.Relevance.Provider] {
		return fmt.Errorf("RELEVANCE_PROVIDER must be one of clip, none; got %q", c.Relevance.Provider)
	}
	if c.Relevance.Provider == "clip" && !hasAnyPrefix(c.Relevance.CLIP.BaseURL, "http://", "https://") {
		return fmt.Errorf("CLIP_BASE_URL must start with http:// or https://, got %q", c.Relevance.CLIP.BaseURL)
	}
	if c.Relevance.Threshold < -1 || c.Relevance.Threshold > 1 {
		return fmt.Errorf("CLIP_FILTER_THRESHOLD must be between -1 and 1, got %g", c.Relevance.Threshold)
	}
	if c.Relevance.BatchSize < 1 {
		return fmt.Errorf("RELEVANCE_BATCH_SIZE must be positive, got %d", c.Relevance.BatchSize)
	}

	if c.Fetch.PageSize < 1 || c.Fetch.PageSize > 80 {
		return fmt.Errorf("FETCH_PAGE_SIZE must be between 1 and 80, got %d", c.Fetch.PageSize)
	}
	if c.Fetch.Oversample < 1 {
		return fmt.Errorf("FETCH_OVERSAMPLE must be positive, got %d", c.Fetch.Oversample)
	}

	if c.Mail.From == "" {
		return fmt.Errorf("MAIL_FROM is required")
	}
	if c.Mail.StartTLS && c.Mail.SSLTLS {
		return fmt.Errorf("MAIL_STARTTLS and MAIL_SSL_TLS cannot both be enabled")
	}
	if c.Mail.UseCredentials && (c.Mail.Username == "" || c.Mail.Password == "") {
		return fmt.Errorf("MAIL_USERNAME and MAIL_PASSWORD are required when USE_CREDENTIALS is true")
	}

	if c.Poller.Interval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.Poller.Interval)
	}

	return nil
}

// IsSQLite reports whether the ledger lives in an embedded SQLite file.
func (c DatabaseConfig) IsSQLite() bool {
	return strings.HasPrefix(c.URL, "sqlite://")
}

// SQLitePath returns the file path portion of a sqlite:// URL.
func (c DatabaseConfig) SQLitePath() string {
	return strings.TrimPrefix(c.URL, "sqlite://")
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
