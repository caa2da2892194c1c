package folio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eringen/folio/content"
)

// SiteConfig holds all configuration for a folio site.
type SiteConfig struct {
	Name string `yaml:"name"` // Site name (default "Portfolio")
	URL  string `yaml:"url"`  // Canonical URL (default "http://localhost:3000")
	Addr string `yaml:"addr"` // Listen address (default ":3000")

	DataDir     string `yaml:"data_dir"`     // Root of the document files (default "data")
	EntriesFile string `yaml:"entries_file"` // Primary document (default "{DataDir}/posts.json")
	SidecarFile string `yaml:"sidecar_file"` // Capture metadata (default "{DataDir}/exif.json")
	BodyDir     string `yaml:"body_dir"`     // Body files (default "{DataDir}/content")
	UploadsDir  string `yaml:"uploads_dir"`  // Upload directories (default "public/uploads/posts")
	UploadsURL  string `yaml:"uploads_url"`  // URL prefix of UploadsDir (default "/uploads/posts")

	AdminPassword string `yaml:"admin_password"` // Required: admin login password
	SessionSecret string `yaml:"session_secret"` // Required: session encryption secret
	CookieSecure  bool   `yaml:"cookie_secure"`  // Set true for HTTPS

	EntryCacheTTL time.Duration `yaml:"entry_cache_ttl"` // Public read cache TTL (default 1min)
	ImageMaxWidth int           `yaml:"image_max_width"` // Resize width for gallery images (default 1600)
	MaxUploadSize int64         `yaml:"max_upload_size"` // Per-file limit in bytes (default 20MB)

	LockAttempts int           `yaml:"lock_attempts"`  // Document lock attempts (default 10)
	LockDelay    time.Duration `yaml:"lock_delay"`     // First retry delay (default 50ms)
	LockMaxDelay time.Duration `yaml:"lock_max_delay"` // Retry delay cap (default 500ms)

	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error (default "info")
	PrettyLog bool   `yaml:"pretty_log"` // Development console output
}

func (c *SiteConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "Portfolio"
	}
	if c.URL == "" {
		c.URL = "http://localhost:3000"
	}
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.EntriesFile == "" {
		c.EntriesFile = filepath.Join(c.DataDir, "posts.json")
	}
	if c.SidecarFile == "" {
		c.SidecarFile = filepath.Join(c.DataDir, "exif.json")
	}
	if c.BodyDir == "" {
		c.BodyDir = filepath.Join(c.DataDir, "content")
	}
	if c.UploadsDir == "" {
		c.UploadsDir = filepath.Join("public", "uploads", "posts")
	}
	if c.UploadsURL == "" {
		c.UploadsURL = "/uploads/posts"
	}
	if c.EntryCacheTTL == 0 {
		c.EntryCacheTTL = time.Minute
	}
	if c.ImageMaxWidth == 0 {
		c.ImageMaxWidth = 1600
	}
	if c.MaxUploadSize == 0 {
		c.MaxUploadSize = 20 << 20
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Layout returns the store layout described by the config.
func (c SiteConfig) Layout() content.Layout {
	return content.Layout{
		EntriesFile: c.EntriesFile,
		SidecarFile: c.SidecarFile,
		BodyDir:     c.BodyDir,
		UploadsDir:  c.UploadsDir,
		UploadsURL:  c.UploadsURL,
	}
}

// LoadConfig reads an optional YAML file and overlays FOLIO_* environment
// variables. An empty path skips the file.
func LoadConfig(path string) (SiteConfig, error) {
	var cfg SiteConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("folio: read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("folio: parse config %s: %w", path, err)
			}
		}
	}

	cfg.Name = EnvOr("FOLIO_SITE_NAME", cfg.Name)
	cfg.URL = EnvOr("FOLIO_SITE_URL", cfg.URL)
	cfg.Addr = EnvOr("FOLIO_ADDR", cfg.Addr)
	cfg.DataDir = EnvOr("FOLIO_DATA_DIR", cfg.DataDir)
	cfg.UploadsDir = EnvOr("FOLIO_UPLOADS_DIR", cfg.UploadsDir)
	cfg.UploadsURL = EnvOr("FOLIO_UPLOADS_URL", cfg.UploadsURL)
	cfg.AdminPassword = EnvOr("FOLIO_ADMIN_PASSWORD", cfg.AdminPassword)
	cfg.SessionSecret = EnvOr("FOLIO_SESSION_SECRET", cfg.SessionSecret)
	cfg.LogLevel = EnvOr("FOLIO_LOG_LEVEL", cfg.LogLevel)
	if v := os.Getenv("FOLIO_COOKIE_SECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("folio: FOLIO_COOKIE_SECURE: %w", err)
		}
		cfg.CookieSecure = b
	}

	cfg.setDefaults()
	return cfg, nil
}

// Option configures additional App behavior.
type Option func(*App)

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback receives the App before the server starts.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}

// WithStaticDir sets the directory for user-owned static assets (default "public").
func WithStaticDir(dir string) Option {
	return func(a *App) {
		a.staticDir = dir
	}
}

// WithLogger replaces the logger built from LogLevel.
func WithLogger(l *zap.Logger) Option {
	return func(a *App) {
		a.log = l
	}
}
