// Package folio is the admin and public HTTP surface of a photo portfolio
// built on a flat-file content store. It wires the entry repository, the
// upload conflict resolver and the image pipeline into Echo routes.
//
// Users provide their own templ templates via the ViewFuncs struct; when a
// view is missing the handlers answer with JSON.
package folio

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/eringen/folio/content"
)

// ViewFuncs holds user-provided templ components for the public pages.
type ViewFuncs struct {
	Entry       func(entry content.Entry, body string, siteURL string) templ.Component
	NotFound    func() templ.Component
	ServerError func() templ.Component
}

// App is the central folio application. It wires together the repository,
// read cache, handlers, middleware and user-provided templates.
type App struct {
	Config  SiteConfig
	Echo    *echo.Echo
	Entries *content.Repository
	Cache   *EntryCache
	Views   ViewFuncs

	log          *zap.Logger
	loginLimiter *LoginLimiter
	customRoutes []func(*App)
	staticDir    string
}

// New creates a new folio App with the given configuration and view functions.
func New(cfg SiteConfig, views ViewFuncs, opts ...Option) *App {
	cfg.setDefaults()

	a := &App{
		Config:    cfg,
		Echo:      echo.New(),
		Views:     views,
		staticDir: "public",
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Init builds the logger, repository and cache. Start calls it; tests and
// embedding programs may call it directly to use the App without serving.
func (a *App) Init() error {
	if a.log == nil {
		l, err := NewLogger(a.Config.LogLevel, a.Config.PrettyLog)
		if err != nil {
			return fmt.Errorf("folio: init logger: %w", err)
		}
		a.log = l
	}

	for _, dir := range []string{a.Config.DataDir, a.Config.BodyDir, a.Config.UploadsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("folio: create %s: %w", dir, err)
		}
	}

	a.Entries = content.NewRepository(a.Config.Layout(),
		content.WithLogger(a.log.Named("content")),
		content.WithLockRetry(a.Config.LockAttempts, a.Config.LockDelay, a.Config.LockMaxDelay),
	)
	a.Cache = NewEntryCache(a.Entries, a.Config.EntryCacheTTL)
	a.loginLimiter = NewLoginLimiter(5, time.Minute)
	return nil
}

// Start initializes the store, middleware and routes, and starts the server.
func (a *App) Start() error {
	if a.Config.AdminPassword == "" {
		return fmt.Errorf("folio: AdminPassword is required")
	}
	if a.Config.SessionSecret == "" {
		return fmt.Errorf("folio: SessionSecret is required")
	}

	if err := a.Init(); err != nil {
		return err
	}

	a.setupMiddleware()
	a.setupRoutes()
	for _, fn := range a.customRoutes {
		fn(a)
	}

	a.log.Info("listening", zap.String("addr", a.Config.Addr), zap.String("entries", a.Config.EntriesFile))
	if err := a.Echo.Start(a.Config.Addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) setupRoutes() {
	e := a.Echo

	e.Static("/public", a.staticDir)
	e.Static(a.Config.UploadsURL, a.Config.UploadsDir)
	e.GET("/favicon.svg", a.handleFavicon)
	e.GET("/robots.txt", a.handleRobots)

	// Public routes
	e.GET("/sitemap.xml", a.handleSitemap)
	e.GET("/entries/:slug/", a.handleEntry)

	// Admin session
	e.GET("/admin/csrf/", handleCSRF)
	e.POST("/admin/login/", a.handleAdminLogin)
	e.POST("/admin/logout/", handleAdminLogout)

	// Admin API
	api := e.Group("/admin/api", requireAdmin)
	api.GET("/entries/", a.handleEntryList)
	api.POST("/entries/", a.handleEntryCreate)
	api.GET("/entries/:id/", a.handleEntryGet)
	api.PATCH("/entries/:id/", a.handleEntryUpdate)
	api.DELETE("/entries/:id/", a.handleEntryDelete)
	api.GET("/entries/:id/body/", a.handleBodyGet)
	api.PUT("/entries/:id/body/", a.handleBodySave)
	api.POST("/entries/:id/uploads/:folder/", a.handleUpload)
	api.PUT("/sidecar/", a.handleSidecarPut)
	api.POST("/sidecar/prune/", a.handleSidecarPrune)
}

// Logger returns the application logger. It is nil before Init.
func (a *App) Logger() *zap.Logger {
	return a.log
}

// Shutdown stops the HTTP server and flushes the logger.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Echo.Shutdown(ctx)
	if a.log != nil {
		_ = a.log.Sync()
	}
	return err
}

// EnvOr returns the value of the environment variable key, or fallback if empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
