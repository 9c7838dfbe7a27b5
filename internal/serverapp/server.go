package serverapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gofixpoint/fixpoint/internal/auth"
	"github.com/gofixpoint/fixpoint/internal/config"
	"github.com/gofixpoint/fixpoint/internal/dashboard"
	"github.com/gofixpoint/fixpoint/internal/httpmw"
	"github.com/gofixpoint/fixpoint/internal/live"
	"github.com/gofixpoint/fixpoint/internal/model"
	"github.com/gofixpoint/fixpoint/internal/task"
	"github.com/gofixpoint/fixpoint/internal/telemetry"
	"github.com/gofixpoint/fixpoint/internal/web"
	staticfiles "github.com/gofixpoint/fixpoint/static"
)

type Options struct {
	Config        *config.Config
	StaticDir     string
	UseDiskStatic bool
	Logger        *zap.Logger
	// Repo overrides the task storage selected by Config.Storage.
	Repo task.Repo
}

// App is the assembled server: HTTP routes plus the background work they
// depend on.
type App struct {
	Handler  http.Handler
	Repo     task.Repo
	Auth     *auth.Service
	Hub      *live.Hub
	Sessions *dashboard.Sessions
	Activity *telemetry.MemoryRepository

	cfg     *config.Config
	logger  *zap.Logger
	closers []func() error
}

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.Handler.ServeHTTP(w, r)
}

// OpenRepo opens the task storage named by cfg. The returned close function
// is never nil.
func OpenRepo(cfg config.StorageConfig) (task.Repo, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Driver {
	case config.DriverMemory:
		return task.NewMemoryRepo(), noop, nil
	case config.DriverFile:
		r, err := task.NewFileRepo(filepath.Join(cfg.DataDir, "tasks"))
		if err != nil {
			return nil, nil, err
		}
		return r, noop, nil
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, nil, err
		}
		r, err := task.OpenSQLRepo(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func authOptions(cfg *config.Config) (auth.Options, error) {
	sameSite, err := cfg.Auth.Cookie.SameSiteMode()
	if err != nil {
		return auth.Options{}, err
	}
	return auth.Options{
		CookieName:     cfg.Auth.Cookie.Name,
		CookiePath:     cfg.Auth.Cookie.Path,
		CookieDomain:   cfg.Auth.Cookie.Domain,
		CookieSameSite: sameSite,
		CookieSecure:   auth.SecureMode(cfg.Auth.Cookie.Secure),
		OTPTTL:         cfg.Auth.OTPTTL(),
		SessionTTL:     cfg.Auth.SessionTTL(),
		MaxOTPAttempts: cfg.Auth.MaxOTPAttempts,
	}, nil
}

func New(opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if strings.TrimSpace(opts.StaticDir) == "" {
		opts.StaticDir = "static"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	cfg := opts.Config
	app := &App{cfg: cfg, logger: opts.Logger}

	repo := opts.Repo
	if repo == nil {
		r, closeRepo, err := OpenRepo(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("open task storage: %w", err)
		}
		repo = r
		app.closers = append(app.closers, closeRepo)
	}
	app.Repo = repo

	authDir := ""
	if cfg.Storage.Driver != config.DriverMemory {
		authDir = filepath.Join(cfg.Storage.DataDir, "auth")
	}
	store, err := auth.NewStore(authDir)
	if err != nil {
		return nil, fmt.Errorf("open auth store: %w", err)
	}
	aopts, err := authOptions(cfg)
	if err != nil {
		return nil, err
	}
	app.Activity = telemetry.NewMemoryRepository(telemetry.DefaultCapacity)
	aopts.OnSessionEnd = func(id string) {
		app.Sessions.Drop(id)
		_ = app.Activity.RecordEvent(telemetry.EventSessionEnded, nil)
	}
	app.Auth = auth.NewService(store, opts.Logger.Named("auth"), aopts)
	logSecurityHints(opts.Logger, cfg)

	app.Hub = live.NewHub(opts.Logger.Named("live"))
	local := task.LocalClient{Repo: repo, Publisher: app.Hub}
	dashLogger := opts.Logger.Named("dashboard")
	app.Sessions = dashboard.NewSessions(func(string) *dashboard.Session {
		return dashboard.NewSession(dashboard.SessionOptions{
			Fetcher:          local,
			Updater:          local,
			PageSize:         cfg.Dashboard.PageSize,
			FetchTimeout:     cfg.Dashboard.FetchTimeout(),
			NoResultsMessage: cfg.Dashboard.NoResultsMessage,
			Logger:           dashLogger,
		})
	})
	// Updates made elsewhere patch every open dashboard in place.
	app.Hub.Subscribe(func(ev live.Event) {
		if ev.Type != live.EventTaskUpdated || ev.Task == nil {
			return
		}
		t := *ev.Task
		_ = app.Activity.RecordEvent(telemetry.EventTaskUpdated, telemetry.Metadata{
			"task_id":     string(t.ID),
			"workflow_id": t.WorkflowID,
			"status":      string(t.Status),
		})
		app.Sessions.Each(func(_ string, s *dashboard.Session) {
			s.Queries.ReplaceTask(t)
		})
	})

	r := chi.NewRouter()

	staticHandler := http.FileServer(http.FS(staticfiles.EmbeddedFS()))
	if opts.UseDiskStatic {
		staticHandler = http.FileServer(http.Dir(opts.StaticDir))
	}
	r.Handle("/static/*", http.StripPrefix("/static/", staticHandler))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"service": "fixpoint",
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		n, err := repo.Count(r.Context())
		if err != nil {
			opts.Logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"ok":    false,
				"error": "task storage unavailable",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"service": "fixpoint",
			"tasks":   model.NewTotalCount(n),
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	r.Route("/api/auth", auth.NewHandler(app.Auth).Register)

	taskHandler := task.NewHandler(repo, opts.Logger.Named("task"))
	taskHandler.SetPublisher(app.Hub)
	r.Route("/api/tasks", func(r chi.Router) {
		r.Use(app.Auth.RequireAPI)
		r.Get("/live", app.Hub.ServeHTTP)
		taskHandler.Register(r)
	})
	r.With(app.Auth.RequireAPI).Get("/api/stats", app.handleStats)

	web.NewHandler(web.Options{
		Auth:            app.Auth,
		Sessions:        app.Sessions,
		Tasks:           repo,
		ShowQueryStatus: cfg.Features.ShowListTasksQueryStatus,
		Logger:          opts.Logger.Named("web"),
	}).Register(r)
	r.Get("/", app.Auth.HandleAppRoute)

	app.Handler = httpmw.Chain(
		r,
		httpmw.WithRequestID,
		httpmw.WithAccessLog(opts.Logger),
		httpmw.WithRecover(opts.Logger),
	)
	return app, nil
}

// handleStats summarizes review activity over the last ?hours (default 24).
func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "hours must be a positive integer"})
			return
		}
		hours = n
	}
	now := time.Now()
	since := now.Add(-time.Duration(hours) * time.Hour)
	events, err := a.Activity.GetEvents(since, nil)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, telemetry.CalculateStats(events, since, now))
}

// Run drives the live hub and the session sweeper until ctx ends.
func (a *App) Run(ctx context.Context) {
	go a.Hub.Run(ctx)

	every := time.Duration(a.cfg.Server.SessionSweepMinutes) * time.Minute
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := a.Auth.PurgeExpired(now); err != nil {
				a.logger.Warn("session sweep failed", zap.Error(err))
			}
		}
	}
}

func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func UseDiskStaticByEnv() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("FIXPOINT_DEV_STATIC"))) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func logSecurityHints(logger *zap.Logger, cfg *config.Config) {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("FIXPOINT_ENV")))
	if env != "production" && env != "prod" {
		return
	}
	if cfg.Auth.Cookie.Secure != string(auth.SecureAlways) {
		logger.Warn("production without secure cookies forced",
			zap.String("env", env),
			zap.String("cookie_secure", cfg.Auth.Cookie.Secure),
		)
	}
	if strings.EqualFold(cfg.Auth.Cookie.SameSite, "none") {
		logger.Warn("session cookie sent cross-site", zap.String("env", env))
	}
}
