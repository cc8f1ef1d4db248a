// Package api serves the daemon's HTTP surface: task and watcher management,
// settings, file browsing, the progress WebSocket, health, and metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"subtrans/internal/bus"
	"subtrans/internal/logging"
	"subtrans/internal/media"
	"subtrans/internal/metrics"
	"subtrans/internal/queue"
	"subtrans/internal/scheduler"
	"subtrans/internal/services"
	"subtrans/internal/settings"
	"subtrans/internal/watcher"
)

// Options carries the server's collaborators.
type Options struct {
	Store     *queue.Store
	Settings  *settings.Service
	Scheduler *scheduler.Scheduler
	Watchers  *watcher.Supervisor
	Toolbox   *media.Toolbox
	Bus       *bus.Bus
	Logger    *slog.Logger
	Version   string
	// Health is consulted by /healthz; nil means store-only checking.
	Health func(ctx context.Context) error
}

// Server holds handler state. Build with New, mount with Router.
type Server struct {
	store     *queue.Store
	settings  *settings.Service
	scheduler *scheduler.Scheduler
	watchers  *watcher.Supervisor
	toolbox   *media.Toolbox
	bus       *bus.Bus
	logger    *slog.Logger
	version   string
	health    func(ctx context.Context) error
	hub       *hub
	startedAt time.Time
}

// New builds a Server and starts its WebSocket hub.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "api")
	health := opts.Health
	if health == nil {
		health = opts.Store.CheckHealth
	}
	s := &Server{
		store:     opts.Store,
		settings:  opts.Settings,
		scheduler: opts.Scheduler,
		watchers:  opts.Watchers,
		toolbox:   opts.Toolbox,
		bus:       opts.Bus,
		logger:    logger,
		version:   opts.Version,
		health:    health,
		startedAt: time.Now(),
	}
	s.hub = newHub(s.bus, logger)
	go s.hub.run()
	return s
}

// Close stops the WebSocket hub and disconnects its clients.
func (s *Server) Close() {
	s.hub.close()
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/ws/progress", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/info", s.handleInfo)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Get("/stats", s.handleTaskStats)
			r.Post("/directory", s.handleCreateDirectory)
			r.Post("/pause-all", s.handlePauseAll)
			r.Post("/pause-selected", s.handlePauseSelected)
			r.Delete("/delete-all", s.handleDeleteAll)
			r.Post("/delete-selected", s.handleDeleteSelected)
			r.Get("/{id}", s.handleGetTask)
			r.Delete("/{id}", s.handleDeleteTask)
			r.Post("/{id}/retry", s.handleRetryTask)
			r.Post("/{id}/pause", s.handlePauseTask)
			r.Post("/{id}/resume", s.handleResumeTask)
		})

		r.Route("/files", func(r chi.Router) {
			r.Get("/browse", s.handleBrowse)
			r.Get("/subtitle-tracks", s.handleSubtitleTracks)
		})

		r.Route("/watchers", func(r chi.Router) {
			r.Get("/", s.handleListWatchers)
			r.Post("/", s.handleCreateWatcher)
			r.Delete("/{id}", s.handleDeleteWatcher)
			r.Post("/{id}/toggle", s.handleToggleWatcher)
			r.Post("/{id}/scan", s.handleScanWatcher)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", s.handleGetSettings)
			r.Put("/", s.handlePutSettings)
			r.Get("/llm-providers", s.handleLLMProviders)
			r.Get("/languages", s.handleLanguages)
			r.Post("/test-llm", s.handleTestLLM)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":           "subtrans",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

// logRequests writes one access line per request. The correlation id set by
// requestID rides in on the request context.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.WithContext(r.Context(), s.logger).Debug("request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("elapsed", time.Since(start)))
	})
}

// requestID tags each request with a correlation id for log stitching.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}
