// Package api exposes job management as JSON over a loopback HTTP listener.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"cronkeep/internal/job"
	"cronkeep/internal/manager"
	logx "cronkeep/pkg/logx"
)

const DefaultAddr = "127.0.0.1:7070"

type Config struct {
	Addr  string
	Pprof bool
}

// Manager is the lifecycle surface served over HTTP.
type Manager interface {
	List() []job.Job
	Get(id string) (job.Job, bool)
	Add(ctx context.Context, j job.Job) manager.OperationResult
	Update(ctx context.Context, id string, p job.Patch) manager.OperationResult
	Delete(ctx context.Context, id string) manager.OperationResult
	Toggle(ctx context.Context, id string) manager.OperationResult
	Duplicate(ctx context.Context, id string) manager.OperationResult
	OpenTerminal(ctx context.Context, id string) manager.OperationResult
	TestRun(ctx context.Context, j job.Job) (manager.TestRunResult, error)
	Logs(ctx context.Context, jobID string) ([]job.ExecutionLog, error)
	PruneLogs(ctx context.Context, jobID string) manager.OperationResult
	ExportCrontab(ctx context.Context) manager.OperationResult
	ImportCrontab(ctx context.Context) manager.OperationResult
	AutoSync() bool
	SetAutoSync(ctx context.Context, on bool) manager.OperationResult
	Sounds() []string
	Reconcile(ctx context.Context) manager.OperationResult
}

type Options struct {
	Metrics http.Handler
	// Health adds daemon state to /health.
	Health func() any
	Log    logx.Logger
}

type Server struct {
	cfg     Config
	mgr     Manager
	metrics http.Handler
	health  func() any
	log     logx.Logger

	mu   sync.Mutex
	addr string
}

func New(cfg Config, mgr Manager, opt Options) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, mgr: mgr, metrics: opt.Metrics, health: opt.Health, log: log}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/health", s.handleHealth())
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	if s.cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs())
			r.Post("/", s.handleAddJob())
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetJob())
				r.Patch("/", s.handleUpdateJob())
				r.Delete("/", s.handleDeleteJob())
				r.Post("/toggle", s.handleJobOp(s.mgr.Toggle))
				r.Post("/duplicate", s.handleJobOp(s.mgr.Duplicate))
				r.Post("/terminal", s.handleJobOp(s.mgr.OpenTerminal))
			})
		})
		r.Post("/test-run", s.handleTestRun())
		r.Get("/logs", s.handleLogs())
		r.Delete("/logs", s.handlePruneLogs())
		r.Route("/crontab", func(r chi.Router) {
			r.Post("/export", s.handleOp(s.mgr.ExportCrontab))
			r.Post("/import", s.handleOp(s.mgr.ImportCrontab))
			r.Get("/autosync", s.handleGetAutoSync())
			r.Put("/autosync", s.handleSetAutoSync())
		})
		r.Get("/sounds", s.handleSounds())
		r.Post("/reconcile", s.handleOp(s.mgr.Reconcile))
	})
	return r
}

// Serve listens on the configured address until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("api listening", logx.String("addr", s.Addr()), logx.Bool("pprof", s.cfg.Pprof))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("api shutdown error", logx.Err(err))
	}
	s.log.Info("api stopped")
	return nil
}

// Addr reports the listen address once Serve is running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)))
	})
}
