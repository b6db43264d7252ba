// Package server exposes the patch, scoring and deploy operations over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/spigell/livepatch/internal/events"
	"github.com/spigell/livepatch/internal/freestyle"
	"github.com/spigell/livepatch/internal/livepatch"
	"github.com/spigell/livepatch/internal/scoring"
	"github.com/spigell/livepatch/internal/storage/store"
)

const shutdownTimeout = 10 * time.Second

// Patcher applies an update to a workspace file.
type Patcher interface {
	Apply(ctx context.Context, target, instructions string) (*livepatch.Plan, error)
}

// Store is the persistence the handlers need.
type Store interface {
	GetSystemState(ctx context.Context) (store.SystemState, error)
	CreateCandidate(ctx context.Context, analysis scoring.Analysis, resumeText string) (store.Candidate, error)
	GetCandidate(ctx context.Context, id string) (store.Candidate, error)
}

// Analyzer scores resume text.
type Analyzer interface {
	Analyze(ctx context.Context, resumeText string) (*scoring.Analysis, error)
}

// Deployer starts deployments and reports on them.
type Deployer interface {
	Trigger(ctx context.Context) (*freestyle.Deploy, error)
	Status(ctx context.Context, id string) (*freestyle.DeployStatus, error)
}

// Options wires the server. Nil collaborators make their routes answer 503.
type Options struct {
	Patcher  Patcher
	Store    Store
	Analyzer Analyzer
	Deployer Deployer
	Console  *events.Console
	Sink     events.Sink
	Logger   *zap.Logger

	// Integrations maps an integration name to whether its credentials are set.
	Integrations map[string]bool
}

type Server struct {
	opts   Options
	sink   events.Sink
	logger *zap.Logger
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		opts:   opts,
		sink:   events.OrNop(opts.Sink),
		logger: logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/applyCodeUpdate", s.applyCodeUpdate)
		r.Get("/system-state", s.systemState)
		r.Get("/diff", s.diff)
		r.Post("/analyzeResume", s.analyzeResume)
		r.Get("/candidates/{id}", s.candidate)
		r.Post("/triggerDeploy", s.triggerDeploy)
		r.Get("/deployStatus", s.deployStatus)
		r.Get("/status", s.status)
		r.Get("/console", s.console)
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
