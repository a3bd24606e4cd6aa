package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/vigil/pkg/config"
	"mercator-hq/vigil/pkg/detection"
	"mercator-hq/vigil/pkg/detection/retention"
	"mercator-hq/vigil/pkg/server/handlers"
	"mercator-hq/vigil/pkg/server/middleware"
	"mercator-hq/vigil/pkg/telemetry/health"
	"mercator-hq/vigil/pkg/telemetry/metrics"
	"mercator-hq/vigil/pkg/telemetry/tracing"
)

// Dependencies are the components the server exposes. Repository and
// Sweeper are required; the rest are optional.
type Dependencies struct {
	Repository detection.Repository
	Sweeper    *retention.Sweeper
	Scheduler  *retention.Scheduler
	Metrics    *metrics.Collector
	Tracer     *tracing.Tracer
	Health     *health.Checker
	Version    health.VersionInfo
	Logger     *slog.Logger
}

// Server is the Vigil HTTP API server.
type Server struct {
	config     *config.Config
	deps       Dependencies
	handler    http.Handler
	cache      *handlers.RecentCache
	logger     *slog.Logger
	httpServer *http.Server

	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// NewServer creates a server for cfg. The handler chain is built once here.
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		logger: logger.With("component", "server"),
	}
	s.handler = s.setupRoutes()
	return s
}

// Start listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Server.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		ln.Close()
		return errors.New("server is already running")
	}
	s.isRunning = true
	s.httpServer = &http.Server{
		Handler:        s.handler,
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		IdleTimeout:    s.config.Server.IdleTimeout,
		MaxHeaderBytes: s.config.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
		BaseContext:    func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting API server", "address", ln.Addr().String())

		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}
}

// Shutdown gracefully shuts down the server, waiting at most the configured
// shutdown timeout for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.Server.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("API server stopped")
	})

	return shutdownErr
}

// setupRoutes configures HTTP routes and the middleware chain.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	var cacheRecorder handlers.CacheRecorder
	var requestRecorder middleware.RequestRecorder
	if s.deps.Metrics != nil {
		cacheRecorder = s.deps.Metrics
		requestRecorder = s.deps.Metrics
	}

	if s.config.Cache.Enabled {
		s.cache = handlers.NewRecentCache(s.config.Cache.RecentTTL, s.config.Cache.CleanupInterval, cacheRecorder)
		if s.deps.Scheduler != nil {
			s.deps.Scheduler.OnRunComplete(func(summary *retention.RunSummary) {
				if summary.Evicted > 0 {
					s.cache.Flush()
				}
			})
		}
	}

	handlers.New(handlers.Options{
		Repository:    s.deps.Repository,
		Sweeper:       s.deps.Sweeper,
		Scheduler:     s.deps.Scheduler,
		Cache:         s.cache,
		DefaultWindow: s.config.Retention.WindowSize,
		MaxBodyBytes:  s.config.Server.MaxBodyBytes,
		Logger:        s.logger,
	}).Register(mux)

	healthCfg := s.config.Telemetry.Health
	if healthCfg.Enabled {
		checker := s.deps.Health
		if checker == nil {
			checker = health.New(healthCfg.CheckTimeout)
		}
		checker.Register(mux, health.Paths{
			Liveness:  healthCfg.LivenessPath,
			Readiness: healthCfg.ReadinessPath,
			Version:   healthCfg.VersionPath,
		}, s.deps.Version)
	}

	if s.config.Telemetry.Metrics.Enabled && s.deps.Metrics != nil {
		mux.Handle("GET "+s.config.Telemetry.Metrics.Path, s.deps.Metrics.Handler())
	}

	var tracer trace.Tracer
	if s.deps.Tracer != nil {
		tracer = s.deps.Tracer.Tracer(tracing.InstrumentationName + "/http")
	}

	var handler http.Handler = mux
	handler = middleware.TelemetryMiddleware(tracer, requestRecorder)(handler)
	handler = middleware.CORSMiddleware(&s.config.Server.CORS)(handler)
	handler = middleware.LoggingMiddleware(s.logger)(handler)
	handler = middleware.RequestIDMiddleware(handler)
	handler = middleware.RecoveryMiddleware(handler)

	return handler
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Cache returns the recent results cache, or nil when caching is disabled.
func (s *Server) Cache() *handlers.RecentCache {
	return s.cache
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
