// Package server assembles the HTTP application: storage, services,
// handlers and middleware, all mounted on one chi router.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/pattern-playground/internal/apperror"
	"github.com/sakif/pattern-playground/internal/auth"
	"github.com/sakif/pattern-playground/internal/config"
	"github.com/sakif/pattern-playground/internal/handler"
	"github.com/sakif/pattern-playground/internal/metrics"
	"github.com/sakif/pattern-playground/internal/middleware"
	"github.com/sakif/pattern-playground/internal/pattern"
	"github.com/sakif/pattern-playground/internal/playground"
	sqliteRepo "github.com/sakif/pattern-playground/internal/repository/sqlite"
	"github.com/sakif/pattern-playground/internal/sandbox"
	"github.com/sakif/pattern-playground/internal/service"
)

// Server owns the router and everything with a lifecycle behind it.
type Server struct {
	router  *chi.Mux
	cfg     *config.Config
	backend sandbox.Backend
	metrics *metrics.Metrics
	logger  *slog.Logger

	db          *sqliteRepo.DB // nil when DB_PATH is empty
	tokens      *auth.TokenService
	limiter     *middleware.RateLimiter
	stopSweeper chan struct{}
}

// New opens the database, builds the services and mounts every route. The
// caller keeps ownership of backend; Close releases the rest.
func New(cfg *config.Config, backend sandbox.Backend, m *metrics.Metrics, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router:      chi.NewRouter(),
		cfg:         cfg,
		backend:     backend,
		metrics:     m,
		logger:      logger,
		stopSweeper: make(chan struct{}),
	}

	if path := cfg.Server.DBPath; path != "" {
		if path != sqliteRepo.MemoryPath {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := sqliteRepo.New(path)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		s.db = db
	} else {
		logger.Warn("DB_PATH is empty: snippets and sign-in are disabled")
	}

	if secret := cfg.Auth.JWTSecret; secret != "" && s.db != nil {
		tokens, err := auth.NewTokenService(secret, 0)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating token service: %w", err)
		}
		s.tokens = tokens
	} else if secret == "" {
		logger.Warn("JWT_SECRET not set: authentication is disabled")
	}

	if cfg.RateLimit.Enabled {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, logger)
		go s.limiter.Run(time.Minute, s.stopSweeper)
	}

	if err := s.setupRoutes(); err != nil {
		s.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

func (s *Server) setupRoutes() error {
	catalog, err := pattern.Builtin()
	if err != nil {
		return fmt.Errorf("loading pattern catalog: %w", err)
	}

	// MIDDLEWARE ORDER:
	// RequestID first so every later log line can carry it; RealIP before
	// the rate limiter so it keys on the client, not the proxy; Recoverer
	// innermost of the globals so a panicking handler still gets logged.
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger, s.metrics))
	s.router.Use(chimiddleware.Recoverer)

	sessionCfg := playground.SessionConfig{
		Delays: playground.Delays{
			Settle:   s.cfg.Playground.Settle,
			Cooldown: s.cfg.Playground.Cooldown,
			Drain:    s.cfg.Playground.Drain,
		},
		Grace:           s.cfg.Sandbox.Grace,
		SandboxObserver: s.metrics,
		RelayObserver:   s.metrics,
		CycleObserver:   s.metrics,
	}
	compareSvc := service.NewCompareService(s.backend, catalog, service.CompareConfig{
		MaxSessions:   s.cfg.Server.MaxSessions,
		MaxCodeLength: s.cfg.Server.MaxCodeLength,
		Session:       sessionCfg,
	}, s.logger)

	compareHandler := handler.NewCompareHandler(compareSvc, s.logger)
	sessionHandler := handler.NewSessionHandler(compareSvc, s.cfg.Server.AllowedOrigins, s.metrics.WSConnections, s.logger)
	patternHandler := handler.NewPatternHandler(catalog)

	var pinger handler.Pinger
	if s.db != nil {
		pinger = s.db
	}
	healthHandler := handler.NewHealthHandler(s.backend.Name(), pinger, s.logger)

	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())

	// Without tokens every request is anonymous.
	optionalAuth := func(next http.Handler) http.Handler { return next }
	requireAuth := func(http.Handler) http.Handler { return unavailable("sign-in") }
	if s.tokens != nil {
		optionalAuth = auth.OptionalAuth(s.tokens)
		requireAuth = auth.RequireAuth(s.tokens)
	}
	limited := func(next http.Handler) http.Handler { return next }
	if s.limiter != nil {
		limited = s.limiter.Middleware
	}

	var authHandler *handler.AuthHandler
	if s.tokens != nil && s.cfg.Auth.GitHubClientID != "" {
		provider := auth.NewGitHubProvider(
			s.cfg.Auth.GitHubClientID,
			s.cfg.Auth.GitHubClientSecret,
			s.cfg.Auth.CallbackURL(s.cfg.Server.Port),
		)
		authService := service.NewAuthService(s.db, s.tokens, s.logger)
		authHandler = handler.NewAuthHandler(provider, authService, s.cfg.Auth.SecureCookies, s.logger)

		s.router.Route("/auth", func(r chi.Router) {
			r.Get("/github/login", authHandler.HandleGitHubLogin)
			r.Get("/github/callback", authHandler.HandleGitHubCallback)
			r.Post("/logout", authHandler.HandleLogout)
		})
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(optionalAuth)

		if authHandler != nil {
			r.With(requireAuth).Get("/me", authHandler.HandleMe)
		}

		r.Get("/patterns", patternHandler.HandleList)
		r.Get("/patterns/{id}", patternHandler.HandleGet)

		r.With(limited).Post("/compare", compareHandler.HandleCompare)
		r.With(limited).Get("/sessions/ws", sessionHandler.HandleSession)

		if s.db == nil {
			r.Handle("/snippets", unavailable("snippet storage"))
			r.Handle("/snippets/*", unavailable("snippet storage"))
			return
		}

		snippetSvc := service.NewSnippetService(s.db, catalog, s.cfg.Server.MaxCodeLength, s.logger)
		snippetHandler := handler.NewSnippetHandler(snippetSvc, compareSvc, s.logger)

		r.Get("/snippets", snippetHandler.HandleList)
		r.Get("/snippets/{id}", snippetHandler.HandleGetByID)
		r.With(limited).Post("/snippets/{id}/run", snippetHandler.HandleRun)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/snippets", snippetHandler.HandleCreate)
			r.Put("/snippets/{id}", snippetHandler.HandleUpdate)
			r.Delete("/snippets/{id}", snippetHandler.HandleDelete)
		})
	})

	return nil
}

// unavailable answers 503 for a feature whose dependency is not configured.
func unavailable(what string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.WriteError(w, apperror.Unavailable(what))
	})
}

// Handler exposes the router for tests and for embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database and stops background work. It does not
// close the sandbox backend, which the caller owns.
func (s *Server) Close() error {
	select {
	case <-s.stopSweeper:
	default:
		close(s.stopSweeper)
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Start serves until SIGINT/SIGTERM, then drains in-flight requests.
//
// GRACEFUL SHUTDOWN:
// srv.Shutdown stops accepting new connections and waits (up to the
// timeout) for active requests to finish. A comparison in flight gets to
// complete its cycle instead of being cut off mid-run.
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.cfg.Server.Port)),
			slog.String("backend", s.backend.Name()),
			slog.String("database", s.cfg.Server.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
