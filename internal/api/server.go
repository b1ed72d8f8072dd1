// Package api is the HTTP surface of the value store. Handlers authorize through the
// policy gate, then call the vault engine with the resulting grant.
package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/org/envvault/internal/audit"
	"github.com/org/envvault/internal/auth"
	"github.com/org/envvault/internal/pagination"
	"github.com/org/envvault/internal/policy"
	"github.com/org/envvault/internal/rotation"
	"github.com/org/envvault/internal/storage"
	"github.com/org/envvault/internal/vault"
	"github.com/org/envvault/pkg/models"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
	RateLimit   float64
	RateBurst   int
	Pagination  pagination.Config
}

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Store     storage.Backend
	Tokens    *auth.TokenService
	Gate      *policy.Engine
	Vault     *vault.Engine
	Audit     *audit.Logger
	Scheduler *rotation.Scheduler
}

// Server is the API server.
type Server struct {
	store     storage.Backend
	tokens    *auth.TokenService
	gate      *policy.Engine
	vault     *vault.Engine
	audit     *audit.Logger
	scheduler *rotation.Scheduler
	cfg       Config
	now       func() time.Time
	httpSrv   *http.Server
}

// NewServer creates a Server over already-constructed collaborators.
func NewServer(deps Deps, cfg Config) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 200
	}
	if cfg.Pagination.MaxLimit <= 0 {
		cfg.Pagination = pagination.DefaultConfig()
	}
	s := &Server{
		store:     deps.Store,
		tokens:    deps.Tokens,
		gate:      deps.Gate,
		vault:     deps.Vault,
		audit:     deps.Audit,
		scheduler: deps.Scheduler,
		cfg:       cfg,
		now:       time.Now,
	}
	s.httpSrv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.BuildRouter(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(newRateLimiter(s.cfg.RateLimit, s.cfg.RateBurst).middleware)

	r.Handle("/metrics", MetricsHandler())
	r.Get("/v1/sys/health", s.HealthHandler)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.tokens))

		r.Get("/v1/sys/audit", s.AuditLogHandler)
		r.Get("/v1/sys/rotation/due", s.RotationDueHandler)

		r.Get("/v1/sys/policies", s.PolicyListHandler)
		r.Get("/v1/sys/policies/{name}", s.PolicyReadHandler)
		r.Put("/v1/sys/policies/{name}", s.PolicyWriteHandler)
		r.Delete("/v1/sys/policies/{name}", s.PolicyDeleteHandler)

		r.Post("/v1/auth/tokens", s.TokenCreateHandler)
		r.Get("/v1/auth/tokens/self", s.TokenLookupSelfHandler)
		r.Delete("/v1/auth/tokens/{id}", s.TokenRevokeHandler)

		r.Post("/v1/workspaces", s.WorkspaceCreateHandler)
		r.Route("/v1/workspaces/{workspace}/projects", func(r chi.Router) {
			r.Post("/", s.ProjectCreateHandler)
			r.Route("/{project}", func(r chi.Router) {
				r.Get("/environments", s.EnvironmentListHandler)
				r.Post("/environments", s.EnvironmentCreateHandler)
				for _, kind := range []models.Kind{models.KindSecret, models.KindVariable} {
					r.Route("/"+kind.Plural(), s.entityRoutes(kind))
				}
			})
		})
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion:       tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{tls.CurveP256, tls.X25519},
		}
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
