// Package worker provides the HTTP admin service for newsify.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/newsify/internal/clustering"
	gormdb "github.com/thebtf/newsify/internal/db/gorm"
	"github.com/thebtf/newsify/internal/scheduler"
	"github.com/thebtf/newsify/pkg/models"
)

// Service configuration constants
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultMaxBodyBytes bounds ingestion request bodies.
	DefaultMaxBodyBytes = 4 << 20

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout = 10 * time.Second
)

// DocumentStore is the document side of the store used by the HTTP API.
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, ref models.DocumentRef) (*models.Document, error)
	CountDocuments(ctx context.Context) (assigned, unassigned int64, err error)
}

// ClusterReader is the read-only cluster side of the store.
type ClusterReader interface {
	GetCluster(ctx context.Context, id string) (*models.Cluster, error)
	ListClusters(ctx context.Context, limit, offset int) ([]models.Cluster, error)
}

// RunTrigger starts clustering runs on demand and reports their status.
type RunTrigger interface {
	RunOnce(ctx context.Context) (*clustering.RunReport, error)
	Status() scheduler.Status
}

// HealthChecker reports database health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) *gormdb.HealthInfo
}

// Maintainer runs store housekeeping on demand.
type Maintainer interface {
	RunNow(ctx context.Context)
	Stats() map[string]any
}

// DocumentSummarizer writes summaries for long ingested documents.
type DocumentSummarizer interface {
	SummarizeDocument(ctx context.Context, doc models.Document) (string, error)
}

// Deps are the collaborators of the service. Runs, Maintenance and
// Summaries are optional.
type Deps struct {
	Documents   DocumentStore
	Clusters    ClusterReader
	Runs        RunTrigger
	Health      HealthChecker
	Maintenance Maintainer
	Summaries   DocumentSummarizer
}

// Options tunes the HTTP surface.
type Options struct {
	Version string
	// Token enables bearer token auth when non-empty.
	Token string
	// RequestsPerSecond is the per-client rate limit. Zero disables limiting.
	RequestsPerSecond float64
}

// Service is the HTTP admin service.
type Service struct {
	version   string
	deps      Deps
	router    *chi.Mux
	server    *http.Server
	auth      *TokenAuth
	limiter   *PerClientRateLimiter
	startTime time.Time

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates the service and its routes.
func NewService(deps Deps, opts Options) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		version:   opts.Version,
		deps:      deps,
		router:    chi.NewRouter(),
		auth:      NewTokenAuth(opts.Token),
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	if opts.RequestsPerSecond > 0 {
		svc.limiter = NewPerClientRateLimiter(opts.RequestsPerSecond, max(1, int(opts.RequestsPerSecond*2)))
	}

	svc.setupMiddleware()
	svc.setupRoutes()
	return svc
}

// Handler returns the root HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures HTTP middleware.
func (s *Service) setupMiddleware() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)
	s.router.Use(RequestID)
	s.router.Use(SecurityHeaders)
	s.router.Use(s.auth.Middleware)
	if s.limiter != nil {
		s.router.Use(PerClientRateLimitMiddleware(s.limiter))
	}
}

// setupRoutes configures HTTP routes.
func (s *Service) setupRoutes() {
	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(DefaultHTTPTimeout))

		r.Get("/health", s.handleHealth)
		r.Get("/api/version", s.handleVersion)
		r.Get("/api/stats", s.handleStats)

		r.With(RequireJSONContentType, MaxBodySize(DefaultMaxBodyBytes)).
			Post("/api/documents", s.handleSaveDocument)
		r.Get("/api/documents/{source}/{id}", s.handleGetDocument)

		r.Get("/api/clusters", s.handleListClusters)
		r.Get("/api/clusters/{id}", s.handleGetCluster)
	})

	// Runs are bounded by the service lifetime, not the request timeout.
	s.router.Post("/api/runs", s.handleTriggerRun)
	s.router.Get("/api/runs/last", s.handleLastRun)
	s.router.Post("/api/maintenance", s.handleRunMaintenance)
}

// Start begins serving on port in the background.
func (s *Service) Start(port int) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	log.Info().
		Int("port", port).
		Str("version", s.version).
		Bool("auth", s.auth.IsEnabled()).
		Msg("Worker HTTP server started")
	return nil
}

// Shutdown gracefully shuts down the service. In-flight runs are cancelled.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	var err error
	if s.server != nil {
		if err = s.server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}

	s.wg.Wait()
	log.Info().Msg("Worker service shutdown complete")
	return err
}
