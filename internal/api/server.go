// Package api exposes a feed over the NuGet v3 HTTP protocol.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/git-pkgs/feed/client"
	"github.com/git-pkgs/feed/internal/metrics"
	"github.com/git-pkgs/feed/internal/service"
)

// Config holds HTTP server configuration.
type Config struct {
	Addr           string
	MaxUploadBytes int64
	Development    bool
	RateLimit      *RateLimitConfig // nil disables rate limiting
}

// Server is the feed HTTP server.
type Server struct {
	router  *gin.Engine
	http    *http.Server
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewServer builds the router for svc.
func NewServer(cfg Config, svc *service.Service, m *metrics.Metrics, logger *zap.Logger) *Server {
	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger))
	router.Use(metrics.Middleware(m))
	router.Use(CORS())
	if cfg.RateLimit != nil {
		router.Use(RateLimit(*cfg.RateLimit))
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst))
	}

	h := NewHandlers(svc, cfg.MaxUploadBytes)
	registerRoutes(router, h, m)

	return &Server{
		router:  router,
		logger:  logger,
		metrics: m,
		http: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
	}
}

func registerRoutes(r *gin.Engine, h *Handlers, m *metrics.Metrics) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(m.Handler()))

	r.GET(client.ServiceIndexPath, h.ServiceIndex)
	r.GET(client.PackageBasePath+":id/*rest", h.FlatContainer)
	r.GET(client.RegistrationsPath+":id/:leaf", h.Registration)
	r.GET(client.SearchPath, h.Search)
	r.GET(client.AutocompletePath, h.Autocomplete)
	r.GET("/v3/list", h.List)
	r.GET(client.DownloadsPath+":id/:version", h.Download)

	r.PUT(client.PublishPath, h.Publish)
	r.DELETE(client.PublishPath+"/:id/:version", h.Delete)
	r.DELETE(client.PublishPath+"/:id", h.Purge)
	r.POST(client.PublishPath+"/import", h.Import)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
