// Package api exposes the scrape, enrichment and credit operations over HTTP.
// Handlers only translate requests; every decision lives in the use cases.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"TenderScanner/internal/config"
)

const shutdownTimeout = 10 * time.Second

// NewRouter builds the gin engine with logging and recovery middleware and
// all routes registered. gatherer may be nil to skip /metrics.
func NewRouter(h *Handler, gatherer prometheus.Gatherer, log *slog.Logger) *gin.Engine {
	if log == nil {
		log = slog.Default()
	}

	router := gin.New()
	router.Use(recoveryMiddleware(log))
	router.Use(loggerMiddleware(log))

	router.GET("/health", h.Health)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	v1.POST("/scrape", h.StartScrape)
	v1.POST("/scrape/:session/stop", h.StopSession)
	v1.GET("/sessions/:session/logs", h.SessionLogs)

	v1.POST("/enrich", h.EnrichBatch)
	v1.POST("/enrich/:id", h.EnrichOne)

	v1.GET("/credits", h.Credits)
	v1.GET("/credits/jobs", h.ListJobs)
	v1.POST("/credits/jobs", h.EnqueueJob)
	v1.POST("/credits/jobs/retry", h.RetryJobs)
	v1.DELETE("/credits/jobs/:id", h.RemoveJob)

	v1.GET("/tenders", h.ListTenders)
	v1.GET("/tenders/count", h.CountTenders)
	v1.GET("/tenders/:id", h.GetTender)

	v1.GET("/sources", h.ListSources)

	return router
}

// loggerMiddleware logs one line per request once the handler chain is done.
func loggerMiddleware(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if query != "" {
			attrs = append(attrs, "query", query)
		}

		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
			log.Error("http request with errors", attrs...)
			return
		}
		if strings.HasPrefix(path, "/health") || path == "/metrics" {
			log.Debug("http request", attrs...)
			return
		}
		log.Info("http request", attrs...)
	}
}

func recoveryMiddleware(log *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error("http handler panicked", "path", c.Request.URL.Path, "panic", recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}

// Server owns the HTTP listener lifecycle.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewServer wraps handler in an http.Server configured from cfg.
func NewServer(cfg config.HTTPConfig, handler http.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		logger: log.With("component", "http"),
	}
}

// Run serves until ctx is cancelled, then shuts the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return <-errCh
}
