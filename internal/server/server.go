package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/evanofslack/dns-prefix-sync/internal/metrics"
	"github.com/evanofslack/dns-prefix-sync/internal/reconcile"
)

const trigger = "http"

// Server exposes the manual run trigger alongside metrics and health checks.
type Server struct {
	engine  reconcile.Engine
	secret  string
	metrics *metrics.Metrics
	router  *gin.Engine
	http    *http.Server
	now     func() time.Time
}

type runResponse struct {
	Success bool   `json:"success"`
	Time    string `json:"time"`
	reconcile.Results
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func New(addr, secret string, engine reconcile.Engine, metrics *metrics.Metrics) *Server {
	s := &Server{
		engine:  engine,
		secret:  secret,
		metrics: metrics,
		now:     time.Now,
	}

	router := gin.New()
	router.Use(accessLog(), gin.CustomRecovery(s.recovered))
	for _, path := range []string{"/", "/run"} {
		router.GET(path, s.run)
		router.POST(path, s.run)
	}
	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.router = router
	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("Starting http server", "address", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) authorized(c *gin.Context) bool {
	if s.secret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(c.Query("secret")), []byte(s.secret)) == 1
}

func (s *Server) run(c *gin.Context) {
	if !s.authorized(c) {
		slog.Warn("Rejected run trigger with bad secret", "client", c.ClientIP())
		s.metrics.IncHTTPTrigger(http.StatusUnauthorized)
		c.String(http.StatusUnauthorized, "Unauthorized")
		return
	}

	// a dropped client connection must not abandon a run half way
	ctx := context.WithoutCancel(c.Request.Context())
	results, err := reconcile.Observe(ctx, s.engine, s.metrics, trigger)
	if err != nil {
		slog.Error("Triggered run failed", "error", err)
		s.metrics.IncHTTPTrigger(http.StatusInternalServerError)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	s.metrics.IncHTTPTrigger(http.StatusOK)
	c.IndentedJSON(http.StatusOK, runResponse{
		Success: true,
		Time:    s.now().UTC().Format(time.RFC3339),
		Results: results,
	})
}

func (s *Server) recovered(c *gin.Context, recovered any) {
	slog.Error("Recovered from panic in http handler", "path", c.Request.URL.Path, "panic", recovered)
	s.metrics.IncHTTPTrigger(http.StatusInternalServerError)
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: fmt.Sprint(recovered)})
}

// accessLog writes one slog line per request. The query string is left
// out since it may carry the secret.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client", c.ClientIP())
	}
}
