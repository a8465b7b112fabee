// Package statushttp serves the read-only operator API: engine metrics,
// order lookups, the current due set and the run log.
package statushttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"drip/internal/executor"
	"drip/internal/ledger"
	"drip/internal/logger"
)

// Server wraps a gin engine listening on a fixed address.
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig describes the status server dependencies.
type ServerConfig struct {
	Addr            string
	Reader          ledger.Reader
	Metrics         *executor.Metrics
	Runs            RunLogReader
	DisplayDecimals int32
}

// NewServer builds the status server and mounts all routes.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Reader == nil || cfg.Metrics == nil {
		return nil, errors.New("status server requires a ledger reader and metrics")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8087"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	statusRouter := NewRouter(cfg.Reader, cfg.Metrics, cfg.Runs, cfg.DisplayDecimals)
	statusRouter.Register(router.Group("/api"))

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Handler exposes the underlying handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		c.Next()
		logger.Debugf("HTTP %s %s status=%d dur=%s", method, path, c.Writer.Status(), time.Since(start))
	}
}
