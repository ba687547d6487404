// Package server exposes the engine over HTTP: diff ingestion plus
// read-only projections of current truth and the commit chain. All
// writes still funnel through the engine's single-writer loop; the
// server never touches the store's write path directly.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dendritehq/dendrite/internal/engine"
	"github.com/dendritehq/dendrite/internal/store"
)

type Server struct {
	log      *slog.Logger
	eng      *engine.Engine
	st       *store.Store
	gatherer prometheus.Gatherer
}

func New(log *slog.Logger, eng *engine.Engine, st *store.Store, gatherer prometheus.Gatherer) *Server {
	if log == nil {
		log = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{log: log, eng: eng, st: st, gatherer: gatherer}
}

// Router builds the gin router with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	v1.POST("/diffs", s.handleSubmitDiff)
	v1.GET("/graph/current", s.handleGraphCurrent)
	v1.GET("/graph/changes", s.handleGraphChanges)
	v1.GET("/projects/:id", s.handleProject)
	v1.GET("/projects/:id/checklist", s.handleChecklist)

	return r
}

// Run serves HTTP until the context is cancelled, then shuts down
// gracefully with a short drain window.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
