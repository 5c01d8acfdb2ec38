package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/config"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/health"
	middleware "github.com/mohammed-shakir/polygon-viewport-cache/internal/core/middleware"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/router"
)

// Routes are the handlers behind the public endpoints. Ready and Metrics are
// optional.
type Routes struct {
	Polygons router.PolygonsHandler
	Ingest   router.IngestService
	Ready    health.ReadinessReporter
	Checks   map[string]health.Check
	Metrics  http.Handler
}

// NewHandler wires the chi router.
func NewHandler(cfg config.Config, logger *slog.Logger, rt Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	metricsHandler := rt.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(rt.Ready, rt.Checks))
	r.Method(http.MethodGet, "/metrics", metricsHandler)
	r.Get("/polygons", router.HandlePolygons(logger, cfg, rt.Polygons))
	r.Get("/status-styles", router.HandleStatusStyles())
	if rt.Ingest != nil {
		r.Post("/upload-polygon", router.HandleUpload(logger, cfg, rt.Ingest))
		r.Get("/generate-random-polygons", router.HandleGenerate(logger, rt.Ingest))
	}
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, rt Routes) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(cfg, logger, rt),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
