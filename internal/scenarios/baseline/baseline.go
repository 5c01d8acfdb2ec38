// Package baseline answers bbox queries straight from the polygon store.
package baseline

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/config"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/router"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/scenarios"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/store"
)

type Engine struct {
	logger *slog.Logger
	store  store.Store
}

func init() {
	scenarios.Register("baseline", newBaseline)
}

func newBaseline(_ config.Config, logger *slog.Logger, deps scenarios.Deps) (router.PolygonsHandler, error) {
	return &Engine{logger: logger, store: deps.Store}, nil
}

func (e *Engine) HandlePolygons(ctx context.Context, w http.ResponseWriter, _ *http.Request, q model.Rect) {
	feats, err := e.store.Query(ctx, q)
	if err != nil {
		e.logger.ErrorContext(ctx, "polygon query failed", "bbox", q.String(), "err", err)
		router.WriteError(w, http.StatusInternalServerError, "Error fetching polygons", err)
		return
	}
	e.logger.DebugContext(ctx, "polygon query", "bbox", q.String(), "features", len(feats))
	router.WriteFeatures(w, feats)
}
