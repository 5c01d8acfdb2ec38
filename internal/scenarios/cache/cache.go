// Package cache answers bbox queries from the redis query cache and reads
// through to the polygon store on a miss.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/cache/querycache"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/config"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/observability"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/router"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/logger"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/scenarios"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/store"
)

var ErrNoCache = errors.New("cache scenario needs a redis query cache")

type Engine struct {
	logger *slog.Logger
	store  store.Store
	cache  *querycache.Cache
	group  singleflight.Group
}

func init() {
	scenarios.Register("cache", newCache)
}

func newCache(_ config.Config, logger *slog.Logger, deps scenarios.Deps) (router.PolygonsHandler, error) {
	if deps.Cache == nil {
		return nil, ErrNoCache
	}
	return &Engine{logger: logger, store: deps.Store, cache: deps.Cache}, nil
}

func (e *Engine) HandlePolygons(ctx context.Context, w http.ResponseWriter, _ *http.Request, q model.Rect) {
	feats, hit, err := e.cache.Get(ctx, q)
	switch {
	case err != nil:
		observability.IncQueryCacheError()
		e.logger.WarnContext(ctx, "query cache read failed; serving from store", "bbox", q.String(), "err", err)
	case hit:
		observability.IncQueryCacheHit()
		router.WriteFeatures(w, feats)
		return
	default:
		observability.IncQueryCacheMiss()
	}

	feats, err = e.readThrough(logger.WithHitClass(ctx, "miss"), q, err == nil)
	if err != nil {
		e.logger.ErrorContext(ctx, "polygon query failed", "bbox", q.String(), "err", err)
		router.WriteError(w, http.StatusInternalServerError, "Error fetching polygons", err)
		return
	}
	router.WriteFeatures(w, feats)
}

// readThrough collapses concurrent misses for the same bbox into one store
// query and fills the cache when fill is set. A fill is skipped when an
// invalidation ran while the store was being queried.
func (e *Engine) readThrough(ctx context.Context, q model.Rect, fill bool) ([]model.Feature, error) {
	v, err, _ := e.group.Do(q.String(), func() (any, error) {
		var gen int64
		if fill {
			var err error
			if gen, err = e.cache.Generation(ctx); err != nil {
				observability.IncQueryCacheError()
				e.logger.WarnContext(ctx, "query cache generation read failed; not filling", "err", err)
				fill = false
			}
		}
		feats, err := e.store.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		if fill {
			stored, err := e.cache.PutAt(context.WithoutCancel(ctx), q, feats, gen)
			switch {
			case err != nil:
				observability.IncQueryCacheError()
				e.logger.WarnContext(ctx, "query cache write failed", "bbox", q.String(), "err", err)
			case !stored:
				e.logger.DebugContext(ctx, "query cache fill skipped after concurrent invalidation", "bbox", q.String())
			}
		}
		return feats, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.Feature), nil
}
