package scenarios

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/cache/querycache"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/config"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/router"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/store"
)

// Deps are the shared backends a scenario may serve from. Cache is nil when
// redis is not configured.
type Deps struct {
	Store store.Store
	Cache *querycache.Cache
}

type Factory func(cfg config.Config, logger *slog.Logger, deps Deps) (router.PolygonsHandler, error)

var ErrNoStore = errors.New("scenario needs a polygon store")

var reg = map[string]Factory{}

func Register(name string, f Factory) {
	reg[name] = f
}

func New(name string, cfg config.Config, logger *slog.Logger, deps Deps) (router.PolygonsHandler, error) {
	if deps.Store == nil {
		return nil, ErrNoStore
	}
	if f, ok := reg[name]; ok {
		return f(cfg, logger, deps)
	}
	if f, ok := reg["baseline"]; ok {
		logger.Warn("unknown scenario; falling back to baseline", "scenario", name)
		return f(cfg, logger, deps)
	}
	return nil, fmt.Errorf("no factory for scenario %q and no baseline registered", name)
}
