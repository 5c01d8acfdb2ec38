// Package store defines the spatially indexed polygon store and a registry of
// its backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/config"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/observability"
)

// Store answers bounding-box intersection queries. A feature whose bbox only
// touches the query rectangle is included.
type Store interface {
	Query(ctx context.Context, r model.Rect) ([]model.Feature, error)
	// Upsert inserts or replaces features by id and returns how many were written.
	Upsert(ctx context.Context, feats []model.Feature) (int, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

var ErrInvalidFeature = errors.New("feature needs an id and a valid bbox")

// Validate checks the fields every backend relies on.
func Validate(f model.Feature) error {
	if f.ID == "" || f.Geometry == nil || !f.BBox.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFeature, f.ID)
	}
	return nil
}

// Stamp sets UpdatedAt to now and CreatedAt too when it is unset.
func Stamp(f *model.Feature, now time.Time) {
	now = now.UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
}

type Factory func(ctx context.Context, cfg config.StoreCfg, logger *slog.Logger) (Store, error)

var reg = map[string]Factory{}

func Register(name string, f Factory) {
	reg[name] = f
}

// Drivers lists registered backend names.
func Drivers() []string {
	out := make([]string, 0, len(reg))
	for k := range reg {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open builds the backend named by cfg.Driver and wraps it with metrics.
func Open(ctx context.Context, cfg config.StoreCfg, logger *slog.Logger) (Store, error) {
	f, ok := reg[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (registered: %v)", cfg.Driver, Drivers())
	}
	s, err := f(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	return Instrument(s, cfg.Driver), nil
}

type instrumented struct {
	Store
	driver string
}

// Instrument records query latency and result sizes for s.
func Instrument(s Store, driver string) Store {
	return &instrumented{Store: s, driver: driver}
}

func (i *instrumented) Query(ctx context.Context, r model.Rect) ([]model.Feature, error) {
	start := time.Now()
	feats, err := i.Store.Query(ctx, r)
	observability.ObserveStoreQuery(i.driver, err, time.Since(start).Seconds(), len(feats))
	return feats, err
}

// Pinger is implemented by backends with a cheaper liveness check than Count.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks that s can serve queries.
func Ping(ctx context.Context, s Store) error {
	if p, ok := s.(Pinger); ok {
		return p.Ping(ctx)
	}
	_, err := s.Count(ctx)
	return err
}

func (i *instrumented) Ping(ctx context.Context) error { return Ping(ctx, i.Store) }
