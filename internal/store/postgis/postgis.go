// Package postgis stores polygons in PostgreSQL with a GIST-indexed bbox
// column.
package postgis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/config"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/store"
)

func init() {
	store.Register("postgis", func(ctx context.Context, cfg config.StoreCfg, logger *slog.Logger) (store.Store, error) {
		s, err := Open(ctx, cfg.PostGISDSN, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis`,
	`CREATE TABLE IF NOT EXISTS polygons (
		id         TEXT PRIMARY KEY,
		status     INTEGER NOT NULL,
		geometry   JSONB NOT NULL,
		bbox       geometry(Geometry, 4326) NOT NULL,
		min_lat    DOUBLE PRECISION NOT NULL,
		min_lng    DOUBLE PRECISION NOT NULL,
		max_lat    DOUBLE PRECISION NOT NULL,
		max_lng    DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS polygons_bbox_gist ON polygons USING GIST (bbox)`,
}

const querySQL = `
SELECT id, status, geometry, min_lat, min_lng, max_lat, max_lng, created_at, updated_at
FROM polygons
WHERE bbox && ST_MakeEnvelope($1, $2, $3, $4, 4326)
  AND max_lat >= $2 AND min_lat <= $4 AND max_lng >= $1 AND min_lng <= $3
ORDER BY id`

const upsertSQL = `
INSERT INTO polygons (id, status, geometry, bbox, min_lat, min_lng, max_lat, max_lng, created_at, updated_at)
VALUES ($1, $2, $3::jsonb, ST_MakeEnvelope($5, $4, $7, $6, 4326), $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
	status     = EXCLUDED.status,
	geometry   = EXCLUDED.geometry,
	bbox       = EXCLUDED.bbox,
	min_lat    = EXCLUDED.min_lat,
	min_lng    = EXCLUDED.min_lng,
	max_lat    = EXCLUDED.max_lat,
	max_lng    = EXCLUDED.max_lng,
	updated_at = EXCLUDED.updated_at`

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dsn == "" {
		return nil, errors.New("postgis store needs POSTGIS_DSN")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgis: %w", err)
	}
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(initCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgis: %w", err)
	}
	for _, stmt := range schema {
		if _, err := pool.Exec(initCtx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	logger.Info("postgis store ready")
	return &Store{pool: pool, logger: logger, now: time.Now}, nil
}

func (s *Store) Query(ctx context.Context, r model.Rect) ([]model.Feature, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid query rect %v", r)
	}
	rows, err := s.pool.Query(ctx, querySQL, r.MinLng, r.MinLat, r.MaxLng, r.MaxLat)
	if err != nil {
		return nil, fmt.Errorf("query polygons: %w", err)
	}
	defer rows.Close()

	out := []model.Feature{}
	for rows.Next() {
		var (
			f    model.Feature
			geom []byte
		)
		if err := rows.Scan(&f.ID, &f.Status, &geom,
			&f.BBox.MinLat, &f.BBox.MinLng, &f.BBox.MaxLat, &f.BBox.MaxLng,
			&f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan polygon: %w", err)
		}
		g, err := geojson.UnmarshalGeometry(geom)
		if err != nil {
			return nil, fmt.Errorf("decode geometry of %q: %w", f.ID, err)
		}
		f.Geometry = g
		f.CreatedAt = f.CreatedAt.UTC()
		f.UpdatedAt = f.UpdatedAt.UTC()
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate polygons: %w", err)
	}
	return out, nil
}

func (s *Store) Upsert(ctx context.Context, feats []model.Feature) (int, error) {
	for _, f := range feats {
		if err := store.Validate(f); err != nil {
			return 0, err
		}
	}
	now := s.now()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, f := range feats {
			store.Stamp(&f, now)
			geom, err := f.Geometry.MarshalJSON()
			if err != nil {
				return fmt.Errorf("encode geometry of %q: %w", f.ID, err)
			}
			b := f.BBox
			batch.Queue(upsertSQL, f.ID, f.Status, string(geom),
				b.MinLat, b.MinLng, b.MaxLat, b.MaxLng, f.CreatedAt, f.UpdatedAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, fmt.Errorf("upsert polygons: %w", err)
	}
	return len(feats), nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM polygons`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count polygons: %w", err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
