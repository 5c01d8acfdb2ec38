// Package sqlitestore persists polygons in SQLite with an R*Tree index over
// their bounding boxes.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb/geojson"
	_ "modernc.org/sqlite"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/config"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/store"
)

func init() {
	store.Register("sqlite", func(ctx context.Context, cfg config.StoreCfg, logger *slog.Logger) (store.Store, error) {
		s, err := Open(ctx, cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

const schema = `
CREATE TABLE IF NOT EXISTS polygons (
	rid        INTEGER PRIMARY KEY,
	id         TEXT    NOT NULL UNIQUE,
	status     INTEGER NOT NULL,
	geometry   TEXT    NOT NULL,
	min_lat    REAL    NOT NULL,
	min_lng    REAL    NOT NULL,
	max_lat    REAL    NOT NULL,
	max_lng    REAL    NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE VIRTUAL TABLE IF NOT EXISTS polygons_bbox USING rtree(
	rid, min_lat, max_lat, min_lng, max_lng
);`

// the rtree stores 32-bit floats rounded outward, so its matches are a
// superset and the exact bbox columns decide
const querySQL = `
SELECT p.id, p.status, p.geometry, p.min_lat, p.min_lng, p.max_lat, p.max_lng, p.created_at, p.updated_at
FROM polygons_bbox b
JOIN polygons p ON p.rid = b.rid
WHERE b.max_lat >= ? AND b.min_lat <= ? AND b.max_lng >= ? AND b.min_lng <= ?
  AND p.max_lat >= ? AND p.min_lat <= ? AND p.max_lng >= ? AND p.min_lng <= ?
ORDER BY p.rid`

const upsertSQL = `
INSERT INTO polygons (id, status, geometry, min_lat, min_lng, max_lat, max_lng, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status     = excluded.status,
	geometry   = excluded.geometry,
	min_lat    = excluded.min_lat,
	min_lng    = excluded.min_lng,
	max_lat    = excluded.max_lat,
	max_lng    = excluded.max_lng,
	updated_at = excluded.updated_at
RETURNING rid`

const indexSQL = `INSERT OR REPLACE INTO polygons_bbox (rid, min_lat, max_lat, min_lng, max_lng) VALUES (?, ?, ?, ?, ?)`

type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, errors.New("sqlite store needs a path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection: sqlite serializes writers anyway and ":memory:" is per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", "PRAGMA synchronous=NORMAL"} {
		if _, err := db.ExecContext(initCtx, pragma); err != nil {
			logger.Warn("sqlite pragma skipped", "pragma", pragma, "err", err)
		}
	}
	if _, err := db.ExecContext(initCtx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	logger.Info("sqlite store ready", "path", path)
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

func (s *Store) Query(ctx context.Context, r model.Rect) ([]model.Feature, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid query rect %v", r)
	}
	rows, err := s.db.QueryContext(ctx, querySQL,
		r.MinLat, r.MaxLat, r.MinLng, r.MaxLng,
		r.MinLat, r.MaxLat, r.MinLng, r.MaxLng)
	if err != nil {
		return nil, fmt.Errorf("query polygons: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.Feature{}
	for rows.Next() {
		var (
			f        model.Feature
			geom     string
			cre, upd int64
		)
		if err := rows.Scan(&f.ID, &f.Status, &geom,
			&f.BBox.MinLat, &f.BBox.MinLng, &f.BBox.MaxLat, &f.BBox.MaxLng,
			&cre, &upd); err != nil {
			return nil, fmt.Errorf("scan polygon: %w", err)
		}
		g, err := geojson.UnmarshalGeometry([]byte(geom))
		if err != nil {
			return nil, fmt.Errorf("decode geometry of %q: %w", f.ID, err)
		}
		f.Geometry = g
		f.CreatedAt = time.Unix(0, cre).UTC()
		f.UpdatedAt = time.Unix(0, upd).UTC()
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate polygons: %w", err)
	}
	return out, nil
}

func (s *Store) Upsert(ctx context.Context, feats []model.Feature) (n int, err error) {
	for _, f := range feats {
		if err := store.Validate(f); err != nil {
			return 0, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	up, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = up.Close() }()
	idx, err := tx.PrepareContext(ctx, indexSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare index: %w", err)
	}
	defer func() { _ = idx.Close() }()

	now := s.now()
	for _, f := range feats {
		store.Stamp(&f, now)
		geom, err := f.Geometry.MarshalJSON()
		if err != nil {
			return 0, fmt.Errorf("encode geometry of %q: %w", f.ID, err)
		}
		b := f.BBox
		var rid int64
		if err := up.QueryRowContext(ctx,
			f.ID, f.Status, string(geom),
			b.MinLat, b.MinLng, b.MaxLat, b.MaxLng,
			f.CreatedAt.UnixNano(), f.UpdatedAt.UnixNano(),
		).Scan(&rid); err != nil {
			return 0, fmt.Errorf("upsert %q: %w", f.ID, err)
		}
		if _, err := idx.ExecContext(ctx, rid, b.MinLat, b.MaxLat, b.MinLng, b.MaxLng); err != nil {
			return 0, fmt.Errorf("index %q: %w", f.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(feats), nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM polygons`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count polygons: %w", err)
	}
	return n, nil
}

// Ping is used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }
