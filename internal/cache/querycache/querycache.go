// Package querycache caches /polygons answers in redis and drops them when
// polygons inside their bbox change.
package querycache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/cache/keys"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
)

// Redis is the subset of *redisstore.Client the cache needs.
type Redis interface {
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	DelIndexed(ctx context.Context, index string, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
}

type Cache struct {
	rdb       Redis
	ttl       time.Duration
	opTimeout time.Duration
	logger    *slog.Logger
}

func New(rdb Redis, ttl, opTimeout time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{rdb: rdb, ttl: ttl, opTimeout: opTimeout, logger: logger}
}

func (c *Cache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opTimeout)
}

// Get returns the cached answer for r. ok is false on a miss.
func (c *Cache) Get(ctx context.Context, r model.Rect) (feats []model.Feature, ok bool, err error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	k := keys.Query(r)
	m, err := c.rdb.MGet(ctx, []string{k})
	if err != nil {
		return nil, false, fmt.Errorf("query cache get: %w", err)
	}
	raw, ok := m[k]
	if !ok {
		return nil, false, nil
	}
	if err := json.Unmarshal(raw, &feats); err != nil {
		return nil, false, fmt.Errorf("query cache decode %q: %w", k, err)
	}
	return feats, true, nil
}

// Generation returns the invalidation counter. Read it before querying the
// store and hand it to PutAt.
func (c *Cache) Generation(ctx context.Context) (int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.generation(ctx)
}

func (c *Cache) generation(ctx context.Context) (int64, error) {
	m, err := c.rdb.MGet(ctx, []string{keys.GenKey})
	if err != nil {
		return 0, fmt.Errorf("query cache generation: %w", err)
	}
	raw, ok := m[keys.GenKey]
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("query cache generation %q: %w", raw, err)
	}
	return n, nil
}

// PutAt stores the answer for r unless an invalidation ran since gen was
// read, in which case the entry is removed again and stored is false.
// Invalidations bump the counter before reading the index, so one that
// starts after the re-check sees the new key and drops it itself.
func (c *Cache) PutAt(ctx context.Context, r model.Rect, feats []model.Feature, gen int64) (stored bool, err error) {
	if err := c.Put(ctx, r, feats); err != nil {
		return false, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	now, err := c.generation(ctx)
	if err == nil && now == gen {
		return true, nil
	}
	k := keys.Query(r)
	if derr := c.rdb.DelIndexed(ctx, keys.IndexKey, k); derr != nil {
		return false, fmt.Errorf("query cache drop stale %q: %w", k, derr)
	}
	if err != nil {
		return false, err
	}
	c.logger.Debug("query cache fill raced an invalidation; dropped", "key", k, "gen", gen, "now", now)
	return false, nil
}

// Put stores the answer for r and records its key in the index set.
func (c *Cache) Put(ctx context.Context, r model.Rect, feats []model.Feature) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if feats == nil {
		feats = []model.Feature{}
	}
	b, err := json.Marshal(feats)
	if err != nil {
		return fmt.Errorf("query cache encode: %w", err)
	}
	k := keys.Query(r)
	if err := c.rdb.SAdd(ctx, keys.IndexKey, k); err != nil {
		return fmt.Errorf("query cache index: %w", err)
	}
	if err := c.rdb.Set(ctx, k, b, c.ttl); err != nil {
		return fmt.Errorf("query cache put: %w", err)
	}
	return nil
}

// InvalidateBBox drops every cached answer whose query rectangle intersects
// any of rects and returns how many keys were dropped. Index entries whose
// value already expired are pruned as well. The generation counter is bumped
// first so fills already in progress discard themselves.
func (c *Cache) InvalidateBBox(ctx context.Context, rects ...model.Rect) (int, error) {
	if len(rects) == 0 {
		return 0, nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.rdb.Incr(ctx, keys.GenKey); err != nil {
		return 0, fmt.Errorf("query cache generation bump: %w", err)
	}

	members, err := c.rdb.SMembers(ctx, keys.IndexKey)
	if err != nil {
		return 0, fmt.Errorf("query cache index read: %w", err)
	}

	var drop []string
	for _, k := range members {
		qr, ok := keys.ParseQuery(k)
		if !ok {
			drop = append(drop, k)
			continue
		}
		for _, r := range rects {
			if qr.Intersects(r) {
				drop = append(drop, k)
				break
			}
		}
	}
	if len(drop) == 0 {
		return 0, nil
	}
	if err := c.rdb.DelIndexed(ctx, keys.IndexKey, drop...); err != nil {
		return 0, fmt.Errorf("query cache invalidate: %w", err)
	}
	c.logger.Debug("query cache invalidated", "keys", len(drop), "index", len(members))
	return len(drop), nil
}
