// Package memstore keeps polygons in an in-process R-tree.
package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dhconnelly/rtreego"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/config"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/store"
)

// the tree's intersection test is strict, so query boxes are widened by pad
// and results are filtered with the exact inclusive test
const pad = 1e-9

func init() {
	store.Register("memory", func(_ context.Context, _ config.StoreCfg, _ *slog.Logger) (store.Store, error) {
		return New(), nil
	})
}

type item struct {
	f    model.Feature
	rect rtreego.Rect
}

func (it *item) Bounds() rtreego.Rect { return it.rect }

type Store struct {
	mu   sync.RWMutex
	tree *rtreego.Rtree
	byID map[string]*item
	now  func() time.Time
}

func New() *Store {
	return &Store{
		tree: rtreego.NewTree(2, 25, 50),
		byID: make(map[string]*item),
		now:  time.Now,
	}
}

func toRect(r model.Rect, pad float64) (rtreego.Rect, error) {
	return rtreego.NewRectFromPoints(
		rtreego.Point{r.MinLng - pad, r.MinLat - pad},
		rtreego.Point{r.MaxLng + pad, r.MaxLat + pad},
	)
}

func (s *Store) Query(ctx context.Context, r model.Rect) ([]model.Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !r.Valid() {
		return nil, fmt.Errorf("invalid query rect %v", r)
	}
	qr, err := toRect(r, pad)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	hits := s.tree.SearchIntersect(qr)
	out := make([]model.Feature, 0, len(hits))
	for _, h := range hits {
		it := h.(*item)
		if it.f.BBox.Intersects(r) {
			out = append(out, it.f)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Upsert(ctx context.Context, feats []model.Feature) (int, error) {
	for _, f := range feats {
		if err := store.Validate(f); err != nil {
			return 0, err
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, f := range feats {
		if old, ok := s.byID[f.ID]; ok {
			f.CreatedAt = old.f.CreatedAt
			s.tree.Delete(old)
		}
		store.Stamp(&f, now)
		// zero-area boxes still need a positive extent in the tree
		rect, err := toRect(f.BBox, pad/2)
		if err != nil {
			return 0, err
		}
		it := &item{f: f, rect: rect}
		s.tree.Insert(it)
		s.byID[f.ID] = it
	}
	return len(feats), nil
}

func (s *Store) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}

func (s *Store) Close() error { return nil }
