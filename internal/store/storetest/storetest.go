// Package storetest runs the same behavioural checks against every store
// backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/store"
)

// Box returns a rectangular polygon feature.
func Box(t testing.TB, id string, status int, minLat, minLng, maxLat, maxLng float64) model.Feature {
	t.Helper()
	poly := orb.Polygon{orb.Ring{
		{minLng, minLat}, {maxLng, minLat}, {maxLng, maxLat}, {minLng, maxLat}, {minLng, minLat},
	}}
	f, err := model.NewFeature(id, status, poly)
	if err != nil {
		t.Fatalf("feature %s: %v", id, err)
	}
	return f
}

func ids(feats []model.Feature) map[string]model.Feature {
	out := make(map[string]model.Feature, len(feats))
	for _, f := range feats {
		out[f.ID] = f
	}
	return out
}

// Run exercises s, which must start empty.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	feats := []model.Feature{
		Box(t, "inside", 1, 30, -100, 31, -99),
		Box(t, "touching", 2, 32, -98, 33, -97),
		Box(t, "outside", 3, 40, -80, 41, -79),
		Box(t, "straddle", 4, 31.5, -101, 32.5, -98.5),
	}
	n, err := s.Upsert(ctx, feats)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if n != len(feats) {
		t.Fatalf("upsert got %d want %d", n, len(feats))
	}

	t.Run("intersection includes touching edges", func(t *testing.T) {
		got, err := s.Query(ctx, model.Rect{MinLat: 29, MinLng: -102, MaxLat: 32, MaxLng: -98})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		m := ids(got)
		for _, want := range []string{"inside", "touching", "straddle"} {
			if _, ok := m[want]; !ok {
				t.Fatalf("missing %q in %v", want, keys(m))
			}
		}
		if _, ok := m["outside"]; ok {
			t.Fatal("outside feature returned")
		}
		f := m["inside"]
		if f.Status != 1 || f.Geometry == nil || f.BBox != (model.Rect{MinLat: 30, MinLng: -100, MaxLat: 31, MaxLng: -99}) {
			t.Fatalf("inside round trip got %+v", f)
		}
		if f.CreatedAt.IsZero() || f.UpdatedAt.IsZero() {
			t.Fatal("timestamps not set")
		}
	})

	t.Run("empty result is an empty slice", func(t *testing.T) {
		got, err := s.Query(ctx, model.Rect{MinLat: -10, MinLng: 10, MaxLat: -9, MaxLng: 11})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Fatalf("got %v want empty non-nil slice", got)
		}
	})

	t.Run("upsert replaces by id", func(t *testing.T) {
		before, _ := s.Query(ctx, model.Rect{MinLat: 30, MinLng: -100, MaxLat: 31, MaxLng: -99})
		created := ids(before)["inside"].CreatedAt

		time.Sleep(2 * time.Millisecond)
		moved := Box(t, "inside", 7, 50, 10, 51, 11)
		if _, err := s.Upsert(ctx, []model.Feature{moved}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		c, err := s.Count(ctx)
		if err != nil || c != len(feats) {
			t.Fatalf("count got %d, %v want %d", c, err, len(feats))
		}
		old, _ := s.Query(ctx, model.Rect{MinLat: 30.2, MinLng: -99.8, MaxLat: 30.8, MaxLng: -99.2})
		if _, ok := ids(old)["inside"]; ok {
			t.Fatal("stale bbox still indexed")
		}
		now, _ := s.Query(ctx, model.Rect{MinLat: 50, MinLng: 10, MaxLat: 51, MaxLng: 11})
		f, ok := ids(now)["inside"]
		if !ok || f.Status != 7 {
			t.Fatalf("moved feature got %+v", f)
		}
		if !f.CreatedAt.Equal(created) {
			t.Fatalf("createdAt changed: %v -> %v", created, f.CreatedAt)
		}
		if !f.UpdatedAt.After(created) {
			t.Fatalf("updatedAt %v not after %v", f.UpdatedAt, created)
		}
	})

	t.Run("invalid feature rejected", func(t *testing.T) {
		if _, err := s.Upsert(ctx, []model.Feature{{ID: ""}}); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("invalid rect rejected", func(t *testing.T) {
		if _, err := s.Query(ctx, model.Rect{MinLat: 2, MaxLat: 1}); err == nil {
			t.Fatal("expected error")
		}
	})
}

func keys(m map[string]model.Feature) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
