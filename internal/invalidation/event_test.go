package invalidation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
)

func mustTS() time.Time { return time.Date(2025, 10, 26, 12, 30, 45, 0, time.UTC) }

func TestEvent_Validate_HappyPath(t *testing.T) {
	ev := Event{
		Version: 1, Op: OpDelete, TS: mustTS(),
		BBox: &BBox{X1: 11, Y1: 55, X2: 12, Y2: 56, SRID: "EPSG:4326"},
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestEvent_Validate_Rejects(t *testing.T) {
	base := func() Event {
		return Event{Version: 1, Op: OpUpsert, TS: mustTS(), BBox: &BBox{X1: 0, Y1: 0, X2: 1, Y2: 1, SRID: "EPSG:4326"}}
	}
	cases := map[string]func(*Event){
		"version":   func(e *Event) { e.Version = 2 },
		"op":        func(e *Event) { e.Op = "truncate" },
		"ts":        func(e *Event) { e.TS = time.Time{} },
		"no bbox":   func(e *Event) { e.BBox = nil },
		"srid":      func(e *Event) { e.BBox.SRID = "EPSG:3857" },
		"lng range": func(e *Event) { e.BBox.X2 = 181 },
		"lat range": func(e *Event) { e.BBox.Y1 = -91 },
		"swapped":   func(e *Event) { e.BBox.X1, e.BBox.X2 = 1, 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			ev := base()
			mutate(&ev)
			if err := ev.Validate(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNewUpsertEvent_UnionBBox(t *testing.T) {
	feats := []model.Feature{
		{ID: "a", BBox: model.Rect{MinLat: 30, MinLng: -100, MaxLat: 31, MaxLng: -99}},
		{ID: "b", BBox: model.Rect{MinLat: 25, MinLng: -98, MaxLat: 26, MaxLng: -97}},
	}
	ev, ok := NewUpsertEvent("node-1", feats, mustTS())
	if !ok {
		t.Fatal("expected event")
	}
	want := model.Rect{MinLat: 25, MinLng: -100, MaxLat: 31, MaxLng: -97}
	if got := ev.BBox.Rect(); got != want {
		t.Fatalf("bbox got %v want %v", got, want)
	}
	if len(ev.FeatureIDs) != 2 || ev.Source != "node-1" {
		t.Fatalf("event got %+v", ev)
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, ok := NewUpsertEvent("x", nil, mustTS()); ok {
		t.Fatal("empty batch should not produce an event")
	}
}

type fakeApplier struct {
	rects []model.Rect
	err   error
}

func (f *fakeApplier) InvalidateBBox(_ context.Context, rects ...model.Rect) (int, error) {
	f.rects = append(f.rects, rects...)
	return len(rects), f.err
}

func TestDirect_AppliesValidEvents(t *testing.T) {
	fa := &fakeApplier{}
	d := NewDirect(fa)
	ev := Event{Version: 1, Op: OpUpsert, TS: mustTS(), BBox: &BBox{X1: 1, Y1: 2, X2: 3, Y2: 4, SRID: "EPSG:4326"}}
	if err := d.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fa.rects) != 1 || fa.rects[0] != (model.Rect{MinLat: 2, MinLng: 1, MaxLat: 4, MaxLng: 3}) {
		t.Fatalf("applied %v", fa.rects)
	}

	if err := d.Publish(context.Background(), Event{}); err == nil {
		t.Fatal("invalid event should fail")
	}
	fa.err = errors.New("redis down")
	if err := d.Publish(context.Background(), ev); err == nil {
		t.Fatal("applier error should surface")
	}
}
