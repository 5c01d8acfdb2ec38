// Package invalidation carries polygon change notifications from the ingest
// path to whatever caches answers derived from the store.
package invalidation

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
)

const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// Event says that polygons inside BBox changed. Seq increases per Source.
type Event struct {
	Version    int       `json:"version"`
	Op         string    `json:"op"`
	TS         time.Time `json:"ts"`
	Source     string    `json:"source"`
	Seq        uint64    `json:"seq"`
	FeatureIDs []string  `json:"feature_ids,omitempty"`
	BBox       *BBox     `json:"bbox"`
}

type BBox struct {
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
	SRID string  `json:"srid"`
}

func BBoxOf(r model.Rect) *BBox {
	return &BBox{X1: r.MinLng, Y1: r.MinLat, X2: r.MaxLng, Y2: r.MaxLat, SRID: "EPSG:4326"}
}

func (b BBox) Rect() model.Rect {
	return model.Rect{MinLat: b.Y1, MinLng: b.X1, MaxLat: b.Y2, MaxLng: b.X2}
}

// NewUpsertEvent describes a batch of written features by the union of their
// bounding boxes. It returns false for an empty batch.
func NewUpsertEvent(source string, feats []model.Feature, now time.Time) (Event, bool) {
	if len(feats) == 0 {
		return Event{}, false
	}
	union := feats[0].BBox
	ids := make([]string, 0, len(feats))
	for _, f := range feats {
		b := f.BBox
		union.MinLat = min(union.MinLat, b.MinLat)
		union.MinLng = min(union.MinLng, b.MinLng)
		union.MaxLat = max(union.MaxLat, b.MaxLat)
		union.MaxLng = max(union.MaxLng, b.MaxLng)
		ids = append(ids, f.ID)
	}
	return Event{
		Version:    1,
		Op:         OpUpsert,
		TS:         now.UTC(),
		Source:     source,
		FeatureIDs: ids,
		BBox:       BBoxOf(union),
	}, true
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case OpUpsert, OpDelete:
	default:
		return fmt.Errorf("op must be upsert|delete")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	if e.BBox == nil {
		return fmt.Errorf("bbox is required")
	}
	bb := *e.BBox
	if bb.SRID != "EPSG:4326" {
		return fmt.Errorf("bbox.srid must be EPSG:4326")
	}
	if !(bb.X1 >= -180 && bb.X1 <= 180 && bb.X2 >= -180 && bb.X2 <= 180) {
		return fmt.Errorf("bbox longitude out of range")
	}
	if !(bb.Y1 >= -90 && bb.Y1 <= 90 && bb.Y2 >= -90 && bb.Y2 <= 90) {
		return fmt.Errorf("bbox latitude out of range")
	}
	if !(bb.X2 >= bb.X1 && bb.Y2 >= bb.Y1) {
		return fmt.Errorf("bbox must satisfy x2>=x1 and y2>=y1")
	}
	return nil
}

// Applier drops cached answers overlapping the given rectangles.
type Applier interface {
	InvalidateBBox(ctx context.Context, rects ...model.Rect) (int, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Direct applies events in-process, for single-instance deployments.
type Direct struct {
	apply Applier
}

func NewDirect(a Applier) *Direct { return &Direct{apply: a} }

func (d *Direct) Publish(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	if _, err := d.apply.InvalidateBBox(ctx, ev.BBox.Rect()); err != nil {
		return fmt.Errorf("apply event: %w", err)
	}
	return nil
}

func (d *Direct) Close() error { return nil }

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
