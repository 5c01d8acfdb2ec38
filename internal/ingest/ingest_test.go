package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/invalidation"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/store/memstore"
)

const upload = `[
  {"id": "p1", "status": 3, "geometry": "POLYGON((-100 30, -99 30, -99 31, -100 31, -100 30))"},
  {"id": "p2", "status": 5, "geometry": "MULTIPOLYGON(((-98 32, -97 32, -97 33, -98 32)),((-90 40, -89 40, -89 41, -90 40)))"},
  {"id": "pt", "status": 1, "geometry": "POINT(1 2)"},
  {"id": "bad", "status": 1, "geometry": "POLYGON((oops"},
  {"id": "", "status": 1, "geometry": "POLYGON((0 0, 1 0, 1 1, 0 0))"},
  {"id": "p1", "status": 4, "geometry": "POLYGON((-100 30, -98 30, -98 31, -100 31, -100 30))", "extra": true}
]`

func TestDecodeRecords(t *testing.T) {
	recs, err := DecodeRecords(strings.NewReader(upload))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 6 {
		t.Fatalf("got %d records want 6", len(recs))
	}
	if _, err := DecodeRecords(strings.NewReader(`{"id":"x"}`)); !errors.Is(err, ErrNotArray) {
		t.Fatalf("object upload got %v want ErrNotArray", err)
	}
	if _, err := DecodeRecords(strings.NewReader(`[{"id":`)); err == nil {
		t.Fatal("truncated upload should fail")
	}
}

func TestConvert_SkipsBadRecordsAndKeepsLastDuplicate(t *testing.T) {
	recs, _ := DecodeRecords(strings.NewReader(upload))
	res := Convert(recs)

	if len(res.Features) != 2 {
		t.Fatalf("features got %d want 2", len(res.Features))
	}
	p1 := res.Features[0]
	if p1.ID != "p1" || p1.Status != 4 {
		t.Fatalf("duplicate id should keep last record, got %+v", p1)
	}
	if want := (model.Rect{MinLat: 30, MinLng: -100, MaxLat: 31, MaxLng: -98}); p1.BBox != want {
		t.Fatalf("bbox got %v want %v", p1.BBox, want)
	}
	if want := (model.Rect{MinLat: 32, MinLng: -98, MaxLat: 41, MaxLng: -89}); res.Features[1].BBox != want {
		t.Fatalf("multipolygon bbox got %v want %v", res.Features[1].BBox, want)
	}

	if len(res.Skipped) != 3 {
		t.Fatalf("skipped got %d want 3", len(res.Skipped))
	}
	if !errors.Is(&res.Skipped[0], model.ErrUnsupportedGeometry) {
		t.Fatalf("point record error got %v", res.Skipped[0].Err)
	}
	if res.Skipped[1].ID != "bad" || res.Skipped[1].Index != 3 {
		t.Fatalf("bad wkt record got %+v", res.Skipped[1])
	}
	if !errors.Is(&res.Skipped[2], ErrMissingID) {
		t.Fatalf("empty id error got %v", res.Skipped[2].Err)
	}
}

func TestGenerator_HexagonsInsideBoundsWithStatus(t *testing.T) {
	g := NewGenerator(42, 5, "test")
	feats, err := g.Batch(10, 25)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(feats) != 25 {
		t.Fatalf("got %d want 25", len(feats))
	}
	if feats[0].ID != "test_10" || feats[24].ID != "test_34" {
		t.Fatalf("ids got %s..%s", feats[0].ID, feats[24].ID)
	}
	// a res-5 cell is well under a degree across
	grown := model.Rect{MinLat: 23, MinLng: -126, MaxLat: 50, MaxLng: -65}
	for _, f := range feats {
		if f.Status < 1 || f.Status > 8 {
			t.Fatalf("%s status %d out of range", f.ID, f.Status)
		}
		if !grown.Contains(f.BBox) {
			t.Fatalf("%s bbox %v outside bounds", f.ID, f.BBox)
		}
		if f.Geometry == nil || f.Geometry.Coordinates.GeoJSONType() != "Polygon" {
			t.Fatalf("%s is not a polygon", f.ID)
		}
	}

	again, _ := NewGenerator(42, 5, "test").Batch(10, 25)
	if again[3].BBox != feats[3].BBox {
		t.Fatal("same seed should generate the same polygons")
	}
}

type recordingPublisher struct {
	events []invalidation.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev invalidation.Event) error {
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestService_UploadSavesAndPublishes(t *testing.T) {
	st := memstore.New()
	pub := &recordingPublisher{}
	svc := NewService(quiet(), st, pub)

	recs, _ := DecodeRecords(strings.NewReader(upload))
	saved, skipped, err := svc.Upload(context.Background(), recs)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if saved != 2 || len(skipped) != 3 {
		t.Fatalf("saved=%d skipped=%d want 2/3", saved, len(skipped))
	}
	if n, _ := st.Count(context.Background()); n != 2 {
		t.Fatalf("store count got %d want 2", n)
	}
	if len(pub.events) != 1 {
		t.Fatalf("events got %d want 1", len(pub.events))
	}
	if want := (model.Rect{MinLat: 30, MinLng: -100, MaxLat: 41, MaxLng: -89}); pub.events[0].BBox.Rect() != want {
		t.Fatalf("event bbox got %v want %v", pub.events[0].BBox.Rect(), want)
	}
}

func TestService_UploadNothingValid(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewService(quiet(), memstore.New(), pub)
	saved, skipped, err := svc.Upload(context.Background(), []Record{{ID: "x", Geometry: "POINT(0 0)"}})
	if err != nil || saved != 0 || len(skipped) != 1 {
		t.Fatalf("saved=%d skipped=%d err=%v", saved, len(skipped), err)
	}
	if len(pub.events) != 0 {
		t.Fatal("no event expected for an empty save")
	}
}

func TestService_UploadSkipsOutOfRangeAndStillPublishes(t *testing.T) {
	st := memstore.New()
	pub := &recordingPublisher{}
	svc := NewService(quiet(), st, pub)

	recs := []Record{
		{ID: "far", Status: 1, Geometry: "POLYGON((200 30, 201 30, 201 31, 200 30))"},
		{ID: "south", Status: 1, Geometry: "POLYGON((10 -95, 11 -95, 11 -94, 10 -95))"},
		{ID: "ok", Status: 2, Geometry: "POLYGON((-100 30, -99 30, -99 31, -100 30))"},
	}
	saved, skipped, err := svc.Upload(context.Background(), recs)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if saved != 1 || len(skipped) != 2 {
		t.Fatalf("saved=%d skipped=%d want 1/2", saved, len(skipped))
	}
	for _, s := range skipped {
		if !errors.Is(&s, model.ErrOutOfRange) {
			t.Fatalf("record %q: got %v want out of range", s.ID, s.Err)
		}
	}
	if len(pub.events) != 1 {
		t.Fatalf("events got %d want 1", len(pub.events))
	}
	if err := pub.events[0].Validate(); err != nil {
		t.Fatalf("published event must validate: %v", err)
	}
}

func TestService_PublishFailureDoesNotFailSave(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("queue full")}
	svc := NewService(quiet(), memstore.New(), pub)
	feats, _ := NewGenerator(1, 4, "").Batch(0, 3)
	if n, err := svc.Save(context.Background(), feats); err != nil || n != 3 {
		t.Fatalf("save got %d, %v", n, err)
	}
}

func TestService_GenerateInBatches(t *testing.T) {
	st := memstore.New()
	pub := &recordingPublisher{}
	svc := NewService(quiet(), st, pub)

	n, err := svc.Generate(context.Background(), NewGenerator(7, 4, ""), 25, 10)
	if err != nil || n != 25 {
		t.Fatalf("generate got %d, %v", n, err)
	}
	if c, _ := st.Count(context.Background()); c != 25 {
		t.Fatalf("store count got %d want 25", c)
	}
	if len(pub.events) != 3 {
		t.Fatalf("events got %d want 3 batches", len(pub.events))
	}
}
