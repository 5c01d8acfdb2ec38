package model

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func TestRect_IntersectsIsInclusive(t *testing.T) {
	a := Rect{MinLat: 0, MinLng: 0, MaxLat: 1, MaxLng: 1}
	touching := Rect{MinLat: 1, MinLng: 1, MaxLat: 2, MaxLng: 2}
	outside := Rect{MinLat: 1.5, MinLng: 0, MaxLat: 2, MaxLng: 1}

	if !a.Intersects(touching) || !touching.Intersects(a) {
		t.Fatalf("corner-touching rects must intersect")
	}
	if a.Intersects(outside) {
		t.Fatalf("disjoint rects must not intersect")
	}
}

func TestRect_ContainsUsesNonStrictEdges(t *testing.T) {
	l := Rect{MinLat: 24, MinLng: -125, MaxLat: 49, MaxLng: -66}
	if !l.Contains(l) {
		t.Fatalf("a rect contains itself")
	}
	if l.Contains(Rect{MinLat: 23, MinLng: -100, MaxLat: 30, MaxLng: -90}) {
		t.Fatalf("rect crossing the south edge is not contained")
	}
}

func TestRect_ValidAndString(t *testing.T) {
	r := Rect{MinLat: 24, MinLng: -125, MaxLat: 49, MaxLng: -66}
	if !r.Valid() {
		t.Fatalf("expected valid")
	}
	if got := r.String(); got != "24,-125,49,-66" {
		t.Fatalf("String()=%q", got)
	}
	if (Rect{MinLat: 2, MaxLat: 1}).Valid() {
		t.Fatalf("min>max must be invalid")
	}
	if (Rect{MinLat: math.NaN()}).Valid() {
		t.Fatalf("NaN must be invalid")
	}
}

func TestNewFeature_DerivesBBoxAndRejectsLines(t *testing.T) {
	poly := orb.Polygon{{{-80, 25}, {-79, 25}, {-79, 26.5}, {-80, 26.5}, {-80, 25}}}
	f, err := NewFeature("polygon_7", 3, poly)
	if err != nil {
		t.Fatalf("NewFeature: %v", err)
	}
	want := Rect{MinLat: 25, MinLng: -80, MaxLat: 26.5, MaxLng: -79}
	if f.BBox != want {
		t.Fatalf("bbox=%+v want %+v", f.BBox, want)
	}

	_, err = NewFeature("line", 1, orb.LineString{{0, 0}, {1, 1}})
	if !errors.Is(err, ErrUnsupportedGeometry) {
		t.Fatalf("expected ErrUnsupportedGeometry, got %v", err)
	}
}

func TestRect_InWorld(t *testing.T) {
	cases := []struct {
		r    Rect
		want bool
	}{
		{Rect{MinLat: -90, MinLng: -180, MaxLat: 90, MaxLng: 180}, true},
		{Rect{MinLat: 30, MinLng: 200, MaxLat: 31, MaxLng: 201}, false},
		{Rect{MinLat: -91, MinLng: 0, MaxLat: 0, MaxLng: 1}, false},
		{Rect{MinLat: 2, MinLng: 0, MaxLat: 1, MaxLng: 1}, false},
	}
	for _, c := range cases {
		if got := c.r.InWorld(); got != c.want {
			t.Fatalf("InWorld(%v)=%v want %v", c.r, got, c.want)
		}
	}
}
