// Package model defines core domain types shared across the service.
package model

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Rect is an axis-aligned lat/lng rectangle. It is used for viewports,
// quantized cache regions and feature bounding boxes alike.
type Rect struct {
	MinLat float64 `json:"minLat"`
	MinLng float64 `json:"minLng"`
	MaxLat float64 `json:"maxLat"`
	MaxLng float64 `json:"maxLng"`
}

// Valid reports whether all edges are finite and min <= max on both axes.
func (r Rect) Valid() bool {
	for _, v := range [...]float64{r.MinLat, r.MinLng, r.MaxLat, r.MaxLng} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return r.MinLat <= r.MaxLat && r.MinLng <= r.MaxLng
}

// InWorld reports whether r is valid and within lat [-90,90], lng [-180,180].
func (r Rect) InWorld() bool {
	return r.Valid() &&
		r.MinLat >= -90 && r.MaxLat <= 90 &&
		r.MinLng >= -180 && r.MaxLng <= 180
}

// IsZero reports whether r is the zero value (no viewport known yet).
func (r Rect) IsZero() bool { return r == Rect{} }

// Intersects is inclusive: rectangles sharing only an edge intersect.
func (r Rect) Intersects(o Rect) bool {
	return r.MinLat <= o.MaxLat && o.MinLat <= r.MaxLat &&
		r.MinLng <= o.MaxLng && o.MinLng <= r.MaxLng
}

// Contains reports whether o lies fully inside r, edges included.
func (r Rect) Contains(o Rect) bool {
	return o.MinLat >= r.MinLat &&
		o.MinLng >= r.MinLng &&
		o.MaxLat <= r.MaxLat &&
		o.MaxLng <= r.MaxLng
}

// String renders minLat,minLng,maxLat,maxLng with the shortest exact float form.
func (r Rect) String() string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return f(r.MinLat) + "," + f(r.MinLng) + "," + f(r.MaxLat) + "," + f(r.MaxLng)
}

// RectFromBound converts an orb bound (x=lng, y=lat) into a Rect.
func RectFromBound(b orb.Bound) Rect {
	return Rect{MinLat: b.Min.Lat(), MinLng: b.Min.Lon(), MaxLat: b.Max.Lat(), MaxLng: b.Max.Lon()}
}

// Bound converts r back to an orb bound.
func (r Rect) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{r.MinLng, r.MinLat}, Max: orb.Point{r.MaxLng, r.MaxLat}}
}

var (
	ErrUnsupportedGeometry = errors.New("geometry must be Polygon or MultiPolygon")
	ErrOutOfRange          = errors.New("coordinates outside lat [-90,90] lng [-180,180]")
)

// Feature is a polygon record as stored and served. It is immutable once fetched.
type Feature struct {
	ID        string            `json:"id"`
	Geometry  *geojson.Geometry `json:"geometry"`
	Status    int               `json:"status"`
	BBox      Rect              `json:"bbox"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// NewFeature builds a feature from a polygonal geometry and derives its bbox.
// Geometries reaching outside WGS84 lat/lng are rejected.
func NewFeature(id string, status int, g orb.Geometry) (Feature, error) {
	if err := CheckPolygonal(g); err != nil {
		return Feature{}, err
	}
	bbox := RectFromBound(g.Bound())
	if !bbox.InWorld() {
		return Feature{}, fmt.Errorf("%w: bbox %s", ErrOutOfRange, bbox)
	}
	return Feature{
		ID:       id,
		Geometry: geojson.NewGeometry(g),
		Status:   status,
		BBox:     bbox,
	}, nil
}

// CheckPolygonal rejects anything other than a non-empty Polygon or MultiPolygon.
func CheckPolygonal(g orb.Geometry) error {
	switch t := g.(type) {
	case orb.Polygon:
		if len(t) == 0 || len(t[0]) == 0 {
			return errors.New("empty polygon")
		}
	case orb.MultiPolygon:
		if len(t) == 0 {
			return errors.New("empty multipolygon")
		}
	case nil:
		return fmt.Errorf("%w: got nothing", ErrUnsupportedGeometry)
	default:
		return fmt.Errorf("%w: got %s", ErrUnsupportedGeometry, g.GeoJSONType())
	}
	return nil
}
