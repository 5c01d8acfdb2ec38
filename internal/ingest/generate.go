package ingest

import (
	"fmt"
	"math/rand/v2"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
)

const (
	DefaultGenerateCount = 1000
	DefaultGenerateBatch = 100
	DefaultCellRes       = 6
	maxStatus            = 8
)

// ContinentalUS is the box random polygons are scattered over.
var ContinentalUS = model.Rect{MinLat: 24, MinLng: -125, MaxLat: 49, MaxLng: -66}

// Generator produces hexagonal polygons: the H3 cell around a random point
// inside Bounds, with a random status between 1 and 8.
type Generator struct {
	Bounds model.Rect
	Res    int
	Prefix string
	rng    *rand.Rand
}

func NewGenerator(seed uint64, res int, prefix string) *Generator {
	if res < 0 || res > 15 {
		res = DefaultCellRes
	}
	if prefix == "" {
		prefix = "polygon"
	}
	return &Generator{
		Bounds: ContinentalUS,
		Res:    res,
		Prefix: prefix,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Batch returns n features numbered from start.
func (g *Generator) Batch(start, n int) ([]model.Feature, error) {
	out := make([]model.Feature, 0, n)
	for i := start; i < start+n; i++ {
		lat := g.Bounds.MinLat + g.rng.Float64()*(g.Bounds.MaxLat-g.Bounds.MinLat)
		lng := g.Bounds.MinLng + g.rng.Float64()*(g.Bounds.MaxLng-g.Bounds.MinLng)
		poly, err := cellPolygon(lat, lng, g.Res)
		if err != nil {
			return nil, err
		}
		f, err := model.NewFeature(fmt.Sprintf("%s_%d", g.Prefix, i), g.rng.IntN(maxStatus)+1, poly)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func cellPolygon(lat, lng float64, res int) (orb.Polygon, error) {
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lng}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 cell for %f,%f: %w", lat, lng, err)
	}
	boundary, err := cell.Boundary()
	if err != nil {
		return nil, fmt.Errorf("h3 boundary of %s: %w", cell, err)
	}
	ring := make(orb.Ring, 0, len(boundary)+1)
	for _, p := range boundary {
		ring = append(ring, orb.Point{p.Lng, p.Lat})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}, nil
}
