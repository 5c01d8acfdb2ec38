package main

import (
	"math"
	"math/rand/v2"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/ingest"
)

var hotCenters = []struct{ lat, lng float64 }{
	{40.7128, -74.0060},  // New York
	{34.0522, -118.2437}, // Los Angeles
	{41.8781, -87.6298},  // Chicago
	{29.7604, -95.3698},  // Houston
}

// makeBoxes returns count query boxes: the first quarter (at least 8) are
// hot boxes jittered around big cities, the rest are spread over bounds.
func makeBoxes(count int, bounds model.Rect, r *rand.Rand) []model.Rect {
	out := make([]model.Rect, 0, count)
	hot := min(count, max(8, count/4))
	for i := range hot {
		c := hotCenters[i%len(hotCenters)]
		lat := c.lat + (r.Float64()-0.5)*0.4
		lng := c.lng + (r.Float64()-0.5)*0.4
		h, w := 0.25+r.Float64()*0.15, 0.25+r.Float64()*0.15
		out = append(out, model.Rect{MinLat: lat - h/2, MinLng: lng - w/2, MaxLat: lat + h/2, MaxLng: lng + w/2})
	}
	for len(out) < count {
		lat := bounds.MinLat + r.Float64()*(bounds.MaxLat-bounds.MinLat)
		lng := bounds.MinLng + r.Float64()*(bounds.MaxLng-bounds.MinLng)
		h, w := 0.1+r.Float64()*0.4, 0.1+r.Float64()*0.4
		out = append(out, model.Rect{MinLat: lat - h/2, MinLng: lng - w/2, MaxLat: lat + h/2, MaxLng: lng + w/2})
	}
	return out
}

func defaultBounds() model.Rect { return ingest.ContinentalUS }

// percentile interpolates linearly between closest ranks of sorted. An
// empty slice yields 0 so the summary stays encodable.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	k := (p / 100.0) * float64(len(sorted)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	d := k - f
	return sorted[i]*(1-d) + sorted[i+1]*d
}
