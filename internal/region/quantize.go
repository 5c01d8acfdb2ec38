// Package region turns raw viewports into stable grid-aligned cache regions
// and subdivides regions into fetchable tiles.
package region

import (
	"math"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
)

const (
	DefaultMinZoom   = 8
	DefaultPrecision = 0
)

// Quantizer snaps viewports outward to a coarse grid so that small pans map
// onto the same region.
type Quantizer struct {
	// viewports below this zoom are never fetched
	MinZoom int
	// number of decimals kept when snapping (0 snaps to whole degrees)
	Precision int
}

func NewQuantizer(minZoom, precision int) Quantizer {
	if precision < 0 {
		precision = 0
	}
	return Quantizer{MinZoom: minZoom, Precision: precision}
}

// Quantize floors the min edges and ceils the max edges. The second return
// value is false when the viewport should be skipped.
func (q Quantizer) Quantize(v model.Rect, zoom int) (model.Rect, bool) {
	if zoom < q.MinZoom {
		return model.Rect{}, false
	}
	if v.IsZero() || !v.Valid() {
		return model.Rect{}, false
	}
	scale := math.Pow(10, float64(q.Precision))
	return model.Rect{
		MinLat: snap(v.MinLat, scale, math.Floor),
		MinLng: snap(v.MinLng, scale, math.Floor),
		MaxLat: snap(v.MaxLat, scale, math.Ceil),
		MaxLng: snap(v.MaxLng, scale, math.Ceil),
	}, true
}

// gridEps is how close v*scale must be to a grid line to count as on it.
const gridEps = 1e-9

func snap(v, scale float64, round func(float64) float64) float64 {
	x := v * scale
	// 0.07*100 is 7.000000000000001; treat it as the grid line 7
	if r := math.Round(x); math.Abs(x-r) < gridEps {
		x = r
	}
	if scale == 1 {
		return round(x)
	}
	return round(x) / scale
}
