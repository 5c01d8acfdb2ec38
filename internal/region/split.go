package region

import (
	"math"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
)

const DefaultSplitTarget = 10

// Split divides r into a g×g grid where g = ceil(sqrt(target)). Cells are
// returned row-major (latitude outer) and only share edges. The last edge on
// each axis is pinned to r's max so the union is exactly r.
func Split(r model.Rect, target int) []model.Rect {
	g := 1
	if target > 1 {
		g = int(math.Ceil(math.Sqrt(float64(target))))
	}
	lats := edges(r.MinLat, r.MaxLat, g)
	lngs := edges(r.MinLng, r.MaxLng, g)

	out := make([]model.Rect, 0, (len(lats)-1)*(len(lngs)-1))
	for i := 0; i+1 < len(lats); i++ {
		for j := 0; j+1 < len(lngs); j++ {
			out = append(out, model.Rect{
				MinLat: lats[i],
				MinLng: lngs[j],
				MaxLat: lats[i+1],
				MaxLng: lngs[j+1],
			})
		}
	}
	return out
}

func edges(lo, hi float64, g int) []float64 {
	if hi <= lo || g <= 1 {
		return []float64{lo, hi}
	}
	step := (hi - lo) / float64(g)
	e := make([]float64, g+1)
	for i := range g {
		e[i] = lo + float64(i)*step
	}
	e[g] = hi
	return e
}
