// Package keys builds the redis keys used by the polygon query cache.
package keys

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
)

const (
	prefix = "polygons:q:v1:"
	// IndexKey is the redis set holding every live query key.
	IndexKey = "polygons:q:index"
	// GenKey counts invalidation passes; fills that straddle one are dropped.
	GenKey = "polygons:q:gen"
)

// Query returns the cache key for a bbox query. The rectangle is kept in
// clear text so invalidation can recover it from the key alone.
func Query(r model.Rect) string {
	canon := r.String()
	return fmt.Sprintf("%s%s:h=%016x", prefix, canon, xxhash.Sum64String(canon))
}

// ParseQuery recovers the rectangle from a key built by Query.
func ParseQuery(key string) (model.Rect, bool) {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return model.Rect{}, false
	}
	canon, sum, ok := strings.Cut(rest, ":h=")
	if !ok || fmt.Sprintf("%016x", xxhash.Sum64String(canon)) != sum {
		return model.Rect{}, false
	}
	parts := strings.Split(canon, ",")
	if len(parts) != 4 {
		return model.Rect{}, false
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return model.Rect{}, false
		}
		v[i] = f
	}
	r := model.Rect{MinLat: v[0], MinLng: v[1], MaxLat: v[2], MaxLng: v[3]}
	return r, r.Valid()
}
