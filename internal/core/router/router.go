package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/config"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/observability"
)

const MsgInvalidBBox = "Please provide valid bounding box parameters (minLat, minLng, maxLat, maxLng)."

var errMissingParam = errors.New("missing parameter")

// receives validated bbox queries and serves them
type PolygonsHandler interface {
	HandlePolygons(ctx context.Context, w http.ResponseWriter, r *http.Request, q model.Rect)
}

// validates the bbox params and calls the handler
func HandlePolygons(logger *slog.Logger, _ config.Config, h PolygonsHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		q, err := ParsePolygonsQuery(r)
		if err != nil {
			logger.Debug("rejected polygons query", "query", r.URL.RawQuery, "err", err)
			WriteMessage(sw, http.StatusBadRequest, MsgInvalidBBox)
			observability.ObserveHTTP(r.Method, "/polygons", http.StatusBadRequest, time.Since(start).Seconds())
			return
		}

		h.HandlePolygons(r.Context(), sw, r, q)
		observability.ObserveHTTP(r.Method, "/polygons", sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// ParsePolygonsQuery reads minLat, minLng, maxLat and maxLng. All four are
// required and must form a valid rectangle.
func ParsePolygonsQuery(r *http.Request) (model.Rect, error) {
	v := r.URL.Query()
	var out model.Rect
	fields := []struct {
		name string
		dst  *float64
	}{
		{"minLat", &out.MinLat},
		{"minLng", &out.MinLng},
		{"maxLat", &out.MaxLat},
		{"maxLng", &out.MaxLng},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(v.Get(f.name))
		if raw == "" {
			return model.Rect{}, fmt.Errorf("%s: %w", f.name, errMissingParam)
		}
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return model.Rect{}, fmt.Errorf("%s: parse float: %w", f.name, err)
		}
		*f.dst = n
	}
	if !out.Valid() {
		return model.Rect{}, fmt.Errorf("bbox %s is not a valid rectangle", out)
	}
	return out, nil
}

type messageBody struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteMessage writes {"message": msg}.
func WriteMessage(w http.ResponseWriter, code int, msg string) {
	WriteJSON(w, code, messageBody{Message: msg})
}

// WriteError writes {"message": msg, "error": err}.
func WriteError(w http.ResponseWriter, code int, msg string, err error) {
	body := messageBody{Message: msg}
	if err != nil {
		body.Error = err.Error()
	}
	WriteJSON(w, code, body)
}

// WriteFeatures writes feats as a JSON array, never null.
func WriteFeatures(w http.ResponseWriter, feats []model.Feature) {
	if feats == nil {
		feats = []model.Feature{}
	}
	WriteJSON(w, http.StatusOK, feats)
}
