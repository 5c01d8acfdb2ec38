// Package ingest turns uploaded WKT records and generated cells into stored
// polygon features.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/paulmach/orb/encoding/wkt"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
)

// Record is one entry of an upload file: a JSON array of these objects.
type Record struct {
	ID       string `json:"id"`
	Status   int    `json:"status"`
	Geometry string `json:"geometry"`
}

// RecordError ties a rejected record to the reason it was skipped.
type RecordError struct {
	Index int
	ID    string
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d (id %q): %v", e.Index, e.ID, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

var (
	ErrMissingID       = errors.New("missing id")
	ErrMissingGeometry = errors.New("missing geometry")
	ErrNotArray        = errors.New("upload must be a JSON array of records")
)

// DecodeRecords reads a JSON array of records. Unknown fields are ignored.
func DecodeRecords(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, ErrNotArray
	}
	var out []Record
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return out, nil
}

// ToFeature parses the WKT geometry of rec and derives its bbox.
func ToFeature(rec Record) (model.Feature, error) {
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return model.Feature{}, ErrMissingID
	}
	if strings.TrimSpace(rec.Geometry) == "" {
		return model.Feature{}, ErrMissingGeometry
	}
	g, err := wkt.Unmarshal(rec.Geometry)
	if err != nil {
		return model.Feature{}, fmt.Errorf("parse wkt: %w", err)
	}
	return model.NewFeature(id, rec.Status, g)
}

// Result is the outcome of converting a batch: valid features plus one
// error per skipped record.
type Result struct {
	Features []model.Feature
	Skipped  []RecordError
}

// Convert keeps every record that parses and collects the rest. When the
// same id appears twice the later record wins.
func Convert(recs []Record) Result {
	var res Result
	pos := make(map[string]int, len(recs))
	for i, rec := range recs {
		f, err := ToFeature(rec)
		if err != nil {
			res.Skipped = append(res.Skipped, RecordError{Index: i, ID: rec.ID, Err: err})
			continue
		}
		if j, ok := pos[f.ID]; ok {
			res.Features[j] = f
			continue
		}
		pos[f.ID] = len(res.Features)
		res.Features = append(res.Features, f)
	}
	return res
}
