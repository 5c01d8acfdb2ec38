package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/config"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/ingest"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeHandler struct {
	called bool
	lastQ  model.Rect
}

func (f *fakeHandler) HandlePolygons(_ context.Context, w http.ResponseWriter, _ *http.Request, q model.Rect) {
	f.called = true
	f.lastQ = q
	WriteFeatures(w, nil)
}

func TestParsePolygonsQuery_Valid(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/polygons?minLat=24&minLng=-125&maxLat=49&maxLng=-66", nil)
	got, err := ParsePolygonsQuery(req)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	want := model.Rect{MinLat: 24, MinLng: -125, MaxLat: 49, MaxLng: -66}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestParsePolygonsQuery_Rejects(t *testing.T) {
	cases := map[string]string{
		"missing maxLng": "minLat=24&minLng=-125&maxLat=49",
		"not a number":   "minLat=abc&minLng=-125&maxLat=49&maxLng=-66",
		"inverted":       "minLat=49&minLng=-125&maxLat=24&maxLng=-66",
		"empty value":    "minLat=&minLng=-125&maxLat=49&maxLng=-66",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/polygons?"+raw, nil)
			if _, err := ParsePolygonsQuery(req); err == nil {
				t.Fatalf("expected error for %q", raw)
			}
		})
	}
}

func TestHandlePolygons_SeamDispatch(t *testing.T) {
	h := &fakeHandler{}
	hdl := HandlePolygons(quiet(), config.FromEnv(), h)

	req := httptest.NewRequest(http.MethodGet, "/polygons?minLat=1&minLng=2&maxLat=3&maxLng=4", nil)
	rr := httptest.NewRecorder()
	hdl(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	if !h.called || h.lastQ != (model.Rect{MinLat: 1, MinLng: 2, MaxLat: 3, MaxLng: 4}) {
		t.Fatalf("handler did not receive parsed query: %+v", h.lastQ)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Fatalf("body=%q want []", got)
	}
}

func TestHandlePolygons_BadRequest(t *testing.T) {
	h := &fakeHandler{}
	hdl := HandlePolygons(quiet(), config.FromEnv(), h)

	req := httptest.NewRequest(http.MethodGet, "/polygons?minLat=1", nil)
	rr := httptest.NewRecorder()
	hdl(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", rr.Code)
	}
	if h.called {
		t.Fatal("handler must not be called for a bad query")
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Message != MsgInvalidBBox {
		t.Fatalf("message=%q", body.Message)
	}
}

type fakeIngest struct {
	recs     []ingest.Record
	saved    int
	skipped  []ingest.RecordError
	err      error
	genCount int
	genBatch int
}

func (f *fakeIngest) Upload(_ context.Context, recs []ingest.Record) (int, []ingest.RecordError, error) {
	f.recs = recs
	return f.saved, f.skipped, f.err
}

func (f *fakeIngest) Generate(_ context.Context, _ *ingest.Generator, count, batch int) (int, error) {
	f.genCount, f.genBatch = count, batch
	return count, f.err
}

const twoRecords = `[
 {"id":"a","status":3,"geometry":"POLYGON((0 0,1 0,1 1,0 1,0 0))"},
 {"id":"b","status":1,"geometry":"POLYGON((2 2,3 2,3 3,2 3,2 2))"}
]`

func decodeUpload(t *testing.T, rr *httptest.ResponseRecorder) uploadResponse {
	t.Helper()
	var out uploadResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestHandleUpload_RawJSON(t *testing.T) {
	svc := &fakeIngest{saved: 2}
	hdl := HandleUpload(quiet(), config.FromEnv(), svc)

	req := httptest.NewRequest(http.MethodPost, "/upload-polygon", strings.NewReader(twoRecords))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	hdl(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if len(svc.recs) != 2 || svc.recs[1].ID != "b" {
		t.Fatalf("records=%+v", svc.recs)
	}
	out := decodeUpload(t, rr)
	if out.Message != "2 valid polygons uploaded and saved." || out.Saved != 2 {
		t.Fatalf("got %+v", out)
	}
}

func TestHandleUpload_Multipart(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(uploadField, "polygons.json")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte(twoRecords))
	_ = mw.Close()

	svc := &fakeIngest{saved: 1, skipped: []ingest.RecordError{{Index: 1, ID: "b", Err: ingest.ErrMissingGeometry}}}
	hdl := HandleUpload(quiet(), config.FromEnv(), svc)

	req := httptest.NewRequest(http.MethodPost, "/upload-polygon", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	hdl(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	out := decodeUpload(t, rr)
	if out.Saved != 1 || out.Skipped != 1 {
		t.Fatalf("got %+v", out)
	}
}

func TestHandleUpload_Errors(t *testing.T) {
	cases := []struct {
		name string
		body string
		svc  *fakeIngest
		code int
	}{
		{"not json", "hello", &fakeIngest{}, http.StatusBadRequest},
		{"object not array", `{"id":"a"}`, &fakeIngest{}, http.StatusBadRequest},
		{"nothing valid", twoRecords, &fakeIngest{saved: 0}, http.StatusBadRequest},
		{"store failure", twoRecords, &fakeIngest{err: errors.New("disk full")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hdl := HandleUpload(quiet(), config.FromEnv(), tc.svc)
			req := httptest.NewRequest(http.MethodPost, "/upload-polygon", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			hdl(rr, req)
			if rr.Code != tc.code {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tc.code, rr.Body.String())
			}
		})
	}
}

func TestHandleUpload_TooLarge(t *testing.T) {
	cfg := config.FromEnv()
	cfg.MaxUploadBytes = 16
	hdl := HandleUpload(quiet(), cfg, &fakeIngest{saved: 2})

	req := httptest.NewRequest(http.MethodPost, "/upload-polygon", strings.NewReader(twoRecords))
	rr := httptest.NewRecorder()
	hdl(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", rr.Code)
	}
}

func TestHandleGenerate_Params(t *testing.T) {
	svc := &fakeIngest{}
	hdl := HandleGenerate(quiet(), svc)

	rr := httptest.NewRecorder()
	hdl(rr, httptest.NewRequest(http.MethodGet, "/generate-random-polygons?count=25&batch=10", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if svc.genCount != 25 || svc.genBatch != 10 {
		t.Fatalf("count=%d batch=%d", svc.genCount, svc.genBatch)
	}

	rr = httptest.NewRecorder()
	hdl(rr, httptest.NewRequest(http.MethodGet, "/generate-random-polygons", nil))
	if svc.genCount != ingest.DefaultGenerateCount || svc.genBatch != ingest.DefaultGenerateBatch {
		t.Fatalf("defaults: count=%d batch=%d", svc.genCount, svc.genBatch)
	}

	for _, q := range []string{"count=0", "count=x", "batch=-1"} {
		rr = httptest.NewRecorder()
		hdl(rr, httptest.NewRequest(http.MethodGet, "/generate-random-polygons?"+q, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d want 400", q, rr.Code)
		}
	}
}

func TestHandleStatusStyles(t *testing.T) {
	rr := httptest.NewRecorder()
	HandleStatusStyles()(rr, httptest.NewRequest(http.MethodGet, "/status-styles", nil))

	var out []struct {
		Code  int    `json:"code"`
		Label string `json:"label"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 10 || out[2].Code != 3 || out[2].Label != "Good" {
		t.Fatalf("got %+v", out)
	}
}
