package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/config"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/observability"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/ingest"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/status"
)

const (
	uploadField      = "polygonFile"
	maxGenerateCount = 100_000
)

// IngestService is what the write endpoints need from *ingest.Service.
type IngestService interface {
	Upload(ctx context.Context, recs []ingest.Record) (int, []ingest.RecordError, error)
	Generate(ctx context.Context, g *ingest.Generator, count, batch int) (int, error)
}

type uploadResponse struct {
	Message string `json:"message"`
	Saved   int    `json:"saved"`
	Skipped int    `json:"skipped"`
}

// HandleUpload accepts a multipart polygonFile or a raw JSON body holding an
// array of {id, status, geometry} records.
func HandleUpload(logger *slog.Logger, cfg config.Config, svc IngestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, "/upload-polygon", sw.code, time.Since(start).Seconds())
		}()

		if cfg.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(sw, r.Body, cfg.MaxUploadBytes)
		}
		body, closeBody, err := uploadBody(r, cfg.MaxUploadBytes)
		if err != nil {
			logger.Warn("upload rejected", "err", err)
			WriteMessage(sw, http.StatusBadRequest, "Please upload a valid JSON file.")
			return
		}
		defer closeBody()

		recs, err := ingest.DecodeRecords(body)
		if err != nil {
			logger.Warn("upload is not a JSON array", "err", err)
			WriteMessage(sw, http.StatusBadRequest, "Please upload a valid JSON file.")
			return
		}

		saved, skipped, err := svc.Upload(r.Context(), recs)
		if err != nil {
			logger.Error("saving uploaded polygons failed", "err", err)
			WriteError(sw, http.StatusInternalServerError, "Error saving polygons", err)
			return
		}
		if saved == 0 {
			WriteJSON(sw, http.StatusBadRequest, uploadResponse{
				Message: "No valid polygons to save.",
				Skipped: len(skipped),
			})
			return
		}
		WriteJSON(sw, http.StatusOK, uploadResponse{
			Message: fmt.Sprintf("%d valid polygons uploaded and saved.", saved),
			Saved:   saved,
			Skipped: len(skipped),
		})
	}
}

func uploadBody(r *http.Request, limit int64) (io.Reader, func(), error) {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "multipart/form-data" {
		return r.Body, func() {}, nil
	}
	if limit <= 0 {
		limit = 32 << 20
	}
	if err := r.ParseMultipartForm(limit); err != nil {
		return nil, nil, fmt.Errorf("parse multipart form: %w", err)
	}
	f, _, err := r.FormFile(uploadField)
	if err != nil {
		return nil, nil, fmt.Errorf("form file %q: %w", uploadField, err)
	}
	return f, func() { _ = f.Close() }, nil
}

type generateResponse struct {
	Message string `json:"message"`
	Saved   int    `json:"saved"`
}

// HandleGenerate saves count random hexagons over the continental US.
func HandleGenerate(logger *slog.Logger, svc IngestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, "/generate-random-polygons", sw.code, time.Since(start).Seconds())
		}()

		count, err := intParam(r, "count", ingest.DefaultGenerateCount)
		if err == nil && (count < 1 || count > maxGenerateCount) {
			err = fmt.Errorf("count must be in [1,%d]", maxGenerateCount)
		}
		if err != nil {
			WriteError(sw, http.StatusBadRequest, "Invalid count parameter.", err)
			return
		}
		batch, err := intParam(r, "batch", ingest.DefaultGenerateBatch)
		if err == nil && batch < 1 {
			err = errors.New("batch must be positive")
		}
		if err != nil {
			WriteError(sw, http.StatusBadRequest, "Invalid batch parameter.", err)
			return
		}

		now := time.Now()
		g := ingest.NewGenerator(uint64(now.UnixNano()), ingest.DefaultCellRes, "random_"+strconv.FormatInt(now.Unix(), 10))
		saved, err := svc.Generate(r.Context(), g, count, batch)
		if err != nil {
			logger.Error("generating random polygons failed", "saved", saved, "err", err)
			WriteError(sw, http.StatusInternalServerError, "Error generating polygons", err)
			return
		}
		WriteJSON(sw, http.StatusOK, generateResponse{
			Message: fmt.Sprintf("%d random polygons generated and saved.", saved),
			Saved:   saved,
		})
	}
}

// HandleStatusStyles lists the status code styles.
func HandleStatusStyles() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, status.All())
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}
