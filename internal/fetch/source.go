// Package fetch issues bounding-box queries for sub-regions concurrently and
// hands each result back as soon as it arrives.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/observability"
)

// Source answers "which features intersect this rectangle".
type Source interface {
	Query(ctx context.Context, r model.Rect) ([]model.Feature, error)
}

// StatusError is a non-2xx answer from the polygons endpoint.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("polygons endpoint status %d", e.Code)
	}
	return fmt.Sprintf("polygons endpoint status %d: %s", e.Code, e.Message)
}

// HTTPSource queries GET {base}/polygons with retry and backoff on network
// errors and 5xx answers. 4xx answers are returned immediately.
type HTTPSource struct {
	logger   *slog.Logger
	client   *retryablehttp.Client
	endpoint *url.URL
}

type HTTPOptions struct {
	Client       *http.Client
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

func NewHTTPSource(logger *slog.Logger, baseURL string, opts HTTPOptions) (*HTTPSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/polygons")
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	rc := retryablehttp.NewClient()
	if opts.Client != nil {
		rc.HTTPClient = opts.Client
	}
	rc.Logger = logger
	rc.RetryMax = max(opts.RetryMax, 0)
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}
	// keep the last response so the caller sees the real status code
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPSource{logger: logger, client: rc, endpoint: u}, nil
}

func (s *HTTPSource) Query(ctx context.Context, r model.Rect) ([]model.Feature, error) {
	u := *s.endpoint
	u.RawQuery = QueryValues(r).Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	observability.ObserveUpstreamLatency("polygons", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		var body struct {
			Message string `json:"message"`
		}
		msg := strings.TrimSpace(string(b))
		if json.Unmarshal(b, &body) == nil && body.Message != "" {
			msg = body.Message
		}
		return nil, &StatusError{Code: resp.StatusCode, Message: msg}
	}

	var feats []model.Feature
	if err := json.NewDecoder(resp.Body).Decode(&feats); err != nil {
		return nil, fmt.Errorf("decode features: %w", err)
	}
	return feats, nil
}

// QueryValues encodes r as the minLat/minLng/maxLat/maxLng query parameters.
func QueryValues(r model.Rect) url.Values {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	v := url.Values{}
	v.Set("minLat", f(r.MinLat))
	v.Set("minLng", f(r.MinLng))
	v.Set("maxLat", f(r.MaxLat))
	v.Set("maxLng", f(r.MaxLng))
	return v
}

// IsClientError reports whether err is a 4xx answer.
func IsClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 400 && se.Code < 500
}
