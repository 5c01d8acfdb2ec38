package metrics

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("scrape status=%d", rr.Code)
	}
	return rr.Body.String()
}

func TestInit_ExposesRuntimeAndBuildInfo(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Revision: "abc123", Branch: "main"}})
	body := scrape(t, p)

	for _, want := range []string{
		"go_goroutines",
		`app_build_info{branch="main",build_date="",revision="abc123",version="dev"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in payload:\n%s", want, body)
		}
	}
}

func TestRegister_AddsCollectorsToPrivateRegistry(t *testing.T) {
	p := Init(Config{})
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "viewport_test_total", Help: "t"})
	p.Register(c)
	c.Add(3)

	if got := testutil.ToFloat64(c); got != 3 {
		t.Fatalf("counter=%v want 3", got)
	}
	if !strings.Contains(scrape(t, p), "viewport_test_total 3") {
		t.Fatal("registered counter not in scrape")
	}
	if strings.Contains(scrape(t, Init(Config{})), "viewport_test_total") {
		t.Fatal("registries must not be shared between providers")
	}
}

func TestServe_NoAddrReturnsImmediately(t *testing.T) {
	p := Init(Config{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := p.Serve(context.Background(), logger); err != nil {
		t.Fatalf("Serve without addr: %v", err)
	}
}
