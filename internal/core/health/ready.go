package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

// Check probes one dependency; nil means healthy.
type Check func(ctx context.Context) error

const checkTimeout = 2 * time.Second

// Readiness reports ready when rr (if any) is ready and every check passes.
func Readiness(rr ReadinessReporter, checks map[string]Check) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for n := range checks {
		names = append(names, n)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status     string            `json:"status"`
			Partitions []int32           `json:"partitions,omitempty"`
			Checks     map[string]string `json:"checks,omitempty"`
		}
		ready := true
		var parts []int32
		if rr != nil {
			ready, parts = rr.Readiness()
		}

		out := resp{Status: "not_ready"}
		if len(names) > 0 {
			out.Checks = make(map[string]string, len(names))
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			for _, n := range names {
				if err := checks[n](ctx); err != nil {
					ready = false
					out.Checks[n] = err.Error()
					continue
				}
				out.Checks[n] = "ok"
			}
		}
		if ready {
			out.Status = "ready"
			out.Partitions = parts
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
