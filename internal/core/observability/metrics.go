package observability

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var scenarioLabel atomic.Value

func init() {
	scenarioLabel.Store("baseline")
}

func SetScenario(s string) {
	if s == "" {
		s = "baseline"
	}
	scenarioLabel.Store(s)
}

func getScenario() string {
	if v := scenarioLabel.Load(); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "baseline"
}

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status", "scenario"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status", "scenario"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream", "scenario"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	storeQuerySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_query_duration_seconds",
			Help:    "Latency of geometry store bbox queries.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"driver", "result"},
	)

	storeQueryFeatures = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_query_features",
			Help:    "Number of features returned per store query.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"driver"},
	)

	queryCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "query_cache_results_total",
			Help: "Server-side query cache lookups by outcome.",
		},
		[]string{"outcome", "scenario"},
	)

	cacheOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis operations by op and result.",
		},
		[]string{"op", "result"},
	)

	cacheOpSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of redis operations.",
			Buckets: prometheus.ExponentialBuckets(0.0002, 2, 14),
		},
		[]string{"op"},
	)

	viewportDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewport_decisions_total",
			Help: "Viewport evaluations by decision.",
		},
		[]string{"decision"},
	)

	fetchTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_tasks_total",
			Help: "Sub-rectangle fetch tasks by result.",
		},
		[]string{"result"},
	)

	featuresRendered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "features_rendered_total",
			Help: "Features handed to the renderer after dedup.",
		},
	)

	ingestRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_records_total",
			Help: "Ingested polygon records by result.",
		},
		[]string{"result"},
	)

	invalidationLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "invalidation_lag_seconds",
			Help: "Age of the last applied change-feed event.",
		},
	)
)

func all() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds,
		storeQuerySeconds, storeQueryFeatures, queryCacheResults, cacheOpsTotal, cacheOpSeconds,
		viewportDecisions, fetchTasks, featuresRendered, ingestRecords, invalidationLag,
	}
}

// Init additionally exposes every collector on reg (the default registry is
// always populated). Build info is left to the registry's owner.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	for _, c := range all() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	s := getScenario()
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st, s).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st, s).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream, getScenario()).Observe(durationSeconds)
}

func ObserveStoreQuery(driver string, err error, durationSeconds float64, n int) {
	storeQuerySeconds.WithLabelValues(driver, resultLabel(err)).Observe(durationSeconds)
	if err == nil {
		storeQueryFeatures.WithLabelValues(driver).Observe(float64(n))
	}
}

func IncQueryCacheHit()  { queryCacheResults.WithLabelValues("hit", getScenario()).Inc() }
func IncQueryCacheMiss() { queryCacheResults.WithLabelValues("miss", getScenario()).Inc() }

func IncQueryCacheError() { queryCacheResults.WithLabelValues("error", getScenario()).Inc() }

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	cacheOpsTotal.WithLabelValues(op, resultLabel(err)).Inc()
	cacheOpSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func IncViewportDecision(decision string) { viewportDecisions.WithLabelValues(decision).Inc() }

func IncFetchTask(err error) { fetchTasks.WithLabelValues(resultLabel(err)).Inc() }

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func AddFeaturesRendered(n int) {
	if n > 0 {
		featuresRendered.Add(float64(n))
	}
}

func AddIngestRecords(result string, n int) {
	if n > 0 {
		ingestRecords.WithLabelValues(result).Add(float64(n))
	}
}

func SetInvalidationLagSeconds(v float64) { invalidationLag.Set(v) }

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
