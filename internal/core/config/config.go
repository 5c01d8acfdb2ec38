package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Driver  string
	Topic   string
	Brokers string
	GroupID string
}

type StoreCfg struct {
	Driver     string
	Path       string
	PostGISDSN string
}

// ClientCfg drives the viewport session in cmd/viewport-sim.
type ClientCfg struct {
	ServerURL     string
	MinZoom       int
	Precision     int
	SplitTarget   int
	CoverageMode  string
	DebounceDelay time.Duration
	FetchTimeout  time.Duration
	FetchRetryMax int
	MaxParallel   int
}

type Config struct {
	Addr           string
	LogLevel       string
	Scenario       string
	RedisAddr      string
	RedisPoolSize  int
	CacheOpTimeout time.Duration
	CacheTTL       time.Duration
	MetricsEnabled bool
	MaxUploadBytes int64
	Store          StoreCfg
	Client         ClientCfg
	Invalidation   InvalidationCfg
}

func FromEnv() Config {
	precision := getint("QUANT_PRECISION", 0)
	if precision < 0 {
		precision = 0
	}
	split := getint("SPLIT_TARGET", 10)
	if split < 1 {
		split = 1
	}
	parallel := getint("FETCH_MAX_PARALLEL", 0)
	if parallel < 0 {
		parallel = 0
	}

	return Config{
		Addr:           getenv("ADDR", ":3000"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		Scenario:       getenv("SCENARIO", "baseline"),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		RedisPoolSize:  getint("REDIS_POOL_SIZE", 64),
		CacheOpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		CacheTTL:       getduration("CACHE_TTL_DEFAULT", 60*time.Second),
		MetricsEnabled: getbool("METRICS_ENABLED", true),
		MaxUploadBytes: int64(getint("MAX_UPLOAD_BYTES", 32<<20)),
		Store: StoreCfg{
			Driver:     strings.ToLower(getenv("STORE_DRIVER", "sqlite")),
			Path:       getenv("DB_PATH", "polygons.db"),
			PostGISDSN: getenv("POSTGIS_DSN", ""),
		},
		Client: ClientCfg{
			ServerURL:     getenv("SERVER_URL", "http://localhost:3000"),
			MinZoom:       getint("MIN_ZOOM", 8),
			Precision:     precision,
			SplitTarget:   split,
			CoverageMode:  getenv("COVERAGE_MODE", "last"),
			DebounceDelay: getduration("DEBOUNCE_DELAY", time.Second),
			FetchTimeout:  getduration("FETCH_TIMEOUT", 10*time.Second),
			FetchRetryMax: getint("FETCH_RETRY_MAX", 2),
			MaxParallel:   parallel,
		},
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Driver:  getenv("INVALIDATION_DRIVER", "none"),
			Topic:   getenv("KAFKA_TOPIC", "polygon-changes"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "query-cache-invalidator"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// BrokerList splits a comma separated broker list, dropping blanks.
func (c InvalidationCfg) BrokerList() []string {
	var out []string
	for b := range strings.SplitSeq(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
