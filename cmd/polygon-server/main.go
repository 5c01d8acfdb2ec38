package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/cache/querycache"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/config"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/health"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/observability"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/server"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/ingest"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/invalidation"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/logger"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/metrics"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/scenarios"
	_ "github.com/mohammed-shakir/polygon-viewport-cache/internal/scenarios/baseline"
	_ "github.com/mohammed-shakir/polygon-viewport-cache/internal/scenarios/cache"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/store"
	_ "github.com/mohammed-shakir/polygon-viewport-cache/internal/store/memstore"
	_ "github.com/mohammed-shakir/polygon-viewport-cache/internal/store/postgis"
	_ "github.com/mohammed-shakir/polygon-viewport-cache/internal/store/sqlitestore"
	"github.com/mohammed-shakir/polygon-viewport-cache/pkg/invalidation/kafka"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env", ".env", "dotenv file loaded before reading the environment")
	scenarioFlag := flag.String("scenario", "", "scenario name (baseline|cache)")
	flag.Parse()

	// a missing .env is fine
	_ = godotenv.Load(*envFile)

	cfg := config.FromEnv()
	if *scenarioFlag != "" {
		cfg.Scenario = strings.TrimSpace(*scenarioFlag)
	}

	appLog := logger.New(logger.ConfigFromEnv("polygon-server", cfg.Scenario), os.Stdout)

	observability.SetScenario(cfg.Scenario)
	observability.ExposeBuildInfo(Version)
	appLog.Info("starting polygon server",
		"addr", cfg.Addr,
		"version", Version,
		"store", cfg.Store.Driver,
		"scenario", cfg.Scenario)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var reg prometheus.Registerer
	var routes server.Routes
	if cfg.MetricsEnabled {
		p := metrics.Init(metrics.Config{
			Addr: os.Getenv("METRICS_ADDR"),
			Path: os.Getenv("METRICS_PATH"),
			Build: metrics.BuildInfo{
				Version:   Version,
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		})
		observability.Init(p.Registerer(), true)
		reg = p.Registerer()
		routes.Metrics = p.Handler()
		go func() {
			if err := p.Serve(ctx, appLog); err != nil {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
	}

	st, err := store.Open(ctx, cfg.Store, appLog)
	if err != nil {
		appLog.Error("failed to open polygon store", "driver", cfg.Store.Driver, "err", err)
		return 1
	}
	defer func() {
		if err := st.Close(); err != nil {
			appLog.Error("store close", "err", err)
		}
	}()
	routes.Checks = map[string]health.Check{
		"store": func(ctx context.Context) error { return store.Ping(ctx, st) },
	}

	var qc *querycache.Cache
	if cfg.Scenario == "cache" {
		rc, err := redisstore.New(ctx, cfg.RedisAddr,
			redisstore.WithPoolSize(cfg.RedisPoolSize),
			redisstore.WithReadTimeout(cfg.CacheOpTimeout),
			redisstore.WithWriteTimeout(cfg.CacheOpTimeout),
		)
		if err != nil {
			appLog.Error("redis unavailable", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = rc.Close() }()
		qc = querycache.New(rc, cfg.CacheTTL, cfg.CacheOpTimeout, appLog)
		routes.Checks["redis"] = rc.Ping
	}

	icfg := kafka.FromConfig(cfg.Invalidation)
	pub, err := newPublisher(icfg, qc, appLog)
	if err != nil {
		appLog.Error("change publisher setup failed", "driver", icfg.Driver, "err", err)
		return 1
	}
	defer func() {
		if err := pub.Close(); err != nil {
			appLog.Error("change publisher close", "err", err)
		}
	}()

	if qc != nil {
		runner := kafka.New(icfg, qc, kafka.Options{Logger: appLog, Register: reg})
		if err := runner.Start(ctx); err != nil {
			appLog.Error("change feed consumer failed to start", "err", err)
			return 1
		}
		defer runner.Stop()
		routes.Ready = runner
	}

	routes.Polygons, err = scenarios.New(cfg.Scenario, cfg, appLog, scenarios.Deps{Store: st, Cache: qc})
	if err != nil {
		appLog.Error("scenario setup failed", "err", err)
		return 1
	}
	routes.Ingest = ingest.NewService(appLog, st, pub)

	if err := server.Run(ctx, cfg, appLog, routes); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// newPublisher picks where ingest announces changed bboxes: straight into the
// local query cache, onto the Kafka topic, or nowhere.
func newPublisher(icfg kafka.InvalidationConfig, qc *querycache.Cache, log *slog.Logger) (invalidation.Publisher, error) {
	if !icfg.Enabled {
		return invalidation.Nop{}, nil
	}
	switch icfg.Driver {
	case kafka.DriverKafka:
		host, _ := os.Hostname()
		return kafka.NewPublisher(icfg, "polygon-server@"+host, 1024, log)
	case kafka.DriverDirect:
		if qc == nil {
			log.Warn("direct invalidation needs the cache scenario; disabling")
			return invalidation.Nop{}, nil
		}
		return invalidation.NewDirect(qc), nil
	default:
		return invalidation.Nop{}, nil
	}
}
