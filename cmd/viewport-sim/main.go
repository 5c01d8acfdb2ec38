package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/config"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/httpclient"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/fetch"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/logger"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/region"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/status"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/viewport"
)

// step is one scripted map move.
type step struct {
	model.Rect
	Zoom int `json:"zoom"`
}

var defaultTour = []step{
	{Rect: model.Rect{MinLat: 24, MinLng: -125, MaxLat: 49, MaxLng: -66}, Zoom: 10},
	{Rect: model.Rect{MinLat: 37.2, MinLng: -122.6, MaxLat: 37.9, MaxLng: -121.9}, Zoom: 12},
	{Rect: model.Rect{MinLat: 30, MinLng: -100, MaxLat: 35, MaxLng: -95}, Zoom: 11},
	{Rect: model.Rect{MinLat: 10, MinLng: -140, MaxLat: 60, MaxLng: -50}, Zoom: 5},
	{Rect: model.Rect{MinLat: 45.1, MinLng: -60.9, MaxLat: 47.8, MaxLng: -55.2}, Zoom: 9},
	{Rect: model.Rect{MinLat: 45.3, MinLng: -60.7, MaxLat: 47.6, MaxLng: -55.4}, Zoom: 9},
}

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env", ".env", "dotenv file loaded before reading the environment")
	scriptPath := flag.String("script", "", "JSON array of {minLat,minLng,maxLat,maxLng,zoom}; default is a built-in tour")
	pause := flag.Duration("pause", 0, "time between moves (default: twice the debounce delay)")
	flag.Parse()

	_ = godotenv.Load(*envFile)
	cfg := config.FromEnv()
	appLog := logger.New(logger.ConfigFromEnv("viewport-sim", ""), os.Stdout)

	tour := defaultTour
	if *scriptPath != "" {
		var err error
		if tour, err = loadScript(*scriptPath); err != nil {
			appLog.Error("failed to load script", "path", *scriptPath, "err", err)
			return 1
		}
	}
	if *pause <= 0 {
		*pause = 2 * cfg.Client.DebounceDelay
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, err := fetch.NewHTTPSource(appLog, cfg.Client.ServerURL, fetch.HTTPOptions{
		Client:   httpclient.NewOutbound(0),
		RetryMax: cfg.Client.FetchRetryMax,
	})
	if err != nil {
		appLog.Error("bad server url", "url", cfg.Client.ServerURL, "err", err)
		return 1
	}
	orch := fetch.NewOrchestrator(appLog, src, fetch.Options{
		Timeout:     cfg.Client.FetchTimeout,
		MaxParallel: cfg.Client.MaxParallel,
	})

	tally := &statusTally{counts: map[int]int{}}
	sess := viewport.NewSession(appLog, viewport.Config{
		Quantizer:   region.NewQuantizer(cfg.Client.MinZoom, cfg.Client.Precision),
		SplitTarget: cfg.Client.SplitTarget,
		Coverage:    viewport.ParseCoverageMode(cfg.Client.CoverageMode),
	}, orch, viewport.RendererFunc(func(f model.Feature) {
		tally.add(f.Status)
		appLog.Debug("render", "id", f.ID, "status", f.Status)
	}), cfg.Client.DebounceDelay)

	runCtx, cancelRun := context.WithCancel(ctx)
	runDone := make(chan error, 1)
	go func() { runDone <- sess.Run(runCtx) }()

	appLog.Info("viewport tour starting", "server", cfg.Client.ServerURL, "moves", len(tour), "pause", pause.String())
	for i, s := range tour {
		if !sess.ViewportChanged(ctx, viewport.Viewport{Bounds: s.Rect, Zoom: s.Zoom}) {
			break
		}
		appLog.Info("map moved", "move", i, "bbox", s.Rect.String(), "zoom", s.Zoom)
		select {
		case <-time.After(*pause):
		case <-ctx.Done():
		}
	}

	// flush the last move, then join its fetches; they run on runCtx
	sess.Close()
	if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
		appLog.Warn("viewport session stopped", "err", err)
	}
	sess.Wait()
	cancelRun()

	st := sess.Cache().Stats()
	appLog.Info("viewport tour finished",
		"regions", st.Regions,
		"complete", st.Complete,
		"covered", st.Covered,
		"failed_tasks", st.Failed,
		"rendered", sess.Sink().Rendered())
	tally.log(appLog)
	return 0
}

func loadScript(path string) ([]step, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var out []step
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("script %s has no moves", path)
	}
	return out, nil
}

type statusTally struct {
	mu     sync.Mutex
	counts map[int]int
}

func (t *statusTally) add(code int) {
	t.mu.Lock()
	t.counts[code]++
	t.mu.Unlock()
}

func (t *statusTally) log(l *slog.Logger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	codes := make([]int, 0, len(t.counts))
	for c := range t.counts {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	for _, c := range codes {
		s := status.Lookup(c)
		l.Info("rendered by status", "status", c, "label", s.Label, "color", s.Color, "count", t.counts[c])
	}
}
