package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/httpclient"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/fetch"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/logger"
)

type options struct {
	target      string
	concurrency int
	duration    time.Duration
	zipfS       float64
	zipfV       float64
	boxes       int
	out         string
	timeout     time.Duration
	seed        uint64
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.target, "target", "http://localhost:3000", "polygon server base URL")
	flag.IntVar(&o.concurrency, "concurrency", 32, "concurrent workers")
	flag.DurationVar(&o.duration, "duration", 60*time.Second, "test duration")
	flag.Float64Var(&o.zipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	flag.Float64Var(&o.zipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	flag.IntVar(&o.boxes, "boxes", 128, "distinct query boxes in the pool")
	flag.StringVar(&o.out, "out", "results/loadgen", "output prefix for the samples CSV and summary JSON")
	flag.DurationVar(&o.timeout, "timeout", 10*time.Second, "per-request timeout")
	flag.Uint64Var(&o.seed, "seed", uint64(time.Now().UnixNano()), "workload seed")
	flag.Parse()
	return o
}

type sample struct {
	at      time.Time
	latency time.Duration
	status  int
	err     string
	box     int
}

type summary struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	DurationSec   float64   `json:"duration_sec"`
	Total         int64     `json:"total"`
	Success       int64     `json:"success"`
	Errors        int64     `json:"errors"`
	ThroughputRPS float64   `json:"throughput_rps"`
	P50Ms         float64   `json:"p50_ms"`
	P95Ms         float64   `json:"p95_ms"`
	P99Ms         float64   `json:"p99_ms"`
	Concurrency   int       `json:"concurrency"`
	ZipfS         float64   `json:"zipf_s"`
	ZipfV         float64   `json:"zipf_v"`
	Boxes         int       `json:"boxes"`
	Target        string    `json:"target"`
}

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()
	o := parseFlags()
	log := logger.New(logger.ConfigFromEnv("loadgen", ""), os.Stdout)

	if o.concurrency < 1 || o.boxes < 1 {
		log.Error("concurrency and boxes must be positive")
		return 2
	}
	if o.zipfS <= 1 || o.zipfV < 1 {
		log.Error("zipf parameters need s > 1 and v >= 1", "zipf_s", o.zipfS, "zipf_v", o.zipfV)
		return 2
	}
	endpoint, err := url.Parse(strings.TrimRight(o.target, "/") + "/polygons")
	if err != nil {
		log.Error("bad target", "target", o.target, "err", err)
		return 2
	}
	prefix := fmt.Sprintf("%s_%s", o.out, time.Now().UTC().Format("20060102_150405Z"))
	if err := os.MkdirAll(filepath.Dir(prefix), 0o750); err != nil {
		log.Error("mkdir results", "err", err)
		return 1
	}

	boxes := makeBoxes(o.boxes, defaultBounds(), rand.New(rand.NewPCG(o.seed, 1)))
	client := httpclient.NewOutbound(o.timeout)

	ctx, cancel := context.WithTimeout(context.Background(), o.duration)
	defer cancel()

	samples := make(chan sample, 4096)
	var wg sync.WaitGroup
	for id := range o.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			work(ctx, client, endpoint, boxes, o, uint64(id), samples)
		}()
	}
	go func() {
		wg.Wait()
		close(samples)
	}()

	log.Info("loadgen start", "target", endpoint.String(), "duration", o.duration.String(),
		"concurrency", o.concurrency, "boxes", len(boxes), "zipf_s", o.zipfS, "zipf_v", o.zipfV)
	start := time.Now()
	sum, err := collect(samples, prefix+"_samples.csv")
	if err != nil {
		log.Error("write samples", "err", err)
		return 1
	}
	sum.Start, sum.End = start.UTC(), time.Now().UTC()
	sum.DurationSec = sum.End.Sub(sum.Start).Seconds()
	if sum.DurationSec > 0 {
		sum.ThroughputRPS = float64(sum.Total) / sum.DurationSec
	}
	sum.Concurrency, sum.ZipfS, sum.ZipfV, sum.Boxes, sum.Target = o.concurrency, o.zipfS, o.zipfV, len(boxes), endpoint.String()

	if err := writeSummary(prefix+"_summary.json", sum); err != nil {
		log.Error("write summary", "err", err)
		return 1
	}
	log.Info("loadgen done", "total", sum.Total, "success", sum.Success, "errors", sum.Errors,
		"rps", sum.ThroughputRPS, "p50_ms", sum.P50Ms, "p95_ms", sum.P95Ms, "p99_ms", sum.P99Ms,
		"out", prefix)
	return 0
}

func work(ctx context.Context, client *http.Client, endpoint *url.URL, boxes []model.Rect, o options, id uint64, out chan<- sample) {
	r := rand.New(rand.NewPCG(o.seed, id+2))
	zipf := rand.NewZipf(r, o.zipfS, o.zipfV, uint64(len(boxes)-1))
	for ctx.Err() == nil {
		idx := int(zipf.Uint64())
		u := *endpoint
		u.RawQuery = fetch.QueryValues(boxes[idx]).Encode()

		began := time.Now()
		s := sample{at: began, box: idx}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err == nil {
			var resp *http.Response
			if resp, err = client.Do(req); err == nil {
				s.status = resp.StatusCode
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
				if resp.StatusCode < 200 || resp.StatusCode >= 300 {
					s.err = "status=" + strconv.Itoa(resp.StatusCode)
				}
			}
		}
		s.latency = time.Since(began)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.err = err.Error()
		}

		select {
		case out <- s:
		case <-ctx.Done():
			return
		}
	}
}

func collect(samples <-chan sample, csvPath string) (summary, error) {
	var sum summary
	f, err := os.Create(filepath.Clean(csvPath))
	if err != nil {
		for range samples {
		}
		return sum, fmt.Errorf("create %s: %w", csvPath, err)
	}
	defer func() { _ = f.Close() }()
	w := csv.NewWriter(f)
	_ = w.Write([]string{"timestamp", "latency_ms", "status", "error", "box"})

	lat := make([]float64, 0, 1<<16)
	for s := range samples {
		sum.Total++
		ms := float64(s.latency.Microseconds()) / 1000.0
		if s.err == "" {
			sum.Success++
			lat = append(lat, ms)
		} else {
			sum.Errors++
		}
		_ = w.Write([]string{
			s.at.UTC().Format(time.RFC3339Nano),
			strconv.FormatFloat(ms, 'f', 3, 64),
			strconv.Itoa(s.status),
			s.err,
			strconv.Itoa(s.box),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return sum, fmt.Errorf("flush %s: %w", csvPath, err)
	}

	sort.Float64s(lat)
	sum.P50Ms, sum.P95Ms, sum.P99Ms = percentile(lat, 50), percentile(lat, 95), percentile(lat, 99)
	return sum, nil
}

func writeSummary(path string, sum summary) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode summary: %w", err)
	}
	return f.Close()
}
