package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"ADDR", "STORE_DRIVER", "MIN_ZOOM", "SPLIT_TARGET", "DEBOUNCE_DELAY", "FETCH_RETRY_MAX", "COVERAGE_MODE"} {
		t.Setenv(k, "")
	}
	c := FromEnv()
	if c.Addr != ":3000" {
		t.Fatalf("addr got %q", c.Addr)
	}
	if c.Store.Driver != "sqlite" {
		t.Fatalf("driver got %q", c.Store.Driver)
	}
	if c.Client.MinZoom != 8 || c.Client.SplitTarget != 10 || c.Client.FetchRetryMax != 2 {
		t.Fatalf("client got %+v", c.Client)
	}
	if c.Client.DebounceDelay != time.Second || c.Client.CoverageMode != "last" {
		t.Fatalf("client got %+v", c.Client)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("SPLIT_TARGET", "0")
	t.Setenv("QUANT_PRECISION", "-3")
	t.Setenv("DEBOUNCE_DELAY", "250ms")
	t.Setenv("METRICS_ENABLED", "no")
	t.Setenv("KAFKA_BROKERS", " a:9092, ,b:9092 ")

	c := FromEnv()
	if c.Store.Driver != "memory" {
		t.Fatalf("driver got %q want memory", c.Store.Driver)
	}
	if c.Client.SplitTarget != 1 || c.Client.Precision != 0 {
		t.Fatalf("clamps got split=%d precision=%d", c.Client.SplitTarget, c.Client.Precision)
	}
	if c.Client.DebounceDelay != 250*time.Millisecond {
		t.Fatalf("delay got %v", c.Client.DebounceDelay)
	}
	if c.MetricsEnabled {
		t.Fatal("metrics should be disabled")
	}
	got := c.Invalidation.BrokerList()
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("brokers got %v", got)
	}
}
