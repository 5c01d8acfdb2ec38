package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/invalidation"
)

type fakeApplier struct {
	mu    sync.Mutex
	rects []model.Rect
	err   error
}

func (f *fakeApplier) InvalidateBBox(_ context.Context, rects ...model.Rect) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.rects = append(f.rects, rects...)
	return 3, nil
}

func (f *fakeApplier) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rects)
}

func event(source string, seq uint64) invalidation.Event {
	return invalidation.Event{
		Version: 1,
		Op:      invalidation.OpUpsert,
		TS:      time.Now().UTC(),
		Source:  source,
		Seq:     seq,
		BBox:    &invalidation.BBox{X1: -100, Y1: 30, X2: -99, Y2: 31, SRID: "EPSG:4326"},
	}
}

func message(t *testing.T, v any) *sarama.ConsumerMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "t", Offset: 1, Timestamp: time.Now().UTC(), Value: b}
}

func newRunner(a invalidation.Applier) (*Runner, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	cfg := InvalidationConfig{Enabled: true, Driver: DriverKafka}
	return New(cfg, a, Options{Register: reg}), reg
}

func TestHandleMessage_AppliesBBoxAndDedupes(t *testing.T) {
	fa := &fakeApplier{}
	r, _ := newRunner(fa)
	ctx := context.Background()

	msg := message(t, event("node-a", 1))
	if err := r.handleMessage(ctx, msg); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if fa.calls() != 1 {
		t.Fatalf("apply calls got %d want 1", fa.calls())
	}
	want := model.Rect{MinLat: 30, MinLng: -100, MaxLat: 31, MaxLng: -99}
	if fa.rects[0] != want {
		t.Fatalf("rect got %v want %v", fa.rects[0], want)
	}

	// redelivery of the same sequence is ignored
	if err := r.handleMessage(ctx, msg); err != nil {
		t.Fatalf("second handleMessage: %v", err)
	}
	if fa.calls() != 1 {
		t.Fatalf("duplicate applied: calls=%d", fa.calls())
	}
	if got := testutil.ToFloat64(r.ms.skipped); got != 1 {
		t.Fatalf("skipped got %v want 1", got)
	}

	// another source has its own sequence
	if err := r.handleMessage(ctx, message(t, event("node-b", 1))); err != nil {
		t.Fatalf("other source: %v", err)
	}
	if fa.calls() != 2 {
		t.Fatalf("calls got %d want 2", fa.calls())
	}
	if got := testutil.ToFloat64(r.ms.dropped); got != 6 {
		t.Fatalf("dropped got %v want 6", got)
	}
}

func TestHandleMessage_MalformedIsSkipped(t *testing.T) {
	fa := &fakeApplier{}
	r, _ := newRunner(fa)

	bad := &sarama.ConsumerMessage{Value: []byte("{not json")}
	if err := r.handleMessage(context.Background(), bad); err != nil {
		t.Fatalf("malformed should not error: %v", err)
	}
	invalid := event("node-a", 1)
	invalid.BBox = nil
	if err := r.handleMessage(context.Background(), message(t, invalid)); err != nil {
		t.Fatalf("invalid should not error: %v", err)
	}
	if fa.calls() != 0 {
		t.Fatal("nothing should have been applied")
	}
	if got := testutil.ToFloat64(r.ms.msgs.WithLabelValues("malformed")); got != 2 {
		t.Fatalf("malformed got %v want 2", got)
	}
}

func TestHandleMessage_ApplyErrorIsReturned(t *testing.T) {
	fa := &fakeApplier{err: errors.New("redis down")}
	r, _ := newRunner(fa)
	if err := r.handleMessage(context.Background(), message(t, event("node-a", 7))); err == nil {
		t.Fatal("expected error")
	}
}

func TestReadiness(t *testing.T) {
	disabled := New(InvalidationConfig{Driver: DriverNone}, nil, Options{})
	if ok, _ := disabled.Readiness(); !ok {
		t.Fatal("disabled runner should be ready")
	}
	if err := disabled.Start(context.Background()); err != nil {
		t.Fatalf("disabled start: %v", err)
	}
	disabled.Stop()

	r, _ := newRunner(&fakeApplier{})
	if ok, _ := r.Readiness(); ok {
		t.Fatal("unassigned runner should not be ready")
	}
}

func TestPublisher_StampsSourceAndSequence(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = false
	mp := mocks.NewAsyncProducer(t, cfg)

	var seen []uint64
	var mu sync.Mutex
	check := func(want uint64) mocks.ValueChecker {
		return func(b []byte) error {
			var ev invalidation.Event
			if err := json.Unmarshal(b, &ev); err != nil {
				return err
			}
			if !strings.HasPrefix(ev.Source, "node-a/") || ev.Seq != want {
				return fmt.Errorf("got source=%q seq=%d want node-a/<id> seq %d", ev.Source, ev.Seq, want)
			}
			mu.Lock()
			seen = append(seen, ev.Seq)
			mu.Unlock()
			return nil
		}
	}
	mp.ExpectInputWithCheckerFunctionAndSucceed(check(1))
	mp.ExpectInputWithCheckerFunctionAndSucceed(check(2))

	p := newPublisher(mp, "polygon-changes", "node-a", 8, nil)
	ctx := context.Background()
	if err := p.Publish(ctx, event("ignored", 0)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := p.Publish(ctx, event("ignored", 0)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("produced %v want 2 messages", seen)
	}

	if err := p.Publish(ctx, invalidation.Event{}); err == nil {
		t.Fatal("invalid event should be rejected")
	}
}

// capture publishes n events through a fresh Publisher named source and
// returns the produced messages.
func capture(t *testing.T, source string, n int) []*sarama.ConsumerMessage {
	t.Helper()
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = false
	mp := mocks.NewAsyncProducer(t, cfg)

	var mu sync.Mutex
	var out []*sarama.ConsumerMessage
	for range n {
		mp.ExpectInputWithCheckerFunctionAndSucceed(func(b []byte) error {
			mu.Lock()
			defer mu.Unlock()
			out = append(out, &sarama.ConsumerMessage{Topic: "t", Offset: int64(len(out)), Value: b})
			return nil
		})
	}

	p := newPublisher(mp, "polygon-changes", source, 8, nil)
	for range n {
		if err := p.Publish(context.Background(), event("ignored", 0)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(out) != n {
		t.Fatalf("captured %d messages want %d", len(out), n)
	}
	return out
}

func TestRestartedPublisher_IsNotTreatedAsDuplicate(t *testing.T) {
	fa := &fakeApplier{}
	r, _ := newRunner(fa)
	ctx := context.Background()

	for _, m := range capture(t, "polygon-server@host", 3) {
		if err := r.handleMessage(ctx, m); err != nil {
			t.Fatalf("handleMessage: %v", err)
		}
	}
	// same host after a restart: sequence starts at 1 again
	after := capture(t, "polygon-server@host", 1)
	if err := r.handleMessage(ctx, after[0]); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if fa.calls() != 4 {
		t.Fatalf("apply calls=%d want 4", fa.calls())
	}
}

func TestPublisher_SourceIsPerInstance(t *testing.T) {
	a := newPublisher(mocks.NewAsyncProducer(t, mocks.NewTestConfig()), "t", "node-a", 1, nil)
	b := newPublisher(mocks.NewAsyncProducer(t, mocks.NewTestConfig()), "t", "node-a", 1, nil)
	defer func() { _ = a.Close(); _ = b.Close() }()
	if a.Source() == b.Source() {
		t.Fatalf("two instances share source %q", a.Source())
	}
	if !strings.HasPrefix(a.Source(), "node-a/") {
		t.Fatalf("source %q lost its configured name", a.Source())
	}
}
