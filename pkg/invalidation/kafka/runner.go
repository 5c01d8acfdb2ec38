// Package kafka moves polygon change events over Kafka: Publisher produces
// them on ingest and Runner consumes them to invalidate the query cache.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/observability"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/invalidation"
)

type Runner struct {
	log   *slog.Logger
	cfg   InvalidationConfig
	apply invalidation.Applier
	ms    *metricSet
	ver   *versionDedupe

	// owned is nil until the first group session starts and after revoke.
	mu    sync.Mutex
	owned []int32

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
}

func New(cfg InvalidationConfig, a invalidation.Applier, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		log:   opts.Logger,
		cfg:   cfg,
		apply: a,
		ms:    newMetricSet(opts.Register),
		ver:   newVersionDedupe(8192),
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if !r.cfg.kafkaEnabled() {
		r.log.Info("change feed consumer disabled", "driver", r.cfg.Driver, "enabled", r.cfg.Enabled)
		return nil
	}
	if r.apply == nil {
		return errors.New("kafka runner: query cache dependency is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = r.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = r.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = r.cfg.RebalanceTimeout
	if r.cfg.InitialOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(r.cfg.Brokers, r.cfg.GroupID, cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("consumer group: %w", err)
	}

	h := &groupHandler{
		setup:   r.claimed,
		cleanup: func(sarama.ConsumerGroupSession) { r.released() },
		process: r.handleMessage,
	}

	r.wg.Add(2)
	go r.consume(ctx, group, h)
	go func() {
		defer r.wg.Done()
		for err := range group.Errors() {
			r.log.Error("kafka group error", "err", err)
		}
	}()

	r.log.Info("change feed consumer started",
		"topic", r.cfg.Topic, "group", r.cfg.GroupID, "brokers", r.cfg.Brokers)
	return nil
}

// consume re-joins the group after every session until ctx ends, backing off
// two seconds after a failed session.
func (r *Runner) consume(ctx context.Context, group sarama.ConsumerGroup, h sarama.ConsumerGroupHandler) {
	defer r.wg.Done()
	defer func() {
		if err := group.Close(); err != nil {
			r.log.Error("kafka consumer group close", "err", err)
		}
	}()

	topics := []string{r.cfg.Topic}
	for ctx.Err() == nil {
		err := group.Consume(ctx, topics, h)
		if err == nil || ctx.Err() != nil {
			continue
		}
		r.log.Error("kafka consume", "topic", r.cfg.Topic, "err", err)
		t := time.NewTimer(2 * time.Second)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info("change feed consumer stopped")
}

func (r *Runner) claimed(sess sarama.ConsumerGroupSession) {
	var parts []int32
	for _, ps := range sess.Claims() {
		parts = append(parts, ps...)
	}
	slices.Sort(parts)

	r.mu.Lock()
	r.owned = append(make([]int32, 0, len(parts)), parts...)
	r.mu.Unlock()
}

func (r *Runner) released() {
	r.mu.Lock()
	r.owned = nil
	r.mu.Unlock()
}

// Readiness reports whether the group currently owns a session, with the
// claimed partitions in order. A disabled runner is always ready.
func (r *Runner) Readiness() (bool, []int32) {
	if !r.cfg.kafkaEnabled() {
		return true, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owned == nil {
		return false, nil
	}
	return true, slices.Clone(r.owned)
}

// handleMessage applies one event. Malformed messages are counted and
// skipped so they do not wedge the partition; apply failures are returned so
// the message is retried after a rebalance.
func (r *Runner) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	if !msg.Timestamp.IsZero() {
		observability.SetInvalidationLagSeconds(time.Since(msg.Timestamp).Seconds())
	}

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		r.ms.msgs.WithLabelValues("malformed").Inc()
		r.log.Warn("change feed decode", "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		r.ms.msgs.WithLabelValues("malformed").Inc()
		r.log.Warn("change feed validate", "offset", msg.Offset, "err", err)
		return nil
	}
	if ev.Seq > 0 && !r.ver.shouldApply(ev.Source, ev.Seq) {
		r.ms.skipped.Inc()
		r.ms.msgs.WithLabelValues("duplicate").Inc()
		return nil
	}

	n, err := r.apply.InvalidateBBox(ctx, ev.BBox.Rect())
	r.ms.apply.Observe(time.Since(start).Seconds())
	if err != nil {
		r.ms.msgs.WithLabelValues("error").Inc()
		return fmt.Errorf("apply %s seq %d: %w", ev.Source, ev.Seq, err)
	}
	r.ms.msgs.WithLabelValues("ok").Inc()
	r.ms.dropped.Add(float64(n))
	return nil
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			return fmt.Errorf("process (part=%d, off=%d): %w", msg.Partition, msg.Offset, err)
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
