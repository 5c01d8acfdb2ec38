package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/invalidation"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/logger"
)

var (
	ErrQueueFull = errors.New("change feed queue full")
	ErrClosed    = errors.New("change feed publisher closed")
)

// Publisher sends change events through an async producer. Publish never
// blocks the request path; a full queue drops the event.
//
// Sequence numbers restart with every Publisher, so the stamped source is
// the configured name plus a per-instance id. Consumers that remember the
// previous instance's high-water mark then treat a restarted server as a
// new source.
type Publisher struct {
	log     *slog.Logger
	topic   string
	source  string
	seq     atomic.Uint64
	events  chan invalidation.Event
	prod    sarama.AsyncProducer
	stopped chan struct{}
	errWG   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewPublisher(cfg InvalidationConfig, source string, queueSize int, log *slog.Logger) (*Publisher, error) {
	scfg := sarama.NewConfig()
	scfg.Version = sarama.V2_5_0_0
	scfg.Producer.Return.Errors = true
	scfg.Producer.Return.Successes = false
	scfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(cfg.Brokers, scfg)
	if err != nil {
		return nil, fmt.Errorf("create async producer: %w", err)
	}
	return newPublisher(prod, cfg.Topic, source, queueSize, log), nil
}

func newPublisher(prod sarama.AsyncProducer, topic, source string, queueSize int, log *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Publisher{
		log:     log,
		topic:   topic,
		source:  source + "/" + logger.NewID(),
		events:  make(chan invalidation.Event, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.log.Error("change feed marshal", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Source),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	p.errWG.Add(1)
	go func() {
		defer p.errWG.Done()
		for err := range p.prod.Errors() {
			if err != nil {
				p.log.Warn("change feed producer error", "err", err)
			}
		}
	}()
	return p
}

// Source is the name stamped on every event from this instance.
func (p *Publisher) Source() string { return p.source }

// Publish stamps ev with this publisher's source and next sequence number.
func (p *Publisher) Publish(_ context.Context, ev invalidation.Event) error {
	ev.Source = p.source
	ev.Seq = p.seq.Add(1)
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.events <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.stopped
	err := p.prod.Close()
	p.errWG.Wait()
	if err != nil {
		return fmt.Errorf("close producer: %w", err)
	}
	return nil
}
