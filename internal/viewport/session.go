package viewport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/observability"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/debounce"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/fetch"
)

// Viewport is what the map reports after a pan or zoom. A zero Bounds
// means the map has no bounds yet.
type Viewport struct {
	Bounds model.Rect
	Zoom   int
}

// Fetcher is satisfied by *fetch.Orchestrator.
type Fetcher interface {
	FetchAll(ctx context.Context, rects []model.Rect, deliver fetch.DeliverFunc) <-chan struct{}
}

// Session ties one map view to its cache: viewport changes are debounced,
// evaluated, fetched and presented.
type Session struct {
	logger *slog.Logger
	cache  *Cache
	sink   *Sink
	fetch  Fetcher
	deb    *debounce.Debouncer[Viewport]

	wg sync.WaitGroup
}

func NewSession(logger *slog.Logger, cfg Config, f Fetcher, r Renderer, delay time.Duration) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		logger: logger,
		cache:  NewCache(cfg),
		sink:   NewSink(r),
		fetch:  f,
	}
	s.deb = debounce.New(delay, func(ctx context.Context, v Viewport) {
		s.Evaluate(ctx, v)
	})
	return s
}

// Run processes debounced viewport changes until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	return s.deb.Run(ctx)
}

// Close evaluates any pending viewport change right away and makes Run
// return. Call Wait after Run has returned to join the fetches it started.
func (s *Session) Close() { s.deb.Close() }

// ViewportChanged queues v; only the last change in a quiet period is
// evaluated.
func (s *Session) ViewportChanged(ctx context.Context, v Viewport) bool {
	return s.deb.Notify(ctx, v)
}

// Evaluate handles one settled viewport immediately. Fetches and in-flight
// subscriptions continue in the background; use Wait to join them.
func (s *Session) Evaluate(ctx context.Context, v Viewport) Evaluation {
	ev := s.cache.Evaluate(v.Bounds, v.Zoom)
	observability.IncViewportDecision(ev.Decision.String())

	switch ev.Decision {
	case DecisionSkip:
		s.logger.Debug("viewport skipped", "zoom", v.Zoom)

	case DecisionHit:
		n := s.sink.Present(ev.Cached)
		s.logger.Debug("region cache hit", "key", ev.Key.String(), "rendered", n)

	case DecisionInFlight:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			select {
			case <-ev.Wait:
				feats, _, _ := s.cache.Features(ev.Key)
				s.sink.Present(feats)
			case <-ctx.Done():
			}
		}()

	case DecisionContained, DecisionCovered:
		s.logger.Debug("region already covered", "key", ev.Key.String(), "decision", ev.Decision.String())

	case DecisionFetch:
		rects := make([]model.Rect, len(ev.Tasks))
		for i, t := range ev.Tasks {
			rects[i] = t.Rect
		}
		s.logger.Info("fetching region", "key", ev.Key.String(), "tasks", len(rects))
		s.wg.Add(1)
		done := s.fetch.FetchAll(ctx, rects, func(i int, feats []model.Feature, err error) {
			if state, ok := s.cache.Deliver(ev.Tasks[i], feats, err); ok && state == StateComplete {
				s.logger.Debug("region complete", "key", ev.Key.String())
			}
			if err == nil {
				s.sink.Present(feats)
			}
		})
		go func() {
			defer s.wg.Done()
			<-done
		}()
	}
	return ev
}

// Wait blocks until every fetch and subscription started so far finished.
func (s *Session) Wait() { s.wg.Wait() }

func (s *Session) Cache() *Cache { return s.cache }

func (s *Session) Sink() *Sink { return s.sink }
