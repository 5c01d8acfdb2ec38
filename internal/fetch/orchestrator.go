package fetch

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/observability"
)

const DefaultTimeout = 10 * time.Second

// DeliverFunc receives the result of task i. A failed task arrives with nil
// features and a non-nil err. It may be called from several goroutines.
type DeliverFunc func(i int, feats []model.Feature, err error)

type Options struct {
	// per-task deadline
	Timeout time.Duration
	// 0 means all tasks run at once
	MaxParallel int
}

type Orchestrator struct {
	logger      *slog.Logger
	src         Source
	timeout     time.Duration
	maxParallel int
}

func NewOrchestrator(logger *slog.Logger, src Source, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Orchestrator{
		logger:      logger,
		src:         src,
		timeout:     opts.Timeout,
		maxParallel: opts.MaxParallel,
	}
}

// FetchAll starts one query per rectangle and returns immediately. The
// returned channel is closed once every task has been delivered.
func (o *Orchestrator) FetchAll(ctx context.Context, rects []model.Rect, deliver DeliverFunc) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		if o.maxParallel > 0 {
			g.SetLimit(o.maxParallel)
		}
		for i, r := range rects {
			g.Go(func() error {
				feats, err := o.fetchOne(ctx, r)
				deliver(i, feats, err)
				return nil
			})
		}
		_ = g.Wait()
	}()
	return done
}

func (o *Orchestrator) fetchOne(ctx context.Context, r model.Rect) ([]model.Feature, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	feats, err := o.src.Query(ctx, r)
	observability.IncFetchTask(err)
	if err != nil {
		o.logger.Warn("sub-region fetch failed",
			"rect", r.String(),
			"dur", time.Since(start).String(),
			"err", err)
		return nil, err
	}
	o.logger.Debug("sub-region fetched",
		"rect", r.String(),
		"features", len(feats),
		"dur", time.Since(start).String())
	return feats, nil
}
