package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/observability"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/invalidation"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/store"
)

// Service writes features to the store and announces the change.
type Service struct {
	logger *slog.Logger
	store  store.Store
	pub    invalidation.Publisher
	now    func() time.Time
}

func NewService(logger *slog.Logger, s store.Store, pub invalidation.Publisher) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = invalidation.Nop{}
	}
	return &Service{logger: logger, store: s, pub: pub, now: time.Now}
}

// Save upserts feats. A failed change notification is logged, not returned.
func (s *Service) Save(ctx context.Context, feats []model.Feature) (int, error) {
	if len(feats) == 0 {
		return 0, nil
	}
	n, err := s.store.Upsert(ctx, feats)
	if err != nil {
		return 0, fmt.Errorf("save %d polygons: %w", len(feats), err)
	}
	if ev, ok := invalidation.NewUpsertEvent("", feats, s.now()); ok {
		if err := s.pub.Publish(ctx, ev); err != nil {
			s.logger.Warn("change notification failed", "features", len(feats), "err", err)
		}
	}
	return n, nil
}

// Upload converts records and saves the valid ones.
func (s *Service) Upload(ctx context.Context, recs []Record) (saved int, skipped []RecordError, err error) {
	res := Convert(recs)
	for _, e := range res.Skipped {
		s.logger.Warn("upload record skipped", "index", e.Index, "id", e.ID, "err", e.Err)
	}
	observability.AddIngestRecords("skipped", len(res.Skipped))
	if len(res.Features) == 0 {
		return 0, res.Skipped, nil
	}
	saved, err = s.Save(ctx, res.Features)
	if err != nil {
		observability.AddIngestRecords("error", len(res.Features))
		return 0, res.Skipped, err
	}
	observability.AddIngestRecords("saved", saved)
	return saved, res.Skipped, nil
}

// Generate creates count random polygons and saves them batch by batch.
func (s *Service) Generate(ctx context.Context, g *Generator, count, batch int) (int, error) {
	if count <= 0 {
		count = DefaultGenerateCount
	}
	if batch <= 0 {
		batch = DefaultGenerateBatch
	}
	done := 0
	for done < count {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		n := min(batch, count-done)
		feats, err := g.Batch(done, n)
		if err != nil {
			return done, fmt.Errorf("generate batch at %d: %w", done, err)
		}
		saved, err := s.Save(ctx, feats)
		if err != nil {
			return done, err
		}
		done += saved
		observability.AddIngestRecords("generated", saved)
		s.logger.Info("random polygons saved", "so_far", done, "total", count)
	}
	return done, nil
}
