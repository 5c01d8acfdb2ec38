package viewport

import (
	"sync"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/observability"
)

// Renderer draws one feature. It is called at most once per feature id.
type Renderer interface {
	Render(f model.Feature)
}

type RendererFunc func(f model.Feature)

func (fn RendererFunc) Render(f model.Feature) { fn(f) }

// Sink filters out features that were already rendered in this session.
type Sink struct {
	r Renderer

	mu       sync.Mutex
	rendered map[string]struct{}
}

func NewSink(r Renderer) *Sink {
	if r == nil {
		r = RendererFunc(func(model.Feature) {})
	}
	return &Sink{r: r, rendered: make(map[string]struct{})}
}

// Present renders every feature whose id has not been seen before and
// returns how many were rendered.
func (s *Sink) Present(feats []model.Feature) int {
	if len(feats) == 0 {
		return 0
	}
	fresh := make([]model.Feature, 0, len(feats))
	s.mu.Lock()
	for _, f := range feats {
		if _, ok := s.rendered[f.ID]; ok {
			continue
		}
		s.rendered[f.ID] = struct{}{}
		fresh = append(fresh, f)
	}
	s.mu.Unlock()

	for _, f := range fresh {
		s.r.Render(f)
	}
	observability.AddFeaturesRendered(len(fresh))
	return len(fresh)
}

func (s *Sink) Rendered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rendered)
}
