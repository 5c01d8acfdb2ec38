// Package viewport decides, for each settled viewport, whether polygon data
// must be fetched, and remembers what has already been asked for.
package viewport

import (
	"strings"
	"sync"

	"github.com/mohammed-shakir/polygon-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/polygon-viewport-cache/internal/region"
)

type Decision int

const (
	DecisionSkip Decision = iota
	DecisionHit
	DecisionInFlight
	DecisionContained
	DecisionCovered
	DecisionFetch
)

func (d Decision) String() string {
	switch d {
	case DecisionSkip:
		return "skip"
	case DecisionHit:
		return "hit"
	case DecisionInFlight:
		return "in_flight"
	case DecisionContained:
		return "contained"
	case DecisionCovered:
		return "covered"
	case DecisionFetch:
		return "fetch"
	default:
		return "unknown"
	}
}

// CoverageMode selects which previously covered rectangles the containment
// check looks at.
type CoverageMode string

const (
	// CoverageLast only checks the most recently covered rectangle.
	CoverageLast CoverageMode = "last"
	// CoverageHistory checks every rectangle covered so far.
	CoverageHistory CoverageMode = "history"
)

func ParseCoverageMode(s string) CoverageMode {
	if strings.EqualFold(strings.TrimSpace(s), string(CoverageHistory)) {
		return CoverageHistory
	}
	return CoverageLast
}

type State int

const (
	StatePending State = iota
	StatePartial
	StateComplete
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StatePartial:
		return "partial"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// FetchTask is one sub-region of a cache region. Index is its position in
// the split order.
type FetchTask struct {
	Key   region.Key
	Index int
	Rect  model.Rect
}

type Evaluation struct {
	Decision Decision
	Key      region.Key
	Region   model.Rect
	// set on DecisionFetch
	Tasks []FetchTask
	// set on DecisionHit
	Cached []model.Feature
	// set on DecisionInFlight; closed when the region completes
	Wait <-chan struct{}
}

type Config struct {
	Quantizer   region.Quantizer
	SplitTarget int
	Coverage    CoverageMode
}

func DefaultConfig() Config {
	return Config{
		Quantizer:   region.NewQuantizer(region.DefaultMinZoom, region.DefaultPrecision),
		SplitTarget: region.DefaultSplitTarget,
		Coverage:    CoverageLast,
	}
}

type entry struct {
	state    State
	reported []bool
	count    int
	failed   int
	features []model.Feature
	ids      map[string]struct{}
	done     chan struct{}
}

// Cache is the per-session region state. Nothing is ever evicted.
type Cache struct {
	cfg Config

	mu      sync.Mutex
	regions map[region.Key]*entry
	covered map[region.Key]struct{}
	last    *model.Rect
	history []model.Rect
	failed  int
}

func NewCache(cfg Config) *Cache {
	if cfg.SplitTarget <= 0 {
		cfg.SplitTarget = region.DefaultSplitTarget
	}
	if cfg.Coverage == "" {
		cfg.Coverage = CoverageLast
	}
	return &Cache{
		cfg:     cfg,
		regions: make(map[region.Key]*entry),
		covered: make(map[region.Key]struct{}),
	}
}

// Evaluate runs the decision steps for one settled viewport. Only
// DecisionFetch changes state.
func (c *Cache) Evaluate(v model.Rect, zoom int) Evaluation {
	q, ok := c.cfg.Quantizer.Quantize(v, zoom)
	if !ok {
		return Evaluation{Decision: DecisionSkip}
	}
	key := region.KeyOf(q)
	ev := Evaluation{Key: key, Region: q}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.regions[key]; ok {
		if e.state == StateComplete {
			ev.Decision = DecisionHit
			ev.Cached = append([]model.Feature(nil), e.features...)
			return ev
		}
		ev.Decision = DecisionInFlight
		ev.Wait = e.done
		return ev
	}

	if c.containedLocked(q) {
		ev.Decision = DecisionContained
		return ev
	}

	if _, ok := c.covered[key]; ok {
		ev.Decision = DecisionCovered
		return ev
	}

	rects := region.Split(q, c.cfg.SplitTarget)
	c.covered[key] = struct{}{}
	c.regions[key] = &entry{
		state:    StatePending,
		reported: make([]bool, len(rects)),
		ids:      make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	last := q
	c.last = &last
	c.history = append(c.history, q)

	ev.Decision = DecisionFetch
	ev.Tasks = make([]FetchTask, len(rects))
	for i, r := range rects {
		ev.Tasks[i] = FetchTask{Key: key, Index: i, Rect: r}
	}
	return ev
}

func (c *Cache) containedLocked(q model.Rect) bool {
	if c.cfg.Coverage == CoverageHistory {
		for _, h := range c.history {
			if h.Contains(q) {
				return true
			}
		}
		return false
	}
	return c.last != nil && c.last.Contains(q)
}

// Deliver records the result of one task. A failed task counts as reported
// with no features. Results for unknown keys, out-of-range indexes and
// repeated indexes are ignored. The returned state is the entry's state
// after the update.
func (c *Cache) Deliver(t FetchTask, feats []model.Feature, err error) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.regions[t.Key]
	if !ok {
		return StatePending, false
	}
	if e.state == StateComplete || t.Index < 0 || t.Index >= len(e.reported) || e.reported[t.Index] {
		return e.state, false
	}
	e.reported[t.Index] = true
	e.count++
	if err != nil {
		e.failed++
		c.failed++
	} else {
		for _, f := range feats {
			if _, seen := e.ids[f.ID]; seen {
				continue
			}
			e.ids[f.ID] = struct{}{}
			e.features = append(e.features, f)
		}
	}

	if e.count == len(e.reported) {
		e.state = StateComplete
		e.ids = nil
		close(e.done)
		// nothing arrived: the key stays covered but is not cached
		if e.failed == len(e.reported) {
			delete(c.regions, t.Key)
		}
	} else {
		e.state = StatePartial
	}
	return e.state, true
}

// Features returns a copy of the features accumulated for key so far.
func (c *Cache) Features(key region.Key) ([]model.Feature, State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.regions[key]
	if !ok {
		return nil, StatePending, false
	}
	return append([]model.Feature(nil), e.features...), e.state, true
}

type Stats struct {
	Regions  int
	Complete int
	Covered  int
	// failed tasks across all regions
	Failed int
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{Regions: len(c.regions), Covered: len(c.covered), Failed: c.failed}
	for _, e := range c.regions {
		if e.state == StateComplete {
			s.Complete++
		}
	}
	return s
}
