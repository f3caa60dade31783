package advisory

import (
	"context"
	"slices"
	"time"

	"github.com/okian/ewaste/internal/domain/model"
	"github.com/okian/ewaste/pkg/logger"
	"github.com/okian/ewaste/pkg/metrics"
)

// Recorder receives every enriched batch exactly once.
type Recorder interface {
	Record(ctx context.Context, detections []model.Detection, elapsed time.Duration) error
}

// Engine attaches advice to detections and forwards batches to a Recorder.
type Engine struct {
	kb       KnowledgeBase
	recorder Recorder
	color    func(label string) string
	log      logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder sets the statistics sink.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithLabelColor sets the function used to fill EnrichedDetection.Color.
func WithLabelColor(fn func(label string) string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.color = fn
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine builds an engine over kb. Nil tables are treated as empty.
func NewEngine(kb KnowledgeBase, opts ...Option) *Engine {
	if kb.Recycling == nil {
		kb.Recycling = MustTable(TableRecycling)
	}
	if kb.Reuse == nil {
		kb.Reuse = MustTable(TableReuse)
	}
	e := &Engine{kb: kb, log: logger.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// KnowledgeBase returns the tables the engine matches against.
func (e *Engine) KnowledgeBase() KnowledgeBase { return e.kb }

// Advise returns the recycling and reuse advice for a single label. Both
// lists are non-nil.
func (e *Engine) Advise(label string) (recycling, reuse []string) {
	return e.lookup(e.kb.Recycling, label), e.lookup(e.kb.Reuse, label)
}

func (e *Engine) lookup(t *Table, label string) []string {
	c, ok := t.Match(label)
	metrics.RecordAdvisoryMatch(t.Name(), ok)
	if !ok {
		return []string{}
	}
	return slices.Clone(c.Items)
}

// Enrich returns one enriched detection per input, in input order, and then
// records the batch. A recording failure is logged and does not fail the
// call.
func (e *Engine) Enrich(ctx context.Context, detections []model.Detection, elapsed time.Duration) []model.EnrichedDetection {
	out := make([]model.EnrichedDetection, len(detections))
	for i, d := range detections {
		recycling, reuse := e.Advise(d.Label)
		out[i] = model.EnrichedDetection{
			Detection:            d,
			RecyclingSuggestions: recycling,
			ReuseIdeas:           reuse,
		}
		if e.color != nil {
			out[i].Color = e.color(d.Label)
		}
	}

	if e.recorder != nil {
		if err := e.recorder.Record(ctx, detections, elapsed); err != nil {
			metrics.RecordStatsRecordError()
			e.log.Warn(ctx, "statistics update failed",
				logger.Int("detections", len(detections)),
				logger.Error(err))
		}
	}
	return out
}
