package adapters

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	ports "github.com/ZanzyTHEbar/tester-agent/uta/harness/ports"
)

type spanKey struct{}

// span is the innermost open span. attrs include those inherited from
// enclosing spans.
type span struct {
	logger zerolog.Logger
	name   string
	attrs  map[string]any
	start  time.Time
}

// ZerologTracer implements ports.Tracer by writing span boundaries and events
// as structured log lines. Nested spans inherit the parent's attributes.
type ZerologTracer struct {
	logger zerolog.Logger
	level  zerolog.Level
	now    func() time.Time
}

// NewZerologTracer creates a tracer that logs at debug level.
func NewZerologTracer(logger zerolog.Logger) *ZerologTracer {
	return &ZerologTracer{logger: logger, level: zerolog.DebugLevel, now: time.Now}
}

// WithLevel changes the level span and event lines are written at.
func (t *ZerologTracer) WithLevel(level zerolog.Level) *ZerologTracer {
	t.level = level
	return t
}

// StartSpan opens a span named name. The returned finish func logs the span
// duration, at error level when err is non-nil.
func (t *ZerologTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	merged := make(map[string]any, len(attrs))
	lc := t.logger.With().Str("span", name)
	if parent, ok := ctx.Value(spanKey{}).(*span); ok {
		for k, v := range parent.attrs {
			merged[k] = v
		}
		lc = lc.Str("parent_span", parent.name)
	}
	for k, v := range attrs {
		merged[k] = v
	}
	for k, v := range merged {
		lc = lc.Interface(k, v)
	}

	s := &span{logger: lc.Logger(), name: name, attrs: merged, start: t.now()}
	ctx = context.WithValue(ctx, spanKey{}, s)

	s.logger.WithLevel(t.level).Str("event", "span_start").Send()

	finish := func(err error) {
		ev := s.logger.WithLevel(t.level)
		if err != nil {
			ev = s.logger.Error().Err(err)
		}
		ev.Str("event", "span_end").Dur("duration", t.now().Sub(s.start)).Send()
	}
	return ctx, finish
}

// Event logs a point-in-time event against the innermost span in ctx, or the
// root logger when there is none.
func (t *ZerologTracer) Event(ctx context.Context, name string, attrs map[string]any) {
	logger := t.logger
	if s, ok := ctx.Value(spanKey{}).(*span); ok {
		logger = s.logger
	}
	ev := logger.WithLevel(t.level)
	for k, v := range attrs {
		ev = ev.Interface(k, v)
	}
	ev.Str("event", name).Send()
}

var _ ports.Tracer = (*ZerologTracer)(nil)
