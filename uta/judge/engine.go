package judge

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	ports "github.com/ZanzyTHEbar/tester-agent/uta/harness/ports"
	"github.com/ZanzyTHEbar/tester-agent/uta/scenario"
	"github.com/ZanzyTHEbar/tester-agent/uta/transcript"
)

// Engine evaluates conversations. It holds no per-conversation state and may
// be shared by concurrent orchestrators.
type Engine struct {
	cfg      Config
	external ports.ExternalJudge
	cache    ports.Cache
	limiter  ports.RateLimiter
	tracer   ports.Tracer
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache memoizes external judge responses.
func WithCache(c ports.Cache) Option {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
	}
}

// WithRateLimiter gates external judge calls.
func WithRateLimiter(l ports.RateLimiter) Option {
	return func(e *Engine) {
		if l != nil {
			e.limiter = l
		}
	}
}

// WithTracer sets the tracer for judge spans.
func WithTracer(t ports.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the clock used to measure evaluation latency.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine returns an engine for cfg. external may be nil in heuristic mode;
// in the other modes a nil external judge means every evaluation falls back.
func NewEngine(cfg Config, external ports.ExternalJudge, opts ...Option) *Engine {
	if cfg.Mode == "" {
		cfg.Mode = ModeHeuristic
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	e := &Engine{
		cfg:      cfg,
		external: external,
		cache:    noopCache{},
		limiter:  noopLimiter{},
		tracer:   noopTracer{},
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mode returns the configured scoring mode.
func (e *Engine) Mode() Mode {
	return e.cfg.Mode
}

// Evaluate scores conv against the scenario oracle. It never fails: external
// judge problems become a fallback recorded in the Result.
func (e *Engine) Evaluate(ctx context.Context, conv *transcript.Conversation, sc *scenario.Scenario) *Result {
	start := e.now()
	ctx, finish := e.tracer.StartSpan(ctx, "judge_evaluate", map[string]any{
		"scenario_id": sc.ID,
		"mode":        string(e.cfg.Mode),
	})
	defer finish(nil)

	assertions := EvaluateAssertions(conv, sc)
	heuristic := HeuristicScores(conv, sc)

	var outcome LLMOutcome
	if e.cfg.Mode != ModeHeuristic {
		outcome = e.consult(ctx, NewRequest(conv, sc))
	}
	blended := Blend(e.cfg.Mode, heuristic, outcome, e.cfg.Weights)
	if blended.Fallback {
		e.logger.Warn().
			Str("scenario_id", sc.ID).
			Str("reason", blended.FallbackReason).
			Msg("external judge unavailable, using heuristic scores")
	}

	hardPassed := true
	for _, a := range assertions {
		hardPassed = hardPassed && a.Passed
	}
	checks := metricChecks(blended.Scores, sc.Oracle.SoftMetrics)
	softPassed := true
	for _, c := range checks {
		softPassed = softPassed && c.Passed
	}

	status := StatusEvaluated
	if blended.Fallback {
		status = StatusEvaluatedWithFallback
	}

	return &Result{
		Mode:         e.cfg.Mode,
		Status:       status,
		Passed:       hardPassed && softPassed,
		HardPassed:   hardPassed,
		SoftPassed:   softPassed,
		Assertions:   assertions,
		Metrics:      blended.Scores,
		MetricChecks: checks,
		Breakdown: Breakdown{
			Heuristic: heuristic,
			LLM:       blended.LLM,
			Combined:  blended.Scores,
			Weights:   blended.Weights,
		},
		Reasoning:      blended.Reasoning,
		Confidence:     blended.Confidence,
		Fallback:       blended.Fallback,
		FallbackReason: blended.FallbackReason,
		Latency:        e.now().Sub(start),
	}
}

// metricChecks compares scores with thresholds in name order. A threshold on
// a metric the judge does not produce fails with score zero.
func metricChecks(scores Scores, thresholds map[string]scenario.Threshold) []MetricCheck {
	names := make([]string, 0, len(thresholds))
	for name := range thresholds {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make([]MetricCheck, 0, len(names))
	for _, name := range names {
		th := thresholds[name]
		score := scores[name]
		checks = append(checks, MetricCheck{
			Name:      name,
			Score:     score,
			Threshold: th.Min,
			Passed:    th.Met(score),
		})
	}
	return checks
}

// Session tracks the evaluation of one conversation:
// NotEvaluated -> Evaluating -> Evaluated | EvaluatedWithFallback.
// Once terminal, further Evaluate calls return the stored result.
type Session struct {
	engine *Engine
	mu     sync.Mutex
	status Status
	result *Result
}

// NewSession starts an evaluation session bound to e.
func (e *Engine) NewSession() *Session {
	return &Session{engine: e, status: StatusNotEvaluated}
}

// Evaluate runs the engine once and memoizes the result.
func (s *Session) Evaluate(ctx context.Context, conv *transcript.Conversation, sc *scenario.Scenario) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return s.result
	}
	s.status = StatusEvaluating
	s.result = s.engine.Evaluate(ctx, conv, sc)
	s.status = s.result.Status
	return s.result
}

// Status returns the current state of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) ([]byte, bool)     { return nil, false }
func (noopCache) Set(context.Context, string, []byte, int) error { return nil }
func (noopCache) Delete(context.Context, string) error           { return nil }

type noopLimiter struct{}

func (noopLimiter) Acquire(context.Context, string) (func(), error) { return func() {}, nil }

type noopTracer struct{}

func (noopTracer) StartSpan(ctx context.Context, _ string, _ map[string]any) (context.Context, func(error)) {
	return ctx, func(error) {}
}
func (noopTracer) Event(context.Context, string, map[string]any) {}

var (
	_ ports.Cache       = noopCache{}
	_ ports.RateLimiter = noopLimiter{}
	_ ports.Tracer      = noopTracer{}
)
