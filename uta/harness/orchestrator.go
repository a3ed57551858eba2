// Package harness runs simulated conversations between a scripted tester and
// the agent under test, then scores them.
package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/tester-agent/uta/budget"
	"github.com/ZanzyTHEbar/tester-agent/uta/errs"
	ports "github.com/ZanzyTHEbar/tester-agent/uta/harness/ports"
	"github.com/ZanzyTHEbar/tester-agent/uta/judge"
	"github.com/ZanzyTHEbar/tester-agent/uta/scenario"
	"github.com/ZanzyTHEbar/tester-agent/uta/seed"
	"github.com/ZanzyTHEbar/tester-agent/uta/strategy"
	"github.com/ZanzyTHEbar/tester-agent/uta/transcript"
)

// StopReason says why a conversation ended.
type StopReason string

const (
	StopGoalReached       StopReason = "goal_reached"
	StopMaxTurns          StopReason = "max_turns"
	StopBudgetViolation   StopReason = "budget_violation"
	StopStrategyExhausted StopReason = "strategy_exhausted"
	StopAdapterError      StopReason = "adapter_error"
	StopCancelled         StopReason = "cancelled"
)

// Policy controls orchestration behavior.
type Policy struct {
	// AdapterTimeout bounds each agent call. Zero means no deadline.
	AdapterTimeout time.Duration
	// Limits are the harness defaults that scenario budgets override.
	Limits budget.Limits
	// CostModel prices a turn when the agent reports no cost.
	CostModel func(msgLen, respLen int) float64
}

// DefaultPolicy returns a 30s adapter deadline, default limits and the
// character-based cost estimate.
func DefaultPolicy() *Policy {
	return &Policy{
		AdapterTimeout: 30 * time.Second,
		Limits:         budget.DefaultLimits(),
		CostModel:      budget.EstimateTurnCost,
	}
}

// Result is the outcome of one scenario run and the sole handoff to
// reporting.
type Result struct {
	RunID        string                   `json:"run_id"`
	ScenarioID   string                   `json:"scenario_id"`
	Strategy     strategy.Kind            `json:"strategy"`
	Passed       bool                     `json:"passed"`
	Conversation *transcript.Conversation `json:"conversation"`
	Budget       budget.State             `json:"budget_state"`
	Judge        *judge.Result            `json:"judge_result,omitempty"`
	StopReason   StopReason               `json:"stop_reason"`
	StopDetail   string                   `json:"stop_detail,omitempty"`
	Violation    *budget.Violation        `json:"violation,omitempty"`
	Error        string                   `json:"error,omitempty"`
	Seed         int64                    `json:"seed"`
	StartedAt    time.Time                `json:"started_at"`
	Duration     time.Duration            `json:"duration"`
}

// Orchestrator runs conversations. It holds no per-conversation state, so one
// instance may run many scenarios concurrently.
type Orchestrator struct {
	agent    ports.Agent
	engine   *judge.Engine
	seeds    *seed.Manager
	registry *strategy.Registry
	policy   *Policy
	store    ports.ResultStore
	tracer   ports.Tracer
	metrics  ports.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPolicy replaces the default policy. Unset fields keep their defaults.
func WithPolicy(p *Policy) Option {
	return func(o *Orchestrator) {
		if p == nil {
			return
		}
		merged := *p
		d := DefaultPolicy()
		if merged.CostModel == nil {
			merged.CostModel = d.CostModel
		}
		merged.Limits = merged.Limits.WithDefaults()
		o.policy = &merged
	}
}

// WithStore persists every result.
func WithStore(s ports.ResultStore) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.store = s
		}
	}
}

// WithTracer sets the tracer for run and turn spans.
func WithTracer(t ports.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithMetrics records turn and run measurements.
func WithMetrics(m ports.Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock overrides the clock used for latency and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator wires the core components. A nil registry uses the
// built-in strategies.
func NewOrchestrator(agent ports.Agent, engine *judge.Engine, seeds *seed.Manager, registry *strategy.Registry, opts ...Option) *Orchestrator {
	if registry == nil {
		registry = strategy.NewRegistry()
	}
	o := &Orchestrator{
		agent:    agent,
		engine:   engine,
		seeds:    seeds,
		registry: registry,
		policy:   DefaultPolicy(),
		store:    &noOpStore{},
		tracer:   &noOpTracer{},
		metrics:  &noOpMetrics{},
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Prepare checks everything a run needs before any agent call. The only
// errors Run returns come from here and are *errs.ConfigError.
func (o *Orchestrator) Prepare(sc *scenario.Scenario) (strategy.Kind, error) {
	if o.agent == nil {
		return "", errs.NewConfigError("agent", "no agent adapter configured")
	}
	if o.engine == nil {
		return "", errs.NewConfigError("judge", "no judge engine configured")
	}
	if o.seeds == nil {
		return "", errs.NewConfigError("seed", "no seed manager configured")
	}
	if sc == nil {
		return "", errs.NewConfigError("scenario", "scenario is nil")
	}
	if err := sc.Validate(); err != nil {
		return "", errs.NewConfigError("scenario", "%v", err)
	}
	return o.registry.Resolve(sc.Strategy)
}

// Run executes one conversation for sc and judges it. Adapter failures,
// budget violations and cancellation are reported in the Result; only
// configuration problems are returned as errors.
func (o *Orchestrator) Run(ctx context.Context, sc *scenario.Scenario) (*Result, error) {
	kind, err := o.Prepare(sc)
	if err != nil {
		return nil, err
	}
	derived, err := o.seeds.Derive(sc.ID)
	if err != nil {
		return nil, err
	}
	strat, err := o.registry.New(string(kind), seed.NewRand(derived))
	if err != nil {
		return nil, err
	}

	started := o.now()
	res := &Result{
		RunID:        uuid.NewString(),
		ScenarioID:   sc.ID,
		Strategy:     kind,
		Conversation: transcript.New(uuid.NewString()),
		Seed:         derived,
		StartedAt:    started.UTC(),
	}
	logger := o.logger.With().Str("run_id", res.RunID).Str("scenario_id", sc.ID).Logger()

	ctx = ports.WithScenario(ctx, ports.ScenarioInfo{ID: sc.ID, Preconditions: sc.Preconditions})
	ctx, finish := o.tracer.StartSpan(ctx, "conversation", map[string]any{
		"run_id":      res.RunID,
		"scenario_id": sc.ID,
		"strategy":    string(kind),
		"seed":        derived,
	})

	enforcer := budget.New(o.limitsFor(sc))
	o.converse(ctx, sc, strat, enforcer, res, logger)
	res.Budget = enforcer.State()

	if res.Conversation.Len() > 0 {
		res.Judge = o.judge(ctx, sc, res.Conversation)
	}
	res.Passed = res.Judge != nil && res.Judge.Passed && res.Violation == nil &&
		res.StopReason != StopAdapterError && res.StopReason != StopCancelled
	res.Duration = o.now().Sub(started)

	var runErr error
	if res.Error != "" {
		runErr = errors.New(res.Error)
	}
	finish(runErr)

	o.persist(ctx, res, logger)
	o.metrics.ObserveRun(sc.ID, res.Passed, string(res.StopReason), res.Duration)
	logger.Info().
		Str("stop_reason", string(res.StopReason)).
		Bool("passed", res.Passed).
		Int("turns_used", res.Budget.TurnsUsed).
		Dur("duration", res.Duration).
		Msg("conversation finished")
	return res, nil
}

// converse drives the tester/agent loop until the strategy finishes, the
// budget stops it, the agent fails or ctx is cancelled.
func (o *Orchestrator) converse(ctx context.Context, sc *scenario.Scenario, strat strategy.Strategy, enforcer *budget.Enforcer, res *Result, logger zerolog.Logger) {
	conv := res.Conversation
	step := strategy.Send(strat.FirstMessage(sc))

	for {
		if step.Done {
			res.StopReason = stopFor(step.Reason)
			res.StopDetail = step.Detail
			return
		}
		if !enforcer.ShouldContinue() {
			res.StopReason = StopMaxTurns
			return
		}
		if ctx.Err() != nil {
			res.StopReason = StopCancelled
			res.StopDetail = ctx.Err().Error()
			return
		}

		conv.Append(transcript.Turn{Role: transcript.RoleTester, Text: step.Message, CreatedAt: o.now().UTC()})

		reply, latency, err := o.send(ctx, conv)
		if err != nil {
			conv.Append(transcript.Turn{
				Role:      transcript.RoleAgent,
				Error:     err.Error(),
				Status:    adapterStatus(err),
				LatencyMs: latency,
				CreatedAt: o.now().UTC(),
			})
			res.Error = err.Error()
			res.StopReason = StopAdapterError
			if ctx.Err() != nil {
				res.StopReason = StopCancelled
			}
			logger.Warn().Err(err).Int("turn", conv.Len()).Msg("agent adapter failed")
			return
		}

		cost := reply.Metadata.CostUSD
		if cost <= 0 {
			cost = o.policy.CostModel(len(step.Message), len(reply.Text))
		}
		conv.Append(transcript.Turn{
			Role:       transcript.RoleAgent,
			Text:       reply.Text,
			Structured: reply.Structured,
			LatencyMs:  latency,
			CostUSD:    cost,
			Status:     reply.Metadata.Status,
			CreatedAt:  o.now().UTC(),
		})
		o.metrics.ObserveTurn(sc.ID, latency, cost)

		if v := enforcer.RecordTurn(latency, cost); v != nil {
			res.Violation = v
			res.StopReason = StopBudgetViolation
			res.StopDetail = v.Error()
			logger.Info().Str("violation", string(v.Kind)).Int("turn", v.Turn).Msg("budget exceeded, stopping")
			return
		}

		step = strat.NextMessage(conv, sc)
	}
}

// send calls the agent with the full history under the adapter deadline.
// Reported latency wins over the measured wall time.
func (o *Orchestrator) send(ctx context.Context, conv *transcript.Conversation) (ports.AgentReply, float64, error) {
	callCtx := ctx
	if o.policy.AdapterTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.policy.AdapterTimeout)
		defer cancel()
	}

	spanCtx, finish := o.tracer.StartSpan(callCtx, "agent_send", map[string]any{"turn": conv.Len()})
	start := o.now()
	reply, err := o.agent.Send(spanCtx, conv.Messages())
	measured := float64(o.now().Sub(start).Microseconds()) / 1000
	finish(err)

	if err != nil {
		return ports.AgentReply{}, measured, classifyAdapterError(err)
	}
	latency := measured
	if reply.Metadata.LatencyMs > 0 {
		latency = reply.Metadata.LatencyMs
	}
	return reply, latency, nil
}

// judge evaluates the finished transcript once. A cancelled run is still
// judged on what it produced.
func (o *Orchestrator) judge(ctx context.Context, sc *scenario.Scenario, conv *transcript.Conversation) *judge.Result {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	out := o.engine.NewSession().Evaluate(ctx, conv, sc)
	o.metrics.ObserveJudge(string(out.Mode), out.Fallback, out.Latency)
	return out
}

func (o *Orchestrator) persist(ctx context.Context, res *Result, logger zerolog.Logger) {
	payload, err := json.Marshal(res)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to encode result")
		return
	}
	rec := ports.RunRecord{
		RunID:      res.RunID,
		ScenarioID: res.ScenarioID,
		Passed:     res.Passed,
		StopReason: string(res.StopReason),
		Seed:       res.Seed,
		Payload:    payload,
		CreatedAt:  res.StartedAt,
	}
	if err := o.store.SaveRun(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn().Err(err).Msg("failed to persist result")
	}
}

// limitsFor layers the scenario's declared budget over the harness defaults.
func (o *Orchestrator) limitsFor(sc *scenario.Scenario) budget.Limits {
	l := o.policy.Limits
	if sc.Budget.MaxTurns > 0 {
		l.MaxTurns = sc.Budget.MaxTurns
	}
	if sc.Budget.MaxLatencyMsAvg > 0 {
		l.MaxLatencyMsAvg = sc.Budget.MaxLatencyMsAvg
	}
	if sc.Budget.MaxCostUSD > 0 {
		l.MaxCostUSD = sc.Budget.MaxCostUSD
	}
	return l.Merge(sc.MaxTurns)
}

// stopFor maps a strategy's done reason to a stop reason. Only MemoryCarry
// finishes with probes_complete; a script that ran out without the agent
// succeeding reports exhausted.
func stopFor(reason strategy.DoneReason) StopReason {
	switch reason {
	case strategy.ReasonGoalReached, strategy.ReasonProbesComplete:
		return StopGoalReached
	default:
		return StopStrategyExhausted
	}
}

// classifyAdapterError makes sure every agent failure is typed.
func classifyAdapterError(err error) error {
	switch {
	case errs.IsAdapter(err):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return errs.NewAdapterTimeout(err)
	default:
		return errs.NewAdapterError(0, err)
	}
}

func adapterStatus(err error) int {
	var ae *errs.AdapterError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}

// String renders a one-line summary for logs and CLI output.
func (r *Result) String() string {
	verdict := "FAIL"
	if r.Passed {
		verdict = "PASS"
	}
	return fmt.Sprintf("%s %s (%s, %d turns)", verdict, r.ScenarioID, r.StopReason, r.Budget.TurnsUsed)
}
