// Package budget tracks per-conversation resource consumption against limits.
package budget

import (
	"fmt"
)

// Default limits applied when a scenario leaves a field unset.
const (
	DefaultMaxTurns        = 10
	DefaultMaxLatencyMsAvg = 5000.0
	DefaultMaxCostUSD      = 0.10

	// CostPerThousandChars is the flat estimate used when the agent reports no cost.
	CostPerThousandChars = 0.001
)

// ViolationKind names the limit that was breached.
type ViolationKind string

const (
	LatencyExceeded ViolationKind = "latency_exceeded"
	CostExceeded    ViolationKind = "cost_exceeded"
	TurnsExceeded   ViolationKind = "turns_exceeded"
)

// Violation describes the first limit breach of a conversation.
type Violation struct {
	Kind     ViolationKind `json:"kind"`
	Observed float64       `json:"observed"`
	Limit    float64       `json:"limit"`
	Turn     int           `json:"turn"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("budget violation %s at turn %d: observed %.4f, limit %.4f", v.Kind, v.Turn, v.Observed, v.Limit)
}

// Limits is the resource ceiling for a conversation.
type Limits struct {
	MaxTurns        int     `json:"max_turns" mapstructure:"max_turns"`
	MaxLatencyMsAvg float64 `json:"max_latency_ms_avg" mapstructure:"max_latency_ms_avg"`
	MaxCostUSD      float64 `json:"max_cost_usd" mapstructure:"max_cost_usd"`
}

// DefaultLimits returns the harness defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxTurns:        DefaultMaxTurns,
		MaxLatencyMsAvg: DefaultMaxLatencyMsAvg,
		MaxCostUSD:      DefaultMaxCostUSD,
	}
}

// WithDefaults fills zero fields from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.MaxTurns <= 0 {
		l.MaxTurns = d.MaxTurns
	}
	if l.MaxLatencyMsAvg <= 0 {
		l.MaxLatencyMsAvg = d.MaxLatencyMsAvg
	}
	if l.MaxCostUSD <= 0 {
		l.MaxCostUSD = d.MaxCostUSD
	}
	return l
}

// Merge applies a scenario's own turn cap, keeping the tighter of the two.
func (l Limits) Merge(scenarioMaxTurns int) Limits {
	l = l.WithDefaults()
	if scenarioMaxTurns > 0 && scenarioMaxTurns < l.MaxTurns {
		l.MaxTurns = scenarioMaxTurns
	}
	return l
}

// State is a snapshot of consumption so far.
type State struct {
	TurnsUsed        int         `json:"turns_used"`
	TurnsRemaining   int         `json:"turns_remaining"`
	TotalLatencyMs   float64     `json:"total_latency_ms"`
	AverageLatencyMs float64     `json:"average_latency_ms"`
	TotalCostUSD     float64     `json:"total_cost_usd"`
	Violations       []Violation `json:"violations,omitempty"`
	Terminated       bool        `json:"terminated"`
	Limits           Limits      `json:"limits"`
}

// Enforcer accumulates turn costs for one conversation. It is not safe for
// concurrent use.
type Enforcer struct {
	limits       Limits
	turns        int
	totalLatency float64
	totalCost    float64
	violations   []Violation
	terminated   bool
}

// New returns an Enforcer for limits; zero fields take defaults.
func New(limits Limits) *Enforcer {
	return &Enforcer{limits: limits.WithDefaults()}
}

// Limits returns the effective limits.
func (e *Enforcer) Limits() Limits {
	return e.limits
}

// ShouldContinue reports whether another turn may be attempted.
func (e *Enforcer) ShouldContinue() bool {
	return !e.terminated && e.turns < e.limits.MaxTurns
}

// TurnsExhausted reports whether the turn cap has been reached.
func (e *Enforcer) TurnsExhausted() bool {
	return e.turns >= e.limits.MaxTurns
}

// RecordTurn adds one completed agent turn. The returned violation, if any, is
// the first breach; after it the enforcer stays terminated and later calls
// still accumulate but report nothing new.
func (e *Enforcer) RecordTurn(latencyMs, costUSD float64) *Violation {
	e.turns++
	e.totalLatency += latencyMs
	e.totalCost += costUSD

	if e.terminated {
		return nil
	}

	var v *Violation
	switch {
	case e.turns > e.limits.MaxTurns:
		v = &Violation{Kind: TurnsExceeded, Observed: float64(e.turns), Limit: float64(e.limits.MaxTurns)}
	case e.average() > e.limits.MaxLatencyMsAvg:
		v = &Violation{Kind: LatencyExceeded, Observed: e.average(), Limit: e.limits.MaxLatencyMsAvg}
	case e.totalCost > e.limits.MaxCostUSD:
		v = &Violation{Kind: CostExceeded, Observed: e.totalCost, Limit: e.limits.MaxCostUSD}
	}
	if v != nil {
		v.Turn = e.turns
		e.violations = append(e.violations, *v)
		e.terminated = true
	}
	return v
}

// State returns a snapshot of the counters.
func (e *Enforcer) State() State {
	remaining := e.limits.MaxTurns - e.turns
	if remaining < 0 {
		remaining = 0
	}
	violations := make([]Violation, len(e.violations))
	copy(violations, e.violations)
	return State{
		TurnsUsed:        e.turns,
		TurnsRemaining:   remaining,
		TotalLatencyMs:   e.totalLatency,
		AverageLatencyMs: e.average(),
		TotalCostUSD:     e.totalCost,
		Violations:       violations,
		Terminated:       e.terminated,
		Limits:           e.limits,
	}
}

func (e *Enforcer) average() float64 {
	if e.turns == 0 {
		return 0
	}
	return e.totalLatency / float64(e.turns)
}

// EstimateTurnCost prices a turn from its message and response sizes.
func EstimateTurnCost(messageLen, responseLen int) float64 {
	return float64(messageLen+responseLen) / 1000 * CostPerThousandChars
}
