// Package judge scores a finished conversation against its scenario oracle.
//
// Hard assertions are always evaluated locally. Soft metrics come from local
// heuristics, from an external language-model judge, or from a weighted blend
// of the two. A failing external judge never fails the evaluation: the engine
// falls back to heuristic scores and says so in the Result.
package judge

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how soft metrics are scored.
type Mode string

const (
	ModeHeuristic Mode = "heuristic"
	ModeLLM       Mode = "llm"
	ModeHybrid    Mode = "hybrid"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeHeuristic, ModeLLM, ModeHybrid:
		return m, nil
	case "":
		return ModeHeuristic, nil
	default:
		return "", fmt.Errorf("unknown judge mode %q", s)
	}
}

// Weights controls the hybrid blend. They are normalised to sum to one.
type Weights struct {
	LLM       float64 `json:"llm" mapstructure:"llm"`
	Heuristic float64 `json:"heuristic" mapstructure:"heuristic"`
}

// DefaultWeights skews toward the language model when it succeeds.
func DefaultWeights() Weights {
	return Weights{LLM: 0.7, Heuristic: 0.3}
}

// Normalized returns weights that sum to one. Non-positive totals fall back
// to DefaultWeights.
func (w Weights) Normalized() Weights {
	if w.LLM < 0 {
		w.LLM = 0
	}
	if w.Heuristic < 0 {
		w.Heuristic = 0
	}
	total := w.LLM + w.Heuristic
	if total <= 0 {
		return DefaultWeights()
	}
	return Weights{LLM: w.LLM / total, Heuristic: w.Heuristic / total}
}

// Config selects the judge behaviour for a run.
type Config struct {
	Mode     Mode
	Weights  Weights
	Timeout  time.Duration // bound on one external judge call
	CacheTTL time.Duration // how long external responses are memoized
}

// DefaultConfig returns a heuristic-only configuration.
func DefaultConfig() Config {
	return Config{
		Mode:     ModeHeuristic,
		Weights:  DefaultWeights(),
		Timeout:  30 * time.Second,
		CacheTTL: time.Hour,
	}
}

// Status is the terminal state of an evaluation.
type Status string

const (
	StatusNotEvaluated          Status = "not_evaluated"
	StatusEvaluating            Status = "evaluating"
	StatusEvaluated             Status = "evaluated"
	StatusEvaluatedWithFallback Status = "evaluated_with_fallback"
)

// AssertionResult is the outcome of one hard assertion.
type AssertionResult struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// MetricCheck compares one soft metric against its configured threshold.
type MetricCheck struct {
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Passed    bool    `json:"passed"`
}

// Scores maps metric name to a value in [0,1].
type Scores map[string]float64

// Breakdown keeps the per-source scores behind the final metrics.
type Breakdown struct {
	Heuristic Scores  `json:"heuristic"`
	LLM       Scores  `json:"llm,omitempty"`
	Combined  Scores  `json:"combined"`
	Weights   Weights `json:"weights"`
}

// Result is the verdict for one conversation. It is immutable once returned.
type Result struct {
	Mode           Mode              `json:"mode"`
	Status         Status            `json:"status"`
	Passed         bool              `json:"passed"`
	HardPassed     bool              `json:"hard_passed"`
	SoftPassed     bool              `json:"soft_passed"`
	Assertions     []AssertionResult `json:"assertions"`
	Metrics        Scores            `json:"metrics"`
	MetricChecks   []MetricCheck     `json:"metric_checks"`
	Breakdown      Breakdown         `json:"breakdown"`
	Reasoning      string            `json:"reasoning,omitempty"`
	Confidence     *float64          `json:"confidence,omitempty"`
	Fallback       bool              `json:"fallback"`
	FallbackReason string            `json:"fallback_reason,omitempty"`
	Latency        time.Duration     `json:"latency"`
}

// Assertion returns the named assertion result.
func (r *Result) Assertion(name string) (AssertionResult, bool) {
	for _, a := range r.Assertions {
		if a.Name == name {
			return a, true
		}
	}
	return AssertionResult{}, false
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
