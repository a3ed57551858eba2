// Package scenario holds the declarative test-case model consumed by the
// orchestrator. Scenarios are validated by the loader before they reach the
// core and are treated as read-only afterwards.
package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Assertion kinds understood by the judge.
const (
	KindContainsAny    = "contains_any"
	KindNotContainsAny = "not_contains_any"
	KindMatchesRegex   = "matches_regex"
	KindPathExists     = "jsonpath_exists"
	KindPathEquals     = "jsonpath_equals"
	KindNumberBetween  = "number_between"
	KindJSONSchema     = "json_schema"
)

// Assertion targets select which turns a text assertion inspects.
const (
	TargetLastAgent  = "last_agent" // last two agent turns
	TargetAgent      = "agent"      // every agent turn
	TargetTester     = "tester"     // every tester turn
	TargetTranscript = "transcript" // both roles
)

// Metric names produced by every judge mode.
const (
	MetricRelevance    = "relevance"
	MetricCompleteness = "completeness"
	MetricGroundedness = "groundedness"
)

// Metrics lists the soft metrics in reporting order.
var Metrics = []string{MetricRelevance, MetricCompleteness, MetricGroundedness}

// Scenario is one declarative test case.
type Scenario struct {
	ID             string            `yaml:"id" json:"id"`
	Title          string            `yaml:"title" json:"title"`
	Tags           []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
	Goal           Goal              `yaml:"goal" json:"goal"`
	InitialMessage string            `yaml:"initial_user_msg" json:"initial_user_msg"`
	MaxTurns       int               `yaml:"max_turns" json:"max_turns"`
	Strategy       string            `yaml:"tester_strategy" json:"tester_strategy"`
	Oracle         Oracle            `yaml:"oracle" json:"oracle"`
	Budget         Budget            `yaml:"budgets" json:"budgets"`
	Success        *Condition        `yaml:"success,omitempty" json:"success,omitempty"`
	Preconditions  map[string]string `yaml:"preconditions,omitempty" json:"preconditions,omitempty"`
}

// Goal is the tester persona's declared intent.
type Goal struct {
	UserGoal string `yaml:"user_goal" json:"user_goal"`
}

// Budget declares the resource ceiling for one conversation. Zero values mean
// "use the harness default".
type Budget struct {
	MaxTurns        int     `yaml:"max_turns" json:"max_turns"`
	MaxLatencyMsAvg float64 `yaml:"max_latency_ms_avg" json:"max_latency_ms_avg"`
	MaxCostUSD      float64 `yaml:"max_cost_usd_per_session" json:"max_cost_usd_per_session"`
}

// Oracle is the scenario's pass/fail criteria.
type Oracle struct {
	Description    string               `yaml:"description,omitempty" json:"description,omitempty"`
	HardAssertions []Assertion          `yaml:"hard_assertions" json:"hard_assertions"`
	SoftMetrics    map[string]Threshold `yaml:"soft_metrics" json:"soft_metrics"`
	ExpectedFields []string             `yaml:"expected_fields,omitempty" json:"expected_fields,omitempty"`
}

// Assertion is an exact predicate checked against the transcript.
type Assertion struct {
	Name     string   `yaml:"name" json:"name"`
	Kind     string   `yaml:"kind" json:"kind"`
	Target   string   `yaml:"target,omitempty" json:"target,omitempty"`
	Values   []string `yaml:"values,omitempty" json:"values,omitempty"`
	Pattern  string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Path     string   `yaml:"path,omitempty" json:"path,omitempty"`
	Expected any      `yaml:"expected_value,omitempty" json:"expected_value,omitempty"`
	Min      *float64 `yaml:"min_value,omitempty" json:"min_value,omitempty"`
	Max      *float64 `yaml:"max_value,omitempty" json:"max_value,omitempty"`
	Schema   string   `yaml:"schema,omitempty" json:"schema,omitempty"`
}

// Threshold is a lower bound on a soft metric.
type Threshold struct {
	Min float64 `yaml:"min" json:"min"`
}

// ParseThreshold reads the ">=0.7" notation used in scenario files. A bare
// number is treated as a minimum.
func ParseThreshold(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, ">=")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold %q: %w", s, err)
	}
	return Threshold{Min: v}, nil
}

// UnmarshalYAML accepts either ">=0.7" or {min: 0.7}.
func (t *Threshold) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		parsed, err := ParseThreshold(s)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}
	type plain Threshold
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	*t = Threshold(p)
	return nil
}

// UnmarshalJSON accepts ">=0.7", a bare number or {"min": 0.7}.
func (t *Threshold) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		var s string
		if data[0] == '"' {
			if err := json.Unmarshal(data, &s); err != nil {
				return err
			}
		} else {
			s = string(data)
		}
		parsed, err := ParseThreshold(s)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}
	type plain Threshold
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = Threshold(p)
	return nil
}

// Met reports whether value satisfies the threshold.
func (t Threshold) Met(value float64) bool {
	return value >= t.Min
}

// Condition matches a value at a path in the agent's structured payload.
type Condition struct {
	Path   string `yaml:"path" json:"path"`
	Equals any    `yaml:"equals" json:"equals"`
}

// DefaultSuccess is the goal condition used when a scenario declares none.
var DefaultSuccess = Condition{Path: "$.outcome", Equals: "goal_reached"}

// SuccessCondition returns the scenario's goal condition or DefaultSuccess.
func (s *Scenario) SuccessCondition() Condition {
	if s.Success != nil && s.Success.Path != "" {
		return *s.Success
	}
	return DefaultSuccess
}

// Matches reports whether payload holds the expected value at the condition path.
func (c Condition) Matches(payload map[string]any) bool {
	if payload == nil {
		return false
	}
	v, ok := Lookup(payload, c.Path)
	return ok && ValuesEqual(v, c.Equals)
}

// Validate performs the structural checks the core depends on. The loader is
// expected to have done full schema validation already.
func (s *Scenario) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("scenario id is required")
	}
	for i, a := range s.Oracle.HardAssertions {
		if a.Name == "" {
			return fmt.Errorf("scenario %s: assertion %d has no name", s.ID, i)
		}
		switch a.Kind {
		case KindContainsAny, KindNotContainsAny, KindMatchesRegex,
			KindPathExists, KindPathEquals, KindNumberBetween, KindJSONSchema:
		default:
			return fmt.Errorf("scenario %s: assertion %s has unknown kind %q", s.ID, a.Name, a.Kind)
		}
		switch a.Target {
		case "", TargetLastAgent, TargetAgent, TargetTester, TargetTranscript:
		default:
			return fmt.Errorf("scenario %s: assertion %s has unknown target %q", s.ID, a.Name, a.Target)
		}
	}
	if s.MaxTurns < 0 || s.Budget.MaxTurns < 0 {
		return fmt.Errorf("scenario %s: max turns must not be negative", s.ID)
	}
	return nil
}
