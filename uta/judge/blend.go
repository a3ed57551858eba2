package judge

import (
	"github.com/ZanzyTHEbar/tester-agent/uta/scenario"
)

// Blended is the soft-metric verdict after combining the heuristic scores
// with an external judge outcome.
type Blended struct {
	Scores         Scores
	Weights        Weights
	LLM            Scores
	Reasoning      string
	Confidence     *float64
	Fallback       bool
	FallbackReason string
}

// Blend combines heuristic scores with an external judge outcome. It is pure.
//
// In heuristic mode the outcome is ignored. In llm mode the external scores
// replace the heuristic ones; in hybrid mode each metric is
// w.LLM*llm + w.Heuristic*heuristic. Whenever the outcome failed the heuristic
// scores are used unchanged and the fallback is recorded.
func Blend(mode Mode, heuristic Scores, outcome LLMOutcome, w Weights) Blended {
	if mode == ModeHeuristic || mode == "" {
		return Blended{Scores: copyScores(heuristic), Weights: Weights{Heuristic: 1}}
	}

	if !outcome.OK() {
		reason := "external judge returned no scores"
		if outcome.Err != nil {
			reason = outcome.Err.Error()
		}
		return Blended{
			Scores:         copyScores(heuristic),
			Weights:        Weights{Heuristic: 1},
			Fallback:       true,
			FallbackReason: reason,
		}
	}

	if mode == ModeLLM {
		w = Weights{LLM: 1}
	} else {
		w = w.Normalized()
	}

	combined := make(Scores, len(scenario.Metrics))
	for _, m := range scenario.Metrics {
		h := heuristic[m]
		l, ok := outcome.Scores.Scores[m]
		if !ok {
			combined[m] = h
			continue
		}
		combined[m] = clamp01(w.LLM*l + w.Heuristic*h)
	}
	confidence := outcome.Scores.Confidence
	return Blended{
		Scores:     combined,
		Weights:    w,
		LLM:        copyScores(outcome.Scores.Scores),
		Reasoning:  outcome.Scores.Reasoning,
		Confidence: &confidence,
	}
}

func copyScores(s Scores) Scores {
	out := make(Scores, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
