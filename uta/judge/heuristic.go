package judge

import (
	"strings"

	"github.com/ZanzyTHEbar/tester-agent/uta/scenario"
	"github.com/ZanzyTHEbar/tester-agent/uta/textutil"
	"github.com/ZanzyTHEbar/tester-agent/uta/transcript"
)

// Heuristic defaults.
const (
	relevanceNoGoal        = 0.8
	completenessDefault    = 0.7
	completenessPTPFull    = 0.9
	completenessPTPPartial = 0.6
	groundednessWithFacts  = 0.85
	groundednessWithout    = 0.8
)

// HeuristicScores computes the soft metrics locally. It is a pure function of
// the conversation and scenario.
func HeuristicScores(conv *transcript.Conversation, sc *scenario.Scenario) Scores {
	agentText := joinTexts(conv.AgentTurns())
	structured := conv.LastStructured()
	return Scores{
		scenario.MetricRelevance:    relevance(sc.Goal.UserGoal, agentText),
		scenario.MetricCompleteness: completeness(structured, sc.Oracle.ExpectedFields),
		scenario.MetricGroundedness: groundedness(agentText),
	}
}

// relevance is the share of goal tokens the agent echoed back.
func relevance(goal, agentText string) float64 {
	goalTokens := textutil.WordSet(goal)
	if len(goalTokens) == 0 {
		return relevanceNoGoal
	}
	agentTokens := textutil.WordSet(agentText)
	shared := 0
	for tok := range goalTokens {
		if _, ok := agentTokens[tok]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(goalTokens))
}

// completeness is the share of expected structured fields present. Without
// configured fields a promise-to-pay payload is scored on its date and amount.
func completeness(structured map[string]any, expected []string) float64 {
	if len(expected) > 0 {
		present := 0
		for _, field := range expected {
			path := field
			if !strings.HasPrefix(path, "$.") {
				path = "$." + path
			}
			if _, ok := scenario.Lookup(structured, path); ok {
				present++
			}
		}
		return float64(present) / float64(len(expected))
	}

	ptp, ok := structured["promise_to_pay"]
	if !ok {
		return completenessDefault
	}
	if m, ok := ptp.(map[string]any); ok && truthy(m["date"]) && truthy(m["amount"]) {
		return completenessPTPFull
	}
	return completenessPTPPartial
}

// groundedness rewards replies that carry checkable numbers.
func groundedness(agentText string) float64 {
	if textutil.HasDigits(agentText) {
		return groundednessWithFacts
	}
	return groundednessWithout
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	default:
		if f, ok := scenario.ToFloat(v); ok {
			return f != 0
		}
		return true
	}
}

func joinTexts(turns []transcript.Turn) string {
	parts := make([]string, 0, len(turns))
	for _, t := range turns {
		if t.Text != "" {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, " ")
}
