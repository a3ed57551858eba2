package strategy

import (
	mrand "math/rand/v2"

	"github.com/ZanzyTHEbar/tester-agent/uta/scenario"
	"github.com/ZanzyTHEbar/tester-agent/uta/textutil"
	"github.com/ZanzyTHEbar/tester-agent/uta/transcript"
)

// toolHappyPath pushes the agent toward executing a tool and stops once the
// agent reports a successful tool execution.
type toolHappyPath struct {
	base
}

// NewToolHappyPath returns a ToolHappyPath strategy for one conversation.
func NewToolHappyPath(rng *mrand.Rand) Strategy {
	return &toolHappyPath{base: base{kind: ToolHappyPath, rng: rng}}
}

func (s *toolHappyPath) FirstMessage(sc *scenario.Scenario) string {
	return s.opener(sc)
}

func (s *toolHappyPath) IsDone(conv *transcript.Conversation, sc *scenario.Scenario) (DoneReason, bool) {
	reason, _, done := s.check(conv, sc)
	return reason, done
}

func (s *toolHappyPath) check(conv *transcript.Conversation, sc *scenario.Scenario) (DoneReason, string, bool) {
	if reason, detail, done := terminal(conv, sc); done {
		return reason, detail, true
	}
	last, _ := conv.LastAgent()
	if toolSucceeded(last.Structured) {
		return ReasonGoalReached, "tool executed", true
	}
	return "", "", false
}

func (s *toolHappyPath) NextMessage(conv *transcript.Conversation, sc *scenario.Scenario) Step {
	if reason, detail, done := s.check(conv, sc); done {
		return Finish(reason, detail)
	}
	last, _ := conv.LastAgent()

	if textutil.ContainsAny(last.Text, toolInputTriggers...) {
		if msg, ok := toolInputs[goalTopic(sc.Goal.UserGoal, toolTopics...)]; ok {
			return Send(msg)
		}
		return Send(s.pick(toolInputFallbacks))
	}
	if textutil.ContainsAny(last.Text, confirmationTriggers...) {
		return Send("Yes, please proceed with that action.")
	}
	return Finish(ReasonExhausted, "no trigger matched")
}

func toolSucceeded(structured map[string]any) bool {
	intent, _ := structured["intent"].(string)
	return outcome(structured) == "success" && intent == "tool_execution"
}
