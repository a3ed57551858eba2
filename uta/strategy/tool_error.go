package strategy

import (
	mrand "math/rand/v2"

	"github.com/ZanzyTHEbar/tester-agent/uta/scenario"
	"github.com/ZanzyTHEbar/tester-agent/uta/textutil"
	"github.com/ZanzyTHEbar/tester-agent/uta/transcript"
)

// DefaultRecoveryTurns bounds how many tester messages the error-recovery
// script sends, opener included.
const DefaultRecoveryTurns = 3

// toolError provokes a failing tool path and probes how the agent recovers.
type toolError struct {
	base
	maxTurns int
}

// NewToolError returns a ToolError strategy for one conversation.
func NewToolError(rng *mrand.Rand) Strategy {
	return &toolError{base: base{kind: ToolError, rng: rng}, maxTurns: DefaultRecoveryTurns}
}

func (s *toolError) FirstMessage(sc *scenario.Scenario) string {
	return s.opener(sc)
}

func (s *toolError) IsDone(conv *transcript.Conversation, sc *scenario.Scenario) (DoneReason, bool) {
	reason, _, done := s.check(conv, sc)
	return reason, done
}

func (s *toolError) check(conv *transcript.Conversation, sc *scenario.Scenario) (DoneReason, string, bool) {
	if reason, detail, done := terminal(conv, sc); done {
		return reason, detail, true
	}
	if len(conv.TesterTurns()) >= s.maxTurns {
		return ReasonExhausted, "recovery script complete", true
	}
	return "", "", false
}

func (s *toolError) NextMessage(conv *transcript.Conversation, sc *scenario.Scenario) Step {
	if reason, detail, done := s.check(conv, sc); done {
		return Finish(reason, detail)
	}
	last, _ := conv.LastAgent()
	topic := goalTopic(sc.Goal.UserGoal, toolTopics...)

	switch {
	case outcome(last.Structured) == "error" || textutil.ContainsAny(last.Text, errorTriggers...):
		return Send(s.scripted(recoveryInputs, topic, recoveryFallbacks))
	case textutil.ContainsAny(last.Text, retryTriggers...):
		return Send(s.scripted(retryInputs, topic, retryFallbacks))
	case textutil.ContainsAny(last.Text, clarificationTriggers...):
		return Send(s.scripted(errorClarifications, topic, errorClarificationFallbacks))
	}
	return Finish(ReasonExhausted, "no trigger matched")
}

func (s *toolError) scripted(replies map[string]string, topic string, fallbacks []string) string {
	if msg, ok := replies[topic]; ok {
		return msg
	}
	return s.pick(fallbacks)
}
