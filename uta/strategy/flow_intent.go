package strategy

import (
	"fmt"
	mrand "math/rand/v2"

	"github.com/ZanzyTHEbar/tester-agent/uta/scenario"
	"github.com/ZanzyTHEbar/tester-agent/uta/textutil"
	"github.com/ZanzyTHEbar/tester-agent/uta/transcript"
)

// flowIntent drives a plain task flow: it answers clarification requests,
// confirms pending actions and supplies requested input. It has no turn cap of
// its own; the budget decides when it stops if the agent keeps asking.
type flowIntent struct {
	base
}

// NewFlowIntent returns a FlowIntent strategy for one conversation.
func NewFlowIntent(rng *mrand.Rand) Strategy {
	return &flowIntent{base: base{kind: FlowIntent, rng: rng}}
}

func (s *flowIntent) FirstMessage(sc *scenario.Scenario) string {
	return s.opener(sc)
}

func (s *flowIntent) IsDone(conv *transcript.Conversation, sc *scenario.Scenario) (DoneReason, bool) {
	reason, _, done := terminal(conv, sc)
	return reason, done
}

func (s *flowIntent) NextMessage(conv *transcript.Conversation, sc *scenario.Scenario) Step {
	if reason, detail, done := terminal(conv, sc); done {
		return Finish(reason, detail)
	}
	last, _ := conv.LastAgent()

	if textutil.ContainsAny(last.Text, clarificationTriggers...) {
		return Send(s.clarification(sc))
	}
	if outcome(last.Structured) == "pending_confirmation" {
		return Send(confirmation(last.Structured))
	}
	if textutil.ContainsAny(last.Text, inputTriggers...) {
		return Send(s.input(sc))
	}
	return Finish(ReasonExhausted, "no trigger matched")
}

func (s *flowIntent) clarification(sc *scenario.Scenario) string {
	if msg, ok := flowClarifications[goalTopic(sc.Goal.UserGoal, flowTopics...)]; ok {
		return msg
	}
	return s.pick(clarificationFallbacks)
}

func (s *flowIntent) input(sc *scenario.Scenario) string {
	if msg, ok := flowInputs[goalTopic(sc.Goal.UserGoal, flowTopics...)]; ok {
		return msg
	}
	return s.pick(inputFallbacks)
}

// confirmation accepts whatever the agent proposed, echoing promise-to-pay
// terms when present.
func confirmation(structured map[string]any) string {
	if ptp, ok := structured["promise_to_pay"].(map[string]any); ok {
		amount := ptp["amount"]
		if amount == nil {
			amount = "0"
		}
		date, _ := ptp["date"].(string)
		return fmt.Sprintf("Yes, I confirm the promise to pay $%v by %s.", amount, date)
	}
	if action, ok := structured["action"]; ok && action != nil {
		return fmt.Sprintf("Yes, please proceed with %v.", action)
	}
	return "Yes, that's correct."
}
