// Package strategy implements the tester personas that decide what to say
// next. Each Strategy value belongs to exactly one conversation and carries
// that conversation's scratch state.
package strategy

import (
	"fmt"
	mrand "math/rand/v2"
	"strings"

	"github.com/ZanzyTHEbar/tester-agent/uta/scenario"
	"github.com/ZanzyTHEbar/tester-agent/uta/textutil"
	"github.com/ZanzyTHEbar/tester-agent/uta/transcript"
)

// Kind names a registered strategy.
type Kind string

const (
	FlowIntent    Kind = "FlowIntent"
	ToolHappyPath Kind = "ToolHappyPath"
	ToolError     Kind = "ToolError"
	MemoryCarry   Kind = "MemoryCarry"
)

// DoneReason explains why a strategy stopped producing messages.
type DoneReason string

const (
	ReasonGoalReached    DoneReason = "goal_reached"
	ReasonExhausted      DoneReason = "exhausted"
	ReasonProbesComplete DoneReason = "probes_complete"
	ReasonMalformed      DoneReason = "malformed_response"
)

// Step is the outcome of asking a strategy for its next move: either a
// message to send or Done with a reason.
type Step struct {
	Message string
	Done    bool
	Reason  DoneReason
	Detail  string
}

// Send returns a step carrying msg.
func Send(msg string) Step {
	return Step{Message: msg}
}

// Finish returns a terminal step.
func Finish(reason DoneReason, detail string) Step {
	return Step{Done: true, Reason: reason, Detail: detail}
}

// Strategy produces tester messages for one conversation. Implementations
// never panic on unexpected agent output; anything they cannot classify ends
// the conversation with a reason.
type Strategy interface {
	Kind() Kind
	// FirstMessage returns the scenario's opening line verbatim, or a
	// synthesized opener when none is configured.
	FirstMessage(sc *scenario.Scenario) string
	// NextMessage inspects the latest agent turn and returns the reply to
	// send, or a Done step.
	NextMessage(conv *transcript.Conversation, sc *scenario.Scenario) Step
	// IsDone reports whether the conversation has already reached an end
	// state without consulting any trigger.
	IsDone(conv *transcript.Conversation, sc *scenario.Scenario) (DoneReason, bool)
}

// base carries what every strategy shares: the seeded generator used for
// fallback phrasings.
type base struct {
	kind Kind
	rng  *mrand.Rand
}

func (b *base) Kind() Kind { return b.kind }

// pick returns one of options using the conversation's seeded generator.
func (b *base) pick(options []string) string {
	if len(options) == 0 {
		return ""
	}
	if b.rng == nil || len(options) == 1 {
		return options[0]
	}
	return options[b.rng.IntN(len(options))]
}

func (b *base) opener(sc *scenario.Scenario) string {
	if sc.InitialMessage != "" {
		return sc.InitialMessage
	}
	goal := strings.TrimSpace(sc.Goal.UserGoal)
	if goal == "" {
		return b.pick(genericOpeners)
	}
	return fmt.Sprintf(b.pick(goalOpeners), strings.TrimSuffix(goal, "."))
}

// terminal applies the checks shared by every strategy: a missing or
// malformed agent turn and the scenario's success condition.
func terminal(conv *transcript.Conversation, sc *scenario.Scenario) (DoneReason, string, bool) {
	last, ok := conv.LastAgent()
	if !ok {
		return ReasonMalformed, "no agent turn to respond to", true
	}
	if last.Failed() {
		return ReasonMalformed, "agent turn carries error: " + last.Error, true
	}
	if sc.SuccessCondition().Matches(last.Structured) {
		return ReasonGoalReached, sc.SuccessCondition().Path, true
	}
	if last.Malformed() {
		return ReasonMalformed, "agent turn has neither text nor structured payload", true
	}
	return "", "", false
}

// outcome reads the "outcome" field of a structured payload.
func outcome(structured map[string]any) string {
	s, _ := structured["outcome"].(string)
	return s
}

// goalTopic returns the first topic keyword present in the goal, in order.
func goalTopic(goal string, topics ...string) string {
	topic, _ := textutil.FirstMatch(goal, topics...)
	return topic
}
