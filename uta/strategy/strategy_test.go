package strategy

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/tester-agent/uta/errs"
	"github.com/ZanzyTHEbar/tester-agent/uta/scenario"
	"github.com/ZanzyTHEbar/tester-agent/uta/seed"
	"github.com/ZanzyTHEbar/tester-agent/uta/transcript"
)

// converse plays replies against s and returns the conversation and the last
// step produced.
func converse(s Strategy, sc *scenario.Scenario, replies []transcript.Turn) (*transcript.Conversation, Step) {
	conv := transcript.New(sc.ID)
	msg := s.FirstMessage(sc)
	var step Step
	for _, reply := range replies {
		conv.Append(transcript.Turn{Role: transcript.RoleTester, Text: msg})
		reply.Role = transcript.RoleAgent
		conv.Append(reply)
		step = s.NextMessage(conv, sc)
		if step.Done {
			break
		}
		msg = step.Message
	}
	return conv, step
}

func agentSays(text string) transcript.Turn {
	return transcript.Turn{Text: text}
}

func TestFlowIntent_AnswersEveryClarification(t *testing.T) {
	sc := &scenario.Scenario{ID: "clarify", Goal: scenario.Goal{UserGoal: "make a payment"}, InitialMessage: "Hi"}
	s := NewFlowIntent(seed.NewRand(1))

	conv := transcript.New("c")
	conv.Append(transcript.Turn{Role: transcript.RoleTester, Text: s.FirstMessage(sc)})
	for i := 0; i < 3; i++ {
		conv.Append(transcript.Turn{Role: transcript.RoleAgent, Text: "Can you clarify?"})
		step := s.NextMessage(conv, sc)
		require.False(t, step.Done)
		assert.Equal(t, "I want to make a payment of $100.", step.Message)
		conv.Append(transcript.Turn{Role: transcript.RoleTester, Text: step.Message})
	}
}

func TestFlowIntent_ConfirmsPendingAction(t *testing.T) {
	sc := &scenario.Scenario{ID: "confirm", InitialMessage: "Hi"}
	s := NewFlowIntent(nil)

	_, step := converse(s, sc, []transcript.Turn{{
		Text:       "Shall I book it?",
		Structured: map[string]any{"outcome": "pending_confirmation", "action": "the transfer"},
	}})
	assert.Equal(t, "Yes, please proceed with the transfer.", step.Message)

	_, step = converse(NewFlowIntent(nil), sc, []transcript.Turn{{
		Text:       "Shall I book it?",
		Structured: map[string]any{"outcome": "pending_confirmation"},
	}})
	assert.Equal(t, "Yes, that's correct.", step.Message)
}

func TestFlowIntent_DoneConditions(t *testing.T) {
	sc := &scenario.Scenario{ID: "done", InitialMessage: "Hi"}

	tests := []struct {
		name   string
		reply  transcript.Turn
		reason DoneReason
	}{
		{"goal reached", transcript.Turn{Text: "Done", Structured: map[string]any{"outcome": "goal_reached"}}, ReasonGoalReached},
		{"empty reply", transcript.Turn{}, ReasonMalformed},
		{"adapter error", transcript.Turn{Error: "timeout"}, ReasonMalformed},
		{"nothing to react to", agentSays("Have a nice day."), ReasonExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewFlowIntent(nil)
			conv, step := converse(s, sc, []transcript.Turn{tt.reply})
			assert.True(t, step.Done)
			assert.Equal(t, tt.reason, step.Reason)
			assert.Empty(t, step.Message)

			if tt.reason != ReasonExhausted {
				reason, done := s.IsDone(conv, sc)
				assert.True(t, done)
				assert.Equal(t, tt.reason, reason)
			}
		})
	}
}

func TestStrategy_CustomSuccessCondition(t *testing.T) {
	sc := &scenario.Scenario{
		ID:             "custom",
		InitialMessage: "Hi",
		Success:        &scenario.Condition{Path: "$.ticket.status", Equals: "closed"},
	}
	_, step := converse(NewFlowIntent(nil), sc, []transcript.Turn{{
		Text:       "Ticket closed.",
		Structured: map[string]any{"ticket": map[string]any{"status": "closed"}},
	}})
	assert.True(t, step.Done)
	assert.Equal(t, ReasonGoalReached, step.Reason)
}

func TestNoStrategyPanicsOnMalformedInput(t *testing.T) {
	sc := &scenario.Scenario{ID: "bad"}
	reg := NewRegistry()
	for _, kind := range reg.Kinds() {
		s, err := reg.New(string(kind), seed.NewRand(3))
		require.NoError(t, err)

		assert.NotPanics(t, func() {
			step := s.NextMessage(transcript.New("empty"), sc)
			assert.True(t, step.Done)
			assert.Equal(t, ReasonMalformed, step.Reason)
		}, string(kind))
	}
}

func TestToolHappyPath_StopsOnToolSuccess(t *testing.T) {
	sc := &scenario.Scenario{ID: "tool", Goal: scenario.Goal{UserGoal: "create account"}, InitialMessage: "Open an account"}

	conv, step := converse(NewToolHappyPath(nil), sc, []transcript.Turn{
		agentSays("Can you tell me your name?"),
		{Text: "Created.", Structured: map[string]any{"outcome": "success", "intent": "tool_execution"}},
	})
	assert.True(t, step.Done)
	assert.Equal(t, ReasonGoalReached, step.Reason)
	require.Len(t, conv.TesterTurns(), 2)
	assert.Contains(t, conv.TesterTurns()[1].Text, "john@example.com")
}

func TestToolError_CapsRecoveryScript(t *testing.T) {
	sc := &scenario.Scenario{ID: "err", Goal: scenario.Goal{UserGoal: "make payment"}, InitialMessage: "Pay $20"}
	failing := agentSays("Sorry, that failed.")

	conv, step := converse(NewToolError(seed.NewRand(9)), sc, []transcript.Turn{failing, failing, failing, failing, failing})
	assert.True(t, step.Done)
	assert.Equal(t, ReasonExhausted, step.Reason)
	assert.Equal(t, "recovery script complete", step.Detail)
	assert.Len(t, conv.TesterTurns(), DefaultRecoveryTurns)
	assert.Equal(t, "Can I try with a different payment method? I have a debit card.", conv.TesterTurns()[1].Text)
}

func TestMemoryCarry_ProbesThenStops(t *testing.T) {
	sc := &scenario.Scenario{ID: "mem", Goal: scenario.Goal{UserGoal: "check my account"}, InitialMessage: "Hello, my name is Ana Ruiz."}

	conv, step := converse(NewMemoryCarry(seed.NewRand(5)), sc, []transcript.Turn{
		agentSays("Hi Ana."), agentSays("Sure."), agentSays("Anything else?"), agentSays("Bye."),
	})
	assert.True(t, step.Done)
	assert.Equal(t, ReasonProbesComplete, step.Reason)

	testers := conv.TesterTurns()
	require.Len(t, testers, DefaultProbes+1)
	assert.Equal(t, "Thanks for helping with my checking account. Can you also check the balance?", testers[1].Text)
	assert.Equal(t, "You still have my name as Ana Ruiz, right?", testers[2].Text)
}

func TestMemoryCarry_RefersBackToAmountStatedByAgent(t *testing.T) {
	sc := &scenario.Scenario{ID: "mem-agent", Goal: scenario.Goal{UserGoal: "ask what I owe"}, InitialMessage: "Hi, I have a question about my bill."}

	conv, step := converse(NewMemoryCarry(seed.NewRand(5)), sc, []transcript.Turn{
		agentSays("You owe $75.50 this month."), agentSays("It is due on Friday."), agentSays("Anything else?"),
	})
	assert.True(t, step.Done)
	assert.Equal(t, ReasonProbesComplete, step.Reason)

	testers := conv.TesterTurns()
	require.Len(t, testers, DefaultProbes+1)
	assert.Equal(t, "About that $75.50 payment we discussed, when will it be processed?", testers[1].Text)
}

func TestFirstMessage_SynthesizedOpenerIsSeeded(t *testing.T) {
	sc := &scenario.Scenario{ID: "opener", Goal: scenario.Goal{UserGoal: "reset my password."}}

	a := NewFlowIntent(seed.NewRand(seed.Hash(42, "opener"))).FirstMessage(sc)
	b := NewFlowIntent(seed.NewRand(seed.Hash(42, "opener"))).FirstMessage(sc)
	assert.Equal(t, a, b)
	assert.Contains(t, a, "reset my password")
	assert.False(t, strings.HasSuffix(a, ".."))

	withInitial := &scenario.Scenario{ID: "opener", InitialMessage: "Exactly this"}
	assert.Equal(t, "Exactly this", NewFlowIntent(seed.NewRand(1)).FirstMessage(withInitial))
}

func TestFallbackPhrasingIsDeterministicPerSeed(t *testing.T) {
	sc := &scenario.Scenario{ID: "fallback", Goal: scenario.Goal{UserGoal: "talk to someone"}, InitialMessage: "Hi"}
	replies := []transcript.Turn{
		agentSays("What do you mean?"), agentSays("Please specify."), agentSays("Which one?"), agentSays("Please provide details."),
	}

	run := func() []string {
		conv, _ := converse(NewFlowIntent(seed.NewRand(seed.Hash(7, sc.ID))), sc, replies)
		var msgs []string
		for _, t := range conv.TesterTurns() {
			msgs = append(msgs, t.Text)
		}
		return msgs
	}
	assert.Equal(t, run(), run())
}

func TestRegistry_Resolve(t *testing.T) {
	reg := NewRegistry()

	for _, name := range []string{"FlowIntent", "flow_intent", "flowintent", "FlowIntentStrategy", " flow-intent "} {
		kind, err := reg.Resolve(name)
		require.NoError(t, err, name)
		assert.Equal(t, FlowIntent, kind)
	}

	kind, err := reg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, reg.Default(), kind)

	_, err = reg.Resolve("Planner")
	require.Error(t, err)
	assert.True(t, errs.IsConfig(err))
	assert.Contains(t, err.Error(), "ToolHappyPath")
}

func TestRegistry_KindsSortedAndFreshInstances(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, []Kind{FlowIntent, MemoryCarry, ToolError, ToolHappyPath}, reg.Kinds())

	a, err := reg.New("MemoryCarry", nil)
	require.NoError(t, err)
	b, err := reg.New("memory_carry", nil)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, MemoryCarry, a.Kind())
}

func TestStrategyScripts_Golden(t *testing.T) {
	type script struct {
		kind    Kind
		sc      *scenario.Scenario
		replies []transcript.Turn
	}
	scripts := []script{
		{
			kind: FlowIntent,
			sc: &scenario.Scenario{ID: "flow", Goal: scenario.Goal{UserGoal: "make a payment on my overdue balance"},
				InitialMessage: "I want to pay my bill"},
			replies: []transcript.Turn{
				agentSays("Can you clarify which bill?"),
				agentSays("Please provide the amount."),
				{Text: "Shall I set this up?", Structured: map[string]any{
					"outcome":        "pending_confirmation",
					"promise_to_pay": map[string]any{"amount": 100, "date": "2026-10-20"},
				}},
				{Text: "All set.", Structured: map[string]any{"outcome": "goal_reached"}},
			},
		},
		{
			kind: ToolHappyPath,
			sc: &scenario.Scenario{ID: "tool", Goal: scenario.Goal{UserGoal: "make payment of $40 on card"},
				InitialMessage: "Please run a payment for me"},
			replies: []transcript.Turn{
				agentSays("What is your card number?"),
				agentSays("Ready to proceed?"),
				{Text: "Payment sent.", Structured: map[string]any{"outcome": "success", "intent": "tool_execution"}},
			},
		},
		{
			kind: ToolError,
			sc: &scenario.Scenario{ID: "error", Goal: scenario.Goal{UserGoal: "schedule appointment for a checkup"},
				InitialMessage: "Book me an appointment tomorrow"},
			replies: []transcript.Turn{
				{Text: "Sorry, the booking service failed.", Structured: map[string]any{"outcome": "error"}},
				agentSays("Would you like to try another slot?"),
				agentSays("Booked for Friday."),
			},
		},
		{
			kind: MemoryCarry,
			sc: &scenario.Scenario{ID: "memory", Goal: scenario.Goal{UserGoal: "make a payment of $250 from my savings account"},
				InitialMessage: "Hi, my name is Jane Doe."},
			replies: []transcript.Turn{
				agentSays("Nice to meet you, Jane."),
				agentSays("Your balance is $1,200."),
				agentSays("It will post on Monday."),
			},
		},
	}

	reg := NewRegistry()
	var b strings.Builder
	for _, sc := range scripts {
		s, err := reg.New(string(sc.kind), seed.NewRand(seed.Hash(42, sc.sc.ID)))
		require.NoError(t, err)

		conv, step := converse(s, sc.sc, sc.replies)
		fmt.Fprintf(&b, "== %s ==\n", sc.kind)
		for _, turn := range conv.Turns() {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Text)
		}
		fmt.Fprintf(&b, "done: %s (%s)\n\n", step.Reason, step.Detail)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "strategy_scripts", []byte(b.String()))
}
