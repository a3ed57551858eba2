package strategy

import (
	"fmt"
	mrand "math/rand/v2"
	"regexp"

	"github.com/ZanzyTHEbar/tester-agent/uta/scenario"
	"github.com/ZanzyTHEbar/tester-agent/uta/textutil"
	"github.com/ZanzyTHEbar/tester-agent/uta/transcript"
)

// DefaultProbes is the number of memory probes sent after the opener.
const DefaultProbes = 2

var (
	namePattern        = regexp.MustCompile(`(?i:my name is) ([A-Z][a-z]+(?: [A-Z][a-z]+)?)`)
	accountTypePattern = regexp.MustCompile(`(?i)\b(checking|savings|credit|business)\b`)
)

// fact is one piece of information the tester has stated and will later
// refer back to.
type fact struct {
	kind  string
	value string
}

// memoryCarry states facts and then re-references them to check the agent
// kept its context.
type memoryCarry struct {
	base
	probes int
	facts  []fact
	seen   map[string]struct{}
	next   int
}

// NewMemoryCarry returns a MemoryCarry strategy for one conversation.
func NewMemoryCarry(rng *mrand.Rand) Strategy {
	return &memoryCarry{
		base:   base{kind: MemoryCarry, rng: rng},
		probes: DefaultProbes,
		seen:   make(map[string]struct{}),
	}
}

func (s *memoryCarry) FirstMessage(sc *scenario.Scenario) string {
	s.remember(sc.Goal.UserGoal, true)
	msg := s.opener(sc)
	s.remember(msg, false)
	return msg
}

func (s *memoryCarry) IsDone(conv *transcript.Conversation, sc *scenario.Scenario) (DoneReason, bool) {
	reason, _, done := s.check(conv, sc)
	return reason, done
}

func (s *memoryCarry) check(conv *transcript.Conversation, sc *scenario.Scenario) (DoneReason, string, bool) {
	if reason, detail, done := terminal(conv, sc); done {
		return reason, detail, true
	}
	if len(conv.TesterTurns()) >= s.probes+1 {
		return ReasonProbesComplete, fmt.Sprintf("%d probes sent", s.probes), true
	}
	return "", "", false
}

func (s *memoryCarry) NextMessage(conv *transcript.Conversation, sc *scenario.Scenario) Step {
	if reason, detail, done := s.check(conv, sc); done {
		return Finish(reason, detail)
	}
	s.remember(sc.Goal.UserGoal, true)
	for _, t := range conv.TesterTurns() {
		s.remember(t.Text, false)
	}
	for _, t := range conv.AgentTurns() {
		s.recall(t.Text)
	}

	if s.next >= len(s.facts) {
		return Send(s.pick(memoryFallbacks))
	}
	f := s.facts[s.next]
	s.next++
	return Send(probe(f))
}

// remember extracts facts from text. Goal text also yields the implied
// defaults a customer would mention (an account or a payment).
func (s *memoryCarry) remember(text string, fromGoal bool) {
	if m := namePattern.FindStringSubmatch(text); len(m) > 1 {
		s.add("name", m[1])
	}
	if m := accountTypePattern.FindStringSubmatch(text); len(m) > 1 {
		s.add("account", textutil.Normalize(m[1]))
	} else if fromGoal && textutil.ContainsAny(text, "account") {
		s.add("account", "checking")
	}
	for _, amount := range textutil.MoneyAmounts(text) {
		s.add("payment", amount)
	}
	if fromGoal && textutil.ContainsAny(text, "payment") && !s.has("payment") {
		s.add("payment", "$100")
	}
}

// recall keeps the account types and amounts the agent stated so a later
// probe can ask about them. Names are only taken from the tester's side.
func (s *memoryCarry) recall(text string) {
	if m := accountTypePattern.FindStringSubmatch(text); len(m) > 1 {
		s.add("account", textutil.Normalize(m[1]))
	}
	for _, amount := range textutil.MoneyAmounts(text) {
		s.add("payment", amount)
	}
}

func (s *memoryCarry) add(kind, value string) {
	key := kind + "=" + value
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	s.facts = append(s.facts, fact{kind: kind, value: value})
}

func (s *memoryCarry) has(kind string) bool {
	for _, f := range s.facts {
		if f.kind == kind {
			return true
		}
	}
	return false
}

func probe(f fact) string {
	switch f.kind {
	case "account":
		return fmt.Sprintf("Thanks for helping with my %s account. Can you also check the balance?", f.value)
	case "payment":
		return fmt.Sprintf("About that %s payment we discussed, when will it be processed?", f.value)
	case "name":
		return fmt.Sprintf("You still have my name as %s, right?", f.value)
	default:
		return fmt.Sprintf("Earlier I mentioned %s. Do you remember that?", f.value)
	}
}
