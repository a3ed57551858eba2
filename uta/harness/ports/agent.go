package harnessports

import (
	"context"

	"github.com/ZanzyTHEbar/tester-agent/uta/transcript"
)

// ReplyMetadata is what the agent reports about a single reply. Zero values
// mean "not reported"; the orchestrator then measures or estimates.
type ReplyMetadata struct {
	LatencyMs float64 `json:"latency_ms"`
	CostUSD   float64 `json:"cost_usd"`
	Status    int     `json:"status"`
}

// AgentReply is one response from the agent under test.
type AgentReply struct {
	Text       string         `json:"text"`
	Structured map[string]any `json:"structured,omitempty"`
	Metadata   ReplyMetadata  `json:"metadata"`
}

// Agent is the system under test. Send receives the full chat history and
// must honour ctx's deadline, returning *errs.AdapterTimeout or
// *errs.AdapterError on failure. Implementations may retry internally.
type Agent interface {
	Send(ctx context.Context, history []transcript.Message) (AgentReply, error)
}

// ScenarioInfo describes the scenario a call belongs to. Agents that simulate
// a particular account or fixture read it from the context.
type ScenarioInfo struct {
	ID            string
	Preconditions map[string]string
}

type scenarioKey struct{}

// WithScenario attaches info to ctx.
func WithScenario(ctx context.Context, info ScenarioInfo) context.Context {
	return context.WithValue(ctx, scenarioKey{}, info)
}

// ScenarioFrom returns the scenario attached by WithScenario.
func ScenarioFrom(ctx context.Context) (ScenarioInfo, bool) {
	info, ok := ctx.Value(scenarioKey{}).(ScenarioInfo)
	return info, ok
}
