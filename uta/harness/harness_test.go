package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/tester-agent/uta/budget"
	"github.com/ZanzyTHEbar/tester-agent/uta/config"
	"github.com/ZanzyTHEbar/tester-agent/uta/db"
	"github.com/ZanzyTHEbar/tester-agent/uta/errs"
	"github.com/ZanzyTHEbar/tester-agent/uta/harness/adapters"
	ports "github.com/ZanzyTHEbar/tester-agent/uta/harness/ports"
	"github.com/ZanzyTHEbar/tester-agent/uta/judge"
	"github.com/ZanzyTHEbar/tester-agent/uta/scenario"
	"github.com/ZanzyTHEbar/tester-agent/uta/seed"
	"github.com/ZanzyTHEbar/tester-agent/uta/transcript"
)

const collectionsFixtures = "adapters/testdata/collections"

// StubAgent implements ports.Agent for testing. replyFunc receives the
// 1-based call number.
type StubAgent struct {
	mu        sync.Mutex
	calls     int
	histories [][]transcript.Message
	replyFunc func(ctx context.Context, call int, history []transcript.Message) (ports.AgentReply, error)
}

func (a *StubAgent) Send(ctx context.Context, history []transcript.Message) (ports.AgentReply, error) {
	a.mu.Lock()
	a.calls++
	call := a.calls
	a.histories = append(a.histories, history)
	a.mu.Unlock()

	if a.replyFunc != nil {
		return a.replyFunc(ctx, call, history)
	}
	return reply("Can you clarify which account you mean?", nil), nil
}

func (a *StubAgent) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// stubResultStore keeps records in memory.
type stubResultStore struct {
	mu   sync.Mutex
	runs map[string]ports.RunRecord
}

func (s *stubResultStore) SaveRun(ctx context.Context, rec ports.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		s.runs = make(map[string]ports.RunRecord)
	}
	s.runs[rec.RunID] = rec
	return nil
}

func (s *stubResultStore) LoadRun(ctx context.Context, runID string) (ports.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[runID]
	if !ok {
		return ports.RunRecord{}, ports.ErrRunNotFound
	}
	return rec, nil
}

func (s *stubResultStore) ListRuns(ctx context.Context, scenarioID string, limit int) ([]ports.RunRecord, error) {
	return nil, nil
}

func reply(text string, structured map[string]any) ports.AgentReply {
	return ports.AgentReply{
		Text:       text,
		Structured: structured,
		Metadata:   ports.ReplyMetadata{LatencyMs: 100, CostUSD: 0.001, Status: 200},
	}
}

func newTestOrchestrator(t *testing.T, agent ports.Agent, opts ...Option) *Orchestrator {
	t.Helper()
	master := int64(42)
	seeds := seed.NewManager()
	_, err := seeds.Initialize(&master)
	require.NoError(t, err)
	engine := judge.NewEngine(judge.DefaultConfig(), nil)
	return NewOrchestrator(agent, engine, seeds, nil, opts...)
}

func clarifyScenario(maxTurns int) *scenario.Scenario {
	return &scenario.Scenario{
		ID:             "clarify-loop",
		Title:          "Agent keeps asking for clarification",
		Goal:           scenario.Goal{UserGoal: "Check my account balance"},
		InitialMessage: "What's my balance?",
		MaxTurns:       maxTurns,
		Strategy:       "FlowIntent",
		Oracle: scenario.Oracle{
			HardAssertions: []scenario.Assertion{{
				Name:   "clarification_handled",
				Kind:   scenario.KindContainsAny,
				Target: scenario.TargetAgent,
				Values: []string{"clarify"},
			}},
		},
	}
}

func TestOrchestrator_ClarificationLoopStopsAtMaxTurns(t *testing.T) {
	agent := &StubAgent{}
	orch := newTestOrchestrator(t, agent)

	res, err := orch.Run(context.Background(), clarifyScenario(3))
	require.NoError(t, err)

	assert.Equal(t, StopMaxTurns, res.StopReason)
	assert.Equal(t, 3, res.Budget.TurnsUsed)
	assert.Equal(t, 6, res.Conversation.Len())
	assert.Equal(t, 3, agent.Calls())
	assert.Nil(t, res.Violation)

	require.NotNil(t, res.Judge)
	a, ok := res.Judge.Assertion("clarification_handled")
	require.True(t, ok)
	assert.True(t, a.Passed)
	assert.True(t, res.Passed)

	// The agent always sees the full history, ending with the tester's turn.
	last := agent.histories[2]
	assert.Len(t, last, 5)
	assert.Equal(t, transcript.ChatUser, last[len(last)-1].Role)
}

func TestOrchestrator_GoalReachedBeforeMaxTurns(t *testing.T) {
	agent := &StubAgent{replyFunc: func(ctx context.Context, call int, _ []transcript.Message) (ports.AgentReply, error) {
		if call == 1 {
			return reply("Could you clarify the amount?", nil), nil
		}
		return reply("Done, your transfer is complete.", map[string]any{"outcome": "goal_reached"}), nil
	}}
	orch := newTestOrchestrator(t, agent)

	res, err := orch.Run(context.Background(), clarifyScenario(5))
	require.NoError(t, err)

	assert.Equal(t, StopGoalReached, res.StopReason)
	assert.Equal(t, 2, res.Budget.TurnsUsed)
	assert.Equal(t, 4, res.Conversation.Len())
	assert.Equal(t, 3, res.Budget.TurnsRemaining)
	assert.True(t, res.Passed)
}

func TestOrchestrator_StrategyExhausted(t *testing.T) {
	agent := &StubAgent{replyFunc: func(context.Context, int, []transcript.Message) (ports.AgentReply, error) {
		return reply("Have a nice day.", nil), nil
	}}
	orch := newTestOrchestrator(t, agent)

	res, err := orch.Run(context.Background(), clarifyScenario(5))
	require.NoError(t, err)
	assert.Equal(t, StopStrategyExhausted, res.StopReason)
	assert.Equal(t, 1, res.Budget.TurnsUsed)
	assert.NotEmpty(t, res.StopDetail)
}

func TestOrchestrator_ToolErrorScriptEndsExhausted(t *testing.T) {
	agent := &StubAgent{replyFunc: func(context.Context, int, []transcript.Message) (ports.AgentReply, error) {
		return reply("Sorry, that failed.", map[string]any{"outcome": "error"}), nil
	}}
	orch := newTestOrchestrator(t, agent)
	sc := &scenario.Scenario{
		ID:             "tool-error-never-recovers",
		Goal:           scenario.Goal{UserGoal: "make a payment"},
		InitialMessage: "Pay $20 to my landlord",
		MaxTurns:       5,
		Strategy:       "ToolError",
	}

	res, err := orch.Run(context.Background(), sc)
	require.NoError(t, err)

	assert.Equal(t, StopStrategyExhausted, res.StopReason)
	assert.Equal(t, "recovery script complete", res.StopDetail)
	assert.Equal(t, 3, res.Budget.TurnsUsed)
	assert.Equal(t, 3, agent.Calls())
}

func TestOrchestrator_LatencyBudgetViolation(t *testing.T) {
	agent := &StubAgent{replyFunc: func(context.Context, int, []transcript.Message) (ports.AgentReply, error) {
		r := reply("Can you clarify?", nil)
		r.Metadata.LatencyMs = 1500
		return r, nil
	}}
	orch := newTestOrchestrator(t, agent)
	sc := clarifyScenario(5)
	sc.Budget.MaxLatencyMsAvg = 1000

	res, err := orch.Run(context.Background(), sc)
	require.NoError(t, err)

	assert.Equal(t, StopBudgetViolation, res.StopReason)
	require.NotNil(t, res.Violation)
	assert.Equal(t, budget.LatencyExceeded, res.Violation.Kind)
	assert.Equal(t, 1, res.Violation.Turn)
	assert.Equal(t, 1, agent.Calls())
	assert.InDelta(t, 1500, res.Budget.AverageLatencyMs, 1e-9)
	// A budget breach fails the run even when the judge is satisfied.
	require.NotNil(t, res.Judge)
	assert.True(t, res.Judge.Passed)
	assert.False(t, res.Passed)
}

func TestOrchestrator_CostFallsBackToEstimate(t *testing.T) {
	agent := &StubAgent{replyFunc: func(context.Context, int, []transcript.Message) (ports.AgentReply, error) {
		r := reply("Have a nice day.", nil)
		r.Metadata.CostUSD = 0
		return r, nil
	}}
	orch := newTestOrchestrator(t, agent)
	sc := clarifyScenario(5)

	res, err := orch.Run(context.Background(), sc)
	require.NoError(t, err)
	want := budget.EstimateTurnCost(len(sc.InitialMessage), len("Have a nice day."))
	assert.InDelta(t, want, res.Budget.TotalCostUSD, 1e-12)
	assert.InDelta(t, want, res.Conversation.Turns()[1].CostUSD, 1e-12)
}

func TestOrchestrator_AdapterError(t *testing.T) {
	agent := &StubAgent{replyFunc: func(context.Context, int, []transcript.Message) (ports.AgentReply, error) {
		return ports.AgentReply{}, errs.NewAdapterError(503, errors.New("service unavailable"))
	}}
	orch := newTestOrchestrator(t, agent)

	res, err := orch.Run(context.Background(), clarifyScenario(5))
	require.NoError(t, err)

	assert.Equal(t, StopAdapterError, res.StopReason)
	assert.Contains(t, res.Error, "503")
	assert.Equal(t, 0, res.Budget.TurnsUsed)
	require.Equal(t, 2, res.Conversation.Len())
	failed := res.Conversation.Turns()[1]
	assert.True(t, failed.Failed())
	assert.Equal(t, 503, failed.Status)
	assert.Equal(t, transcript.RoleAgent, failed.Role)
	assert.False(t, res.Passed)
}

func TestOrchestrator_AdapterTimeout(t *testing.T) {
	agent := &StubAgent{replyFunc: func(ctx context.Context, _ int, _ []transcript.Message) (ports.AgentReply, error) {
		<-ctx.Done()
		return ports.AgentReply{}, ctx.Err()
	}}
	orch := newTestOrchestrator(t, agent, WithPolicy(&Policy{AdapterTimeout: 20 * time.Millisecond}))

	res, err := orch.Run(context.Background(), clarifyScenario(5))
	require.NoError(t, err)

	assert.Equal(t, StopAdapterError, res.StopReason)
	assert.Contains(t, res.Error, "timeout")
	assert.False(t, res.Passed)
}

func TestOrchestrator_CancelledBeforeFirstTurn(t *testing.T) {
	agent := &StubAgent{}
	orch := newTestOrchestrator(t, agent)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := orch.Run(ctx, clarifyScenario(5))
	require.NoError(t, err)

	assert.Equal(t, StopCancelled, res.StopReason)
	assert.Equal(t, 0, agent.Calls())
	assert.Equal(t, 0, res.Conversation.Len())
	assert.Nil(t, res.Judge)
	assert.False(t, res.Passed)
}

func TestOrchestrator_CancelledMidConversationIsStillJudged(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	agent := &StubAgent{replyFunc: func(context.Context, int, []transcript.Message) (ports.AgentReply, error) {
		cancel()
		return reply("Can you clarify?", nil), nil
	}}
	orch := newTestOrchestrator(t, agent)

	res, err := orch.Run(ctx, clarifyScenario(5))
	require.NoError(t, err)

	assert.Equal(t, StopCancelled, res.StopReason)
	assert.Equal(t, 1, agent.Calls())
	assert.Equal(t, 2, res.Conversation.Len())
	require.NotNil(t, res.Judge)
	assert.False(t, res.Passed)
}

func TestOrchestrator_UnknownStrategyIsConfigError(t *testing.T) {
	agent := &StubAgent{}
	orch := newTestOrchestrator(t, agent)
	sc := clarifyScenario(3)
	sc.Strategy = "Telepathy"

	res, err := orch.Run(context.Background(), sc)
	assert.Nil(t, res)
	assert.True(t, errs.IsConfig(err))
	assert.Equal(t, 0, agent.Calls())
}

func TestOrchestrator_TurnsNeverExceedLimit(t *testing.T) {
	for _, maxTurns := range []int{1, 2, 4, 7} {
		orch := newTestOrchestrator(t, &StubAgent{})
		res, err := orch.Run(context.Background(), clarifyScenario(maxTurns))
		require.NoError(t, err)
		assert.LessOrEqual(t, res.Budget.TurnsUsed, maxTurns)
		assert.LessOrEqual(t, len(res.Conversation.AgentTurns()), maxTurns)
	}
}

func TestOrchestrator_ScenarioPreconditionsReachAgent(t *testing.T) {
	var got ports.ScenarioInfo
	agent := &StubAgent{replyFunc: func(ctx context.Context, _ int, _ []transcript.Message) (ports.AgentReply, error) {
		got, _ = ports.ScenarioFrom(ctx)
		return reply("Have a nice day.", nil), nil
	}}
	orch := newTestOrchestrator(t, agent)
	sc := clarifyScenario(2)
	sc.Preconditions = map[string]string{"debtor_id": "D002"}

	_, err := orch.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.Equal(t, sc.ID, got.ID)
	assert.Equal(t, "D002", got.Preconditions["debtor_id"])
}

func TestOrchestrator_PersistsResult(t *testing.T) {
	store := &stubResultStore{}
	orch := newTestOrchestrator(t, &StubAgent{}, WithStore(store))

	res, err := orch.Run(context.Background(), clarifyScenario(2))
	require.NoError(t, err)

	rec, err := store.LoadRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.ScenarioID, rec.ScenarioID)
	assert.Equal(t, string(StopMaxTurns), rec.StopReason)
	assert.Equal(t, res.Seed, rec.Seed)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Payload, &payload))
	assert.Equal(t, "clarify-loop", payload["scenario_id"])
	conv, ok := payload["conversation"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, conv["turns"], 4)
}

func TestOrchestrator_PersistsToLibSQL(t *testing.T) {
	conn, err := db.Open(context.Background(), db.Config{Path: filepath.Join(t.TempDir(), "runs.db")}, zerolog.Nop())
	require.NoError(t, err)
	defer conn.Close()
	store := adapters.NewLibSQLResultStore(conn)
	orch := newTestOrchestrator(t, &StubAgent{}, WithStore(store))

	res, err := orch.Run(context.Background(), clarifyScenario(2))
	require.NoError(t, err)

	runs, err := store.ListRuns(context.Background(), "clarify-loop", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].RunID)
}

func TestOrchestrator_TracesAndLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	orch := newTestOrchestrator(t, &StubAgent{},
		WithTracer(adapters.NewZerologTracer(logger).WithLevel(zerolog.InfoLevel)),
		WithLogger(logger),
	)

	_, err := orch.Run(context.Background(), clarifyScenario(1))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"span":"conversation"`)
	assert.Contains(t, out, `"span":"agent_send"`)
	assert.Contains(t, out, "conversation finished")
}

func TestRunBatch_DeterministicAcrossRuns(t *testing.T) {
	scenarios := func() []*scenario.Scenario {
		var out []*scenario.Scenario
		for _, id := range []string{"alpha", "beta", "gamma"} {
			out = append(out, &scenario.Scenario{ID: id, MaxTurns: 3, Strategy: "flow_intent"})
		}
		return out
	}

	run := func() *BatchResult {
		orch := newTestOrchestrator(t, &StubAgent{})
		batch, err := orch.RunBatch(context.Background(), scenarios(), 2)
		require.NoError(t, err)
		return batch
	}
	first, second := run(), run()

	require.Len(t, first.Results, 3)
	for i, res := range first.Results {
		other := second.Results[i]
		assert.Equal(t, scenarios()[i].ID, res.ScenarioID)
		assert.Equal(t, seed.Hash(42, res.ScenarioID), res.Seed)
		assert.Equal(t, res.Seed, other.Seed)
		assert.Equal(t, res.StopReason, other.StopReason)

		a, b := res.Conversation.TesterTurns(), other.Conversation.TesterTurns()
		require.Len(t, b, len(a))
		for j := range a {
			assert.Equal(t, a[j].Text, b[j].Text)
		}
	}

	assert.Equal(t, 3, first.Summary.Total)
	assert.Equal(t, 3, first.Summary.StopReasons[StopMaxTurns])
	assert.Equal(t, int64(42), first.Summary.Seeds.Master)
	assert.Len(t, first.Summary.Seeds.Derived, 3)
	assert.InDelta(t, 3, first.Summary.Turns.Mean, 1e-9)
	assert.InDelta(t, 0, first.Summary.Turns.StdDev, 1e-9)
	assert.InDelta(t, 100, first.Summary.Latency.Mean, 1e-9)
}

func TestRunBatch_ValidatesBeforeRunning(t *testing.T) {
	agent := &StubAgent{}
	orch := newTestOrchestrator(t, agent)
	bad := clarifyScenario(3)
	bad.ID = "bad"
	bad.Strategy = "NoSuchStrategy"

	batch, err := orch.RunBatch(context.Background(), []*scenario.Scenario{clarifyScenario(3), bad}, 4)
	assert.Nil(t, batch)
	assert.True(t, errs.IsConfig(err))
	assert.Equal(t, 0, agent.Calls())
}

func collectionsScenario() *scenario.Scenario {
	low, high := 4999.0, 5001.0
	return &scenario.Scenario{
		ID:             "collections-payment-plan",
		Title:          "Debtor asks for a payment plan",
		Goal:           scenario.Goal{UserGoal: "Set up a payment plan"},
		InitialMessage: "I can't pay it all now, can we set up a payment plan next week?",
		MaxTurns:       4,
		Strategy:       "FlowIntent",
		Success:        &scenario.Condition{Path: "$.intent", Equals: "set_payment_plan"},
		Preconditions:  map[string]string{"debtor_id": "D001"},
		Oracle: scenario.Oracle{
			HardAssertions: []scenario.Assertion{
				{Name: "disclosure", Kind: scenario.KindContainsAny, Values: []string{"attempt to collect a debt"}},
				{Name: "no_threats", Kind: scenario.KindNotContainsAny, Target: scenario.TargetAgent, Values: []string{"legal action", "arrest"}},
				{Name: "promise_amount", Kind: scenario.KindNumberBetween, Path: "$.promise_to_pay.amount", Min: &low, Max: &high},
			},
		},
	}
}

func TestOrchestrator_MockCollectionsAgentEndToEnd(t *testing.T) {
	agent, err := adapters.NewMockCollectionsAgent(os.DirFS(collectionsFixtures), "D002", "")
	require.NoError(t, err)
	orch := newTestOrchestrator(t, agent)

	res, err := orch.Run(context.Background(), collectionsScenario())
	require.NoError(t, err)

	assert.Equal(t, StopGoalReached, res.StopReason)
	assert.Equal(t, 1, res.Budget.TurnsUsed)
	require.NotNil(t, res.Judge)
	for _, a := range res.Judge.Assertions {
		assert.True(t, a.Passed, "%s: %s", a.Name, a.Detail)
	}
	assert.True(t, res.Passed)
}

func TestFactory_Wiring(t *testing.T) {
	master := int64(7)
	cfg := &config.Config{
		Harness: config.HarnessConfig{
			Concurrency:     2,
			AdapterTimeout:  time.Second,
			CacheEnabled:    true,
			CacheCapacity:   16,
			CacheTTLSeconds: 60,
			EnableTracing:   true,
		},
		Budget:  config.BudgetConfig{MaxTurns: 4},
		Judge:   config.JudgeConfig{Mode: "heuristic"},
		Agent:   config.AgentConfig{Kind: AgentKindMock, Mock: config.MockConfig{DebtorID: "D002"}},
		Store:   config.StoreConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "results.db")},
		Seed:    config.SeedConfig{Master: &master},
		Metrics: config.MetricsConfig{Enabled: true, Namespace: "uta_test"},
	}
	reg := prometheus.NewRegistry()
	factory := NewFactory(cfg, zerolog.Nop(),
		WithFixtures(os.DirFS(collectionsFixtures)),
		WithRegisterer(reg),
	)
	defer factory.Close()

	orch, err := factory.CreateOrchestrator(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, factory.Concurrency())

	batch, err := orch.RunBatch(context.Background(), []*scenario.Scenario{collectionsScenario()}, factory.Concurrency())
	require.NoError(t, err)
	require.Len(t, batch.Results, 1)
	assert.True(t, batch.Results[0].Passed)
	assert.Equal(t, 1, batch.Summary.Passed)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["uta_test_runs_total"])
}

func TestFactory_RejectsBadConfig(t *testing.T) {
	cfg := &config.Config{Judge: config.JudgeConfig{Mode: "oracle"}}
	_, err := NewFactory(cfg, zerolog.Nop()).CreateJudgeEngine()
	assert.True(t, errs.IsConfig(err))

	cfg = &config.Config{Agent: config.AgentConfig{Kind: "carrier-pigeon"}}
	_, err = NewFactory(cfg, zerolog.Nop()).CreateOrchestrator(context.Background())
	assert.True(t, errs.IsConfig(err))
}
