package harness

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/tester-agent/uta/budget"
	"github.com/ZanzyTHEbar/tester-agent/uta/config"
	"github.com/ZanzyTHEbar/tester-agent/uta/db"
	"github.com/ZanzyTHEbar/tester-agent/uta/errs"
	"github.com/ZanzyTHEbar/tester-agent/uta/harness/adapters"
	ports "github.com/ZanzyTHEbar/tester-agent/uta/harness/ports"
	"github.com/ZanzyTHEbar/tester-agent/uta/judge"
	"github.com/ZanzyTHEbar/tester-agent/uta/seed"
	"github.com/ZanzyTHEbar/tester-agent/uta/strategy"
)

// Agent kinds accepted in agent.kind.
const (
	AgentKindHTTP = "http"
	AgentKindMock = "mock"
)

// Factory creates and wires harness components from configuration.
type Factory struct {
	cfg      *config.Config
	db       *sql.DB // optional; opened from store.path when nil and the store is enabled
	ownsDB   bool
	fixtures fs.FS
	reg      prometheus.Registerer
	agent    ports.Agent
	logger   zerolog.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithDB supplies an already migrated database for the result store.
func WithDB(conn *sql.DB) FactoryOption {
	return func(f *Factory) { f.db = conn }
}

// WithFixtures overrides agent.mock.fixtures_dir with an in-memory tree.
func WithFixtures(fsys fs.FS) FactoryOption {
	return func(f *Factory) { f.fixtures = fsys }
}

// WithRegisterer sets where Prometheus collectors are registered.
func WithRegisterer(reg prometheus.Registerer) FactoryOption {
	return func(f *Factory) { f.reg = reg }
}

// WithAgent bypasses agent.kind and uses agent directly.
func WithAgent(agent ports.Agent) FactoryOption {
	return func(f *Factory) { f.agent = agent }
}

// NewFactory creates a new harness factory.
func NewFactory(cfg *config.Config, logger zerolog.Logger, opts ...FactoryOption) *Factory {
	f := &Factory{
		cfg:    cfg,
		reg:    prometheus.DefaultRegisterer,
		logger: logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateOrchestrator creates a fully wired Orchestrator from config. The seed
// manager is initialized from seed.master, or from the clock when unset.
func (f *Factory) CreateOrchestrator(ctx context.Context) (*Orchestrator, error) {
	seeds := seed.NewManager()
	master, err := seeds.Initialize(f.cfg.Seed.Master)
	if err != nil {
		return nil, err
	}
	f.logger.Info().Int64("master_seed", master).Msg("seed initialized")

	agent, err := f.createAgent()
	if err != nil {
		return nil, err
	}
	engine, err := f.CreateJudgeEngine()
	if err != nil {
		return nil, err
	}
	store, err := f.createStore(ctx)
	if err != nil {
		return nil, err
	}
	metrics, err := f.createMetrics()
	if err != nil {
		return nil, err
	}

	return NewOrchestrator(agent, engine, seeds, strategy.NewRegistry(),
		WithPolicy(f.CreatePolicy()),
		WithStore(store),
		WithTracer(f.createTracer()),
		WithMetrics(metrics),
		WithLogger(f.logger),
	), nil
}

// CreateJudgeEngine builds the judge for judge.mode. Heuristic mode never
// touches the network.
func (f *Factory) CreateJudgeEngine() (*judge.Engine, error) {
	jc := f.cfg.Judge
	mode, err := judge.ParseMode(jc.Mode)
	if err != nil {
		return nil, errs.NewConfigError("judge.mode", "%v", err)
	}

	var external ports.ExternalJudge
	if mode != judge.ModeHeuristic {
		provider := adapters.NewOpenAIProvider(openAIConfig(jc.Provider), adapters.WithProviderLogger(f.logger))
		external = adapters.NewProviderJudge(provider, ports.Options{
			MaxNewTokens: jc.Provider.MaxTokens,
			Temperature:  jc.Provider.Temperature,
			TimeoutMs:    int(jc.Timeout / time.Millisecond),
		})
	}

	return judge.NewEngine(judge.Config{
		Mode:     mode,
		Weights:  judge.Weights{LLM: jc.WeightLLM, Heuristic: jc.WeightHeuristic},
		Timeout:  jc.Timeout,
		CacheTTL: time.Duration(f.cfg.Harness.CacheTTLSeconds) * time.Second,
	}, external,
		judge.WithCache(f.createCache()),
		judge.WithRateLimiter(f.createRateLimiter()),
		judge.WithTracer(f.createTracer()),
		judge.WithLogger(f.logger),
	), nil
}

// CreatePolicy creates a policy from config, clamping invalid values.
func (f *Factory) CreatePolicy() *Policy {
	policy := DefaultPolicy()
	policy.AdapterTimeout = f.cfg.Harness.AdapterTimeout
	policy.Limits = budget.Limits{
		MaxTurns:        f.cfg.Budget.MaxTurns,
		MaxLatencyMsAvg: f.cfg.Budget.MaxLatencyMsAvg,
		MaxCostUSD:      f.cfg.Budget.MaxCostUSD,
	}.WithDefaults()

	if policy.AdapterTimeout < 0 {
		policy.AdapterTimeout = 0
		f.logger.Warn().Dur("adapter_timeout", f.cfg.Harness.AdapterTimeout).Msg("AdapterTimeout clamped to zero")
	}
	return policy
}

// Concurrency returns harness.concurrency, at least one.
func (f *Factory) Concurrency() int {
	if f.cfg.Harness.Concurrency < 1 {
		f.logger.Warn().Int("concurrency", f.cfg.Harness.Concurrency).Msg("Concurrency clamped to minimum of 1")
		return 1
	}
	return f.cfg.Harness.Concurrency
}

// Close releases the database when the factory opened it.
func (f *Factory) Close() error {
	if f.ownsDB && f.db != nil {
		return f.db.Close()
	}
	return nil
}

func (f *Factory) createAgent() (ports.Agent, error) {
	if f.agent != nil {
		return f.agent, nil
	}
	ac := f.cfg.Agent
	switch ac.Kind {
	case AgentKindHTTP, "":
		provider := adapters.NewOpenAIProvider(openAIConfig(ac.Provider), adapters.WithProviderLogger(f.logger))
		return adapters.NewProviderAgent(provider, adapters.ProviderAgentConfig{
			SystemPrompt: ac.SystemPrompt,
			Options: ports.Options{
				MaxNewTokens: ac.Provider.MaxTokens,
				Temperature:  ac.Provider.Temperature,
			},
			CostPer1KTokens: ac.CostPer1KTokens,
		}), nil
	case AgentKindMock:
		fixtures := f.fixtures
		if fixtures == nil {
			fixtures = os.DirFS(ac.Mock.FixturesDir)
		}
		agent, err := adapters.NewMockCollectionsAgent(fixtures, ac.Mock.DebtorID, ac.Mock.PolicyProfile)
		if err != nil {
			return nil, errs.NewConfigError("agent.mock", "%v", err)
		}
		return agent, nil
	default:
		return nil, errs.NewConfigError("agent.kind", "unknown agent kind %q", ac.Kind)
	}
}

func (f *Factory) createCache() ports.Cache {
	if !f.cfg.Harness.CacheEnabled {
		return &noOpCache{}
	}
	return adapters.NewLRUCache(f.cfg.Harness.CacheCapacity)
}

func (f *Factory) createRateLimiter() ports.RateLimiter {
	if !f.cfg.Harness.RateLimitEnabled {
		return &noOpRateLimiter{}
	}
	return adapters.NewTokenBucket(f.cfg.Harness.RateLimitCapacity, f.cfg.Harness.RateLimitRefillRate)
}

func (f *Factory) createTracer() ports.Tracer {
	if !f.cfg.Harness.EnableTracing {
		return &noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

func (f *Factory) createStore(ctx context.Context) (ports.ResultStore, error) {
	if f.db == nil {
		if !f.cfg.Store.Enabled {
			return &noOpStore{}, nil
		}
		conn, err := db.Open(ctx, db.Config{Path: f.cfg.Store.Path}, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open result store: %w", err)
		}
		f.db = conn
		f.ownsDB = true
	}
	return adapters.NewLibSQLResultStore(f.db), nil
}

func (f *Factory) createMetrics() (ports.Metrics, error) {
	if !f.cfg.Metrics.Enabled {
		return &noOpMetrics{}, nil
	}
	m, err := adapters.NewPrometheusMetrics(f.cfg.Metrics.Namespace, f.reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return m, nil
}

func openAIConfig(pc config.ProviderConfig) adapters.OpenAIConfig {
	return adapters.OpenAIConfig{
		BaseURL:     pc.BaseURL,
		APIKey:      pc.APIKey,
		Model:       pc.Model,
		Temperature: pc.Temperature,
		MaxTokens:   pc.MaxTokens,
		Retry: adapters.RetryConfig{
			MaxAttempts:       pc.Retry.MaxAttempts,
			BackoffBase:       pc.Retry.BackoffBase,
			BackoffMultiplier: pc.Retry.BackoffMultiplier,
			MaxBackoff:        pc.Retry.MaxBackoff,
		},
	}
}
