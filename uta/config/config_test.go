package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	internal "github.com/ZanzyTHEbar/tester-agent/uta"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	suite.tempDir = suite.T().TempDir()
	require.NoError(suite.T(), os.Chdir(suite.tempDir))
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		_ = os.Chdir(suite.origDir)
	}
}

func (suite *ConfigTestSuite) writeConfig(name, content string) string {
	path := filepath.Join(suite.tempDir, name)
	require.NoError(suite.T(), os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), 4, cfg.Harness.Concurrency)
	assert.Equal(suite.T(), 30*time.Second, cfg.Harness.AdapterTimeout)
	assert.Equal(suite.T(), time.Second, cfg.Harness.RateLimitRefillRate)

	assert.Equal(suite.T(), 10, cfg.Budget.MaxTurns)
	assert.Equal(suite.T(), 5000.0, cfg.Budget.MaxLatencyMsAvg)
	assert.InDelta(suite.T(), 0.10, cfg.Budget.MaxCostUSD, 1e-12)

	assert.Equal(suite.T(), "heuristic", cfg.Judge.Mode)
	assert.InDelta(suite.T(), 0.7, cfg.Judge.WeightLLM, 1e-12)
	assert.Equal(suite.T(), 3, cfg.Judge.Provider.Retry.MaxAttempts)
	assert.Equal(suite.T(), 2*time.Second, cfg.Agent.Provider.Retry.BackoffBase)

	assert.Equal(suite.T(), internal.DefaultDatabaseDSN, cfg.Store.Path)
	assert.Equal(suite.T(), internal.DefaultDatabaseType, cfg.Store.Type)
	assert.Equal(suite.T(), internal.DefaultMetricsPrefix, cfg.Metrics.Namespace)
	assert.Nil(suite.T(), cfg.Seed.Master)
}

func (suite *ConfigTestSuite) TestLoadConfigWithFile() {
	path := suite.writeConfig("config.yaml", `
harness:
  concurrency: 2
  adapter_timeout: 5s
budget:
  max_turns: 6
judge:
  mode: hybrid
  weight_llm: 0.5
  weight_heuristic: 0.5
agent:
  kind: mock
  mock:
    fixtures_dir: ./fixtures
    debtor_id: D001
seed:
  master: 42
`)
	cfg, err := LoadConfig(path)
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), 2, cfg.Harness.Concurrency)
	assert.Equal(suite.T(), 5*time.Second, cfg.Harness.AdapterTimeout)
	assert.Equal(suite.T(), 6, cfg.Budget.MaxTurns)
	assert.Equal(suite.T(), "hybrid", cfg.Judge.Mode)
	assert.Equal(suite.T(), "mock", cfg.Agent.Kind)
	assert.Equal(suite.T(), "D001", cfg.Agent.Mock.DebtorID)
	require.NotNil(suite.T(), cfg.Seed.Master)
	assert.Equal(suite.T(), int64(42), *cfg.Seed.Master)
	// Untouched keys keep defaults.
	assert.Equal(suite.T(), 1000, cfg.Harness.CacheCapacity)
}

func (suite *ConfigTestSuite) TestEnvironmentOverrides() {
	suite.T().Setenv("UTA_JUDGE_MODE", "llm")
	suite.T().Setenv("UTA_BUDGET_MAX_TURNS", "3")
	suite.T().Setenv("UTA_SEED_MASTER", "7")

	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "llm", cfg.Judge.Mode)
	assert.Equal(suite.T(), 3, cfg.Budget.MaxTurns)
	require.NotNil(suite.T(), cfg.Seed.Master)
	assert.Equal(suite.T(), int64(7), *cfg.Seed.Master)
}

func (suite *ConfigTestSuite) TestLoadConfigInvalidFile() {
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigMalformedFile() {
	path := suite.writeConfig("malformed.yaml", `
judge:
  mode: hybrid
  invalid_yaml: [unclosed bracket
`)
	cfg, err := LoadConfig(path)
	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}
