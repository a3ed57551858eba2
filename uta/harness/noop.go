package harness

import (
	"context"
	"time"

	ports "github.com/ZanzyTHEbar/tester-agent/uta/harness/ports"
)

type noOpCache struct{}

func (c *noOpCache) Get(context.Context, string) ([]byte, bool)     { return nil, false }
func (c *noOpCache) Set(context.Context, string, []byte, int) error { return nil }
func (c *noOpCache) Delete(context.Context, string) error           { return nil }

type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}

type noOpStore struct{}

func (s *noOpStore) SaveRun(context.Context, ports.RunRecord) error { return nil }

func (s *noOpStore) LoadRun(_ context.Context, runID string) (ports.RunRecord, error) {
	return ports.RunRecord{}, ports.ErrRunNotFound
}

func (s *noOpStore) ListRuns(context.Context, string, int) ([]ports.RunRecord, error) {
	return nil, nil
}

type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, _ string, _ map[string]any) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (t *noOpTracer) Event(context.Context, string, map[string]any) {}

type noOpMetrics struct{}

func (m *noOpMetrics) ObserveTurn(string, float64, float64)           {}
func (m *noOpMetrics) ObserveRun(string, bool, string, time.Duration) {}
func (m *noOpMetrics) ObserveJudge(string, bool, time.Duration)       {}

var (
	_ ports.Cache       = (*noOpCache)(nil)
	_ ports.RateLimiter = (*noOpRateLimiter)(nil)
	_ ports.ResultStore = (*noOpStore)(nil)
	_ ports.Tracer      = (*noOpTracer)(nil)
	_ ports.Metrics     = (*noOpMetrics)(nil)
)
