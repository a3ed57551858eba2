package harness

import (
	"context"
	"math"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/stat"

	"github.com/ZanzyTHEbar/tester-agent/uta/scenario"
	"github.com/ZanzyTHEbar/tester-agent/uta/seed"
)

// Stat is the mean and sample standard deviation of one measurement across a
// batch. StdDev is zero when fewer than two samples exist.
type Stat struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	N      int     `json:"n"`
}

// Summary aggregates a batch.
type Summary struct {
	Total       int                `json:"total"`
	Passed      int                `json:"passed"`
	PassRate    float64            `json:"pass_rate"`
	StopReasons map[StopReason]int `json:"stop_reasons"`
	Metrics     map[string]Stat    `json:"metrics"`
	Latency     Stat               `json:"latency_ms_avg"`
	Turns       Stat               `json:"turns_used"`
	Seeds       seed.Record        `json:"seeds"`
}

// BatchResult holds one Result per scenario in input order.
type BatchResult struct {
	Results []*Result `json:"results"`
	Summary Summary   `json:"summary"`
}

// RunBatch runs scenarios concurrently, at most concurrency at a time. Every
// scenario is checked before the first conversation starts, so a bad strategy
// name fails the whole batch with a config error and no agent traffic.
func (o *Orchestrator) RunBatch(ctx context.Context, scenarios []*scenario.Scenario, concurrency int) (*BatchResult, error) {
	for _, sc := range scenarios {
		if _, err := o.Prepare(sc); err != nil {
			return nil, err
		}
	}
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]*Result, len(scenarios))
	runErrs := make([]error, len(scenarios))
	p := pool.New().WithMaxGoroutines(concurrency)
	for i, sc := range scenarios {
		p.Go(func() {
			results[i], runErrs[i] = o.Run(ctx, sc)
		})
	}
	p.Wait()

	for _, err := range runErrs {
		if err != nil {
			return nil, err
		}
	}
	return &BatchResult{Results: results, Summary: o.summarize(results)}, nil
}

func (o *Orchestrator) summarize(results []*Result) Summary {
	s := Summary{
		Total:       len(results),
		StopReasons: make(map[StopReason]int),
		Metrics:     make(map[string]Stat),
		Seeds:       o.seeds.Record(),
	}

	metricSamples := make(map[string][]float64)
	var latencies, turns []float64
	for _, r := range results {
		if r.Passed {
			s.Passed++
		}
		s.StopReasons[r.StopReason]++
		turns = append(turns, float64(r.Budget.TurnsUsed))
		if r.Budget.TurnsUsed > 0 {
			latencies = append(latencies, r.Budget.AverageLatencyMs)
		}
		if r.Judge == nil {
			continue
		}
		for name, v := range r.Judge.Metrics {
			metricSamples[name] = append(metricSamples[name], v)
		}
	}
	if s.Total > 0 {
		s.PassRate = float64(s.Passed) / float64(s.Total)
	}

	for name, xs := range metricSamples {
		s.Metrics[name] = describe(xs)
	}
	s.Latency = describe(latencies)
	s.Turns = describe(turns)
	return s
}

func describe(xs []float64) Stat {
	if len(xs) == 0 {
		return Stat{}
	}
	mean, std := stat.MeanStdDev(xs, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return Stat{Mean: mean, StdDev: std, N: len(xs)}
}
