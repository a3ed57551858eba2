package harnessports

import "time"

// Metrics records run-level measurements.
type Metrics interface {
	ObserveTurn(scenarioID string, latencyMs, costUSD float64)
	ObserveRun(scenarioID string, passed bool, stopReason string, duration time.Duration)
	ObserveJudge(mode string, fallback bool, duration time.Duration)
}
