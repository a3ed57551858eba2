package harnessports

import (
	"context"
	"errors"
	"time"
)

// ErrRunNotFound is returned by LoadRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is the persisted form of one orchestrated conversation.
type RunRecord struct {
	RunID      string
	ScenarioID string
	Passed     bool
	StopReason string
	Seed       int64
	Payload    []byte // JSON-encoded result
	CreatedAt  time.Time
}

// ResultStore persists run results for later reporting.
type ResultStore interface {
	SaveRun(ctx context.Context, rec RunRecord) error
	LoadRun(ctx context.Context, runID string) (RunRecord, error)
	ListRuns(ctx context.Context, scenarioID string, limit int) ([]RunRecord, error)
}
