package adapters

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	ports "github.com/ZanzyTHEbar/tester-agent/uta/harness/ports"
)

// ErrRunNotFound is returned by LoadRun for an unknown run ID.
var ErrRunNotFound = ports.ErrRunNotFound

// LibSQLResultStore implements ports.ResultStore on the runs table created by
// the db package migrations.
type LibSQLResultStore struct {
	db *sql.DB
}

// NewLibSQLResultStore wraps an open, migrated database.
func NewLibSQLResultStore(db *sql.DB) *LibSQLResultStore {
	return &LibSQLResultStore{db: db}
}

// SaveRun inserts or replaces a run record.
func (s *LibSQLResultStore) SaveRun(ctx context.Context, rec ports.RunRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("failed to save run: empty run id")
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	query := `
		INSERT OR REPLACE INTO runs (run_id, scenario_id, passed, stop_reason, seed, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.RunID, rec.ScenarioID, boolToInt(rec.Passed), rec.StopReason, rec.Seed,
		string(rec.Payload), created.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// LoadRun returns the record for runID or ErrRunNotFound.
func (s *LibSQLResultStore) LoadRun(ctx context.Context, runID string) (ports.RunRecord, error) {
	query := `
		SELECT run_id, scenario_id, passed, stop_reason, seed, payload, created_at
		FROM runs WHERE run_id = ?
	`
	rec, err := scanRun(s.db.QueryRowContext(ctx, query, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return ports.RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return ports.RunRecord{}, fmt.Errorf("failed to load run: %w", err)
	}
	return rec, nil
}

// ListRuns returns up to limit runs, newest first. An empty scenarioID lists
// every scenario.
func (s *LibSQLResultStore) ListRuns(ctx context.Context, scenarioID string, limit int) ([]ports.RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT run_id, scenario_id, passed, stop_reason, seed, payload, created_at
		FROM runs
		WHERE (? = '' OR scenario_id = ?)
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, scenarioID, scenarioID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []ports.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (ports.RunRecord, error) {
	var (
		rec     ports.RunRecord
		passed  int64
		payload string
		created int64
	)
	if err := row.Scan(&rec.RunID, &rec.ScenarioID, &passed, &rec.StopReason, &rec.Seed, &payload, &created); err != nil {
		return ports.RunRecord{}, err
	}
	rec.Passed = passed != 0
	rec.Payload = []byte(payload)
	rec.CreatedAt = time.Unix(0, created).UTC()
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ ports.ResultStore = (*LibSQLResultStore)(nil)
