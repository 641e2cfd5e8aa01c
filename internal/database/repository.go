package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/logging"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/metrics"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

// ErrNotFound is returned when a run or test does not exist
var ErrNotFound = errors.New("not found")

// Repository persists generation runs
type Repository struct {
	db     *DB
	logger *logging.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *logging.Logger) *Repository {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Repository{db: db, logger: logger}
}

var testColumns = []string{
	"run_id", "position", "classname", "kind", "generator", "protocol",
	"uri", "scenario", "skip", "skip_reason", "spec",
}

// testRows flattens the tests of a manifest into generated_tests rows, keeping their order
func testRows(m *models.Manifest) ([][]any, error) {
	rows := make([][]any, 0, len(m.Tests))
	for i, t := range m.Tests {
		spec, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal test %s: %w", t.Classname, err)
		}
		rows = append(rows, []any{
			m.RunID, i, t.Classname, string(t.Kind), t.Generator, string(t.Protocol),
			t.URI, t.Scenario, t.Skip, t.SkipReason, spec,
		})
	}
	return rows, nil
}

func (r *Repository) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordDatabaseOperation(operation, status, time.Since(start).Seconds())
	r.logger.LogDatabaseOperation(operation, time.Since(start), err)
}

// Runs

// SaveManifest stores a run and all of its tests in one transaction
func (r *Repository) SaveManifest(ctx context.Context, m *models.Manifest) (err error) {
	start := time.Now()
	defer func() { r.observe("save_manifest", start, err) }()

	rows, err := testRows(m)
	if err != nil {
		return err
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	sum := m.Summary()
	pending := sum.Pending
	if pending == nil {
		pending = []string{}
	}

	query := `
		INSERT INTO generation_runs (id, generated_at, runnable, skipped, pending)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err = tx.Exec(ctx, query, sum.ID, sum.GeneratedAt, sum.Runnable, sum.Skipped, pending); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	if _, err = tx.CopyFrom(ctx, pgx.Identifier{"generated_tests"}, testColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("failed to store tests: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRun retrieves a run summary by ID
func (r *Repository) GetRun(ctx context.Context, id string) (*models.RunSummary, error) {
	var run models.RunSummary

	query := `
		SELECT id, generated_at, runnable, skipped, pending
		FROM generation_runs
		WHERE id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.GeneratedAt, &run.Runnable, &run.Skipped, &run.Pending,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &run, nil
}

// ListRuns lists the most recent runs first
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	query := `
		SELECT id, generated_at, runnable, skipped, pending
		FROM generation_runs
		ORDER BY generated_at DESC
		LIMIT $1
	`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunSummary
	for rows.Next() {
		var run models.RunSummary
		if err := rows.Scan(&run.ID, &run.GeneratedAt, &run.Runnable, &run.Skipped, &run.Pending); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// DeleteRun deletes a run and its tests
func (r *Repository) DeleteRun(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM generation_runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// Tests

// GetRunTests returns the tests of a run in generation order
func (r *Repository) GetRunTests(ctx context.Context, runID string) ([]models.TestSpec, error) {
	query := `
		SELECT spec
		FROM generated_tests
		WHERE run_id = $1
		ORDER BY position
	`

	rows, err := r.db.Pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tests: %w", err)
	}
	defer rows.Close()

	var specs []models.TestSpec
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan test: %w", err)
		}
		var spec models.TestSpec
		if err := json.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal test: %w", err)
		}
		specs = append(specs, spec)
	}

	return specs, rows.Err()
}

// GetTest retrieves one test of a run by classname
func (r *Repository) GetTest(ctx context.Context, runID, classname string) (*models.TestSpec, error) {
	var data []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT spec FROM generated_tests WHERE run_id = $1 AND classname = $2`,
		runID, classname,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("test %s: %w", classname, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get test: %w", err)
	}

	var spec models.TestSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal test: %w", err)
	}
	return &spec, nil
}

// CountSkippedByGenerator aggregates skipped tests of a run per generator
func (r *Repository) CountSkippedByGenerator(ctx context.Context, runID string) (map[string]int, error) {
	query := `
		SELECT generator, COUNT(*)
		FROM generated_tests
		WHERE run_id = $1 AND skip
		GROUP BY generator
	`

	rows, err := r.db.Pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count skipped tests: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var generator string
		var n int
		if err := rows.Scan(&generator, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[generator] = n
	}

	return counts, rows.Err()
}
