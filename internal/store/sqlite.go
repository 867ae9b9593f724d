package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/goflow/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// Every connection to :memory: is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Sink ---

// BeginRun inserts the run header. Recording the same run twice replaces it.
func (s *SQLiteStore) BeginRun(ctx context.Context, run *model.RunRecord) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)

	paramsJSON, err := marshalJSON(run.Params, "{}")
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, workflow, version, outcome, params, error, run_dir, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Workflow, run.Version, string(run.Outcome), paramsJSON, run.Error, run.RunDir,
		formatTime(run.StartedAt), formatTimePtr(run.FinishedAt),
	)
	return err
}

// RecordStep stores a step result. A run records each step once.
func (s *SQLiteStore) RecordStep(ctx context.Context, runID string, res *model.ResolvedStepResult) error {
	s.logger.Debug("sql", "op", "insert", "table", "step_results", "run_id", runID, "step", res.Step)

	producesJSON, err := marshalJSON(res.Produces, "[]")
	if err != nil {
		return fmt.Errorf("marshal produces: %w", err)
	}
	outputsJSON, err := marshalJSON(res.Outputs, "{}")
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	failuresJSON, err := marshalJSON(res.Failures, "[]")
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO step_results (run_id, step, seq, status, mode, fanout, produces, outputs,
		   invocations, failed, attempts, failures, error, started_at, finished_at)
		 VALUES (?, ?, (SELECT COUNT(*) FROM step_results WHERE run_id = ?), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, res.Step, runID, string(res.Status), string(res.Mode), boolToInt(res.Fanout),
		producesJSON, outputsJSON, res.Invocations, res.Failed, res.Attempts, failuresJSON, res.Error,
		formatTime(res.StartedAt), formatTime(res.FinishedAt),
	)
	return err
}

// RecordArtifacts stores the materialization results of a run.
func (s *SQLiteStore) RecordArtifacts(ctx context.Context, runID string, artifacts []model.ArtifactResult) error {
	s.logger.Debug("sql", "op", "insert", "table", "artifacts", "run_id", runID, "count", len(artifacts))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, a := range artifacts {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO artifacts (run_id, name, seq, path, expr, bytes, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, a.Name, i, a.Path, a.Expr, a.Bytes, a.Error,
		); err != nil {
			return fmt.Errorf("insert artifact %s: %w", a.Name, err)
		}
	}
	return tx.Commit()
}

// FinishRun updates the outcome, error, and finish time of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *model.RunRecord) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", run.ID, "outcome", run.Outcome)

	paramsJSON, err := marshalJSON(run.Params, "{}")
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET outcome = ?, params = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(run.Outcome), paramsJSON, run.Error, formatTimePtr(run.FinishedAt), run.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// --- Run history ---

const runColumns = `id, workflow, version, outcome, params, error, run_dir, started_at, finished_at`

// GetRun returns a run header. It returns ErrNotFound if no run has that id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.RunRecord, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs newest first, filtered by opts, with the total match count.
func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.RunRecord, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var where []string
	var args []any
	if opts.Workflow != "" {
		where = append(where, "workflow = ?")
		args = append(args, opts.Workflow)
	}
	if opts.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(opts.Outcome))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs`+clause+` ORDER BY started_at DESC, id LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// ListStepResults returns the step results of a run in the order they were recorded.
func (s *SQLiteStore) ListStepResults(ctx context.Context, runID string) ([]*model.ResolvedStepResult, error) {
	s.logger.Debug("sql", "op", "list", "table", "step_results", "run_id", runID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT step, status, mode, fanout, produces, outputs, invocations, failed, attempts,
		   failures, error, started_at, finished_at
		 FROM step_results WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*model.ResolvedStepResult
	for rows.Next() {
		var res model.ResolvedStepResult
		var status, mode string
		var fanout int
		var producesJSON, outputsJSON, failuresJSON string
		var startedAt, finishedAt string

		if err := rows.Scan(&res.Step, &status, &mode, &fanout, &producesJSON, &outputsJSON,
			&res.Invocations, &res.Failed, &res.Attempts, &failuresJSON, &res.Error,
			&startedAt, &finishedAt); err != nil {
			return nil, err
		}
		res.Status = model.StepStatus(status)
		res.Mode = model.MapMode(mode)
		res.Fanout = fanout != 0
		if err := json.Unmarshal([]byte(producesJSON), &res.Produces); err != nil {
			return nil, fmt.Errorf("unmarshal produces: %w", err)
		}
		if err := json.Unmarshal([]byte(outputsJSON), &res.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs: %w", err)
		}
		if err := json.Unmarshal([]byte(failuresJSON), &res.Failures); err != nil {
			return nil, fmt.Errorf("unmarshal failures: %w", err)
		}
		res.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		res.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt)

		results = append(results, &res)
	}
	return results, rows.Err()
}

// ListArtifacts returns the artifact results of a run in declaration order.
func (s *SQLiteStore) ListArtifacts(ctx context.Context, runID string) ([]model.ArtifactResult, error) {
	s.logger.Debug("sql", "op", "list", "table", "artifacts", "run_id", runID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, path, expr, bytes, error FROM artifacts WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []model.ArtifactResult
	for rows.Next() {
		var a model.ArtifactResult
		if err := rows.Scan(&a.Name, &a.Path, &a.Expr, &a.Bytes, &a.Error); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.RunRecord, error) {
	var run model.RunRecord
	var outcome, paramsJSON, startedAt string
	var finishedAt sql.NullString

	if err := row.Scan(&run.ID, &run.Workflow, &run.Version, &outcome, &paramsJSON,
		&run.Error, &run.RunDir, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	run.Outcome = model.RunOutcome(outcome)
	if err := json.Unmarshal([]byte(paramsJSON), &run.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if finishedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, finishedAt.String)
		run.FinishedAt = &t
	}
	return &run, nil
}

// marshalJSON encodes v, using empty for nil maps and slices.
func marshalJSON(v any, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}

// timeFormat is RFC 3339 with fixed-width nanoseconds so stored times sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
