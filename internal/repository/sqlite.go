package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ambitus/orchestrator/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) a SQLite database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			company TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			ended_at DATETIME,
			candidates TEXT,
			selection TEXT,
			failure TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,
		`CREATE TABLE IF NOT EXISTS stage_outputs (
			run_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			output TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (run_id, stage),
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, ts)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run row.
func (s *SQLiteStore) CreateRun(ctx context.Context, rc *domain.RunContext) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, company, status, created_at) VALUES (?, ?, ?, ?)`,
		rc.RunID, rc.Company, rc.Status, rc.CreatedAt)
	return err
}

// SaveRun updates the mutable columns of a run row.
func (s *SQLiteStore) SaveRun(ctx context.Context, rc *domain.RunContext) error {
	var candidates, selection, failure sql.NullString
	if len(rc.Candidates) > 0 {
		b, err := json.Marshal(rc.Candidates)
		if err != nil {
			return err
		}
		candidates = sql.NullString{String: string(b), Valid: true}
	}
	if rc.Selection != nil {
		b, err := json.Marshal(rc.Selection)
		if err != nil {
			return err
		}
		selection = sql.NullString{String: string(b), Valid: true}
	}
	if rc.Failure != nil {
		b, err := json.Marshal(rc.Failure)
		if err != nil {
			return err
		}
		failure = sql.NullString{String: string(b), Valid: true}
	}
	var endedAt sql.NullTime
	if rc.EndedAt != nil {
		endedAt = sql.NullTime{Time: *rc.EndedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, ended_at = ?, candidates = ?, selection = ?, failure = ? WHERE run_id = ?`,
		rc.Status, endedAt, candidates, selection, failure, rc.RunID)
	return err
}

// GetRun reconstructs the run context, including its stage outputs.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.RunContext, error) {
	rc, err := s.scanRun(s.db.QueryRowContext(ctx,
		`SELECT run_id, company, status, created_at, ended_at, candidates, selection, failure FROM runs WHERE run_id = ?`,
		runID))
	if err != nil || rc == nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, output FROM stage_outputs WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var stage, output string
		if err := rows.Scan(&stage, &output); err != nil {
			return nil, err
		}
		rc.Outputs[domain.Stage(stage)] = json.RawMessage(output)
	}
	return rc, rows.Err()
}

// ListRuns returns the most recent runs, newest first, without outputs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*domain.RunContext, error) {
	query := `SELECT run_id, company, status, created_at, ended_at, candidates, selection, failure FROM runs ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.RunContext
	for rows.Next() {
		rc, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, rc)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanRun(row rowScanner) (*domain.RunContext, error) {
	var rc domain.RunContext
	var endedAt sql.NullTime
	var candidates, selection, failure sql.NullString

	err := row.Scan(&rc.RunID, &rc.Company, &rc.Status, &rc.CreatedAt, &endedAt, &candidates, &selection, &failure)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rc.Outputs = make(map[domain.Stage]json.RawMessage)
	if endedAt.Valid {
		rc.EndedAt = &endedAt.Time
	}
	if candidates.Valid {
		if err := json.Unmarshal([]byte(candidates.String), &rc.Candidates); err != nil {
			return nil, err
		}
	}
	if selection.Valid {
		rc.Selection = &domain.DomainSelection{}
		if err := json.Unmarshal([]byte(selection.String), rc.Selection); err != nil {
			return nil, err
		}
	}
	if failure.Valid {
		rc.Failure = &domain.FailureRecord{}
		if err := json.Unmarshal([]byte(failure.String), rc.Failure); err != nil {
			return nil, err
		}
	}
	return &rc, nil
}

// SaveOutput records one stage output. The primary key enforces append-only
// writes: a second write for the same stage fails.
func (s *SQLiteStore) SaveOutput(ctx context.Context, runID string, stage domain.Stage, output []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_outputs (run_id, stage, output, created_at) VALUES (?, ?, ?, ?)`,
		runID, stage, string(output), time.Now())
	return err
}

// CreateEvent creates a new trace event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.Event) error {
	payload := ""
	if event.Payload != nil {
		payload = string(event.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, run_id, ts, type, payload) VALUES (?, ?, ?, ?, ?)`,
		event.EventID, event.RunID, event.Ts, event.Type, payload)
	return err
}

// GetEvents retrieves events for a run in timestamp order.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string, afterTs int64, limit int) ([]domain.Event, error) {
	query := `SELECT event_id, run_id, ts, type, payload FROM events WHERE run_id = ?`
	args := []any{runID}

	if afterTs > 0 {
		query += ` AND ts > ?`
		args = append(args, afterTs)
	}
	// rowid breaks ties between events recorded in the same millisecond.
	query += ` ORDER BY ts ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		var payload sql.NullString
		if err := rows.Scan(&event.EventID, &event.RunID, &event.Ts, &event.Type, &payload); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
