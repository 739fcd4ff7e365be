// Package sqlite implements store.RunStore on a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vincentmin/table-agent/pkg/conversation"
	"github.com/vincentmin/table-agent/pkg/store"
)

// Store implements store.RunStore using SQLite.
type Store struct {
	db          *sql.DB
	subscribers []chan string
	mu          sync.RWMutex
}

var _ store.RunStore = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		provider TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		schema_name TEXT NOT NULL DEFAULT '',
		rows INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		result TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS turns (
		id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		seq INTEGER NOT NULL,
		PRIMARY KEY (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) CreateRun(ctx context.Context, run *store.Run) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	if run.Status == "" {
		run.Status = store.StatusRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, provider, model, schema_name, rows, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Status, run.Provider, run.Model, run.SchemaName, run.Rows,
		run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	s.notifySubscribers(run.ID)
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*store.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, provider, model, schema_name, rows, error, result, created_at, updated_at
		 FROM runs WHERE id=?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return run, err
}

func (s *Store) ListRuns(ctx context.Context) ([]store.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, provider, model, schema_name, rows, error, result, created_at, updated_at
		 FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*store.Run, error) {
	var (
		run    store.Run
		result string
	)
	if err := sc.Scan(&run.ID, &run.Status, &run.Provider, &run.Model, &run.SchemaName,
		&run.Rows, &run.Error, &result, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	if result != "" {
		run.Result = &store.RunResult{}
		if err := json.Unmarshal([]byte(result), run.Result); err != nil {
			return nil, fmt.Errorf("decode result of run %s: %w", run.ID, err)
		}
	}
	return &run, nil
}

func (s *Store) FinishRun(ctx context.Context, runID string, status store.Status, result *store.RunResult, errText string) error {
	var encoded string
	if status == store.StatusSucceeded && result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		encoded = string(data)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status=?, result=?, error=?, updated_at=? WHERE id=?`,
		status, encoded, errText, time.Now().UTC(), runID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, runID)
	}
	s.notifySubscribers(runID)
	return nil
}

func (s *Store) AppendTurn(ctx context.Context, runID string, turn conversation.Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Get next sequence number.
	var maxSeq int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM turns WHERE run_id=?`, runID,
	).Scan(&maxSeq)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO turns (id, run_id, kind, payload, timestamp, seq) VALUES (?, ?, ?, ?, ?, ?)`,
		turn.ID, runID, turn.Kind, string(payload), turn.Timestamp, maxSeq+1,
	)
	if err != nil {
		return fmt.Errorf("insert turn into run %s: %w", runID, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET updated_at=? WHERE id=?`, time.Now().UTC(), runID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.notifySubscribers(runID)
	return nil
}

func (s *Store) GetTurns(ctx context.Context, runID string) ([]conversation.Turn, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id=?`, runID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, runID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM turns WHERE run_id=? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	turns := []conversation.Turn{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var t conversation.Turn
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *Store) Subscribe() <-chan string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan string, 64)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

func (s *Store) Unsubscribe(ch <-chan string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = slices.DeleteFunc(s.subscribers, func(c chan string) bool { return c == ch })
}

func (s *Store) notifySubscribers(runID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- runID:
		default:
			// Drop if subscriber is not consuming fast enough.
		}
	}
}
