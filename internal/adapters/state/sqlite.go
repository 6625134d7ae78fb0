package state

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteStore keeps checkpoints and session metadata in one SQLite database.
type SQLiteStore struct {
	dbPath string
	db     *sql.DB
	mu     sync.RWMutex
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	// WAL lets status readers run while a session writes checkpoints.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := &SQLiteStore{dbPath: dbPath, db: db}

	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		// Table doesn't exist yet.
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Save upserts the checkpoint of state.SessionID.
func (s *SQLiteStore) Save(ctx context.Context, state *core.WorkflowState) error {
	if state == nil || state.SessionID == "" {
		return core.ErrValidation(core.CodeInvalidState, "cannot save a state without session_id")
	}
	data, sum, err := encodeState(state)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (
			session_id, version, mode, current_stage, outcome,
			iteration_count, max_iterations, state, checksum, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			version = excluded.version,
			mode = excluded.mode,
			current_stage = excluded.current_stage,
			outcome = excluded.outcome,
			iteration_count = excluded.iteration_count,
			max_iterations = excluded.max_iterations,
			state = excluded.state,
			checksum = excluded.checksum,
			updated_at = excluded.updated_at
	`,
		state.SessionID, state.Version, string(state.Mode), string(state.CurrentStage), string(state.Outcome),
		state.IterationCount, state.MaxIterations, string(data), sum,
		unixNano(state.CreatedAt), unixNano(stateUpdatedAt(state)),
	)
	if err != nil {
		return fmt.Errorf("upserting checkpoint: %w", err)
	}
	return nil
}

// Load returns the checkpoint of a session, or nil when there is none.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*core.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data, sum string
	err := s.db.QueryRowContext(ctx,
		"SELECT state, checksum FROM checkpoints WHERE session_id = ?", sessionID,
	).Scan(&data, &sum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}
	return decodeState(sessionID, []byte(data), sum)
}

// List returns checkpoint summaries, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]core.CheckpointSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, mode, current_stage, outcome, iteration_count, max_iterations, updated_at
		FROM checkpoints ORDER BY updated_at DESC, session_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	defer rows.Close()

	var out []core.CheckpointSummary
	for rows.Next() {
		var (
			sum                  core.CheckpointSummary
			mode, stage, outcome string
			updated              int64
		)
		if err := rows.Scan(&sum.SessionID, &mode, &stage, &outcome, &sum.IterationCount, &sum.MaxIterations, &updated); err != nil {
			return nil, fmt.Errorf("scanning checkpoint: %w", err)
		}
		sum.Mode = core.Mode(mode)
		sum.CurrentStage = core.StageName(stage)
		sum.Outcome = core.Outcome(outcome)
		sum.UpdatedAt = fromUnixNano(updated)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes the checkpoint of a session.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("deleting checkpoint: %w", err)
	}
	return nil
}

// EnsureMetadata inserts a metadata row unless one exists.
func (s *SQLiteStore) EnsureMetadata(ctx context.Context, meta core.SessionMetadata) (bool, error) {
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO session_metadata (
			session_id, model_name, created_at,
			input_tokens, output_tokens, cached_tokens, total_tokens, total_cost
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		meta.SessionID, meta.ModelName, unixNano(meta.CreatedAt),
		meta.InputTokens, meta.OutputTokens, meta.CachedTokens, meta.TotalTokens, meta.TotalCost,
	)
	if err != nil {
		return false, fmt.Errorf("inserting session metadata: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting session metadata: %w", err)
	}
	return n > 0, nil
}

// AddUsage increments the counters of an existing metadata row.
func (s *SQLiteStore) AddUsage(ctx context.Context, sessionID string, usage core.Usage, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE session_metadata SET
			input_tokens = input_tokens + ?,
			output_tokens = output_tokens + ?,
			cached_tokens = cached_tokens + ?,
			total_tokens = total_tokens + ?,
			total_cost = total_cost + ?
		WHERE session_id = ?
	`, usage.InputTokens, usage.OutputTokens, usage.CachedTokens, usage.TotalTokens, cost, sessionID)
	if err != nil {
		return fmt.Errorf("updating session usage: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrNotFound("session metadata", sessionID)
	}
	return nil
}

// GetMetadata returns the metadata row of a session, or nil.
func (s *SQLiteStore) GetMetadata(ctx context.Context, sessionID string) (*core.SessionMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, metadataSelect+" WHERE session_id = ?", sessionID)
	meta, err := scanMetadata(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session metadata: %w", err)
	}
	return meta, nil
}

// ListMetadata returns every metadata row, newest first.
func (s *SQLiteStore) ListMetadata(ctx context.Context) ([]core.SessionMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, metadataSelect+" ORDER BY created_at DESC, session_id ASC")
	if err != nil {
		return nil, fmt.Errorf("listing session metadata: %w", err)
	}
	defer rows.Close()

	var out []core.SessionMetadata
	for rows.Next() {
		meta, err := scanMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session metadata: %w", err)
		}
		out = append(out, *meta)
	}
	return out, rows.Err()
}

// DeleteMetadata removes the metadata row of a session.
func (s *SQLiteStore) DeleteMetadata(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM session_metadata WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("deleting session metadata: %w", err)
	}
	return nil
}

const metadataSelect = `
	SELECT session_id, model_name, created_at,
	       input_tokens, output_tokens, cached_tokens, total_tokens, total_cost
	FROM session_metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMetadata(row rowScanner) (*core.SessionMetadata, error) {
	var (
		meta    core.SessionMetadata
		created int64
	)
	if err := row.Scan(&meta.SessionID, &meta.ModelName, &created,
		&meta.InputTokens, &meta.OutputTokens, &meta.CachedTokens, &meta.TotalTokens, &meta.TotalCost); err != nil {
		return nil, err
	}
	meta.CreatedAt = fromUnixNano(created)
	return &meta, nil
}

// Timestamps are stored as UTC unix nanoseconds so ORDER BY is numeric.
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func stateUpdatedAt(state *core.WorkflowState) time.Time {
	if state.UpdatedAt.IsZero() {
		return time.Now().UTC()
	}
	return state.UpdatedAt
}
