package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	wf "github.com/gilbertsahumada/chaoschain-workflow/workflow"
	"github.com/gilbertsahumada/chaoschain-workflow/workflow/emit"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed implementation of workflow.Store. It is
// the default durable backend: single file, zero setup, WAL mode for
// concurrent reads.
//
// Schema:
//   - workflows: one row per WorkflowRecord, columns matching §3 plus
//     denormalized studio/data_hash/agent_address columns for the indexed
//     reader queries §4.1 reserves.
//   - events_outbox: transactional outbox for at-least-once event delivery.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed store at
// path. Use ":memory:" for an ephemeral in-process database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			state TEXT NOT NULL,
			step TEXT NOT NULL,
			step_attempts INTEGER NOT NULL,
			input TEXT NOT NULL,
			progress TEXT NOT NULL,
			error TEXT,
			signer TEXT NOT NULL,
			studio TEXT,
			data_hash TEXT,
			agent_address TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_state ON workflows(state)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_type_state ON workflows(type, state)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_studio ON workflows(studio)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_data_hash ON workflows(data_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_agent ON workflows(agent_address)`,
		`CREATE TABLE IF NOT EXISTS events_outbox (
			event_id INTEGER PRIMARY KEY AUTOINCREMENT,
			workflow_id TEXT NOT NULL,
			step_attempt INTEGER NOT NULL DEFAULT 0,
			node_id TEXT,
			msg TEXT NOT NULL,
			meta TEXT,
			created_at INTEGER NOT NULL,
			emitted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_emitted ON events_outbox(emitted, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: create schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, rec *wf.WorkflowRecord) error {
	studio, dataHash, agent := denormalizedIndexFields(rec)

	progressJSON, err := json.Marshal(rec.Progress)
	if err != nil {
		return fmt.Errorf("store: marshal progress: %w", err)
	}

	var errJSON []byte
	if rec.Error != nil {
		errJSON, err = json.Marshal(rec.Error)
		if err != nil {
			return fmt.Errorf("store: marshal error: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows
			(id, type, created_at, updated_at, state, step, step_attempts, input, progress, error, signer, studio, data_hash, agent_address)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Type), rec.CreatedAt, rec.UpdatedAt, string(rec.State), rec.Step, rec.StepAttempts,
		string(rec.Input), string(progressJSON), nullableString(errJSON), rec.Signer, studio, dataHash, agent,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return wf.ErrAlreadyExists
		}
		return fmt.Errorf("store: insert workflow: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*wf.WorkflowRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, created_at, updated_at, state, step, step_attempts, input, progress, error, signer
		FROM workflows WHERE id = ?`, id)
	return scanRecord(row)
}

func (s *SQLiteStore) UpdateState(ctx context.Context, id string, state wf.MetaState, step string, stepAttempts int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflows SET state = ?, step = ?, step_attempts = ?, updated_at = ?
		WHERE id = ?`, string(state), step, stepAttempts, nowMillisForStore(), id)
	if err != nil {
		return fmt.Errorf("store: update state: %w", err)
	}
	return checkAffected(res)
}

// AppendProgress runs the read-modify-write merge inside a single SQLite
// transaction, satisfying the write-ahead invariant's "MUST be a single
// transaction" requirement.
func (s *SQLiteStore) AppendProgress(ctx context.Context, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var progressJSON string
	if err := tx.QueryRowContext(ctx, `SELECT progress FROM workflows WHERE id = ?`, id).Scan(&progressJSON); err != nil {
		if err == sql.ErrNoRows {
			return wf.ErrNotFound
		}
		return fmt.Errorf("store: read progress: %w", err)
	}

	var existing map[string]any
	if err := json.Unmarshal([]byte(progressJSON), &existing); err != nil {
		return fmt.Errorf("store: decode progress: %w", err)
	}

	merged := wf.MergeProgress(existing, fields)
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("store: encode progress: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE workflows SET progress = ?, updated_at = ? WHERE id = ?`,
		string(mergedJSON), nowMillisForStore(), id); err != nil {
		return fmt.Errorf("store: write progress: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) SetError(ctx context.Context, id string, stepErr *wf.StepError) error {
	var errJSON []byte
	var err error
	if stepErr != nil {
		errJSON, err = json.Marshal(stepErr)
		if err != nil {
			return fmt.Errorf("store: marshal error: %w", err)
		}
	}

	res, err := s.db.ExecContext(ctx, `UPDATE workflows SET error = ?, updated_at = ? WHERE id = ?`,
		nullableString(errJSON), nowMillisForStore(), id)
	if err != nil {
		return fmt.Errorf("store: set error: %w", err)
	}
	return checkAffected(res)
}

func (s *SQLiteStore) FindActiveWorkflows(ctx context.Context) ([]*wf.WorkflowRecord, error) {
	return s.query(ctx, `
		SELECT id, type, created_at, updated_at, state, step, step_attempts, input, progress, error, signer
		FROM workflows WHERE state IN (?, ?) ORDER BY created_at ASC`,
		string(wf.StateRunning), string(wf.StateStalled))
}

func (s *SQLiteStore) FindByTypeAndState(ctx context.Context, t wf.WorkflowType, st wf.MetaState) ([]*wf.WorkflowRecord, error) {
	return s.query(ctx, `
		SELECT id, type, created_at, updated_at, state, step, step_attempts, input, progress, error, signer
		FROM workflows WHERE type = ? AND state = ? ORDER BY created_at ASC`,
		string(t), string(st))
}

func (s *SQLiteStore) FindByStudio(ctx context.Context, studio string) ([]*wf.WorkflowRecord, error) {
	return s.query(ctx, `
		SELECT id, type, created_at, updated_at, state, step, step_attempts, input, progress, error, signer
		FROM workflows WHERE studio = ? ORDER BY created_at ASC`, studio)
}

func (s *SQLiteStore) FindByDataHash(ctx context.Context, dataHash string) ([]*wf.WorkflowRecord, error) {
	return s.query(ctx, `
		SELECT id, type, created_at, updated_at, state, step, step_attempts, input, progress, error, signer
		FROM workflows WHERE data_hash = ? ORDER BY created_at ASC`, dataHash)
}

func (s *SQLiteStore) FindByAgent(ctx context.Context, agent string) ([]*wf.WorkflowRecord, error) {
	return s.query(ctx, `
		SELECT id, type, created_at, updated_at, state, step, step_attempts, input, progress, error, signer
		FROM workflows WHERE agent_address = ? ORDER BY created_at ASC`, agent)
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]*wf.WorkflowRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*wf.WorkflowRecord
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PendingEvents(ctx context.Context, limit int) ([]emit.Event, error) {
	q := `SELECT event_id, workflow_id, step_attempt, node_id, msg, meta FROM events_outbox WHERE emitted = 0 ORDER BY created_at ASC`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: pending events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []emit.Event
	for rows.Next() {
		var eventID int64
		var workflowID, nodeID, msg string
		var stepAttempt int
		var metaJSON sql.NullString
		if err := rows.Scan(&eventID, &workflowID, &stepAttempt, &nodeID, &msg, &metaJSON); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		ev := emit.Event{RunID: workflowID, Step: stepAttempt, NodeID: nodeID, Msg: msg}
		if metaJSON.Valid {
			_ = json.Unmarshal([]byte(metaJSON.String), &ev.Meta)
		}
		if ev.Meta == nil {
			ev.Meta = map[string]any{}
		}
		ev.Meta["event_id"] = strconv.FormatInt(eventID, 10)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkEventsEmitted(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range eventIDs {
		eventID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return fmt.Errorf("store: mark emitted: invalid event id %q: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE events_outbox SET emitted = 1 WHERE event_id = ?`, eventID); err != nil {
			return fmt.Errorf("store: mark emitted: %w", err)
		}
	}
	return tx.Commit()
}

// Enqueue inserts ev into the outbox. Called alongside emitter.Emit so a
// crashed or unreachable Emitter can be healed later by replaying
// PendingEvents.
func (s *SQLiteStore) Enqueue(ctx context.Context, ev emit.Event) error {
	metaJSON, err := json.Marshal(ev.Meta)
	if err != nil {
		return fmt.Errorf("store: marshal event meta: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events_outbox (workflow_id, step_attempt, node_id, msg, meta, created_at, emitted)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		ev.RunID, ev.Step, ev.NodeID, ev.Msg, string(metaJSON), nowMillisForStore())
	return err
}
