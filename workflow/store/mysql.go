package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	wf "github.com/gilbertsahumada/chaoschain-workflow/workflow"
	"github.com/gilbertsahumada/chaoschain-workflow/workflow/emit"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB-backed implementation of workflow.Store,
// for production deployments requiring a shared, persistent store across
// multiple engine processes.
//
// The DSN format is the standard go-sql-driver/mysql one, e.g.
// "user:pass@tcp(localhost:3306)/workflows?parseTime=true".
type MySQLStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewMySQLStore opens a connection pool against dsn and creates the schema
// if it doesn't already exist.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS workflows (
			id VARCHAR(191) PRIMARY KEY,
			type VARCHAR(64) NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			state VARCHAR(16) NOT NULL,
			step VARCHAR(128) NOT NULL,
			step_attempts INT NOT NULL,
			input JSON NOT NULL,
			progress JSON NOT NULL,
			error JSON NULL,
			signer VARCHAR(191) NOT NULL,
			studio VARCHAR(191),
			data_hash VARCHAR(191),
			agent_address VARCHAR(191),
			INDEX idx_state (state),
			INDEX idx_type_state (type, state),
			INDEX idx_studio (studio),
			INDEX idx_data_hash (data_hash),
			INDEX idx_agent (agent_address)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`

	outbox := `
		CREATE TABLE IF NOT EXISTS events_outbox (
			event_id BIGINT AUTO_INCREMENT PRIMARY KEY,
			workflow_id VARCHAR(191) NOT NULL,
			step_attempt INT NOT NULL DEFAULT 0,
			node_id VARCHAR(191),
			msg VARCHAR(191) NOT NULL,
			meta JSON,
			created_at BIGINT NOT NULL,
			emitted TINYINT NOT NULL DEFAULT 0,
			INDEX idx_emitted_created (emitted, created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`

	for _, stmt := range []string{schema, outbox} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: create schema: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func (s *MySQLStore) Create(ctx context.Context, rec *wf.WorkflowRecord) error {
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

func (s *MySQLStore) Load(ctx context.Context, id string) (*wf.WorkflowRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, created_at, updated_at, state, step, step_attempts, input, progress, error, signer
		FROM workflows WHERE id = ?`, id)
	return scanRecord(row)
}

func (s *MySQLStore) UpdateState(ctx context.Context, id string, state wf.MetaState, step string, stepAttempts int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflows SET state = ?, step = ?, step_attempts = ?, updated_at = ? WHERE id = ?`,
		string(state), step, stepAttempts, nowMillisForStore(), id)
	if err != nil {
		return fmt.Errorf("store: update state: %w", err)
	}
	return checkAffected(res)
}

func (s *MySQLStore) AppendProgress(ctx context.Context, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var progressJSON string
	if err := tx.QueryRowContext(ctx, `SELECT progress FROM workflows WHERE id = ? FOR UPDATE`, id).Scan(&progressJSON); err != nil {
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

func (s *MySQLStore) SetError(ctx context.Context, id string, stepErr *wf.StepError) error {
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

func (s *MySQLStore) FindActiveWorkflows(ctx context.Context) ([]*wf.WorkflowRecord, error) {
	return s.query(ctx, `
		SELECT id, type, created_at, updated_at, state, step, step_attempts, input, progress, error, signer
		FROM workflows WHERE state IN (?, ?) ORDER BY created_at ASC`,
		string(wf.StateRunning), string(wf.StateStalled))
}

func (s *MySQLStore) FindByTypeAndState(ctx context.Context, t wf.WorkflowType, st wf.MetaState) ([]*wf.WorkflowRecord, error) {
	return s.query(ctx, `
		SELECT id, type, created_at, updated_at, state, step, step_attempts, input, progress, error, signer
		FROM workflows WHERE type = ? AND state = ? ORDER BY created_at ASC`, string(t), string(st))
}

func (s *MySQLStore) FindByStudio(ctx context.Context, studio string) ([]*wf.WorkflowRecord, error) {
	return s.query(ctx, `
		SELECT id, type, created_at, updated_at, state, step, step_attempts, input, progress, error, signer
		FROM workflows WHERE studio = ? ORDER BY created_at ASC`, studio)
}

func (s *MySQLStore) FindByDataHash(ctx context.Context, dataHash string) ([]*wf.WorkflowRecord, error) {
	return s.query(ctx, `
		SELECT id, type, created_at, updated_at, state, step, step_attempts, input, progress, error, signer
		FROM workflows WHERE data_hash = ? ORDER BY created_at ASC`, dataHash)
}

func (s *MySQLStore) FindByAgent(ctx context.Context, agent string) ([]*wf.WorkflowRecord, error) {
	return s.query(ctx, `
		SELECT id, type, created_at, updated_at, state, step, step_attempts, input, progress, error, signer
		FROM workflows WHERE agent_address = ? ORDER BY created_at ASC`, agent)
}

func (s *MySQLStore) query(ctx context.Context, q string, args ...any) ([]*wf.WorkflowRecord, error) {
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

func (s *MySQLStore) PendingEvents(ctx context.Context, limit int) ([]emit.Event, error) {
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

func (s *MySQLStore) MarkEventsEmitted(ctx context.Context, eventIDs []string) error {
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
func (s *MySQLStore) Enqueue(ctx context.Context, ev emit.Event) error {
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
