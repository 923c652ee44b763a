package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	wf "github.com/gilbertsahumada/chaoschain-workflow/workflow"
)

func nowMillisForStore() int64 {
	return time.Now().UnixMilli()
}

func unmarshalInput(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return fmt.Errorf("store: empty input")
	}
	return json.Unmarshal(raw, out)
}

func eventIDFor(seq int) string {
	return fmt.Sprintf("evt-%d", seq)
}

// denormalizedIndexFields best-effort extracts the studio/data_hash/agent
// fields every input type carries under those JSON keys, for the SQL
// backends' indexed columns. A record whose Input doesn't decode (it
// shouldn't happen; Input is validated at creation time by callers) simply
// gets empty index columns rather than failing the write.
func denormalizedIndexFields(rec *wf.WorkflowRecord) (studio, dataHash, agent string) {
	var probe struct {
		Studio       string `json:"studio"`
		DataHash     string `json:"data_hash"`
		AgentAddress string `json:"agent_address"`
	}
	_ = json.Unmarshal(rec.Input, &probe)
	return probe.Studio, probe.DataHash, probe.AgentAddress
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return wf.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

// rowScanner abstracts *sql.Row / *sql.Rows so scanRecord* can share code.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecordFrom(sc rowScanner) (*wf.WorkflowRecord, error) {
	var (
		rec          wf.WorkflowRecord
		typ, state   string
		input        string
		progressJSON string
		errJSON      sql.NullString
	)

	if err := sc.Scan(&rec.ID, &typ, &rec.CreatedAt, &rec.UpdatedAt, &state, &rec.Step, &rec.StepAttempts,
		&input, &progressJSON, &errJSON, &rec.Signer); err != nil {
		if err == sql.ErrNoRows {
			return nil, wf.ErrNotFound
		}
		return nil, fmt.Errorf("store: scan record: %w", err)
	}

	rec.Type = wf.WorkflowType(typ)
	rec.State = wf.MetaState(state)
	rec.Input = json.RawMessage(input)

	if err := json.Unmarshal([]byte(progressJSON), &rec.Progress); err != nil {
		return nil, fmt.Errorf("store: decode progress: %w", err)
	}
	if errJSON.Valid {
		var se wf.StepError
		if err := json.Unmarshal([]byte(errJSON.String), &se); err != nil {
			return nil, fmt.Errorf("store: decode error: %w", err)
		}
		rec.Error = &se
	}

	return &rec, nil
}

func scanRecord(row *sql.Row) (*wf.WorkflowRecord, error) {
	return scanRecordFrom(row)
}

func scanRecordRows(rows *sql.Rows) (*wf.WorkflowRecord, error) {
	return scanRecordFrom(rows)
}
