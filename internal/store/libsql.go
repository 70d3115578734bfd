package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/flowrun/internal/engine"
	"github.com/rendis/flowrun/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

var _ Store = (*LibSQLStore)(nil)

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/flowrun.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

// SaveWorkflow inserts or replaces a definition, keeping its original created_at.
func (s *LibSQLStore) SaveWorkflow(ctx context.Context, wf *WorkflowRecord) error {
	if wf == nil || wf.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow id is required")
	}
	def, err := json.Marshal(wf.Definition)
	if err != nil {
		return fmt.Errorf("marshal workflow definition: %w", err)
	}
	now := time.Now().UTC()
	wf.CreatedAt = timeOrNow(wf.CreatedAt)
	wf.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, description, definition, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description,
		 definition=excluded.definition, updated_at=excluded.updated_at`,
		wf.ID, nullStr(wf.Name), nullStr(wf.Description), string(def), wf.CreatedAt, wf.UpdatedAt,
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*WorkflowRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, definition, created_at, updated_at FROM workflows WHERE id = ?`, id,
	)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	return wf, err
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, limit int) ([]*WorkflowRecord, error) {
	query := `SELECT id, name, description, definition, created_at, updated_at FROM workflows ORDER BY updated_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*WorkflowRecord
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(r rowScanner) (*WorkflowRecord, error) {
	wf := &WorkflowRecord{}
	var name, desc sql.NullString
	var def string
	if err := r.Scan(&wf.ID, &name, &desc, &def, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	wf.Name = name.String
	wf.Description = desc.String
	if err := json.Unmarshal([]byte(def), &wf.Definition); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "decode workflow %q: %v", wf.ID, err).WithCause(err)
	}
	return wf, nil
}

// --- Executions ---

func (s *LibSQLStore) SaveExecution(ctx context.Context, rec *ExecutionRecord) error {
	if rec == nil || rec.Result == nil {
		return schema.NewError(schema.ErrCodeValidation, "execution result is required")
	}
	if rec.ID == "" {
		rec.ID = rec.Result.ExecutionID
	}
	if rec.WorkflowID == "" {
		rec.WorkflowID = rec.Result.WorkflowID
	}
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("marshal execution result: %w", err)
	}
	var input any
	if len(rec.Input) > 0 {
		raw, err := json.Marshal(rec.Input)
		if err != nil {
			return fmt.Errorf("marshal execution input: %w", err)
		}
		input = string(raw)
	}
	rec.CreatedAt = timeOrNow(rec.CreatedAt)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, status, success, error, error_code, input, result, duration_ms, started_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, nullStr(rec.WorkflowID), string(rec.Result.Status), rec.Result.Success,
		nullStr(rec.Result.Error), nullStr(rec.Result.ErrorCode), input, string(result),
		rec.Result.DurationMs, timeOrNow(rec.Result.StartedAt), rec.CreatedAt,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %q already stored", rec.ID).WithCause(err)
	}
	return err
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, input, result, created_at FROM executions WHERE id = ?`, id,
	)
	rec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	return rec, err
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Success != nil {
		where = append(where, "success = ?")
		args = append(args, *filter.Success)
	}

	query := `SELECT id, workflow_id, input, result, created_at FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanExecution(r rowScanner) (*ExecutionRecord, error) {
	rec := &ExecutionRecord{}
	var wfID, input sql.NullString
	var result string
	if err := r.Scan(&rec.ID, &wfID, &input, &result, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.WorkflowID = wfID.String
	rec.Result = &schema.ExecutionResult{}
	if err := json.Unmarshal([]byte(result), rec.Result); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "decode execution %q: %v", rec.ID, err).WithCause(err)
	}
	if raw := rawOrNil(input); raw != nil {
		if err := json.Unmarshal(raw, &rec.Input); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "decode execution input %q: %v", rec.ID, err).WithCause(err)
		}
	}
	return rec, nil
}

// --- Tool usage ---

// LogUsage persists one usage record. It implements engine.UsageSink.
func (s *LibSQLStore) LogUsage(ctx context.Context, rec engine.UsageRecord) error {
	input, err := marshalOrNil(rec.Input)
	if err != nil {
		return fmt.Errorf("marshal usage input: %w", err)
	}
	var output any
	if rec.Output != nil {
		if output, err = marshalOrNil(rec.Output); err != nil {
			return fmt.Errorf("marshal usage output: %w", err)
		}
	}
	var errMsg any
	if rec.Error != nil {
		errMsg = *rec.Error
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tool_usage (tool_name, category, workflow_id, execution_id, step_id, input, output, success, error, duration_ms, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ToolName, nullStr(rec.Category), nullStr(rec.WorkflowID), rec.ExecutionID, rec.StepID,
		input, output, rec.Success, errMsg, rec.DurationMs, rec.Attempts, timeOrNow(rec.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) ListUsage(ctx context.Context, filter UsageFilter) ([]*engine.UsageRecord, error) {
	var where []string
	var args []any

	if filter.ExecutionID != "" {
		where = append(where, "execution_id = ?")
		args = append(args, filter.ExecutionID)
	}
	if filter.ToolName != "" {
		where = append(where, "tool_name = ?")
		args = append(args, filter.ToolName)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT tool_name, category, workflow_id, execution_id, step_id, input, output, success, error, duration_ms, attempts, created_at FROM tool_usage`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*engine.UsageRecord
	for rows.Next() {
		r := &engine.UsageRecord{}
		var category, wfID, input, output, errMsg sql.NullString
		if err := rows.Scan(&r.ToolName, &category, &wfID, &r.ExecutionID, &r.StepID,
			&input, &output, &r.Success, &errMsg, &r.DurationMs, &r.Attempts, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Category = category.String
		r.WorkflowID = wfID.String
		if raw := rawOrNil(input); raw != nil {
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("decode usage input: %w", err)
			}
			r.Input = v
		}
		if raw := rawOrNil(output); raw != nil {
			if err := json.Unmarshal(raw, &r.Output); err != nil {
				return nil, fmt.Errorf("decode usage output: %w", err)
			}
		}
		if errMsg.Valid {
			msg := errMsg.String
			r.Error = &msg
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Events ---

// AppendEvent appends an event with a monotonically increasing per-execution sequence.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE execution_id = ?`, event.ExecutionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (execution_id, workflow_id, step_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ExecutionID, nullStr(event.WorkflowID), nullStr(event.StepID), event.Type,
		nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for an execution with sequence > since, ordered by sequence ASC.
func (s *LibSQLStore) GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, workflow_id, step_id, event_type, payload, timestamp, sequence
		 FROM events WHERE execution_id = ? AND sequence > ? ORDER BY sequence ASC`,
		executionID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var wfID, stepID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.ExecutionID, &wfID, &stepID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.WorkflowID = wfID.String
		e.StepID = stepID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalOrNil(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
