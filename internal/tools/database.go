package tools

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/flowrun/pkg/schema"
)

const defaultMaxRows = 1000

// SQL drivers accepted by SQLConfig.Driver.
const (
	DriverLibSQL   = "libsql"
	DriverPostgres = "pgx"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// SQLConfig configures the database tools. Either DB is supplied directly or
// Driver and DSN are used to open one lazily on first use.
type SQLConfig struct {
	DB      *sql.DB
	Driver  string
	DSN     string
	MaxRows int
}

// sqlConn is shared by the three database tools.
type sqlConn struct {
	cfg     SQLConfig
	once    sync.Once
	db      *sql.DB
	openErr error
}

// DatabaseHandlers returns the database category tools.
func DatabaseHandlers(cfg SQLConfig) []Handler {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverLibSQL
	}
	conn := &sqlConn{cfg: cfg}
	return []Handler{
		&sqlQuery{conn: conn},
		&sqlExecute{conn: conn},
		&sqlInsert{conn: conn},
	}
}

func (c *sqlConn) get(tool string) (*sql.DB, error) {
	c.once.Do(func() {
		if c.cfg.DB != nil {
			c.db = c.cfg.DB
			return
		}
		if c.cfg.DSN == "" {
			c.openErr = fmt.Errorf("no database configured")
			return
		}
		db, err := sql.Open(c.cfg.Driver, c.cfg.DSN)
		if err != nil {
			c.openErr = err
			return
		}
		db.SetConnMaxIdleTime(5 * time.Minute)
		c.db = db
	})
	if c.openErr != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "%s: %v", tool, c.openErr).WithCause(c.openErr)
	}
	return c.db, nil
}

// placeholder returns the n-th (1-based) bind placeholder for the driver.
func (c *sqlConn) placeholder(n int) string {
	if c.cfg.Driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func sqlArgs(params map[string]any) []any {
	args := sliceParam(params, "args")
	if args == nil {
		return []any{}
	}
	return args
}

// --- sql_query ---

type sqlQuery struct{ conn *sqlConn }

func (*sqlQuery) Category() Category  { return CategoryDatabase }
func (*sqlQuery) Name() string        { return "sql_query" }
func (*sqlQuery) Description() string { return "Run a SELECT with bind args and return rows as objects" }

func (a *sqlQuery) Invoke(ctx context.Context, input any) (map[string]any, error) {
	params, err := paramsOf("sql_query", input)
	if err != nil {
		return nil, err
	}
	query, err := requireString("sql_query", params, "query")
	if err != nil {
		return nil, err
	}
	db, err := a.conn.get("sql_query")
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, sqlArgs(params)...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "sql_query: %v", err).WithCause(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "sql_query: %v", err).WithCause(err)
	}

	limit := intParam(params, "max_rows", a.conn.cfg.MaxRows)
	out := []any{}
	truncated := false
	for rows.Next() {
		if len(out) >= limit {
			truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "sql_query: scan: %v", err).WithCause(err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = sqlValue(vals[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "sql_query: %v", err).WithCause(err)
	}

	colsAny := make([]any, len(cols))
	for i, c := range cols {
		colsAny[i] = c
	}
	return map[string]any{
		"rows":      out,
		"columns":   colsAny,
		"count":     len(out),
		"truncated": truncated,
	}, nil
}

func sqlValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return t
	}
}

// --- sql_execute ---

type sqlExecute struct{ conn *sqlConn }

func (*sqlExecute) Category() Category { return CategoryDatabase }
func (*sqlExecute) Name() string       { return "sql_execute" }
func (*sqlExecute) Description() string {
	return "Run a data-modifying statement with bind args and report rows affected"
}

func (a *sqlExecute) Invoke(ctx context.Context, input any) (map[string]any, error) {
	params, err := paramsOf("sql_execute", input)
	if err != nil {
		return nil, err
	}
	stmt, err := requireString("sql_execute", params, "statement")
	if err != nil {
		return nil, err
	}
	db, err := a.conn.get("sql_execute")
	if err != nil {
		return nil, err
	}

	res, err := db.ExecContext(ctx, stmt, sqlArgs(params)...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "sql_execute: %v", err).WithCause(err)
	}
	return execResult(res), nil
}

func execResult(res sql.Result) map[string]any {
	out := map[string]any{}
	if n, err := res.RowsAffected(); err == nil {
		out["rows_affected"] = n
	}
	if id, err := res.LastInsertId(); err == nil {
		out["last_insert_id"] = id
	}
	return out
}

// --- sql_insert ---

type sqlInsert struct{ conn *sqlConn }

func (*sqlInsert) Category() Category  { return CategoryDatabase }
func (*sqlInsert) Name() string        { return "sql_insert" }
func (*sqlInsert) Description() string { return "Insert one row built from a column → value object" }

func (a *sqlInsert) Invoke(ctx context.Context, input any) (map[string]any, error) {
	params, err := paramsOf("sql_insert", input)
	if err != nil {
		return nil, err
	}
	table, err := requireString("sql_insert", params, "table")
	if err != nil {
		return nil, err
	}
	values := mapParam(params, "values")
	if len(values) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "sql_insert: \"values\" must be a non-empty object")
	}

	stmt, args, err := a.conn.buildInsert(table, values)
	if err != nil {
		return nil, err
	}
	db, err := a.conn.get("sql_insert")
	if err != nil {
		return nil, err
	}

	res, err := db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "sql_insert: %v", err).WithCause(err)
	}
	out := execResult(res)
	out["table"] = table
	return out, nil
}

// buildInsert renders an INSERT with columns in sorted order. Table and
// column names must be plain identifiers; values are always bound.
func (c *sqlConn) buildInsert(table string, values map[string]any) (string, []any, error) {
	if !identifierRe.MatchString(table) {
		return "", nil, schema.NewErrorf(schema.ErrCodeValidation, "sql_insert: invalid table name %q", table)
	}
	cols := make([]string, 0, len(values))
	for k := range values {
		if !identifierRe.MatchString(k) || strings.Contains(k, ".") {
			return "", nil, schema.NewErrorf(schema.ErrCodeValidation, "sql_insert: invalid column name %q", k)
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)

	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		marks[i] = c.placeholder(i + 1)
		args[i] = values[col]
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	return stmt, args, nil
}
