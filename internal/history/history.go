// Package history records executions and their per-command results in a
// SQLite database, giving the API a queryable run log.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to the SQLite database.
type DB struct {
	conn *sql.DB
}

// Execution is one script run, from dispatch to final page source.
type Execution struct {
	ID         int64
	ScriptID   string
	Suite      *string
	Test       *string
	SessionID  string
	Mode       string // auto, targeted, stream
	Status     string // running, passed, failed
	ErrorKind  *string
	Error      *string
	StartedAt  string
	EndedAt    *string
	DurationMs *int64
}

// CommandResult is one executed command within an execution.
type CommandResult struct {
	ID          int64
	ExecutionID int64
	Seq         int
	CommandID   string
	Command     string
	Target      string
	Value       string
	Status      string // passed, failed
	Error       *string
	StartedAt   string
	DurationMs  int64
}

// Stats aggregates execution counts for status reporting.
type Stats struct {
	Total   int
	Running int
	Passed  int
	Failed  int
}

// Open creates a new DB connection and runs all pending migrations.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	goose.SetBaseFS(migrationFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for use by other packages if needed.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// --- Execution methods ---

const executionColumns = `id, script_id, suite, test, session_id, mode, status, error_kind, error, started_at, ended_at, duration_ms`

func scanExecution(scanner interface{ Scan(...any) error }, e *Execution) error {
	return scanner.Scan(&e.ID, &e.ScriptID, &e.Suite, &e.Test, &e.SessionID, &e.Mode, &e.Status, &e.ErrorKind, &e.Error, &e.StartedAt, &e.EndedAt, &e.DurationMs)
}

// InsertExecution creates a new execution record and returns its ID.
func (d *DB) InsertExecution(e *Execution) (int64, error) {
	res, err := d.conn.Exec(
		`INSERT INTO executions (script_id, suite, test, session_id, mode, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ScriptID, e.Suite, e.Test, e.SessionID, e.Mode, e.Status, e.StartedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert execution: %w", err)
	}
	return res.LastInsertId()
}

// FinishExecution records an execution's final status and timing.
func (d *DB) FinishExecution(id int64, status string, errorKind, errMsg *string) error {
	endedAt := time.Now().UTC().Format(time.RFC3339)
	_, err := d.conn.Exec(
		`UPDATE executions SET status = ?, error_kind = ?, error = ?, ended_at = ?,
		 duration_ms = CAST((julianday(?) - julianday(started_at)) * 86400000 AS INTEGER)
		 WHERE id = ?`,
		status, errorKind, errMsg, endedAt, endedAt, id,
	)
	if err != nil {
		return fmt.Errorf("finish execution %d: %w", id, err)
	}
	return nil
}

// GetExecution retrieves a single execution by ID, or nil if absent.
func (d *DB) GetExecution(id int64) (*Execution, error) {
	e := &Execution{}
	row := d.conn.QueryRow(`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	if err := scanExecution(row, e); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get execution %d: %w", id, err)
	}
	return e, nil
}

// ListExecutions returns executions newest first, with a limit, offset,
// and optional script/status filters.
func (d *DB) ListExecutions(limit, offset int, scriptID, status *string) ([]Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE 1=1`
	var args []any
	if scriptID != nil {
		query += ` AND script_id = ?`
		args = append(args, *scriptID)
	}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var executions []Execution
	for rows.Next() {
		var e Execution
		if err := scanExecution(rows, &e); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// ExecutionStats aggregates execution counts by status.
func (d *DB) ExecutionStats() (*Stats, error) {
	rows, err := d.conn.Query(`SELECT status, COUNT(*) FROM executions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("execution stats: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	st := &Stats{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st.Total += n
		switch status {
		case "running":
			st.Running = n
		case "passed":
			st.Passed = n
		case "failed":
			st.Failed = n
		}
	}
	return st, rows.Err()
}

// --- Command result methods ---

// InsertCommandResult stores one command outcome and returns its ID.
func (d *DB) InsertCommandResult(c *CommandResult) (int64, error) {
	res, err := d.conn.Exec(
		`INSERT INTO execution_commands (execution_id, seq, command_id, command, target, value, status, error, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ExecutionID, c.Seq, c.CommandID, c.Command, c.Target, c.Value, c.Status, c.Error, c.StartedAt, c.DurationMs,
	)
	if err != nil {
		return 0, fmt.Errorf("insert command result: %w", err)
	}
	return res.LastInsertId()
}

// ListCommandResults returns an execution's command outcomes in run order.
func (d *DB) ListCommandResults(executionID int64) ([]CommandResult, error) {
	rows, err := d.conn.Query(
		`SELECT id, execution_id, seq, command_id, command, target, value, status, error, started_at, duration_ms
		 FROM execution_commands WHERE execution_id = ? ORDER BY seq ASC`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list command results: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var results []CommandResult
	for rows.Next() {
		var c CommandResult
		if err := rows.Scan(&c.ID, &c.ExecutionID, &c.Seq, &c.CommandID, &c.Command, &c.Target, &c.Value, &c.Status, &c.Error, &c.StartedAt, &c.DurationMs); err != nil {
			return nil, fmt.Errorf("scan command result: %w", err)
		}
		results = append(results, c)
	}
	return results, rows.Err()
}
