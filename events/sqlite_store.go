package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var _ Store = &SQLiteStore{}

// SQLiteStore keeps events and execution summaries in a SQLite database.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	mutex sync.RWMutex
}

// SQLiteOptions configures the SQLite store
type SQLiteOptions struct {
	JournalMode    string        // WAL allows readers while a run is writing
	SyncMode       string        // Synchronization mode
	MaxConnections int           // Maximum number of connections in pool
	QueryTimeout   time.Duration // Timeout for schema setup
}

// DefaultSQLiteOptions returns the options used by NewSQLiteStore.
func DefaultSQLiteOptions() SQLiteOptions {
	return SQLiteOptions{
		JournalMode:    "WAL",
		SyncMode:       "NORMAL",
		MaxConnections: 4,
		QueryTimeout:   30 * time.Second,
	}
}

// NewSQLiteStore opens (or creates) the database at path with default options.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithOptions(path, DefaultSQLiteOptions())
}

// NewSQLiteStoreWithOptions opens (or creates) the database at path.
func NewSQLiteStoreWithOptions(path string, options SQLiteOptions) (*SQLiteStore, error) {
	defaults := DefaultSQLiteOptions()
	if options.JournalMode == "" {
		options.JournalMode = defaults.JournalMode
	}
	if options.SyncMode == "" {
		options.SyncMode = defaults.SyncMode
	}
	if options.MaxConnections <= 0 {
		options.MaxConnections = defaults.MaxConnections
	}
	if options.QueryTimeout <= 0 {
		options.QueryTimeout = defaults.QueryTimeout
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_sync=%s&_foreign_keys=1&_timeout=5000",
		path, options.JournalMode, options.SyncMode)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(options.MaxConnections)
	db.SetMaxIdleConns(options.MaxConnections)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), options.QueryTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	store := &SQLiteStore{db: db, path: path}
	if err := store.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) createSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		workflow_name TEXT NOT NULL,
		trigger_id TEXT,
		status TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT,
		errors JSON,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id);
	CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
	CREATE INDEX IF NOT EXISTS idx_executions_start ON executions(start_time);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		event_type TEXT NOT NULL,
		node_id TEXT,
		data JSON,
		UNIQUE(execution_id, sequence)
	);
	CREATE INDEX IF NOT EXISTS idx_events_execution ON events(execution_id, sequence);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return nil
}

// AppendEvents inserts events in a single transaction
func (s *SQLiteStore) AppendEvents(ctx context.Context, events []*Event) error {
	if len(events) == 0 {
		return nil
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, execution_id, sequence, timestamp, event_type, node_id, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, event := range events {
		if err := event.Validate(); err != nil {
			return fmt.Errorf("invalid event at index %d: %w", i, err)
		}
		var data []byte
		if event.Data != nil {
			data, err = json.Marshal(event.Data)
			if err != nil {
				return fmt.Errorf("failed to marshal event data at index %d: %w", i, err)
			}
		}
		if _, err := stmt.ExecContext(ctx,
			event.ID,
			event.ExecutionID,
			event.Sequence,
			formatTime(event.Timestamp),
			string(event.Type),
			nullableString(event.NodeID),
			nullableBytes(data),
		); err != nil {
			return fmt.Errorf("failed to insert event at index %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetEvents returns the execution's events in sequence order
func (s *SQLiteStore) GetEvents(ctx context.Context, executionID string) ([]*Event, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, sequence, timestamp, event_type, node_id, data
		FROM events
		WHERE execution_id = ?
		ORDER BY sequence ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		var (
			event     Event
			timestamp string
			eventType string
			nodeID    sql.NullString
			data      []byte
		)
		if err := rows.Scan(&event.ID, &event.ExecutionID, &event.Sequence,
			&timestamp, &eventType, &nodeID, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Type = EventType(eventType)
		event.NodeID = nodeID.String
		if event.Timestamp, err = parseTime(timestamp); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &event.Data); err != nil {
				return nil, fmt.Errorf("failed to decode event data: %w", err)
			}
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}

// SaveExecution upserts an execution summary
func (s *SQLiteStore) SaveExecution(ctx context.Context, execution *Execution) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var errorsJSON []byte
	if len(execution.Errors) > 0 {
		var err error
		if errorsJSON, err = json.Marshal(execution.Errors); err != nil {
			return fmt.Errorf("failed to marshal errors: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions
		(id, workflow_id, workflow_name, trigger_id, status, start_time, end_time, errors, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			workflow_name = excluded.workflow_name,
			trigger_id = excluded.trigger_id,
			status = excluded.status,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			errors = excluded.errors,
			error = excluded.error
	`,
		execution.ID,
		execution.WorkflowID,
		execution.WorkflowName,
		nullableString(execution.Trigger),
		execution.Status,
		formatTime(execution.StartTime),
		nullableTime(execution.EndTime),
		nullableBytes(errorsJSON),
		nullableString(execution.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

const executionColumns = `id, workflow_id, workflow_name, trigger_id, status, start_time, end_time, errors, error`

// GetExecution returns one execution summary
func (s *SQLiteStore) GetExecution(ctx context.Context, executionID string) (*Execution, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, executionID)
	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{ExecutionID: executionID}
	}
	return execution, err
}

// ListExecutions returns executions matching the filter, newest first
func (s *SQLiteStore) ListExecutions(ctx context.Context, filter Filter) ([]*Execution, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	query := `SELECT ` + executionColumns + ` FROM executions`
	var conditions []string
	var args []any
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.WorkflowID != "" {
		conditions = append(conditions, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY start_time DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		// Name matching happens here since Match is an arbitrary predicate
		if filter.Match != nil && !filter.Match(execution.WorkflowName) {
			continue
		}
		executions = append(executions, execution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return paginate(executions, filter), nil
}

// DeleteExecution removes an execution and its events
func (s *SQLiteStore) DeleteExecution(ctx context.Context, executionID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE execution_id = ?`, executionID); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, executionID); err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	var (
		execution Execution
		trigger   sql.NullString
		startTime string
		endTime   sql.NullString
		errs      []byte
		errText   sql.NullString
	)
	if err := row.Scan(&execution.ID, &execution.WorkflowID, &execution.WorkflowName,
		&trigger, &execution.Status, &startTime, &endTime, &errs, &errText); err != nil {
		return nil, err
	}
	execution.Trigger = trigger.String
	execution.Error = errText.String
	var err error
	if execution.StartTime, err = parseTime(startTime); err != nil {
		return nil, err
	}
	if endTime.Valid && endTime.String != "" {
		if execution.EndTime, err = parseTime(endTime.String); err != nil {
			return nil, err
		}
	}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &execution.Errors); err != nil {
			return nil, fmt.Errorf("failed to decode errors: %w", err)
		}
	}
	return &execution, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return t, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}
