package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/carewatch/internal/model"
)

// SchemaDDL creates the audit mirror table. Rows are only ever inserted.
const SchemaDDL = `
CREATE TABLE IF NOT EXISTS audit_events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	ts        TEXT NOT NULL,
	event     TEXT NOT NULL,
	trace_id  TEXT NOT NULL DEFAULT '',
	span_id   TEXT NOT NULL DEFAULT '',
	tool      TEXT NOT NULL DEFAULT '',
	mode      TEXT NOT NULL DEFAULT '',
	arguments TEXT,
	result    TEXT,
	error     TEXT,
	reason    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_events_trace ON audit_events(trace_id);
CREATE TRIGGER IF NOT EXISTS audit_events_no_update BEFORE UPDATE ON audit_events
BEGIN SELECT RAISE(ABORT, 'audit_events is append-only'); END;
CREATE TRIGGER IF NOT EXISTS audit_events_no_delete BEFORE DELETE ON audit_events
BEGIN SELECT RAISE(ABORT, 'audit_events is append-only'); END;
`

const writeTimeout = 5 * time.Second

// SQLiteSink mirrors audit events into a SQLite table for querying.
type SQLiteSink struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLite opens (or creates) the database at path with WAL journaling and
// a busy timeout, then applies the schema. ":memory:" is accepted for tests.
func OpenSQLite(path string) (*SQLiteSink, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("audit: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite %s: %w", path, err)
	}
	// A single connection keeps inserts serialized and ":memory:" shared.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: ping sqlite %s: %w", path, err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("audit: %s on %s: %w", pragma, path, err)
		}
	}
	if _, err := db.ExecContext(ctx, SchemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: apply schema: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

// Record inserts ev as one row.
func (s *SQLiteSink) Record(ev model.AuditEvent) error {
	entry := EntryFromEvent(ev)

	args, err := jsonColumn(entry.Arguments)
	if err != nil {
		return fmt.Errorf("audit: marshal arguments: %w", err)
	}
	result, err := jsonColumn(entry.Result)
	if err != nil {
		return fmt.Errorf("audit: marshal result: %w", err)
	}
	errCol, err := jsonColumn(entry.Error)
	if err != nil {
		return fmt.Errorf("audit: marshal error: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_events (ts, event, trace_id, span_id, tool, mode, arguments, result, error, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.Event, entry.TraceID, entry.SpanID, entry.Tool, entry.Mode,
		args, result, errCol, entry.Reason)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

// Entries returns the rows for traceID (all rows when empty) in insertion order.
func (s *SQLiteSink) Entries(ctx context.Context, traceID string) ([]Entry, error) {
	query := `SELECT ts, event, trace_id, span_id, tool, mode, arguments, result, error, reason
		FROM audit_events`
	var params []any
	if traceID != "" {
		query += ` WHERE trace_id = ?`
		params = append(params, traceID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                   Entry
			args, result, errJS sql.NullString
		)
		if err := rows.Scan(&e.Timestamp, &e.Event, &e.TraceID, &e.SpanID, &e.Tool, &e.Mode,
			&args, &result, &errJS, &e.Reason); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		if args.Valid {
			_ = json.Unmarshal([]byte(args.String), &e.Arguments)
		}
		if result.Valid {
			_ = json.Unmarshal([]byte(result.String), &e.Result)
		}
		if errJS.Valid {
			e.Error = &model.ErrorDetail{}
			_ = json.Unmarshal([]byte(errJS.String), e.Error)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func jsonColumn(v any) (sql.NullString, error) {
	if isNil(v) {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func isNil(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case map[string]any:
		return t == nil
	case *model.ErrorDetail:
		return t == nil
	default:
		return false
	}
}
