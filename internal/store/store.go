// Package store provides the SQLite-backed audit store for sessions and
// relayed tool calls.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/srogmann/mcp-playground/internal/relay"
	"github.com/srogmann/mcp-playground/internal/tool"
)

// SQLiteStore records sessions, tool calls and events in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the audit database.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			tool_title TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS tool_calls (
			tool_call_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			status TEXT NOT NULL,
			params TEXT,
			result TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, ts)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// UpsertSession records a session and its most recent tool title.
func (s *SQLiteStore) UpsertSession(ctx context.Context, sessionID, toolTitle string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, tool_title) VALUES (?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET tool_title = excluded.tool_title`,
		sessionID, toolTitle)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

// RecordCallStart inserts a dispatched tool call and returns its id.
// Implements relay.Recorder.
func (s *SQLiteStore) RecordCallStart(ctx context.Context, sessionID, toolName string, params map[string]interface{}) string {
	callID := "tc_" + uuid.New().String()
	rawParams, _ := json.Marshal(params)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (tool_call_id, session_id, tool_name, status, params) VALUES (?, ?, ?, ?, ?)`,
		callID, sessionID, toolName, relay.StateDispatched.String(), string(rawParams))
	if err != nil {
		// Auditing must not break the relay path.
		return ""
	}
	return callID
}

// RecordCallEnd marks a tool call terminal. Implements relay.Recorder.
func (s *SQLiteStore) RecordCallEnd(ctx context.Context, callID string, state relay.CallState, result []tool.Content) {
	if callID == "" {
		return
	}
	var rawResult interface{}
	if result != nil {
		if data, err := json.Marshal(result); err == nil {
			rawResult = string(data)
		}
	}
	_, _ = s.db.ExecContext(ctx,
		`UPDATE tool_calls SET status = ?, result = ?, completed_at = ? WHERE tool_call_id = ?`,
		state.String(), rawResult, time.Now().UTC(), callID)
}

// RecordEvent appends an audit event for a session.
func (s *SQLiteStore) RecordEvent(ctx context.Context, sessionID, eventType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, session_id, ts, type, payload) VALUES (?, ?, ?, ?, ?)`,
		"ev_"+uuid.New().String(), sessionID, time.Now().UnixMilli(), eventType, string(raw))
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// ToolCallRecord is one audited tool call.
type ToolCallRecord struct {
	ToolCallID  string          `json:"tool_call_id"`
	SessionID   string          `json:"session_id"`
	ToolName    string          `json:"tool_name"`
	Status      string          `json:"status"`
	Params      json.RawMessage `json:"params,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// ListToolCalls returns the audited tool calls of a session, oldest first.
func (s *SQLiteStore) ListToolCalls(ctx context.Context, sessionID string) ([]ToolCallRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool_call_id, session_id, tool_name, status, params, result, created_at, completed_at
		 FROM tool_calls WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool calls: %w", err)
	}
	defer rows.Close()

	var records []ToolCallRecord
	for rows.Next() {
		var rec ToolCallRecord
		var params, result sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&rec.ToolCallID, &rec.SessionID, &rec.ToolName, &rec.Status,
			&params, &result, &rec.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tool call: %w", err)
		}
		if params.Valid {
			rec.Params = json.RawMessage(params.String)
		}
		if result.Valid {
			rec.Result = json.RawMessage(result.String)
		}
		if completedAt.Valid {
			rec.CompletedAt = &completedAt.Time
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
