// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storage keeps finished spans in a local SQLite database so traces
// can be inspected without a collector.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/otelhook/pkg/errors"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore persists spans. It is safe for concurrent use.
type SQLiteStore struct {
	db *sql.DB
}

// Config contains SQLite storage configuration.
type Config struct {
	// Path is the database file, or MemoryPath.
	Path string

	// MaxOpenConns sets the connection pool size. In-memory databases
	// always use one connection, since each connection would otherwise see
	// its own empty database.
	MaxOpenConns int
}

// New opens the database at cfg.Path and creates the schema.
func New(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, &errors.ValidationError{
			Field:      "path",
			Message:    "database path is required",
			Suggestion: "set tracing.exporters[].path or use :memory:",
		}
	}

	dsn := cfg.Path
	maxConns := cfg.MaxOpenConns
	if cfg.Path == MemoryPath {
		maxConns = 1
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
		if maxConns == 0 {
			maxConns = 4
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS spans (
			trace_id TEXT NOT NULL,
			span_id TEXT NOT NULL,
			parent_id TEXT,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			scope TEXT,
			start_time INTEGER NOT NULL,
			end_time INTEGER NOT NULL,
			status_code TEXT NOT NULL,
			status_message TEXT,
			attributes TEXT,
			events TEXT,
			PRIMARY KEY (trace_id, span_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_spans_start_time ON spans(start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_spans_end_time ON spans(end_time)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// StoreSpans writes spans in one transaction. A span already stored under
// the same trace and span id is replaced.
func (s *SQLiteStore) StoreSpans(ctx context.Context, spans []*Span) error {
	if len(spans) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO spans (trace_id, span_id, parent_id, name, kind, scope, start_time, end_time,
			status_code, status_message, attributes, events)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trace_id, span_id) DO UPDATE SET
			parent_id = excluded.parent_id,
			name = excluded.name,
			kind = excluded.kind,
			scope = excluded.scope,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			status_code = excluded.status_code,
			status_message = excluded.status_message,
			attributes = excluded.attributes,
			events = excluded.events
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, span := range spans {
		if span == nil || span.TraceID == "" || span.SpanID == "" {
			return &errors.ValidationError{Field: "span", Message: "trace_id and span_id are required"}
		}
		attrs, err := marshalJSON(span.Attributes)
		if err != nil {
			return fmt.Errorf("failed to marshal attributes for span %s: %w", span.SpanID, err)
		}
		events, err := marshalJSON(span.Events)
		if err != nil {
			return fmt.Errorf("failed to marshal events for span %s: %w", span.SpanID, err)
		}

		_, err = stmt.ExecContext(ctx,
			span.TraceID, span.SpanID, nullString(span.ParentID), span.Name, span.Kind, nullString(span.Scope),
			span.StartTime.UnixNano(), span.EndTime.UnixNano(),
			span.StatusCode, nullString(span.StatusMessage), attrs, events,
		)
		if err != nil {
			return fmt.Errorf("failed to store span %s: %w", span.SpanID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit spans: %w", err)
	}
	return nil
}

// TraceSpans returns every stored span of traceID ordered by start time.
// It returns *errors.NotFoundError when nothing is stored for the trace.
func (s *SQLiteStore) TraceSpans(ctx context.Context, traceID string) ([]*Span, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT span_id, parent_id, name, kind, scope, start_time, end_time,
			status_code, status_message, attributes, events
		FROM spans WHERE trace_id = ?
		ORDER BY start_time ASC, span_id ASC
	`, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query spans: %w", err)
	}
	defer rows.Close()

	var spans []*Span
	for rows.Next() {
		span := &Span{TraceID: traceID}
		var parentID, scope, statusMessage, attrs, events sql.NullString
		var start, end int64

		if err := rows.Scan(
			&span.SpanID, &parentID, &span.Name, &span.Kind, &scope, &start, &end,
			&span.StatusCode, &statusMessage, &attrs, &events,
		); err != nil {
			return nil, fmt.Errorf("failed to scan span: %w", err)
		}

		span.ParentID = parentID.String
		span.Scope = scope.String
		span.StatusMessage = statusMessage.String
		span.StartTime = time.Unix(0, start)
		span.EndTime = time.Unix(0, end)
		if attrs.Valid && attrs.String != "" {
			if err := json.Unmarshal([]byte(attrs.String), &span.Attributes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
			}
		}
		if events.Valid && events.String != "" {
			if err := json.Unmarshal([]byte(events.String), &span.Events); err != nil {
				return nil, fmt.Errorf("failed to unmarshal events: %w", err)
			}
		}
		spans = append(spans, span)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read spans: %w", err)
	}

	if len(spans) == 0 {
		return nil, &errors.NotFoundError{Resource: "trace", ID: traceID}
	}
	return spans, nil
}

// ListTraces summarizes the most recent traces matching filter, newest
// first.
func (s *SQLiteStore) ListTraces(ctx context.Context, filter TraceFilter) ([]TraceSummary, error) {
	query := `
		SELECT trace_id,
			COALESCE(MAX(CASE WHEN parent_id IS NULL THEN name END), MIN(name)),
			MIN(start_time), MAX(end_time), COUNT(*),
			SUM(CASE WHEN status_code = ? THEN 1 ELSE 0 END) AS errors
		FROM spans`
	args := []any{StatusError}

	if !filter.Since.IsZero() {
		query += " WHERE start_time >= ?"
		args = append(args, filter.Since.UnixNano())
	}
	query += " GROUP BY trace_id"
	if filter.ErrorsOnly {
		query += " HAVING errors > 0"
	}
	query += " ORDER BY MIN(start_time) DESC LIMIT ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list traces: %w", err)
	}
	defer rows.Close()

	var out []TraceSummary
	for rows.Next() {
		var sum TraceSummary
		var start, end int64
		if err := rows.Scan(&sum.TraceID, &sum.RootName, &start, &end, &sum.SpanCount, &sum.ErrorCount); err != nil {
			return nil, fmt.Errorf("failed to scan trace summary: %w", err)
		}
		sum.StartTime = time.Unix(0, start)
		sum.Duration = time.Duration(end - start)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trace summaries: %w", err)
	}
	return out, nil
}

// DeleteSpansOlderThan removes spans that ended before the cutoff and
// returns how many were deleted.
func (s *SQLiteStore) DeleteSpansOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM spans WHERE end_time < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old spans: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted spans: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalJSON(v any) (sql.NullString, error) {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	case []Event:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
