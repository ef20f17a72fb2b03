package metrics

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/scrypster/ide-memory/internal/storage"
	"github.com/scrypster/ide-memory/internal/storage/sqlite"
)

// Store persists request outcomes in a sqlite database.
type Store struct {
	mu        sync.Mutex
	db        *sql.DB
	sessionID string
	startedAt time.Time
	now       func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSessionID stamps every record written by the store with id.
func WithSessionID(id string) StoreOption {
	return func(s *Store) { s.sessionID = id }
}

// WithStartTime sets the instant uptime is measured from. It defaults to the
// time the store is opened.
func WithStartTime(t time.Time) StoreOption {
	return func(s *Store) { s.startedAt = t }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore opens (creating if needed) the metrics database at dsn.
func NewStore(dsn string, opts ...StoreOption) (*Store, error) {
	db, err := sqlite.Open(dsn)
	if err != nil {
		return nil, err
	}

	mgr, err := storage.NewSchemaManager(db, storage.DialectSQLite, storage.SchemaMetrics)
	if err == nil {
		err = mgr.Up()
	}
	if err != nil {
		db.Close()
		return nil, &storage.StorageError{Op: "initialize metrics schema", Err: err}
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.startedAt.IsZero() {
		s.startedAt = s.now()
	}
	return s, nil
}

// StartedAt returns the instant uptime is measured from.
func (s *Store) StartedAt() time.Time {
	return s.startedAt
}

// Record inserts one outcome.
func (s *Store) Record(ctx context.Context, method string, toolName *string, elapsed time.Duration, responseSize int, success bool, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_metrics
			(method, tool_name, response_time_ms, response_size_bytes, success, error_message, session_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		method, toolName, float64(elapsed)/float64(time.Millisecond), responseSize,
		success, errMsg, nullIfEmpty(s.sessionID), s.now().Unix(),
	)
	return storage.Wrap("record request", err)
}

// ToolStats aggregates the recorded calls of toolName. A tool that was never
// called yields zero counts and a nil LastCalled.
func (s *Store) ToolStats(ctx context.Context, toolName string) (ToolStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toolStats(ctx, toolName)
}

func (s *Store) toolStats(ctx context.Context, toolName string) (ToolStats, error) {
	stats := ToolStats{ToolName: toolName}
	var (
		avg        sql.NullFloat64
		lastCalled sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
		       AVG(response_time_ms),
		       COALESCE(SUM(response_size_bytes), 0),
		       MAX(timestamp)
		FROM request_metrics
		WHERE tool_name = ?`, toolName,
	).Scan(&stats.TotalCalls, &stats.SuccessCount, &stats.ErrorCount, &avg, &stats.TotalResponseSizeBytes, &lastCalled)
	if err != nil {
		return ToolStats{}, storage.Wrap("tool stats", err)
	}
	stats.AvgResponseTimeMs = avg.Float64
	if lastCalled.Valid {
		v := lastCalled.Int64
		stats.LastCalled = &v
	}
	return stats, nil
}

// ServerStats aggregates every recorded request. Tool stats are ordered by
// tool name.
func (s *Store) ServerStats(ctx context.Context) (ServerStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := ServerStats{
		UptimeSeconds: int64(s.now().Sub(s.startedAt) / time.Second),
		ToolStats:     []ToolStats{},
	}
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
		       AVG(response_time_ms)
		FROM request_metrics`,
	).Scan(&stats.TotalRequests, &stats.TotalErrors, &avg)
	if err != nil {
		return ServerStats{}, storage.Wrap("server stats", err)
	}
	stats.AvgResponseTimeMs = avg.Float64

	names, err := s.toolNames(ctx)
	if err != nil {
		return ServerStats{}, err
	}
	for _, name := range names {
		ts, err := s.toolStats(ctx, name)
		if err != nil {
			return ServerStats{}, err
		}
		stats.ToolStats = append(stats.ToolStats, ts)
	}
	return stats, nil
}

func (s *Store) toolNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT tool_name FROM request_metrics
		WHERE tool_name IS NOT NULL
		ORDER BY tool_name`)
	if err != nil {
		return nil, storage.Wrap("list tools", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, storage.Wrap("scan tool name", err)
		}
		names = append(names, n)
	}
	return names, storage.Wrap("iterate tool names", rows.Err())
}

// RecentRequests returns up to limit records, newest first.
func (s *Store) RecentRequests(ctx context.Context, limit int) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, method, tool_name, response_time_ms, response_size_bytes,
		       success, error_message, COALESCE(session_id, ''), timestamp
		FROM request_metrics
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, storage.Wrap("recent requests", err)
	}
	defer rows.Close()

	out := []Request{}
	for rows.Next() {
		var (
			r      Request
			tool   sql.NullString
			errMsg sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Method, &tool, &r.ResponseTimeMs, &r.ResponseSizeBytes,
			&r.Success, &errMsg, &r.SessionID, &r.Timestamp); err != nil {
			return nil, storage.Wrap("scan request", err)
		}
		if tool.Valid {
			r.ToolName = &tool.String
		}
		if errMsg.Valid {
			r.ErrorMessage = &errMsg.String
		}
		out = append(out, r)
	}
	return out, storage.Wrap("iterate requests", rows.Err())
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
