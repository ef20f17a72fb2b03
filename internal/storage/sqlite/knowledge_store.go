// Package sqlite implements storage.KnowledgeStore on an embedded SQLite
// database with an FTS5 full-text index.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/ide-memory/internal/storage"
	"github.com/scrypster/ide-memory/pkg/types"
)

// KnowledgeStore implements storage.KnowledgeStore using SQLite.
type KnowledgeStore struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

var _ storage.KnowledgeStore = (*KnowledgeStore)(nil)

// NewKnowledgeStore opens (creating if needed) the database at dsn and brings
// its schema up to date. If the first open fails because a crashed process
// left -wal/-shm files behind, and lsof confirms nothing holds them, the files
// are removed and the open is retried once.
func NewKnowledgeStore(dsn string, logger *zap.Logger) (*KnowledgeStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return openRecovering(dsn, logger, openKnowledgeStore, lsofHolds)
}

// Open opens a SQLite database with the pragmas every store in this module
// relies on. The caller owns the returned handle.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &storage.StorageError{Op: "open database", Err: err}
	}

	// One connection serialises writers and keeps :memory: databases alive
	// for the lifetime of the handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []struct{ name, stmt string }{
		{"enable WAL mode", "PRAGMA journal_mode=WAL"},
		{"set busy timeout", "PRAGMA busy_timeout = 5000"},
		{"enable foreign keys", "PRAGMA foreign_keys=ON"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			db.Close()
			return nil, &storage.StorageError{Op: p.name, Err: err}
		}
	}
	return db, nil
}

func openKnowledgeStore(dsn string, logger *zap.Logger) (*KnowledgeStore, error) {
	db, err := Open(dsn)
	if err != nil {
		return nil, err
	}

	mgr, err := storage.NewSchemaManager(db, storage.DialectSQLite, storage.SchemaKnowledgeSQLite)
	if err == nil {
		err = mgr.Up()
	}
	if err != nil {
		db.Close()
		return nil, &storage.StorageError{Op: "initialize schema", Err: err}
	}

	return &KnowledgeStore{db: db, logger: logger, now: time.Now}, nil
}

// SaveKnowledge inserts the entry and its "created" timeline event in one
// transaction. The FTS5 index is maintained by triggers inside the same
// transaction.
func (s *KnowledgeStore) SaveKnowledge(ctx context.Context, in types.NewKnowledge) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storage.Wrap("begin save", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `
		INSERT INTO knowledge (knowledge_type, title, content, summary, tags, project_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.Type.String(), in.Title, in.Content, in.Summary,
		storage.EncodeTags(in.Tags), nullableString(in.ProjectPath), now, now,
	)
	if err != nil {
		return 0, storage.Wrap("insert knowledge", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, storage.Wrap("read knowledge id", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO knowledge_timeline (knowledge_id, event_type, description, timestamp)
		VALUES (?, ?, ?, ?)`,
		id, types.EventCreated, storage.CreatedDescription, now,
	); err != nil {
		return 0, storage.Wrap("insert timeline event", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storage.Wrap("commit save", err)
	}
	return id, nil
}

// GetDetail returns the full entry for id.
func (s *KnowledgeStore) GetDetail(ctx context.Context, id int64) (types.KnowledgeEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		entry    types.KnowledgeEntry
		kindName string
		tags     string
		project  sql.NullString
		created  int64
		updated  int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, knowledge_type, title, content, summary, tags, project_path, created_at, updated_at
		FROM knowledge WHERE id = ?`, id,
	).Scan(&entry.ID, &kindName, &entry.Title, &entry.Content, &entry.Summary, &tags, &project, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return types.KnowledgeEntry{}, false, nil
	}
	if err != nil {
		return types.KnowledgeEntry{}, false, storage.Wrap("get knowledge", err)
	}

	kind, err := types.ParseKnowledgeType(kindName)
	if err != nil {
		return types.KnowledgeEntry{}, false, storage.Wrap("decode knowledge type", err)
	}
	entry.KnowledgeType = kind
	entry.Tags = storage.DecodeTags(tags)
	entry.ProjectPath = stringPtr(project)
	entry.CreatedAt = types.FromUnix(created)
	entry.UpdatedAt = types.FromUnix(updated)
	return entry, true, nil
}

// GetTimeline returns the events recorded for id, newest first. Events with
// equal timestamps are ordered by descending event id.
func (s *KnowledgeStore) GetTimeline(ctx context.Context, id int64) ([]types.TimelineEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, knowledge_id, event_type, description, timestamp
		FROM knowledge_timeline
		WHERE knowledge_id = ?
		ORDER BY timestamp DESC, id DESC`, id)
	if err != nil {
		return nil, storage.Wrap("query timeline", err)
	}
	defer rows.Close()

	events := []types.TimelineEvent{}
	for rows.Next() {
		var (
			ev types.TimelineEvent
			ts int64
		)
		if err := rows.Scan(&ev.ID, &ev.KnowledgeID, &ev.EventType, &ev.Description, &ts); err != nil {
			return nil, storage.Wrap("scan timeline event", err)
		}
		ev.Timestamp = types.FromUnix(ts)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap("iterate timeline", err)
	}
	return events, nil
}

// Count returns the number of stored entries.
func (s *KnowledgeStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge`).Scan(&n); err != nil {
		return 0, storage.Wrap("count knowledge", err)
	}
	return n, nil
}

// CountByType returns entry counts keyed by knowledge type. Types with no
// entries are omitted.
func (s *KnowledgeStore) CountByType(ctx context.Context) (map[types.KnowledgeType]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT knowledge_type, COUNT(*) FROM knowledge GROUP BY knowledge_type`)
	if err != nil {
		return nil, storage.Wrap("count by type", err)
	}
	defer rows.Close()

	counts := make(map[types.KnowledgeType]int)
	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, storage.Wrap("scan type count", err)
		}
		kind, err := types.ParseKnowledgeType(name)
		if err != nil {
			return nil, storage.Wrap("decode knowledge type", err)
		}
		counts[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap("iterate type counts", err)
	}
	return counts, nil
}

// DB exposes the underlying handle for maintenance tasks such as backups.
func (s *KnowledgeStore) DB() *sql.DB {
	return s.db
}

// Close flushes the WAL into the main database file and releases resources.
// The TRUNCATE checkpoint removes the -shm and -wal files so that the next
// process can open the database without encountering stale WAL state.
func (s *KnowledgeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("WAL checkpoint on close failed", zap.Error(err))
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
