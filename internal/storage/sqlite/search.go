package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/scrypster/ide-memory/internal/storage"
	"github.com/scrypster/ide-memory/pkg/types"
)

// SearchCompact runs query through FTS5 MATCH and returns at most limit hits
// ranked by bm25, best (lowest) score first. Ties are broken by ascending id.
// The query is passed to FTS5 unmodified, so its full syntax (phrases,
// prefixes, boolean operators, column filters) is available to callers.
func (s *KnowledgeStore) SearchCompact(ctx context.Context, query string, limit int) ([]types.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &storage.QueryError{Query: query, Err: errors.New("query is empty")}
	}
	if limit <= 0 {
		limit = storage.DefaultSearchLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT k.id, k.knowledge_type, k.title, k.summary, k.tags, k.project_path,
		       k.created_at, k.updated_at, bm25(knowledge_fts) AS score
		FROM knowledge_fts
		JOIN knowledge k ON k.id = knowledge_fts.rowid
		WHERE knowledge_fts MATCH ?
		ORDER BY score, k.id
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, classifySearchError(query, err)
	}
	defer rows.Close()

	hits := []types.SearchHit{}
	for rows.Next() {
		var (
			hit      types.SearchHit
			kindName string
			tags     string
			created  int64
			updated  int64
			project  sql.NullString
		)
		if err := rows.Scan(&hit.ID, &kindName, &hit.Title, &hit.Summary, &tags, &project,
			&created, &updated, &hit.RelevanceScore); err != nil {
			return nil, storage.Wrap("scan search hit", err)
		}
		kind, err := types.ParseKnowledgeType(kindName)
		if err != nil {
			return nil, storage.Wrap("decode knowledge type", err)
		}
		hit.KnowledgeType = kind
		hit.Tags = storage.DecodeTags(tags)
		hit.ProjectPath = stringPtr(project)
		hit.CreatedAt = types.FromUnix(created)
		hit.UpdatedAt = types.FromUnix(updated)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySearchError(query, err)
	}
	return hits, nil
}

// classifySearchError maps FTS5 parse failures to a QueryError. SQLite
// reports them as a generic SQLITE_ERROR, so the message decides: "fts5:"
// syntax errors, unterminated strings and column filters naming an unknown
// column. Other errors, such as a missing table, are storage failures.
func classifySearchError(query string, err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqlite3.SQLITE_ERROR &&
		isMatchSyntaxError(sqliteErr.Error(), query) {
		return &storage.QueryError{Query: query, Err: err}
	}
	return storage.Wrap("search knowledge", err)
}

func isMatchSyntaxError(msg, query string) bool {
	if strings.Contains(msg, "fts5:") || strings.Contains(msg, "unterminated string") {
		return true
	}
	const noColumn = "no such column: "
	i := strings.Index(msg, noColumn)
	if i < 0 {
		return false
	}
	fields := strings.Fields(msg[i+len(noColumn):])
	return len(fields) > 0 && strings.Contains(query, fields[0]+":")
}
