package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"

	"github.com/scrypster/ide-memory/internal/storage"
	"github.com/scrypster/ide-memory/pkg/types"
)

// SearchCompact matches query with websearch_to_tsquery, which accepts
// quoted phrases, "or" and "-term". Scores are negated ts_rank_cd values so
// that, as with the sqlite backend, lower means more relevant. Ties are
// broken by ascending id.
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
		       k.created_at, k.updated_at, -ts_rank_cd(f.document, q) AS score
		FROM knowledge_fts f
		JOIN knowledge k ON k.id = f.knowledge_id,
		     websearch_to_tsquery('english', $1) q
		WHERE f.document @@ q
		ORDER BY score, k.id
		LIMIT $2`, query, limit)
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
			project  sql.NullString
			created  int64
			updated  int64
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

// classifySearchError reports syntax errors (SQLSTATE class 42) and text
// search configuration errors (class 22) as QueryError.
func classifySearchError(query string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "42", "22":
			return &storage.QueryError{Query: query, Err: err}
		}
	}
	return storage.Wrap("search knowledge", err)
}
