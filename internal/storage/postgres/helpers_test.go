package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all knowledge rows; the index and timeline rows go
// with them through the cascading foreign keys. It lives in a _test.go file of
// package postgres so that it can reach the unexported db field while staying
// out of the production build.
func (s *KnowledgeStore) TruncateForTest(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE knowledge RESTART IDENTITY CASCADE"); err != nil {
		return fmt.Errorf("postgres: failed to truncate knowledge: %w", err)
	}
	return nil
}

// ExecForTest runs a raw statement against the store's database.
func (s *KnowledgeStore) ExecForTest(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}
