// Package storage defines the Knowledge Store contract shared by the sqlite
// and postgres backends, the error taxonomy of the persistence layer, and the
// schema manager that brings a database to a ready state.
package storage

import (
	"context"

	"github.com/scrypster/ide-memory/pkg/types"
)

// KnowledgeStore persists knowledge entries together with their full-text
// index and timeline.
//
// Implementations guarantee that:
//   - an index entry exists if and only if the knowledge entry exists,
//   - every entry has at least one timeline event,
//   - SaveKnowledge is atomic: on failure nothing partial is visible.
//
// Implementations never retry. Persistence failures surface as *StorageError,
// malformed search queries as *QueryError.
type KnowledgeStore interface {
	// SaveKnowledge stores a new entry, its "created" timeline event and its
	// index entry in one unit of work and returns the assigned id. Input is
	// assumed to be validated by the caller.
	SaveKnowledge(ctx context.Context, in types.NewKnowledge) (int64, error)

	// SearchCompact returns at most limit hits ordered best match first.
	// Hits never carry content.
	SearchCompact(ctx context.Context, query string, limit int) ([]types.SearchHit, error)

	// GetDetail returns the full entry. found is false, with a nil error,
	// when no entry has the given id.
	GetDetail(ctx context.Context, id int64) (entry types.KnowledgeEntry, found bool, err error)

	// GetTimeline returns the entry's events, newest first. An unknown id
	// yields an empty slice.
	GetTimeline(ctx context.Context, id int64) ([]types.TimelineEvent, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	// CountByType returns the number of stored entries per knowledge type.
	CountByType(ctx context.Context) (map[types.KnowledgeType]int, error)

	// Close releases any resources held by the store.
	Close() error
}
