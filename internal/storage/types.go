package storage

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CreatedDescription is the description of the timeline event written when an
// entry is saved.
const CreatedDescription = "Entry created"

// DefaultSearchLimit is the number of hits returned when no limit is given.
const DefaultSearchLimit = 5

// ErrInvalidInput indicates that a store method was called with arguments it
// cannot act on (for example a nil database handle).
var ErrInvalidInput = errors.New("invalid input")

// StorageError reports a failure of the persistence layer.
type StorageError struct {
	Op  string // operation that failed, e.g. "save knowledge"
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// QueryError reports a full-text query the index could not parse.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("invalid search query %q: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// IsQueryError reports whether err is or wraps a *QueryError.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}

// IsStorageError reports whether err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// Wrap returns nil when err is nil and a *StorageError for op otherwise.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// EncodeTags serialises tags as a compact JSON array, preserving order. A nil
// slice encodes as "[]".
func EncodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// DecodeTags parses a column produced by EncodeTags. Unreadable values decode
// to an empty, non-nil slice.
func DecodeTags(raw string) []string {
	tags := []string{}
	if raw == "" {
		return tags
	}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil || tags == nil {
		return []string{}
	}
	return tags
}
