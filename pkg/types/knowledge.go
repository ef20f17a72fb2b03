package types

import (
	"strconv"
	"time"
)

// EventCreated is the timeline event recorded when an entry is first saved.
const EventCreated = "created"

// KnowledgeHeader holds the fields shared by every representation of a
// knowledge entry. Content is deliberately absent.
type KnowledgeHeader struct {
	ID            int64         `json:"id"`
	KnowledgeType KnowledgeType `json:"knowledge_type"`
	Title         string        `json:"title"`
	Summary       string        `json:"summary"`
	Tags          []string      `json:"tags"`
	ProjectPath   *string       `json:"project_path"`
	CreatedAt     UnixTime      `json:"created_at"`
	UpdatedAt     UnixTime      `json:"updated_at"`
}

// KnowledgeEntry is the full detail view of a stored entry.
type KnowledgeEntry struct {
	KnowledgeHeader
	Content string `json:"content"`
}

// SearchHit is the compact view returned by full-text search. It never
// carries the entry content; RelevanceScore follows the lower-is-better
// convention.
type SearchHit struct {
	KnowledgeHeader
	RelevanceScore float64 `json:"relevance_score"`
}

// TimelineEvent records something that happened to a knowledge entry.
type TimelineEvent struct {
	ID          int64    `json:"id"`
	KnowledgeID int64    `json:"knowledge_id"`
	EventType   string   `json:"event_type"`
	Description string   `json:"description"`
	Timestamp   UnixTime `json:"timestamp"`
}

// NewKnowledge carries the caller-validated fields of an entry to be saved.
type NewKnowledge struct {
	Type        KnowledgeType
	Title       string
	Content     string
	Summary     string
	Tags        []string
	ProjectPath *string
}

// UnixTime is a time.Time that travels on the wire as whole Unix seconds.
type UnixTime struct {
	time.Time
}

// NewUnixTime truncates t to whole seconds.
func NewUnixTime(t time.Time) UnixTime {
	return UnixTime{Time: time.Unix(t.Unix(), 0).UTC()}
}

// FromUnix builds a UnixTime from Unix seconds.
func FromUnix(sec int64) UnixTime {
	return UnixTime{Time: time.Unix(sec, 0).UTC()}
}

// MarshalJSON encodes the time as an integer number of seconds.
func (t UnixTime) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, t.Unix(), 10), nil
}

// UnmarshalJSON decodes an integer number of seconds.
func (t *UnixTime) UnmarshalJSON(data []byte) error {
	sec, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*t = FromUnix(sec)
	return nil
}
