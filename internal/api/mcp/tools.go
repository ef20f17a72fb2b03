package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/scrypster/ide-memory/internal/storage"
	"github.com/scrypster/ide-memory/pkg/types"
)

// Tool names. These are part of the wire contract.
const (
	ToolSearch    = "mem_search"
	ToolSave      = "mem_save"
	ToolGetDetail = "mem_get_detail"
	ToolTimeline  = "mem_timeline"
)

// DefaultMaxSearchLimit caps mem_search limits when no other cap is set.
const DefaultMaxSearchLimit = 100

// ToolErrorKind classifies a tool failure. Every kind is reported to the
// client with ErrCodeInternalError; the kind only drives logging and error
// reporting.
type ToolErrorKind string

const (
	KindValidation  ToolErrorKind = "validation"
	KindUnknownTool ToolErrorKind = "unknown_tool"
	KindNotFound    ToolErrorKind = "not_found"
	KindStorage     ToolErrorKind = "storage"
)

// ToolError is returned by Registry.Call.
type ToolError struct {
	Kind    ToolErrorKind
	Message string
	Err     error
}

func (e *ToolError) Error() string { return e.Message }

func (e *ToolError) Unwrap() error { return e.Err }

func validationError(format string, args ...interface{}) *ToolError {
	return &ToolError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Registry owns the tool catalog and turns validated tool-call arguments into
// KnowledgeStore calls.
type Registry struct {
	store          storage.KnowledgeStore
	maxSearchLimit int
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMaxSearchLimit clamps mem_search limits to n. Values below 1 are
// ignored.
func WithMaxSearchLimit(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxSearchLimit = n
		}
	}
}

// NewRegistry creates a Registry backed by store.
func NewRegistry(store storage.KnowledgeStore, opts ...RegistryOption) *Registry {
	r := &Registry{store: store, maxSearchLimit: DefaultMaxSearchLimit}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tools returns the catalog in its fixed order.
func (r *Registry) Tools() []MCPTool {
	return []MCPTool{
		{
			Name:        ToolSearch,
			Description: "Search stored knowledge and return compact results without full content (progressive disclosure, layer 1). Supports full-text query syntax: phrases, prefix*, AND/OR/NOT.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"query"},
				"properties": map[string]interface{}{
					"query": map[string]interface{}{"type": "string", "description": "Full-text search query"},
					"limit": map[string]interface{}{"type": "integer", "description": "Maximum number of results", "default": storage.DefaultSearchLimit},
				},
			},
		},
		{
			Name:        ToolSave,
			Description: "Save a knowledge entry to persistent memory.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"knowledge_type", "title", "content", "summary"},
				"properties": map[string]interface{}{
					"knowledge_type": map[string]interface{}{"type": "string", "enum": types.KnowledgeTypeNames(), "description": "Kind of knowledge"},
					"title":          map[string]interface{}{"type": "string", "description": "Entry title"},
					"content":        map[string]interface{}{"type": "string", "description": "Full content"},
					"summary":        map[string]interface{}{"type": "string", "description": "Compact summary (~100 tokens)"},
					"tags":           map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Tags for categorization"},
					"project_path":   map[string]interface{}{"type": "string", "description": "Project path (optional)"},
				},
			},
		},
		{
			Name:        ToolGetDetail,
			Description: "Get the full detail of a knowledge entry, including its content (progressive disclosure, layer 3).",
			InputSchema: idSchema(),
		},
		{
			Name:        ToolTimeline,
			Description: "Get the timeline of a knowledge entry, newest event first (progressive disclosure, layer 2).",
			InputSchema: idSchema(),
		},
	}
}

func idSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"id"},
		"properties": map[string]interface{}{
			"id": map[string]interface{}{"type": "integer", "description": "Knowledge entry ID"},
		},
	}
}

// Call validates args for the named tool and runs it. args must be a JSON
// object. The returned value is the tool payload, ready to be marshalled as
// the JSON-RPC result. Errors are always *ToolError.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	var fields arguments
	if err := json.Unmarshal(args, &fields); err != nil || fields == nil {
		return nil, validationError("arguments must be a JSON object")
	}

	switch name {
	case ToolSearch:
		return r.search(ctx, fields)
	case ToolSave:
		return r.save(ctx, fields)
	case ToolGetDetail:
		return r.getDetail(ctx, fields)
	case ToolTimeline:
		return r.timeline(ctx, fields)
	default:
		return nil, &ToolError{Kind: KindUnknownTool, Message: fmt.Sprintf("unknown tool: %s", name)}
	}
}

func (r *Registry) search(ctx context.Context, args arguments) (interface{}, error) {
	query, err := args.requiredString("query")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, validationError("'query' must not be empty")
	}

	limit, present, err := args.optionalInt("limit")
	if err != nil {
		return nil, err
	}
	if !present || limit <= 0 {
		limit = storage.DefaultSearchLimit
	}
	if limit > int64(r.maxSearchLimit) {
		limit = int64(r.maxSearchLimit)
	}

	hits, err := r.store.SearchCompact(ctx, query, int(limit))
	if err != nil {
		return nil, storeError(err)
	}
	return hits, nil
}

func (r *Registry) save(ctx context.Context, args arguments) (interface{}, error) {
	kindName, err := args.requiredString("knowledge_type")
	if err != nil {
		return nil, err
	}
	kind, err := types.ParseKnowledgeType(kindName)
	if err != nil {
		return nil, validationError("invalid knowledge_type: %s (want one of %s)",
			kindName, strings.Join(types.KnowledgeTypeNames(), ", "))
	}

	in := types.NewKnowledge{Type: kind}
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"title", &in.Title},
		{"content", &in.Content},
		{"summary", &in.Summary},
	} {
		if *f.dst, err = args.requiredString(f.name); err != nil {
			return nil, err
		}
	}

	if in.Tags, err = args.tags(); err != nil {
		return nil, err
	}
	if in.ProjectPath, err = args.optionalString("project_path"); err != nil {
		return nil, err
	}

	id, err := r.store.SaveKnowledge(ctx, in)
	if err != nil {
		return nil, storeError(err)
	}
	return SaveResult{ID: id, Success: true}, nil
}

func (r *Registry) getDetail(ctx context.Context, args arguments) (interface{}, error) {
	id, err := args.requiredInt("id")
	if err != nil {
		return nil, err
	}

	entry, found, err := r.store.GetDetail(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if !found {
		return nil, &ToolError{Kind: KindNotFound, Message: fmt.Sprintf("knowledge entry not found: id %d", id)}
	}
	return entry, nil
}

func (r *Registry) timeline(ctx context.Context, args arguments) (interface{}, error) {
	id, err := args.requiredInt("id")
	if err != nil {
		return nil, err
	}

	events, err := r.store.GetTimeline(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	return events, nil
}

func storeError(err error) *ToolError {
	if storage.IsQueryError(err) {
		return &ToolError{Kind: KindValidation, Message: err.Error(), Err: err}
	}
	return &ToolError{Kind: KindStorage, Message: err.Error(), Err: err}
}

// ---------------------------------------------------------------------------
// Argument decoding
// ---------------------------------------------------------------------------

// arguments holds the raw members of a tools/call arguments object. A member
// whose value is JSON null is treated as absent.
type arguments map[string]json.RawMessage

func (a arguments) lookup(key string) (json.RawMessage, bool) {
	raw, ok := a[key]
	if !ok || isNullID(raw) {
		return nil, false
	}
	return raw, true
}

func (a arguments) requiredString(key string) (string, error) {
	raw, ok := a.lookup(key)
	if !ok {
		return "", validationError("missing '%s' in arguments", key)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", validationError("'%s' must be a string", key)
	}
	return s, nil
}

func (a arguments) optionalString(key string) (*string, error) {
	if _, ok := a.lookup(key); !ok {
		return nil, nil
	}
	s, err := a.requiredString(key)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (a arguments) requiredInt(key string) (int64, error) {
	n, present, err := a.optionalInt(key)
	if err != nil {
		return 0, err
	}
	if !present {
		return 0, validationError("missing '%s' in arguments", key)
	}
	return n, nil
}

// optionalInt accepts JSON numbers with no fractional part, including
// exponent forms such as 1e2. Numeric strings are rejected. Values that only
// parse as float64 must lie strictly inside the int64 range after rounding.
func (a arguments) optionalInt(key string) (int64, bool, error) {
	raw, ok := a.lookup(key)
	if !ok {
		return 0, false, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return 0, true, validationError("'%s' must be an integer", key)
	}
	num, isNumber := v.(json.Number)
	if !isNumber {
		return 0, true, validationError("'%s' must be an integer", key)
	}
	if n, err := num.Int64(); err == nil {
		return n, true, nil
	}
	f, err := num.Float64()
	if err != nil || f != math.Trunc(f) || f >= 1<<63 || f <= -(1<<63) {
		return 0, true, validationError("'%s' must be an integer", key)
	}
	return int64(f), true, nil
}

// tags accepts an array of strings or, for clients that double-encode arrays,
// a string holding a JSON array of strings. Absent tags yield an empty slice.
// Null elements are rejected.
func (a arguments) tags() ([]string, error) {
	raw, ok := a.lookup("tags")
	if !ok {
		return []string{}, nil
	}
	if tags, ok := decodeTagArray(raw); ok {
		return tags, nil
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		encoded = strings.TrimSpace(encoded)
		if encoded == "" {
			return []string{}, nil
		}
		if tags, ok := decodeTagArray([]byte(encoded)); ok {
			return tags, nil
		}
	}
	return nil, validationError("'tags' must be an array of strings")
}

func decodeTagArray(raw []byte) ([]string, bool) {
	var elems []*string
	if err := json.Unmarshal(raw, &elems); err != nil || elems == nil {
		return nil, false
	}
	tags := make([]string, len(elems))
	for i, e := range elems {
		if e == nil {
			return nil, false
		}
		tags[i] = *e
	}
	return tags, true
}
