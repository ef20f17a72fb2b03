package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/scrypster/ide-memory/internal/api/mcp"
	"github.com/scrypster/ide-memory/internal/storage"
	"github.com/scrypster/ide-memory/internal/storage/sqlite"
	"github.com/scrypster/ide-memory/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

type recorded struct {
	method  string
	tool    *string
	size    int
	success bool
	errMsg  *string
}

// fakeRecorder keeps every outcome it is given.
type fakeRecorder struct {
	mu      sync.Mutex
	records []recorded
}

func (f *fakeRecorder) RecordRequest(method string, tool *string, _ time.Duration, size int, success bool, errMsg *string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, recorded{method: method, tool: tool, size: size, success: success, errMsg: errMsg})
}

func (f *fakeRecorder) all() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.records...)
}

var errDiskGone = errors.New("disk I/O error")

// failingStore fails every operation with a storage error.
type failingStore struct{}

func (failingStore) SaveKnowledge(context.Context, types.NewKnowledge) (int64, error) {
	return 0, storage.Wrap("insert knowledge", errDiskGone)
}

func (failingStore) SearchCompact(context.Context, string, int) ([]types.SearchHit, error) {
	return nil, storage.Wrap("search knowledge", errDiskGone)
}

func (failingStore) GetDetail(context.Context, int64) (types.KnowledgeEntry, bool, error) {
	return types.KnowledgeEntry{}, false, storage.Wrap("get knowledge", errDiskGone)
}

func (failingStore) GetTimeline(context.Context, int64) ([]types.TimelineEvent, error) {
	return nil, storage.Wrap("query timeline", errDiskGone)
}

func (failingStore) Count(context.Context) (int, error) { return 0, errDiskGone }

func (failingStore) CountByType(context.Context) (map[types.KnowledgeType]int, error) {
	return nil, errDiskGone
}

func (failingStore) Close() error { return nil }

func newTestStore(t *testing.T) *sqlite.KnowledgeStore {
	t.Helper()
	store, err := sqlite.NewKnowledgeStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestServer(t *testing.T, opts ...mcp.ServerOption) (*mcp.Server, *sqlite.KnowledgeStore) {
	t.Helper()
	store := newTestStore(t)
	return mcp.NewServer(store, opts...), store
}

// ---------------------------------------------------------------------------
// Wire helpers
// ---------------------------------------------------------------------------

type wireResponse struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Result  json.RawMessage   `json:"result"`
	Error   *mcp.JSONRPCError `json:"error"`
	Raw     map[string]any    `json:"-"`
}

func decodeResponse(t *testing.T, data []byte) wireResponse {
	t.Helper()
	require.NotNil(t, data, "expected a response line")
	var resp wireResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	require.NoError(t, json.Unmarshal(data, &resp.Raw))
	require.Equal(t, "2.0", resp.JSONRPC)
	_, hasResult := resp.Raw["result"]
	_, hasError := resp.Raw["error"]
	require.True(t, hasResult != hasError, "exactly one of result and error must be present: %s", data)
	return resp
}

func request(t *testing.T, srv *mcp.Server, line string) wireResponse {
	t.Helper()
	return decodeResponse(t, srv.HandleLine(context.Background(), []byte(line)))
}

func toolCall(t *testing.T, srv *mcp.Server, id int, tool string, args any) wireResponse {
	t.Helper()
	params, err := json.Marshal(map[string]any{"name": tool, "arguments": args})
	require.NoError(t, err)
	line, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params":  json.RawMessage(params),
	})
	require.NoError(t, err)
	return request(t, srv, string(line))
}

func saveArgs(title string) map[string]any {
	return map[string]any{
		"knowledge_type": "decision",
		"title":          title,
		"content":        "content of " + title,
		"summary":        "summary of " + title,
		"tags":           []string{"alpha", "beta"},
	}
}

func savedID(t *testing.T, resp wireResponse) int64 {
	t.Helper()
	require.Nil(t, resp.Error)
	var res mcp.SaveResult
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	require.True(t, res.Success)
	return res.ID
}
