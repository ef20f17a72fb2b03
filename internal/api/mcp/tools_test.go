package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/ide-memory/internal/api/mcp"
	"github.com/scrypster/ide-memory/pkg/types"
)

func callTool(t *testing.T, reg *mcp.Registry, name, args string) (interface{}, error) {
	t.Helper()
	return reg.Call(context.Background(), name, json.RawMessage(args))
}

func toolErrorKind(t *testing.T, err error) mcp.ToolErrorKind {
	t.Helper()
	var toolErr *mcp.ToolError
	require.True(t, errors.As(err, &toolErr), "want *ToolError, got %T", err)
	return toolErr.Kind
}

func TestCatalog(t *testing.T) {
	reg := mcp.NewRegistry(newTestStore(t))

	type summary struct {
		Name     string
		Required []string
	}
	var got []summary
	for _, tool := range reg.Tools() {
		got = append(got, summary{Name: tool.Name, Required: tool.InputSchema["required"].([]string)})
	}

	want := []summary{
		{Name: "mem_search", Required: []string{"query"}},
		{Name: "mem_save", Required: []string{"knowledge_type", "title", "content", "summary"}},
		{Name: "mem_get_detail", Required: []string{"id"}},
		{Name: "mem_timeline", Required: []string{"id"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("catalog mismatch (-want +got):\n%s", diff)
	}
}

func TestCatalogKnowledgeTypeEnum(t *testing.T) {
	reg := mcp.NewRegistry(newTestStore(t))

	save := reg.Tools()[1]
	props := save.InputSchema["properties"].(map[string]interface{})
	kind := props["knowledge_type"].(map[string]interface{})

	want := []string{"decision", "bugfix", "pattern", "config", "context", "summary"}
	if diff := cmp.Diff(want, kind["enum"]); diff != "" {
		t.Errorf("knowledge_type enum mismatch (-want +got):\n%s", diff)
	}
}

func TestCallRejectsNonObjectArguments(t *testing.T) {
	reg := mcp.NewRegistry(newTestStore(t))

	for _, args := range []string{`[]`, `"x"`, `3`, `null`, `{`} {
		_, err := callTool(t, reg, mcp.ToolSearch, args)
		require.Error(t, err, args)
		assert.Equal(t, mcp.KindValidation, toolErrorKind(t, err))
	}
}

func TestCallUnknownTool(t *testing.T) {
	reg := mcp.NewRegistry(newTestStore(t))

	_, err := callTool(t, reg, "mem_forget", `{}`)
	require.Error(t, err)
	assert.Equal(t, mcp.KindUnknownTool, toolErrorKind(t, err))
	assert.Equal(t, "unknown tool: mem_forget", err.Error())
}

func TestSaveTagsForms(t *testing.T) {
	store := newTestStore(t)
	reg := mcp.NewRegistry(store)
	ctx := context.Background()

	tests := []struct {
		name string
		tags string
		want []string
	}{
		{"array", `["a","b"]`, []string{"a", "b"}},
		{"encoded string", `"[\"x\",\"y\"]"`, []string{"x", "y"}},
		{"empty string", `""`, []string{}},
		{"null", `null`, []string{}},
		{"empty array", `[]`, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := callTool(t, reg, mcp.ToolSave,
				`{"knowledge_type":"bugfix","title":"t","content":"c","summary":"s","tags":`+tt.tags+`}`)
			require.NoError(t, err)

			entry, found, err := store.GetDetail(ctx, res.(mcp.SaveResult).ID)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, tt.want, entry.Tags)
		})
	}
}

func TestSaveRejectsBadTags(t *testing.T) {
	reg := mcp.NewRegistry(newTestStore(t))

	for _, tags := range []string{`"not json"`, `"{\"a\":1}"`, `[1,2]`, `{"a":"b"}`, `true`, `[null,"a"]`, `"[\"a\",null]"`} {
		_, err := callTool(t, reg, mcp.ToolSave,
			`{"knowledge_type":"bugfix","title":"t","content":"c","summary":"s","tags":`+tags+`}`)
		require.Error(t, err, tags)
		assert.Equal(t, mcp.KindValidation, toolErrorKind(t, err))
	}
}

func TestSaveProjectPath(t *testing.T) {
	store := newTestStore(t)
	reg := mcp.NewRegistry(store)
	ctx := context.Background()

	tests := []struct {
		name    string
		path    string
		want    *string
		wantErr bool
	}{
		{"absent", ``, nil, false},
		{"null", `,"project_path":null`, nil, false},
		{"string", `,"project_path":"/src/app"`, strPtr("/src/app"), false},
		{"number", `,"project_path":12`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := callTool(t, reg, mcp.ToolSave,
				`{"knowledge_type":"context","title":"t","content":"c","summary":"s"`+tt.path+`}`)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, mcp.KindValidation, toolErrorKind(t, err))
				return
			}
			require.NoError(t, err)

			entry, _, err := store.GetDetail(ctx, res.(mcp.SaveResult).ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, entry.ProjectPath)
		})
	}
}

func TestSaveStoresKnowledgeType(t *testing.T) {
	store := newTestStore(t)
	reg := mcp.NewRegistry(store)

	res, err := callTool(t, reg, mcp.ToolSave, `{"knowledge_type":"config","title":"t","content":"c","summary":"s"}`)
	require.NoError(t, err)

	entry, found, err := store.GetDetail(context.Background(), res.(mcp.SaveResult).ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.TypeConfig, entry.KnowledgeType)
}

func TestIntegralIDs(t *testing.T) {
	store := newTestStore(t)
	reg := mcp.NewRegistry(store)

	res, err := callTool(t, reg, mcp.ToolSave, `{"knowledge_type":"bugfix","title":"t","content":"c","summary":"s"}`)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.(mcp.SaveResult).ID)

	for _, id := range []string{`1`, `1.0`, `1e0`, `0.1e1`} {
		got, err := callTool(t, reg, mcp.ToolGetDetail, `{"id":`+id+`}`)
		require.NoError(t, err, id)
		assert.EqualValues(t, 1, got.(types.KnowledgeEntry).ID)
	}

	for _, id := range []string{`1.5`, `"1"`, `"abc"`, `true`, `[1]`, `1e400`,
		`9223372036854775808`, `9.3e18`, `-9223372036854775809`} {
		_, err := callTool(t, reg, mcp.ToolTimeline, `{"id":`+id+`}`)
		require.Error(t, err, id)
		assert.Equal(t, mcp.KindValidation, toolErrorKind(t, err), id)
	}
}

func TestGetDetailNotFoundKind(t *testing.T) {
	reg := mcp.NewRegistry(newTestStore(t))

	_, err := callTool(t, reg, mcp.ToolGetDetail, `{"id":-3}`)
	require.Error(t, err)
	assert.Equal(t, mcp.KindNotFound, toolErrorKind(t, err))
	assert.Equal(t, "knowledge entry not found: id -3", err.Error())
}

func TestSearchLimitDefaults(t *testing.T) {
	reg := mcp.NewRegistry(newTestStore(t))
	for i := 0; i < 7; i++ {
		_, err := callTool(t, reg, mcp.ToolSave, `{"knowledge_type":"pattern","title":"retry loop","content":"c","summary":"s"}`)
		require.NoError(t, err)
	}

	tests := []struct {
		args string
		want int
	}{
		{`{"query":"retry"}`, 5},
		{`{"query":"retry","limit":null}`, 5},
		{`{"query":"retry","limit":0}`, 5},
		{`{"query":"retry","limit":-4}`, 5},
		{`{"query":"retry","limit":2}`, 2},
		{`{"query":"retry","limit":3.0}`, 3},
		{`{"query":"retry","limit":100}`, 7},
	}
	for _, tt := range tests {
		res, err := callTool(t, reg, mcp.ToolSearch, tt.args)
		require.NoError(t, err, tt.args)
		assert.Len(t, res.([]types.SearchHit), tt.want, tt.args)
	}

	for _, limit := range []string{`"3"`, `"ten"`, `2.5`, `9223372036854775808`} {
		_, err := callTool(t, reg, mcp.ToolSearch, `{"query":"retry","limit":`+limit+`}`)
		require.Error(t, err, limit)
		assert.Equal(t, mcp.KindValidation, toolErrorKind(t, err), limit)
	}
}

func TestStorageErrorsKeepCause(t *testing.T) {
	reg := mcp.NewRegistry(failingStore{})

	_, err := callTool(t, reg, mcp.ToolTimeline, `{"id":1}`)
	require.Error(t, err)
	assert.Equal(t, mcp.KindStorage, toolErrorKind(t, err))
	assert.ErrorIs(t, err, errDiskGone)
}

func TestMalformedQueryIsValidation(t *testing.T) {
	reg := mcp.NewRegistry(newTestStore(t))

	_, err := callTool(t, reg, mcp.ToolSearch, `{"query":"\"open"}`)
	require.Error(t, err)
	assert.Equal(t, mcp.KindValidation, toolErrorKind(t, err))
}

func strPtr(s string) *string { return &s }
