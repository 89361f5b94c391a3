package toolsurface

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-dev/agentmem/internal/conflict"
	"github.com/kestrel-dev/agentmem/internal/embedding"
	"github.com/kestrel-dev/agentmem/internal/reinforce"
	"github.com/kestrel-dev/agentmem/internal/search"
	"github.com/kestrel-dev/agentmem/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := storage.OpenLevelDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	queue := reinforce.New()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go queue.Run(ctx, store)

	engine := search.New(store, embedding.Noop(), queue)
	resolver := conflict.NewResolver(store, embedding.Noop())
	return New(engine, resolver, store, queue)
}

func rpcCall(t *testing.T, s *Server, method string, params any) map[string]any {
	t.Helper()
	p, err := json.Marshal(params)
	require.NoError(t, err)
	req := map[string]any{"jsonrpc": "2.0", "id": 1, "method": method, "params": json.RawMessage(p)}
	raw, err := json.Marshal(req)
	require.NoError(t, err)

	out := s.Handle(context.Background(), raw)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(out, &resp))
	return resp
}

func TestInitialize(t *testing.T) {
	s := newTestServer(t)
	resp := rpcCall(t, s, "initialize", map[string]any{})
	require.Nil(t, resp["error"])
	result, ok := resp["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, ProtocolVersion, result["protocolVersion"])
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	s := newTestServer(t)
	resp := rpcCall(t, s, "nonexistent/method", map[string]any{})
	errObj, ok := resp["error"].(map[string]any)
	require.True(t, ok, "expected an error object")
	assert.EqualValues(t, CodeMethodNotFound, errObj["code"])
}

func TestMalformedJSONReturnsParseError(t *testing.T) {
	s := newTestServer(t)
	out := s.Handle(context.Background(), []byte("{not json"))
	var resp map[string]any
	require.NoError(t, json.Unmarshal(out, &resp))
	errObj, ok := resp["error"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, CodeParseError, errObj["code"])
}

func TestStoreThenSearchToolCall(t *testing.T) {
	s := newTestServer(t)
	storeResp := rpcCall(t, s, "tools/call", map[string]any{
		"name": "store_memory",
		"arguments": map[string]any{
			"title":   "Python Programming",
			"summary": "Learning about Python programming language",
		},
	})
	require.Nil(t, storeResp["error"])
	storeResult, ok := storeResp["result"].(map[string]any)
	require.True(t, ok)
	assert.False(t, storeResult["isError"] == true)

	searchResp := rpcCall(t, s, "tools/call", map[string]any{
		"name": "search_memories",
		"arguments": map[string]any{
			"query": "Python programming",
		},
	})
	searchResult, ok := searchResp["result"].(map[string]any)
	require.True(t, ok)
	content, ok := searchResult["content"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, content)
}

func TestStoreMemoryMissingTitleIsDomainError(t *testing.T) {
	s := newTestServer(t)
	resp := rpcCall(t, s, "tools/call", map[string]any{
		"name":      "store_memory",
		"arguments": map[string]any{"summary": "no title here"},
	})
	result, ok := resp["result"].(map[string]any)
	require.True(t, ok, "domain errors are normal results, not RPC errors")
	assert.True(t, result["isError"].(bool))
}

func TestGetMemoryNotFound(t *testing.T) {
	s := newTestServer(t)
	resp := rpcCall(t, s, "tools/call", map[string]any{
		"name":      "get_memory",
		"arguments": map[string]any{"id": "missing-id"},
	})
	result, ok := resp["result"].(map[string]any)
	require.True(t, ok)
	assert.True(t, result["isError"].(bool))
}

func TestDeleteMemoryIdempotent(t *testing.T) {
	s := newTestServer(t)
	resp := rpcCall(t, s, "tools/call", map[string]any{
		"name":      "delete_memory",
		"arguments": map[string]any{"id": "never-existed"},
	})
	result, ok := resp["result"].(map[string]any)
	require.True(t, ok)
	assert.False(t, result["isError"] == true, "delete of missing id is a non-error idempotent result")
}

func TestUpdateMemoryNormalizesTags(t *testing.T) {
	s := newTestServer(t)
	storeResp := rpcCall(t, s, "tools/call", map[string]any{
		"name": "store_memory",
		"arguments": map[string]any{
			"title":   "Go Generics",
			"summary": "Type parameters in Go",
		},
	})
	storeResult := storeResp["result"].(map[string]any)
	content := storeResult["content"].([]any)[0].(map[string]any)
	text := content["text"].(string)
	_, after, found := strings.Cut(text, "(id ")
	require.True(t, found, "unexpected store_memory text: %q", text)
	id, _, found := strings.Cut(after, ")")
	require.True(t, found, "unexpected store_memory text: %q", text)

	updateResp := rpcCall(t, s, "tools/call", map[string]any{
		"name": "update_memory",
		"arguments": map[string]any{
			"id":   id,
			"tags": []string{"Go", "go", "GO", "generics"},
		},
	})
	updateResult, ok := updateResp["result"].(map[string]any)
	require.True(t, ok)
	assert.False(t, updateResult["isError"] == true)

	getResp := rpcCall(t, s, "tools/call", map[string]any{
		"name":      "get_memory",
		"arguments": map[string]any{"id": id},
	})
	getResult := getResp["result"].(map[string]any)
	getContent := getResult["content"].([]any)[0].(map[string]any)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(getContent["text"].(string)), &m))
	tags, ok := m["tags"].([]any)
	require.True(t, ok)
	assert.Len(t, tags, 2, "duplicate tags (case-insensitive) must collapse")
	assert.Equal(t, "Go", tags[0])
	assert.Equal(t, "generics", tags[1])
}

func TestResourcesReadInvalidScheme(t *testing.T) {
	s := newTestServer(t)
	resp := rpcCall(t, s, "resources/read", map[string]any{"uri": "http://example.com"})
	errObj, ok := resp["error"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, CodeInvalidParams, errObj["code"])
}

func TestResourcesReadStats(t *testing.T) {
	s := newTestServer(t)
	resp := rpcCall(t, s, "resources/read", map[string]any{"uri": "memory://stats"})
	require.Nil(t, resp["error"])
	require.NotNil(t, resp["result"])
}

func TestResourcesReadUnknownID(t *testing.T) {
	s := newTestServer(t)
	resp := rpcCall(t, s, "resources/read", map[string]any{"uri": "memory://does-not-exist"})
	errObj, ok := resp["error"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, CodeInvalidParams, errObj["code"])
	assert.Contains(t, errObj["message"], "not found")
}
