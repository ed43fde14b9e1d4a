package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richardk1992-boop/larkdoc/internal/document"
	"github.com/richardk1992-boop/larkdoc/internal/lark"
	"github.com/richardk1992-boop/larkdoc/internal/models"
	"github.com/richardk1992-boop/larkdoc/internal/session"
	"github.com/richardk1992-boop/larkdoc/internal/state"
)

// testSetup wires a fake platform API behind the full stack, registers
// the tools on an MCP server, and returns a connected client session
// for calling them.
func testSetup(t *testing.T, platform http.Handler) (*mcp.ClientSession, *session.Manager) {
	t.Helper()

	srv := httptest.NewServer(platform)
	t.Cleanup(srv.Close)

	store, err := state.Load(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.SetUserToken(models.UserToken{
		AccessToken: "u-tok",
		ExpiresAt:   time.Now().Add(time.Hour),
		Region:      models.RegionFeishu,
	}))

	logger := slog.New(slog.DiscardHandler)
	client := lark.NewClient(srv.Client(), srv.URL, srv.URL)
	tokens := lark.NewTokenManager(client, store, logger, "app", "secret")
	fetcher := document.NewFetcher(client, tokens, logger)
	sessions := session.NewManager(store, logger)

	server := mcp.NewServer(
		&mcp.Implementation{Name: "larkdoc-mcp-test", Version: "test"},
		nil,
	)
	RegisterTools(server, fetcher, client, tokens, sessions)

	ctx := context.Background()
	t1, t2 := mcp.NewInMemoryTransports()
	_, err = server.Connect(ctx, t1, nil)
	require.NoError(t, err)

	mcpClient := mcp.NewClient(
		&mcp.Implementation{Name: "test-client", Version: "test"},
		nil,
	)
	mcpSession, err := mcpClient.Connect(ctx, t2, nil)
	require.NoError(t, err)
	t.Cleanup(func() { mcpSession.Close() })

	return mcpSession, sessions
}

// docPlatform serves a minimal document with one comment thread.
func docPlatform(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/open-apis/docs/v1/content":
			assert.Equal(t, "Bearer u-tok", r.Header.Get("Authorization"))
			w.Write([]byte(`{"code":0,"data":{"content":"# Roadmap\n\nQ3 plans"}}`))
		case "/open-apis/drive/v1/files/Doc001/comments":
			w.Write([]byte(`{"code":0,"data":{"has_more":false,"items":[` +
				`{"user_id":"ou_1","quote":"Q3 plans","content":"ship it",` +
				`"reply_list":{"replies":[{"user_id":"ou_2","content":"agreed"}]}}]}}`))
		default:
			t.Errorf("unexpected request to %s", r.URL.Path)
		}
	})
}

func callTool(t *testing.T, mcpSession *mcp.ClientSession, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	result, err := mcpSession.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	return result
}

// extractJSON unmarshals the first text content from a CallToolResult.
func extractJSON(t *testing.T, result *mcp.CallToolResult, dest interface{}) {
	t.Helper()
	require.NotEmpty(t, result.Content, "result has no content")
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "first content is not TextContent")
	require.NoError(t, json.Unmarshal([]byte(tc.Text), dest))
}

// --- doc_fetch ---

func TestFetch_Document(t *testing.T) {
	mcpSession, _ := testSetup(t, docPlatform(t))
	result := callTool(t, mcpSession, "doc_fetch", map[string]interface{}{
		"url": "https://corp.feishu.cn/docx/Doc001",
	})
	assert.False(t, result.IsError)

	var out FetchResult
	extractJSON(t, result, &out)
	assert.Equal(t, "Roadmap", out.Title)
	assert.Equal(t, 1, out.Comments)
	assert.Contains(t, out.Content, "# Roadmap")
	assert.Contains(t, out.Content, "ship it")
}

func TestFetch_NotFound(t *testing.T) {
	mcpSession, _ := testSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":1770002,"msg":"not found"}`))
	}))

	result := callTool(t, mcpSession, "doc_fetch", map[string]interface{}{
		"url": "https://corp.feishu.cn/docx/Gone01",
	})
	// Handler errors come back as tool errors, not protocol errors.
	assert.True(t, result.IsError)
}

// --- doc_comments ---

func TestComments_Threads(t *testing.T) {
	mcpSession, _ := testSetup(t, docPlatform(t))
	result := callTool(t, mcpSession, "doc_comments", map[string]interface{}{
		"url": "https://corp.feishu.cn/docx/Doc001",
	})
	assert.False(t, result.IsError)

	var out CommentsResult
	extractJSON(t, result, &out)
	require.Len(t, out.Threads, 1)

	thread := out.Threads[0]
	assert.Equal(t, "Q3 plans", thread.Quote)
	assert.Equal(t, "ou_1", thread.UserID)
	assert.Equal(t, "ship it", thread.Content)
	require.Len(t, thread.Replies, 1)
	assert.Equal(t, "ou_2", thread.Replies[0].UserID)
	assert.Equal(t, "agreed", thread.Replies[0].Content)
}

func TestComments_WikiURL(t *testing.T) {
	mcpSession, _ := testSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/open-apis/wiki/v2/spaces/get_node":
			w.Write([]byte(`{"code":0,"data":{"node":{"obj_token":"Doc002","obj_type":"docx"}}}`))
		case "/open-apis/drive/v1/files/Doc002/comments":
			w.Write([]byte(`{"code":0,"data":{"has_more":false,"items":[{"user_id":"ou_1","content":"from wiki"}]}}`))
		default:
			t.Errorf("unexpected request to %s", r.URL.Path)
		}
	}))

	result := callTool(t, mcpSession, "doc_comments", map[string]interface{}{
		"url": "https://corp.feishu.cn/wiki/Wk001",
	})
	assert.False(t, result.IsError)

	var out CommentsResult
	extractJSON(t, result, &out)
	require.Len(t, out.Threads, 1)
	assert.Equal(t, "from wiki", out.Threads[0].Content)
}

// --- session_list ---

func TestSessionList(t *testing.T) {
	mcpSession, sessions := testSetup(t, docPlatform(t))

	created, err := sessions.Create("https://corp.feishu.cn/docx/Doc001", "Roadmap", "body")
	require.NoError(t, err)
	_, err = sessions.Append(created.ID,
		models.ChatMessage{Role: "user", Content: "summarize"},
		models.ChatMessage{Role: "assistant", Content: "done"},
	)
	require.NoError(t, err)

	result := callTool(t, mcpSession, "session_list", nil)
	assert.False(t, result.IsError)

	var out SessionListResult
	extractJSON(t, result, &out)
	require.Len(t, out.Sessions, 1)
	assert.Equal(t, created.ID, out.Sessions[0].ID)
	assert.Equal(t, "Roadmap", out.Sessions[0].DocTitle)
	assert.Equal(t, 2, out.Sessions[0].MessageCount)
}

func TestSessionList_Empty(t *testing.T) {
	mcpSession, _ := testSetup(t, docPlatform(t))
	result := callTool(t, mcpSession, "session_list", nil)
	assert.False(t, result.IsError)

	var out SessionListResult
	extractJSON(t, result, &out)
	assert.Empty(t, out.Sessions)
}

// --- Tool listing ---

func TestToolsRegistered(t *testing.T) {
	mcpSession, _ := testSetup(t, docPlatform(t))

	var names []string
	for tool, err := range mcpSession.Tools(context.Background(), nil) {
		require.NoError(t, err)
		names = append(names, tool.Name)
	}

	for _, name := range []string{"doc_fetch", "doc_comments", "session_list"} {
		assert.Contains(t, names, name, "tool %s should be registered", name)
	}
}
