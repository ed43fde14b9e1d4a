// Package mcpserver registers MCP tools that expose document fetching
// and chat sessions to MCP clients. It adapts the document and session
// packages to the MCP SDK's tool handler interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/richardk1992-boop/larkdoc/internal/document"
	"github.com/richardk1992-boop/larkdoc/internal/lark"
	"github.com/richardk1992-boop/larkdoc/internal/models"
	"github.com/richardk1992-boop/larkdoc/internal/session"
)

// RegisterTools adds all document and session tools to the MCP server.
func RegisterTools(server *mcp.Server, fetcher *document.Fetcher, client *lark.Client, tokens *lark.TokenManager, sessions *session.Manager) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "doc_fetch",
		Description: "Fetch a Lark/Feishu document by URL as Markdown, with its comment threads rendered above the body. Supports docx, legacy docs, sheets, bitable, and wiki URLs.",
	}, fetchHandler(fetcher))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "doc_comments",
		Description: "List the raw comment threads on a Lark/Feishu document by URL, including quotes, authors, and replies, without the document body.",
	}, commentsHandler(client, tokens))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "session_list",
		Description: "List saved chat sessions with their bound document titles and message counts, newest first.",
	}, sessionListHandler(sessions))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// FetchInput holds parameters for doc_fetch.
type FetchInput struct {
	URL string `json:"url" jsonschema:"required,document URL as shown in the browser"`
}

// FetchResult is the structured output of doc_fetch.
type FetchResult struct {
	Title    string `json:"title,omitempty"`
	Content  string `json:"content"`
	Comments int    `json:"comments"`
}

// CommentsInput holds parameters for doc_comments.
type CommentsInput struct {
	URL string `json:"url" jsonschema:"required,document URL as shown in the browser"`
}

// CommentReply is one reply within a thread.
type CommentReply struct {
	UserID  string `json:"user_id,omitempty"`
	Content string `json:"content"`
}

// CommentThread is one thread in the doc_comments output, with rich
// text already flattened to plain text.
type CommentThread struct {
	Quote   string         `json:"quote,omitempty"`
	UserID  string         `json:"user_id,omitempty"`
	Content string         `json:"content"`
	Replies []CommentReply `json:"replies,omitempty"`
}

// CommentsResult is the structured output of doc_comments.
type CommentsResult struct {
	Threads []CommentThread `json:"threads"`
}

// SessionListInput has no parameters.
type SessionListInput struct{}

// SessionListResult is the structured output of session_list.
type SessionListResult struct {
	Sessions []models.SessionSummary `json:"sessions"`
}

// --- Handlers ---

func fetchHandler(fetcher *document.Fetcher) mcp.ToolHandlerFor[FetchInput, *FetchResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input FetchInput) (*mcp.CallToolResult, *FetchResult, error) {
		doc, err := fetcher.Fetch(ctx, input.URL)
		if err != nil {
			return nil, nil, err
		}

		result := &FetchResult{Title: doc.Title, Content: doc.Content, Comments: doc.Comments}
		return textResult(result), result, nil
	}
}

func commentsHandler(client *lark.Client, tokens *lark.TokenManager) mcp.ToolHandlerFor[CommentsInput, *CommentsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CommentsInput) (*mcp.CallToolResult, *CommentsResult, error) {
		region := lark.RegionFromURL(input.URL)
		token, _, err := tokens.AccessToken(ctx, region)
		if err != nil {
			return nil, nil, err
		}

		ref, err := client.Resolve(ctx, region, token, input.URL)
		if err != nil {
			return nil, nil, err
		}

		comments, err := client.ListComments(ctx, region, token, ref.Token, ref.Type)
		if err != nil {
			return nil, nil, err
		}

		result := &CommentsResult{Threads: make([]CommentThread, 0, len(comments))}
		for _, c := range comments {
			thread := CommentThread{
				Quote:   c.Quote,
				UserID:  c.UserID,
				Content: lark.FlattenRichText(c.Content),
			}
			for _, r := range c.Replies {
				thread.Replies = append(thread.Replies, CommentReply{
					UserID:  r.UserID,
					Content: lark.FlattenRichText(r.Content),
				})
			}
			result.Threads = append(result.Threads, thread)
		}

		return textResult(result), result, nil
	}
}

func sessionListHandler(sessions *session.Manager) mcp.ToolHandlerFor[SessionListInput, *SessionListResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ SessionListInput) (*mcp.CallToolResult, *SessionListResult, error) {
		summaries, err := sessions.List()
		if err != nil {
			return nil, nil, err
		}

		result := &SessionListResult{Sessions: summaries}
		return textResult(result), result, nil
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
