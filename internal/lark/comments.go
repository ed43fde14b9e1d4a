package lark

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/richardk1992-boop/larkdoc/internal/models"
)

const (
	commentsPageSize = 100

	// Hard cap across all pages. Documents with runaway comment threads
	// still produce a bounded payload.
	commentsLimit = 1000
)

// Comment is one top-level comment thread. Content fields hold the raw
// rich-text payload; FlattenRichText turns them into plain text.
type Comment struct {
	Quote   string
	UserID  string
	Content string
	Replies []Reply
}

// Reply is one entry in a comment's reply list.
type Reply struct {
	UserID  string
	Content string
}

// ListComments fetches every comment thread on a file, following
// pagination up to the global cap. A failed page returns the comments
// gathered so far together with the error; callers decide whether a
// partial list is good enough.
func (c *Client) ListComments(ctx context.Context, region models.Region, bearer, fileToken, fileType string) ([]Comment, error) {
	endpoint := fmt.Sprintf("/open-apis/drive/v1/files/%s/comments", fileToken)

	var all []Comment
	pageToken := ""

	for {
		query := url.Values{
			"file_type": {fileType},
			"page_size": {fmt.Sprint(commentsPageSize)},
		}
		if pageToken != "" {
			query.Set("page_token", pageToken)
		}

		body, err := c.get(ctx, region, endpoint, query, bearer)
		if err != nil {
			return all, fmt.Errorf("fetching comments page: %w", err)
		}

		parsed := gjson.ParseBytes(body)
		if code := parsed.Get("code").Int(); code != 0 {
			return all, fmt.Errorf("comments request failed (code %d): %s", code, parsed.Get("msg").String())
		}

		parsed.Get("data.items").ForEach(func(_, item gjson.Result) bool {
			all = append(all, parseComment(item))

			return true
		})

		if len(all) >= commentsLimit {
			return all[:commentsLimit], nil
		}
		if !parsed.Get("data.has_more").Bool() {
			return all, nil
		}
		pageToken = parsed.Get("data.page_token").String()
	}
}

// parseComment reads one comment item. The reply list has shipped
// under both reply_list.replies and a bare replies key.
func parseComment(item gjson.Result) Comment {
	comment := Comment{
		Quote:   item.Get("quote").String(),
		UserID:  item.Get("user_id").String(),
		Content: rawContent(item.Get("content")),
	}

	replies := item.Get("reply_list.replies")
	if !replies.Exists() {
		replies = item.Get("replies")
	}
	replies.ForEach(func(_, reply gjson.Result) bool {
		comment.Replies = append(comment.Replies, Reply{
			UserID:  reply.Get("user_id").String(),
			Content: rawContent(reply.Get("content")),
		})

		return true
	})

	return comment
}

// rawContent preserves rich-text objects as JSON so FlattenRichText
// can expand them, while plain strings pass through untouched.
func rawContent(content gjson.Result) string {
	if content.IsObject() {
		return content.Raw
	}

	return content.String()
}
