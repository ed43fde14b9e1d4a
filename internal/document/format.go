// Package document assembles a readable Markdown view of a platform
// document: resolved content with the comment threads rendered above
// it.
package document

import (
	"fmt"
	"strings"

	"github.com/richardk1992-boop/larkdoc/internal/lark"
)

// FormatComments renders comment threads as a Markdown section.
// Top-level comments sometimes carry no content of their own, with the
// first reply acting as the comment body. In that case the first reply
// is promoted and only the remaining replies are listed.
func FormatComments(comments []lark.Comment) string {
	if len(comments) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n---\n### 📝 文档评论\n\n")

	for i, comment := range comments {
		quote := comment.Quote
		if quote == "" {
			quote = "（无引用文本）"
		}

		userID := comment.UserID
		if userID == "" {
			userID = "未知ID"
		}

		content := ""
		replyStart := 0
		if comment.Content != "" {
			content = lark.FlattenRichText(comment.Content)
		} else if len(comment.Replies) > 0 {
			content = lark.FlattenRichText(comment.Replies[0].Content)
			replyStart = 1
		}
		if content == "" {
			content = "（无内容）"
		}

		fmt.Fprintf(&b, "> **引用**: %s\n\n", quote)
		fmt.Fprintf(&b, "**评论 %d (用户: %s)**: %s\n", i+1, userID, content)

		if len(comment.Replies) > replyStart {
			fmt.Fprintf(&b, "\n*回复 (%d)*:\n", len(comment.Replies)-replyStart)
			for _, reply := range comment.Replies[replyStart:] {
				replyContent := lark.FlattenRichText(reply.Content)
				if replyContent == "" {
					replyContent = "（无内容）"
				}
				replyUser := reply.UserID
				if replyUser == "" {
					replyUser = "未知ID"
				}
				fmt.Fprintf(&b, "- **用户 %s**: %s\n", replyUser, replyContent)
			}
		}
		b.WriteString("\n---\n")
	}

	return b.String()
}

// ExtractTitle returns the first Markdown heading in the content, or
// an empty string when there is none.
func ExtractTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, "# "); ok {
			return strings.TrimSpace(rest)
		}
	}

	return ""
}
