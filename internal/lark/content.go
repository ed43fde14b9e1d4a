package lark

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/richardk1992-boop/larkdoc/internal/errors"
	"github.com/richardk1992-boop/larkdoc/internal/models"
)

const contentEndpoint = "/open-apis/docs/v1/content"

// Application codes the content endpoint uses for the two failures a
// user can actually do something about.
const (
	codeForbidden      = 1770032
	codeTokenForbidden = 99991663
	codeDocNotFound    = 1770002
)

// FetchContent downloads a document as Markdown. Permission and
// not-found failures carry remediation hints in the error text because
// they surface directly in the UI.
func (c *Client) FetchContent(ctx context.Context, region models.Region, bearer string, ref DocRef) (string, error) {
	query := url.Values{
		"content_type": {"markdown"},
		"doc_token":    {ref.Token},
		"doc_type":     {ref.Type},
	}

	body, err := c.get(ctx, region, contentEndpoint, query, bearer)
	if err != nil {
		return "", err
	}

	parsed := gjson.ParseBytes(body)
	if code := parsed.Get("code").Int(); code != 0 {
		return "", contentError(code, parsed.Get("msg").String(), ref)
	}

	content := parsed.Get("data.content").String()
	if content == "" {
		content = "文档内容为空"
	}

	return content, nil
}

func contentError(code int64, msg string, ref DocRef) error {
	base := fmt.Sprintf("获取文档失败: %s (code: %d)", msg, code)

	switch code {
	case codeForbidden, codeTokenForbidden:
		return fmt.Errorf("%w: %s%s", errors.ErrPermissionDenied, base, permissionHint)
	case codeDocNotFound:
		if ref.FromWiki {
			return fmt.Errorf("%w: %s%s", errors.ErrDocumentNotFound, base, wikiNotFoundHint)
		}

		return fmt.Errorf("%w: %s\n\n【文档不存在】\n\n提取的 doc_token: %s\n", errors.ErrDocumentNotFound, base, ref.Token)
	default:
		return fmt.Errorf("%w: %s", errors.ErrDocumentFetch, base)
	}
}

var permissionHint = strings.Join([]string{
	"\n\n【权限不足】\n",
	"解决方案：",
	"1. 确认应用已添加权限: docs:document.content:read",
	"2. 使用用户令牌（tenant_access_token 只能访问公开文档）",
	"3. 在文档中添加应用权限：「...」→「...更多」→「添加文档应用」",
}, "\n")

var wikiNotFoundHint = strings.Join([]string{
	"\n\n【文档不存在】\n",
	"Wiki 文档说明：",
	"• 确认 Wiki 文档存在",
	"• 确认应用有 Wiki 节点阅读权限",
	"• 确认 space_id 正确\n",
}, "\n")
