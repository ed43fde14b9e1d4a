package lark

import (
	"strings"

	"github.com/tidwall/gjson"
)

// FlattenRichText collapses the platform's rich-text comment payload
// into plain text. Non-text elements become stable placeholders:
//
//	person    "@Name "
//	docs_link "[title](url) "
//	img       "[图片] "
//	file      "[文件: name] "
//	media     "[媒体] "
//	equation  "[公式] "
//	reminder  "[提醒: time] "
//
// Input that is not a rich-text JSON object is returned unchanged, so
// callers can pass whatever the API handed them.
func FlattenRichText(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return content
	}

	parsed := gjson.Parse(trimmed)
	if !parsed.IsObject() {
		return content
	}

	elements := parsed.Get("elements")
	if !elements.Exists() {
		if text := parsed.Get("text"); text.Exists() {
			return text.String()
		}

		return content
	}

	var b strings.Builder
	elements.ForEach(func(_, el gjson.Result) bool {
		b.WriteString(flattenElement(el))

		return true
	})

	return b.String()
}

func flattenElement(el gjson.Result) string {
	switch el.Get("type").String() {
	case "text_run":
		return el.Get("text_run.text").String()
	case "person":
		name := el.Get("person.name").String()
		if name == "" {
			name = "User"
		}

		return "@" + name + " "
	case "docs_link":
		title := el.Get("docs_link.title").String()
		if title == "" {
			title = "文档链接"
		}

		return "[" + title + "](" + el.Get("docs_link.url").String() + ") "
	case "img":
		return "[图片] "
	case "file":
		title := el.Get("file.title").String()
		if title == "" {
			title = "附件"
		}

		return "[文件: " + title + "] "
	case "media":
		return "[媒体] "
	case "equation":
		return "[公式] "
	case "reminder":
		return "[提醒: " + el.Get("reminder.create_time").String() + "] "
	default:
		// Unknown element types still often carry a text_run payload.
		return el.Get("text_run.text").String()
	}
}
