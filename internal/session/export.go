package session

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/richardk1992-boop/larkdoc/internal/models"
)

var (
	imageLinkPattern = regexp.MustCompile(`!\[.*?\]\((.*?)\)`)
	fileNamePattern  = regexp.MustCompile(`[\\/:*?"<>|]`)
)

const maxExportNameLen = 50

// Export renders a session as a standalone Markdown file: document
// link, an index of embedded image URLs, the chat transcript, then the
// document body.
func Export(sess models.Session) string {
	var b strings.Builder

	if sess.DocURL != "" {
		b.WriteString("# 文档信息\n\n")
		b.WriteString("## 文档链接\n")
		b.WriteString(sess.DocURL + "\n\n")
	}

	if urls := ExtractImageURLs(sess.DocumentContent); len(urls) > 0 {
		b.WriteString("## 图片链接\n")
		for i, u := range urls {
			fmt.Fprintf(&b, "%d. %s\n", i+1, u)
		}
		b.WriteString("\n")
	}

	b.WriteString(chatTranscript(sess))
	b.WriteString("\n\n")
	b.WriteString(sess.DocumentContent)

	return b.String()
}

// ExportFileName derives a safe .md file name from the session's
// document title, falling back to the session ID.
func ExportFileName(sess models.Session) string {
	name := sess.DocTitle
	if name == "" {
		name = "feishu_doc_" + sess.ID
	}

	name = fileNamePattern.ReplaceAllString(name, "_")
	if runes := []rune(name); len(runes) > maxExportNameLen {
		name = string(runes[:maxExportNameLen])
	}

	return name + ".md"
}

// ExtractImageURLs pulls every Markdown image target out of the
// content, in order of appearance.
func ExtractImageURLs(content string) []string {
	if content == "" {
		return nil
	}

	var urls []string
	for _, match := range imageLinkPattern.FindAllStringSubmatch(content, -1) {
		urls = append(urls, match[1])
	}

	return urls
}

func chatTranscript(sess models.Session) string {
	if len(sess.Messages) == 0 {
		return "## 对话记录\n\n**无对话记录**"
	}

	var b strings.Builder
	b.WriteString("## 对话记录\n\n")

	ts := sess.UpdatedAt.Format("2006-01-02 15:04:05")
	for _, msg := range sess.Messages {
		role := "系统"
		switch msg.Role {
		case "user":
			role = "用户"
		case "assistant":
			role = "AI"
		}
		fmt.Fprintf(&b, "### %s (%s)\n\n%s\n\n", role, ts, strings.TrimSpace(msg.Content))
	}

	return strings.TrimRight(b.String(), "\n")
}
