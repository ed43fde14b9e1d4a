package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/richardk1992-boop/larkdoc/internal/models"
)

func exportFixture() models.Session {
	return models.Session{
		ID:       "s-1",
		DocURL:   "https://corp.feishu.cn/docx/Doc001",
		DocTitle: "Roadmap",
		DocumentContent: "# Roadmap\n\n![diagram](https://img.example.com/a.png)\n" +
			"text ![another](https://img.example.com/b.png)\n",
		Messages: []models.ChatMessage{
			{Role: "user", Content: "summarize"},
			{Role: "assistant", Content: "Here is a summary."},
		},
		UpdatedAt: time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
	}
}

func TestExport_AssemblesSections(t *testing.T) {
	md := Export(exportFixture())

	assert.Contains(t, md, "## 文档链接\nhttps://corp.feishu.cn/docx/Doc001")
	assert.Contains(t, md, "## 图片链接\n1. https://img.example.com/a.png\n2. https://img.example.com/b.png")
	assert.Contains(t, md, "### 用户 (2026-08-29 10:00:00)\n\nsummarize")
	assert.Contains(t, md, "### AI (2026-08-29 10:00:00)\n\nHere is a summary.")

	// Document body comes last.
	assert.Greater(t, strings.Index(md, "# Roadmap"), strings.Index(md, "对话记录"))
}

func TestExport_NoMessages(t *testing.T) {
	sess := exportFixture()
	sess.Messages = nil

	assert.Contains(t, Export(sess), "**无对话记录**")
}

func TestExtractImageURLs(t *testing.T) {
	urls := ExtractImageURLs("![a](u1) middle ![](u2)")
	assert.Equal(t, []string{"u1", "u2"}, urls)
	assert.Nil(t, ExtractImageURLs(""))
	assert.Nil(t, ExtractImageURLs("no images here"))
}

func TestExportFileName(t *testing.T) {
	sess := exportFixture()
	assert.Equal(t, "Roadmap.md", ExportFileName(sess))

	sess.DocTitle = `a/b\c:d*e?f"g<h>i|j`
	assert.Equal(t, "a_b_c_d_e_f_g_h_i_j.md", ExportFileName(sess))

	sess.DocTitle = strings.Repeat("x", 80)
	assert.Equal(t, strings.Repeat("x", 50)+".md", ExportFileName(sess))

	sess.DocTitle = ""
	assert.Equal(t, "feishu_doc_s-1.md", ExportFileName(sess))
}
