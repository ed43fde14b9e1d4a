// Package session manages chat sessions: persistence, prompt
// templates, and Markdown export.
package session

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// A Prompt is a named template. {{context}} expands to the document
// content, truncated to the context budget.
type Prompt struct {
	Name     string `yaml:"name"`
	Template string `yaml:"template"`
}

const (
	contextPlaceholder = "{{context}}"

	// Character budget for document context in one prompt. Matches the
	// payload limits of the supported chat backends.
	maxContextChars = 150000

	truncationSuffix = "... (内容已截断)"
	truncationNote   = " (内容较长已部分截断)"
)

// DefaultPrompts returns the built-in prompt set. Callers get a fresh
// slice each time; edits never leak into later calls.
func DefaultPrompts() []Prompt {
	return []Prompt{
		{Name: "总结文档", Template: "请简要总结这篇文档的主要内容。\n\n文档内容：\n{{context}}"},
		{Name: "提取待办", Template: "请从文档中提取所有待办事项（Todo），并列出负责人（如果有）。\n\n文档内容：\n{{context}}"},
		{Name: "分析评论", Template: "请分析文档中的评论，总结主要讨论点和未解决的问题。\n\n文档内容：\n{{context}}"},
		{Name: "润色文本", Template: "请润色以下文本，使其更加专业流畅。\n\n文本：\n{{context}}"},
		{Name: "翻译英文", Template: "请将以下内容翻译成英文，保持原意。\n\n内容：\n{{context}}"},
		{Name: "解释代码", Template: "请解释文档中的代码片段，说明其功能和逻辑。\n\n文档内容：\n{{context}}"},
		{Name: "撰写邮件", Template: "根据文档内容，起草一封相关的邮件。\n\n文档内容：\n{{context}}"},
		{Name: "扩写内容", Template: "请根据文档内容进行扩写，补充更多细节。\n\n文档内容：\n{{context}}"},
	}
}

// LoadPrompts reads a YAML prompt file, falling back to the defaults
// when path is empty. The file replaces the whole set.
func LoadPrompts(path string) ([]Prompt, error) {
	if path == "" {
		return DefaultPrompts(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading prompts file: %w", err)
	}

	var prompts []Prompt
	if err := yaml.Unmarshal(raw, &prompts); err != nil {
		return nil, fmt.Errorf("parsing prompts file %s: %w", path, err)
	}
	if len(prompts) == 0 {
		return DefaultPrompts(), nil
	}

	for i, p := range prompts {
		if p.Name == "" || p.Template == "" {
			return nil, fmt.Errorf("prompts file %s: entry %d needs both name and template", path, i+1)
		}
	}

	return prompts, nil
}

// truncateContext cuts s at the context budget, backing up to a rune
// boundary so a multi-byte character is never split mid-sequence.
func truncateContext(s string) (string, bool) {
	if len(s) <= maxContextChars {
		return s, false
	}

	cut := maxContextChars
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return s[:cut], true
}

// Render expands the template with the document context. Oversized
// context is cut at the budget with a visible truncation marker.
func (p Prompt) Render(docContext string) string {
	if cut, truncated := truncateContext(docContext); truncated {
		docContext = cut + truncationSuffix
	}

	return strings.Replace(p.Template, contextPlaceholder, docContext, 1)
}

// BuildQuestion wraps a free-form question with the document context.
// selected marks context that came from a user selection rather than
// the whole document, which changes the label the model sees.
func BuildQuestion(docContext, question string, selected bool) string {
	if docContext == "" {
		return question
	}

	label := "文档内容"
	if selected {
		label = "选中的内容"
	}

	hint := ""
	if cut, truncated := truncateContext(docContext); truncated {
		docContext = cut
		hint = truncationNote
	}

	return fmt.Sprintf("%s%s如下：\n%s\n\n我的问题是：%s", label, hint, docContext, question)
}
