package lark

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlattenRichText_MixedElements(t *testing.T) {
	content := `{"elements":[
		{"type":"text_run","text_run":{"text":"Hi "}},
		{"type":"person","person":{"name":"Ann"}},
		{"type":"img","img":{"token":"img_1"}}
	]}`

	assert.Equal(t, "Hi @Ann [图片] ", FlattenRichText(content))
}

func TestFlattenRichText_PlainStringPassesThrough(t *testing.T) {
	assert.Equal(t, "just text", FlattenRichText("just text"))
	assert.Equal(t, "", FlattenRichText(""))
}

func TestFlattenRichText_TextFieldFallback(t *testing.T) {
	assert.Equal(t, "hello", FlattenRichText(`{"text":"hello"}`))
}

func TestFlattenRichText_Placeholders(t *testing.T) {
	tests := []struct {
		name    string
		element string
		want    string
	}{
		{"docs_link", `{"type":"docs_link","docs_link":{"title":"Spec","url":"https://example.com/d"}}`, "[Spec](https://example.com/d) "},
		{"docs_link untitled", `{"type":"docs_link","docs_link":{"url":"https://example.com/d"}}`, "[文档链接](https://example.com/d) "},
		{"person unnamed", `{"type":"person","person":{}}`, "@User "},
		{"file", `{"type":"file","file":{"title":"notes.pdf"}}`, "[文件: notes.pdf] "},
		{"file untitled", `{"type":"file","file":{}}`, "[文件: 附件] "},
		{"media", `{"type":"media"}`, "[媒体] "},
		{"equation", `{"type":"equation","equation":{"content":"e=mc^2"}}`, "[公式] "},
		{"reminder", `{"type":"reminder","reminder":{"create_time":"1700000000"}}`, "[提醒: 1700000000] "},
		{"unknown with text_run", `{"type":"mystery","text_run":{"text":"raw"}}`, "raw"},
		{"unknown without text_run", `{"type":"mystery"}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FlattenRichText(`{"elements":[`+tt.element+`]}`))
		})
	}
}

func TestFlattenRichText_InvalidJSONReturnedVerbatim(t *testing.T) {
	assert.Equal(t, "{not json", FlattenRichText("{not json"))
}
