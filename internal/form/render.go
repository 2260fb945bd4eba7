package form

import (
	"fmt"
	"strings"
)

const placeholderNotice = "This is a placeholder response. In a real implementation, this would be the response from your knowledge base."

// 只转义会改变标记结构的字符，其余字符（+ ' " 等）原样显示
var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// escapeText 转义插入到元素内容中的文本
func escapeText(s string) string {
	return textEscaper.Replace(s)
}

// RenderFragment 生成替换整个响应区域的 HTML 片段
func RenderFragment(state DisplayState) string {
	switch state.Kind {
	case Pending:
		return fmt.Sprintf("<p>Processing your query...</p>\n<p><strong>Query:</strong> %s</p>",
			escapeText(state.Query))
	case Result:
		return fmt.Sprintf("<h3>Response:</h3>\n<p><strong>Query:</strong> %s</p>\n<p><strong>Context:</strong> %s</p>\n<p><em>%s</em></p>",
			escapeText(state.Query), escapeText(state.Context), placeholderNotice)
	default:
		return ""
	}
}
