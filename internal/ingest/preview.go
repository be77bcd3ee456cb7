package ingest

import (
	"regexp"
	"strings"
)

// PreviewLength 预览最多保留的字符数
const PreviewLength = 120

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// Preview 生成列表预览：优先纯文本，否则去掉 HTML 标签；空白折叠后截取前 120 个字符
func Preview(text, html string) string {
	base := text
	if base == "" {
		base = htmlTagPattern.ReplaceAllString(html, " ")
	}
	base = strings.Join(strings.Fields(base), " ")
	if r := []rune(base); len(r) > PreviewLength {
		base = string(r[:PreviewLength])
	}
	return base
}
