// Package formatting 评论正文渲染为安全的 HTML
package formatting

import (
	"bytes"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"goim-comment/apps/comment-service/model"
)

var (
	md = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			gmhtml.WithHardWraps(),
			gmhtml.WithXHTML(),
		),
	)
	policy = newPolicy()
)

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoFollowOnLinks(true)
	p.RequireNoReferrerOnLinks(true)
	return p
}

// Render 按格式渲染：plain 转义并保留换行，markdown 走 GFM，html 只做清洗
func Render(format, body string) string {
	switch format {
	case model.FormatMarkdown:
		var buf bytes.Buffer
		if err := md.Convert([]byte(body), &buf); err != nil {
			return plain(body)
		}
		return policy.Sanitize(buf.String())
	case model.FormatHTML:
		return policy.Sanitize(body)
	default:
		return plain(body)
	}
}

func plain(body string) string {
	return strings.ReplaceAll(html.EscapeString(body), "\n", "<br>")
}

// ValidFormat 是否支持的格式
func ValidFormat(format string) bool {
	switch format {
	case model.FormatPlain, model.FormatMarkdown, model.FormatHTML:
		return true
	}
	return false
}
