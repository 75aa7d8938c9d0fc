package api

import (
	"bytes"
	"html"

	"github.com/yuin/goldmark"
)

// renderMarkdown converts a final answer to HTML for clients that show
// formatted text. Raw HTML in the answer is not passed through.
func renderMarkdown(md string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "<p>" + html.EscapeString(md) + "</p>"
	}
	return buf.String()
}
