package htmlutil

import (
	"strings"

	"github.com/k3a/html2text"
)

// ToText converts HTML to plain text using a proper HTML parser.
// Handles entities, strips tags, and preserves readable text.
func ToText(s string) string {
	return html2text.HTML2Text(s)
}

// LooksLikeHTML reports whether a response body is an HTML document rather
// than JSON or plain text
func LooksLikeHTML(contentType, body string) bool {
	if strings.Contains(strings.ToLower(contentType), "html") {
		return true
	}
	trimmed := strings.ToLower(strings.TrimSpace(body))
	return strings.HasPrefix(trimmed, "<!doctype html") || strings.HasPrefix(trimmed, "<html")
}

// Summary flattens an error body to one line of at most max runes. HTML
// bodies (gateway and WAF pages) are reduced to their text first.
func Summary(contentType, body string, max int) string {
	if LooksLikeHTML(contentType, body) {
		body = ToText(body)
	}
	s := strings.Join(strings.Fields(body), " ")
	r := []rune(s)
	if max > 0 && len(r) > max {
		return string(r[:max]) + "…"
	}
	return s
}
