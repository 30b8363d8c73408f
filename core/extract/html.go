// Package extract derives catalog text fields from captured content.
package extract

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"

	"github.com/adalundhe/shelf/core/catalog"
	liberrors "github.com/adalundhe/shelf/core/errors"
)

// skipTags hold no readable text.
var skipTags = map[string]bool{
	"script":   true,
	"style":    true,
	"nav":      true,
	"header":   true,
	"footer":   true,
	"aside":    true,
	"noscript": true,
	"iframe":   true,
	"template": true,
	"svg":      true,
}

// MaxBodyBytes caps the extracted body text.
const MaxBodyBytes = 64 * 1024

// HTML pulls the title, meta description and visible body text out of an
// HTML document. Whitespace is collapsed in every field.
func HTML(data []byte) (catalog.TextFields, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return catalog.TextFields{}, liberrors.Wrap(liberrors.KindInvalidInput, "extract.HTML", "parse html", err)
	}

	var (
		fields catalog.TextFields
		body   strings.Builder
	)

	var walk func(n *html.Node, inBody bool)
	walk = func(n *html.Node, inBody bool) {
		if n.Type == html.ElementNode {
			switch {
			case skipTags[n.Data]:
				return
			case n.Data == "title" && fields.Title == "":
				fields.Title = collapse(text(n))
				return
			case n.Data == "meta" && fields.Summary == "":
				if isDescription(n) {
					fields.Summary = collapse(attr(n, "content"))
				}
			case n.Data == "body":
				inBody = true
			}
		}

		if n.Type == html.TextNode && inBody {
			body.WriteString(n.Data)
			body.WriteByte(' ')
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inBody)
		}
	}
	walk(doc, false)

	fields.Body = collapse(body.String())
	if len(fields.Body) > MaxBodyBytes {
		fields.Body = truncate(fields.Body, MaxBodyBytes)
	}
	return fields, nil
}

// IsHTML reports whether a sniffed media type is HTML.
func IsHTML(mediaType string) bool {
	mt, _, _ := strings.Cut(mediaType, ";")
	mt = strings.TrimSpace(strings.ToLower(mt))
	return mt == "text/html" || mt == "application/xhtml+xml"
}

func text(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func isDescription(n *html.Node) bool {
	name := attr(n, "name")
	if name == "" {
		name = attr(n, "property")
	}
	name = strings.ToLower(name)
	return name == "description" || name == "og:description"
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	for n > 0 && n < len(s) && !isRuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n])
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
