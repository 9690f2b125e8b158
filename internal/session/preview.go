// ABOUTME: Builds the short plain-text session preview from a (possibly markdown) first message.
// ABOUTME: Walks the goldmark AST so formatting markers never leak into the session list.

package session

import (
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// DefaultPreviewLength bounds the stored preview.
const DefaultPreviewLength = 80

var previewMarkdown = goldmark.New()

// Preview renders markdown down to a single plain-text line truncated to
// limit runes. Code blocks are dropped; inline formatting is flattened.
func Preview(markdown string, limit int) string {
	if limit <= 0 {
		limit = DefaultPreviewLength
	}

	src := []byte(markdown)
	doc := previewMarkdown.Parser().Parse(text.NewReader(src))

	var buf strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			buf.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(node.Value)
		default:
			if n.Type() == ast.TypeBlock && buf.Len() > 0 {
				buf.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})

	return truncateRunes(collapseSpaces(buf.String()), limit)
}

// SessionName derives a display name from the first query of a session.
func SessionName(query string) string {
	return truncateRunes(collapseSpaces(query), 50)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimRightFunc(string(runes[:limit-1]), unicode.IsSpace) + "…"
}
