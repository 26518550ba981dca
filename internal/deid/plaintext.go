package deid

import (
	"regexp"
	"strings"
)

// Node is a minimal document tree: either a *Text or an *Element.
type Node interface {
	node()
}

// Text is a text leaf.
type Text struct {
	Data string
}

// Element is a tagged node with ordered children. Tag is compared
// case-insensitively.
type Element struct {
	Tag      string
	Children []Node
}

func (*Text) node()    {}
func (*Element) node() {}

var (
	trailingSpaceRe = regexp.MustCompile(`[ \t]+\n`)
	extraBreaksRe   = regexp.MustCompile(`\n{3,}`)
)

// ExtractPlainText flattens a rendered document into readable plain text.
// Line breaks become a newline, paragraphs and headings end with a blank
// line, list items end with a newline and lists end with a blank line.
func ExtractPlainText(root Node) string {
	if root == nil {
		return ""
	}
	var b strings.Builder
	walkPlain(&b, root)

	out := strings.ReplaceAll(b.String(), "\u00a0", " ")
	out = strings.ReplaceAll(out, "\r", "")
	out = trailingSpaceRe.ReplaceAllString(out, "\n")
	out = extraBreaksRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

func walkPlain(b *strings.Builder, n Node) {
	switch n := n.(type) {
	case *Text:
		b.WriteString(n.Data)
	case *Element:
		tag := strings.ToLower(n.Tag)
		if tag == "br" {
			b.WriteByte('\n')
			return
		}
		for _, c := range n.Children {
			walkPlain(b, c)
		}
		switch tag {
		case "p", "h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol":
			b.WriteString("\n\n")
		case "li":
			b.WriteByte('\n')
		}
	}
}
