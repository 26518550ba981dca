package deid

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ParseFragment parses an HTML fragment, as found in an editor or output
// pane, into a Node tree rooted at a synthetic "div" element. Comments and
// doctypes are dropped. Malformed markup is repaired the way browsers do.
func ParseFragment(fragment string) (Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), ctx)
	if err != nil {
		return nil, err
	}
	root := &Element{Tag: "div"}
	for _, n := range nodes {
		if c := convert(n); c != nil {
			root.Children = append(root.Children, c)
		}
	}
	return root, nil
}

func convert(n *html.Node) Node {
	switch n.Type {
	case html.TextNode:
		return &Text{Data: n.Data}
	case html.ElementNode:
		el := &Element{Tag: n.Data}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if cn := convert(c); cn != nil {
				el.Children = append(el.Children, cn)
			}
		}
		return el
	}
	return nil
}

// PlainTextFromHTML is ExtractPlainText over a parsed fragment. It returns
// "" if the fragment cannot be parsed.
func PlainTextFromHTML(fragment string) string {
	root, err := ParseFragment(fragment)
	if err != nil {
		return ""
	}
	return ExtractPlainText(root)
}
