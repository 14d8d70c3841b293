package markup

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// ParseHTML parses chapter content into a node tree. The parser is
// tolerant: malformed markup yields a best-effort tree rather than an
// error, so chapters with stray tags still get scanned.
func ParseHTML(content string) (*html.Node, error) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// documentOrder flattens the tree into preorder, which is document order:
// a parent precedes its children, siblings keep their source order.
func documentOrder(root *html.Node) []*html.Node {
	var nodes []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		nodes = append(nodes, n)
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return nodes
}

// prevElement returns the nearest element with the given tag strictly
// before position idx in document order, or nil. Ancestors count: an image
// inside a paragraph has that paragraph as its previous one.
func prevElement(nodes []*html.Node, idx int, tag string) *html.Node {
	for i := idx - 1; i >= 0; i-- {
		if nodes[i].Type == html.ElementNode && nodes[i].Data == tag {
			return nodes[i]
		}
	}
	return nil
}

// nextElement returns the nearest element with the given tag strictly after
// position idx in document order, or nil. Descendants of the node at idx
// count.
func nextElement(nodes []*html.Node, idx int, tag string) *html.Node {
	for i := idx + 1; i < len(nodes); i++ {
		if nodes[i].Type == html.ElementNode && nodes[i].Data == tag {
			return nodes[i]
		}
	}
	return nil
}

// findDescendant returns the first descendant of n matching any of tags, in
// document order, or nil.
func findDescendant(n *html.Node, tags ...string) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if found != nil {
			return
		}
		if c != n && c.Type == html.ElementNode {
			for _, t := range tags {
				if c.Data == t {
					found = c
					return
				}
			}
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(n)
	return found
}

// nextNonBlankSibling returns the next sibling of n that is not a
// whitespace-only text node.
func nextNonBlankSibling(n *html.Node) *html.Node {
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.TextNode && strings.TrimSpace(s.Data) == "" {
			continue
		}
		return s
	}
	return nil
}

// attr returns the value of the named attribute and whether it is present.
func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// hasClass reports whether n's class attribute contains name as a
// whitespace-separated token.
func hasClass(n *html.Node, name string) bool {
	v, _ := attr(n, "class")
	for _, c := range strings.Fields(v) {
		if c == name {
			return true
		}
	}
	return false
}

// textContent collects the concatenated text of n's subtree, trimmed.
func textContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return strings.TrimSpace(buf.String())
}
