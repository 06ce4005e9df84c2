// File: internal/browser/dom/node.go
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Parse reads an HTML document into a node tree.
func Parse(r io.Reader) (*html.Node, error) {
	doc, err := htmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: failed to parse document: %w", err)
	}
	return doc, nil
}

// ParseString is a convenience wrapper around Parse.
func ParseString(s string) (*html.Node, error) {
	return Parse(strings.NewReader(s))
}

// Render serializes the tree rooted at n back to HTML.
func Render(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return "", fmt.Errorf("dom: failed to render: %w", err)
	}
	return buf.String(), nil
}

// IsElement reports whether n is an element node.
func IsElement(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode
}

// Tag returns the lowercase tag name of an element, or "".
func Tag(n *html.Node) string {
	if !IsElement(n) {
		return ""
	}
	return strings.ToLower(n.Data)
}

// Attr returns the value of the named attribute and whether it is present.
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// AttrOr returns the attribute value, or "" when it is absent.
func AttrOr(n *html.Node, key string) string {
	v, _ := Attr(n, key)
	return v
}

// SetAttr sets or replaces an attribute.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes an attribute if present.
func RemoveAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}

// Attributes copies the element's attributes into a map.
func Attributes(n *html.Node) map[string]string {
	m := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		m[a.Key] = a.Val
	}
	return m
}

// Classes splits the class attribute into tokens.
func Classes(n *html.Node) []string {
	return strings.Fields(AttrOr(n, "class"))
}

// ClassName returns the raw class attribute, lowercased.
func ClassName(n *html.Node) string {
	return strings.ToLower(AttrOr(n, "class"))
}

// ElementChildren returns the direct element children of n.
func ElementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// ParentElement returns the closest ancestor that is an element.
func ParentElement(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			return p
		}
	}
	return nil
}

// TextContent concatenates all descendant text, trimmed.
func TextContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

// Contains reports whether descendant is n or lies below it.
func Contains(n, descendant *html.Node) bool {
	for c := descendant; c != nil; c = c.Parent {
		if c == n {
			return true
		}
	}
	return false
}

// Root walks to the top of the tree containing n.
func Root(n *html.Node) *html.Node {
	for n != nil && n.Parent != nil {
		n = n.Parent
	}
	return n
}

// Body returns the <body> element of a document, or nil.
func Body(doc *html.Node) *html.Node {
	return htmlquery.FindOne(doc, "//body")
}

// Walk visits every element below root in document order until fn returns false.
func Walk(root *html.Node, fn func(*html.Node) bool) {
	var rec func(*html.Node) bool
	rec = func(n *html.Node) bool {
		if n.Type == html.ElementNode && !fn(n) {
			return false
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !rec(c) {
				return false
			}
		}
		return true
	}
	rec(root)
}

// SameTagSiblings returns the element siblings of n (n included) sharing its tag.
func SameTagSiblings(n *html.Node) []*html.Node {
	if n.Parent == nil {
		return []*html.Node{n}
	}
	tag := Tag(n)
	var out []*html.Node
	for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
		if Tag(c) == tag {
			out = append(out, c)
		}
	}
	return out
}
