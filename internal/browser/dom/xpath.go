// browser/dom/xpath.go
package dom

import (
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// GenerateUniqueXPath generates a robust XPath expression for a given node.
// It prioritizes using IDs as anchors for stability and brevity.
func GenerateUniqueXPath(node *html.Node) string {
	return buildIndexedPath(node, true)
}

// AbsoluteXPath returns the fully indexed path from the document root,
// ignoring id anchors. It always resolves to exactly one node.
func AbsoluteXPath(node *html.Node) string {
	return buildIndexedPath(node, false)
}

func buildIndexedPath(node *html.Node, anchorOnID bool) string {
	if node == nil {
		return ""
	}

	var path []string
	for n := node; n != nil && n.Type != html.DocumentNode; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		tag := strings.ToLower(n.Data)
		if tag == "" {
			continue
		}

		if anchorOnID {
			if id := htmlquery.SelectAttr(n, "id"); id != "" && !strings.Contains(id, "'") {
				path = append(path, fmt.Sprintf(`//*[@id='%s']`, id))
				break
			}
		}

		path = append(path, fmt.Sprintf("%s[%d]", tag, SiblingIndex(n)))
	}

	if len(path) == 0 {
		return "/"
	}

	// Reverse the path to go from root (or ID base) to the node.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	xpath := strings.Join(path, "/")
	if !strings.HasPrefix(xpath, "//*[@id=") {
		xpath = "/" + xpath
	}
	return xpath
}

// SiblingIndex is the 1-based position of n among element siblings sharing its tag.
func SiblingIndex(n *html.Node) int {
	tag := strings.ToLower(n.Data)
	index := 1
	for prev := n.PrevSibling; prev != nil; prev = prev.PrevSibling {
		if prev.Type == html.ElementNode && strings.ToLower(prev.Data) == tag {
			index++
		}
	}
	return index
}

// QueryAll evaluates an XPath expression against root.
func QueryAll(root *html.Node, expr string) ([]*html.Node, error) {
	nodes, err := htmlquery.QueryAll(root, expr)
	if err != nil {
		return nil, fmt.Errorf("dom: invalid xpath %q: %w", expr, err)
	}
	return nodes, nil
}

// Literal quotes s as an XPath string literal, switching to concat() when
// it carries both quote styles.
func Literal(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = "'" + p + "'"
	}
	return "concat(" + strings.Join(quoted, `, "'", `) + ")"
}
