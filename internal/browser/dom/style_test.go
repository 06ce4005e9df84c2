package dom_test

import (
	"testing"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/freeform/internal/browser/dom"
)

func TestParseStyle(t *testing.T) {
	s := dom.ParseStyle(" Position: absolute ; left:10px; color: red !important;;bogus; left: 12px")
	require.Len(t, s, 3)
	assert.Equal(t, "absolute", s.Get("position"))
	assert.Equal(t, "12px", s.Get("left"), "later duplicates win")
	assert.True(t, s[2].Important)
	assert.Equal(t, "red", s.Get("COLOR"))
	assert.Equal(t, "position: absolute; left: 12px; color: red !important;", s.String())
}

func TestParseStyleKeepsNestedSemicolons(t *testing.T) {
	attr := `background-image: url(data:image/png;base64,AAAA); font-family: "A;B", 'C;D'; content: "x\";y"; left: 3px`
	s := dom.ParseStyle(attr)
	require.Len(t, s, 4)
	assert.Equal(t, "url(data:image/png;base64,AAAA)", s.Get("background-image"))
	assert.Equal(t, `"A;B", 'C;D'`, s.Get("font-family"))
	assert.Equal(t, `"x\";y"`, s.Get("content"))
	assert.Equal(t, "3px", s.Get("left"))

	s = s.Set("left", "5px")
	assert.Equal(t, "url(data:image/png;base64,AAAA)", dom.ParseStyle(s.String()).Get("background-image"),
		"re-serializing keeps the data URI intact")
}

func TestInlineStyleSetRemove(t *testing.T) {
	s := dom.ParseStyle("top: 1px")
	s = s.Set("left", "4px").Set("top", "2px")
	assert.Equal(t, "top: 2px; left: 4px;", s.String())

	s = s.Set("top", "")
	assert.Equal(t, "left: 4px;", s.String())
	assert.Equal(t, "", s.Remove("left").String())
}

func TestNodeStyleHelpers(t *testing.T) {
	doc, err := dom.ParseString(`<html><body><div id="a" style="width: 10px"></div></body></html>`)
	require.NoError(t, err)
	div := htmlquery.FindOne(doc, "//div")

	dom.SetStyle(div, "left", "5px")
	assert.Equal(t, "width: 10px; left: 5px;", dom.AttrOr(div, "style"))
	assert.Equal(t, "5px", dom.GetStyle(div, "left"))

	dom.WriteStyle(div, nil)
	_, ok := dom.Attr(div, "style")
	assert.False(t, ok, "empty style drops the attribute")
}

func TestNodeHelpers(t *testing.T) {
	doc, err := dom.ParseString(`<html><body><ul class=" a  b "><li>one</li><li> two </li></ul></body></html>`)
	require.NoError(t, err)
	ul := htmlquery.FindOne(doc, "//ul")

	assert.Equal(t, "ul", dom.Tag(ul))
	assert.Equal(t, []string{"a", "b"}, dom.Classes(ul))
	assert.Len(t, dom.ElementChildren(ul), 2)
	assert.Equal(t, "one two", dom.TextContent(ul))
	assert.Same(t, dom.Body(doc), dom.ParentElement(ul))

	second := dom.ElementChildren(ul)[1]
	assert.Equal(t, 2, dom.SiblingIndex(second))
	assert.Len(t, dom.SameTagSiblings(second), 2)
	assert.True(t, dom.Contains(ul, second))
	assert.False(t, dom.Contains(second, ul))
	assert.Same(t, doc, dom.Root(second))

	dom.SetAttr(ul, "data-x", "1")
	assert.Equal(t, "1", dom.Attributes(ul)["data-x"])
	dom.RemoveAttr(ul, "data-x")
	_, ok := dom.Attr(ul, "data-x")
	assert.False(t, ok)

	var tags []string
	dom.Walk(doc, func(n *html.Node) bool {
		tags = append(tags, dom.Tag(n))
		return dom.Tag(n) != "ul"
	})
	assert.Equal(t, []string{"html", "head", "body", "ul"}, tags)
}
