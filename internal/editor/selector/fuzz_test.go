package selector

import (
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/freeform/internal/browser/dom"
)

var (
	fuzzTags    = []string{"div", "section", "p", "span", "a", "button", "ul", "li", "header", "footer"}
	fuzzClasses = []string{"card", "btn", "hero", "active", "row", "col", "hover-x"}
	fuzzIDs     = []string{"a", "b", "a", "it's"}
)

// buildFuzzTree grows a document from fuzz input. Small pools for ids and
// classes make duplicates common.
func buildFuzzTree(c *fuzz.ConsumeFuzzer) (*html.Node, []*html.Node) {
	doc := &html.Node{Type: html.DocumentNode}
	root := &html.Node{Type: html.ElementNode, Data: "html", DataAtom: atom.Html}
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	doc.AppendChild(root)
	root.AppendChild(body)

	nodes := []*html.Node{body}
	count, err := c.GetInt()
	if err != nil {
		return doc, nil
	}
	count = index(count, 40) + 1
	for i := 0; i < count; i++ {
		pick, err1 := c.GetInt()
		parentIdx, err2 := c.GetInt()
		attrs, err3 := c.GetByte()
		if err1 != nil || err2 != nil || err3 != nil {
			break
		}
		n := &html.Node{Type: html.ElementNode, Data: fuzzTags[index(pick, len(fuzzTags))]}
		if attrs&1 != 0 {
			dom.SetAttr(n, "class", fuzzClasses[int(attrs>>1)%len(fuzzClasses)]+" "+fuzzClasses[int(attrs>>4)%len(fuzzClasses)])
		}
		if attrs&0x80 != 0 {
			dom.SetAttr(n, "id", fuzzIDs[int(attrs>>2)%len(fuzzIDs)])
		}
		nodes[index(parentIdx, len(nodes))].AppendChild(n)
		nodes = append(nodes, n)
	}
	return doc, nodes[1:]
}

// index maps any int onto [0, n).
func index(v, n int) int {
	v %= n
	if v < 0 {
		v += n
	}
	return v
}

func FuzzGenerateRoundTrip(f *testing.F) {
	f.Add([]byte("seed-one-with-some-bytes-for-structure"))
	f.Add([]byte{0x05, 0x01, 0x00, 0xff, 0x02, 0x03, 0x81, 0x7f, 0x10, 0x22, 0x33, 0x44})

	g := New()
	f.Fuzz(func(t *testing.T, data []byte) {
		doc, nodes := buildFuzzTree(fuzz.NewConsumer(data))
		for _, n := range nodes {
			sel, err := g.GenerateChecked(n)
			if err != nil {
				t.Fatalf("attached node produced degraded selector %q: %v", sel, err)
			}
			if !Validate(doc, sel, n) {
				t.Fatalf("selector %q does not resolve to its node", sel)
			}
		}
	})
}
