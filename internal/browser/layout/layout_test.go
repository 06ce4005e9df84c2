// internal/browser/layout/layout_test.go
package layout

import (
	"testing"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

// -- Test Helpers --

func newTestPage(t *testing.T, body string) *Page {
	t.Helper()
	p, err := ParsePageString("<html><head><title>t</title></head><body>"+body+"</body></html>", WithViewport(1000, 800))
	require.NoError(t, err)
	return p
}

func find(t *testing.T, p *Page, xpath string) *html.Node {
	t.Helper()
	n := htmlquery.FindOne(p.Root(), xpath)
	require.NotNil(t, n, "node not found: %s", xpath)
	return n
}

func rectOf(t *testing.T, p *Page, xpath string) Rect {
	t.Helper()
	r, err := p.Rect(find(t, p, xpath))
	require.NoError(t, err)
	return r
}

// -- Test Cases --

func TestBlockFlow(t *testing.T) {
	p := newTestPage(t, `
		<div id="a" style="height: 100px"></div>
		<div id="b" style="margin: 10px; padding: 5px; width: 200px; height: 50px"></div>
		<div id="c" style="width: 50%; border-width: 2px"><p>hello</p></div>`)

	assert.Equal(t, Rect{X: 0, Y: 0, Width: 1000, Height: 100}, rectOf(t, p, "//*[@id='a']"))
	assert.Equal(t, Rect{X: 10, Y: 110, Width: 210, Height: 60}, rectOf(t, p, "//*[@id='b']"))
	// c starts below b's bottom margin; a single text line gives the paragraph its height.
	assert.Equal(t, Rect{X: 0, Y: 180, Width: 504, Height: 24}, rectOf(t, p, "//*[@id='c']"))
	assert.Equal(t, Rect{X: 2, Y: 182, Width: 500, Height: LineHeight}, rectOf(t, p, "//p"))
}

func TestMarginAutoCentersFixedWidth(t *testing.T) {
	p := newTestPage(t, `<div id="a" style="width: 400px; height: 10px; margin: 0 auto"></div>`)
	assert.Equal(t, Rect{X: 300, Y: 0, Width: 400, Height: 10}, rectOf(t, p, "//*[@id='a']"))
}

func TestPositionedLayout(t *testing.T) {
	p := newTestPage(t, `
		<div style="height: 20px"></div>
		<div id="container" style="position: relative; width: 800px; height: 600px">
			<div id="card" style="position: absolute; left: 100px; top: 100px; width: 50px; height: 50px"></div>
			<div id="br" style="position: absolute; right: 10px; bottom: 10px; width: 30px; height: 40px"></div>
			<div id="static" style="position: absolute; width: 10px; height: 10px"></div>
		</div>
		<div id="free" style="position: absolute; left: 5px; top: 7px; width: 10px; height: 10px"></div>`)

	assert.Equal(t, Rect{X: 100, Y: 120, Width: 50, Height: 50}, rectOf(t, p, "//*[@id='card']"))
	assert.Equal(t, Rect{X: 760, Y: 570, Width: 30, Height: 40}, rectOf(t, p, "//*[@id='br']"))
	assert.Equal(t, Rect{X: 0, Y: 20, Width: 10, Height: 10}, rectOf(t, p, "//*[@id='static']"), "auto offsets fall back to the static position")
	assert.Equal(t, Rect{X: 5, Y: 7, Width: 10, Height: 10}, rectOf(t, p, "//*[@id='free']"), "no positioned ancestor means the initial containing block")

	// Absolutely positioned children do not take space in the flow.
	assert.Equal(t, 600.0, rectOf(t, p, "//*[@id='container']").Height)
	assert.Equal(t, "relative", p.ComputedPosition(find(t, p, "//*[@id='container']")))
	assert.Equal(t, "static", p.ComputedPosition(find(t, p, "//body")))
}

func TestRelativeOffset(t *testing.T) {
	p := newTestPage(t, `
		<div id="r" style="position: relative; left: 10px; top: 5px; height: 20px"></div>
		<div id="next" style="height: 20px"></div>`)

	assert.Equal(t, Rect{X: 10, Y: 5, Width: 1000, Height: 20}, rectOf(t, p, "//*[@id='r']"))
	assert.Equal(t, 20.0, rectOf(t, p, "//*[@id='next']").Y, "relative offsets do not move siblings")
}

func TestTransforms(t *testing.T) {
	p := newTestPage(t, `
		<div id="t" style="width: 100px; height: 50px; transform: translate(40px, -10px)"></div>
		<div id="s" style="width: 100px; height: 50px; transform: scale(2); transform-origin: 0 0"></div>
		<div id="c" style="width: 100px; height: 50px; transform: scale(2)"></div>`)

	assert.Equal(t, Rect{X: 40, Y: -10, Width: 100, Height: 50}, rectOf(t, p, "//*[@id='t']"))
	assert.Equal(t, Rect{X: 0, Y: 50, Width: 200, Height: 100}, rectOf(t, p, "//*[@id='s']"))
	assert.Equal(t, Rect{X: -50, Y: 75, Width: 200, Height: 100}, rectOf(t, p, "//*[@id='c']"), "default origin is the center")
}

func TestScrollOffsets(t *testing.T) {
	p := newTestPage(t, `
		<div id="scroller" style="height: 100px">
			<div id="inner" style="height: 300px"></div>
		</div>
		<div id="fixed" style="position: fixed; left: 0; top: 0; width: 10px; height: 10px"></div>`)

	scroller := find(t, p, "//*[@id='scroller']")
	p.ScrollTo(scroller, 0, 50)
	assert.Equal(t, 0.0, rectOf(t, p, "//*[@id='scroller']").Y, "an element's own scroll does not move it")
	assert.Equal(t, -50.0, rectOf(t, p, "//*[@id='inner']").Y)

	x, y := p.ScrollOffset(scroller)
	assert.Equal(t, [2]float64{0, 50}, [2]float64{x, y})

	p.ScrollWindow(0, 30)
	assert.Equal(t, -80.0, rectOf(t, p, "//*[@id='inner']").Y)
	assert.Equal(t, 0.0, rectOf(t, p, "//*[@id='fixed']").Y, "fixed elements ignore window scroll")
}

func TestRectErrors(t *testing.T) {
	p := newTestPage(t, `<div id="hidden" style="display: none"><span>x</span></div><p hidden>y</p>`)

	_, err := p.Rect(find(t, p, "//*[@id='hidden']"))
	assert.ErrorIs(t, err, ErrNotRendered)
	_, err = p.Rect(find(t, p, "//span"))
	assert.ErrorIs(t, err, ErrNotRendered)
	_, err = p.Rect(find(t, p, "//p"))
	assert.ErrorIs(t, err, ErrNotRendered)
	_, err = p.Rect(find(t, p, "//title"))
	assert.ErrorIs(t, err, ErrNotRendered)

	detached := &html.Node{Type: html.ElementNode, Data: "div"}
	_, err = p.Rect(detached)
	assert.ErrorIs(t, err, ErrDetached)
	assert.ErrorIs(t, p.SetInlineStyle(detached, "left", "1px"), ErrDetached)

	span := find(t, p, "//span")
	span.Parent.RemoveChild(span)
	_, err = p.Rect(span)
	assert.ErrorIs(t, err, ErrDetached)
}

func TestMutationsTriggerRelayout(t *testing.T) {
	p := newTestPage(t, `<div id="a" style="height: 10px"></div>`)
	a := find(t, p, "//*[@id='a']")
	assert.Equal(t, 10.0, rectOf(t, p, "//*[@id='a']").Height)

	require.NoError(t, p.SetInlineStyle(a, "height", "40px"))
	assert.Equal(t, 40.0, rectOf(t, p, "//*[@id='a']").Height)

	require.NoError(t, p.SetStyleAttribute(a, "position: absolute; left: 3px; top: 4px; width: 5px; height: 6px"))
	assert.Equal(t, Rect{X: 3, Y: 4, Width: 5, Height: 6}, rectOf(t, p, "//*[@id='a']"))
	assert.Equal(t, "3px", p.InlineStyle(a, "left"))

	// Direct tree edits need an explicit invalidation.
	a.Attr = nil
	p.Invalidate()
	assert.Equal(t, 0.0, rectOf(t, p, "//*[@id='a']").Height)

	p.SetViewport(500, 500)
	assert.Equal(t, 500.0, rectOf(t, p, "//*[@id='a']").Width)
	w, h := p.ViewportSize()
	assert.Equal(t, [2]float64{500, 500}, [2]float64{w, h})
}

func TestHitTest(t *testing.T) {
	p := newTestPage(t, `
		<section id="s" style="height: 200px">
			<div id="inner" style="margin-left: 50px; width: 100px; height: 100px"></div>
		</section>`)

	assert.Equal(t, "inner", attrID(p.HitTest(60, 10)))
	assert.Equal(t, "s", attrID(p.HitTest(10, 150)))
	assert.Nil(t, p.HitTest(10, 5000))
}

func attrID(n *html.Node) string {
	if n == nil {
		return ""
	}
	return htmlquery.SelectAttr(n, "id")
}

func TestParseLength(t *testing.T) {
	tests := []struct {
		in   string
		want length
	}{
		{"10px", length{value: 10}},
		{"12", length{value: 12}},
		{"50%", length{value: 100}},
		{"2em", length{value: 32}},
		{"10vw", length{value: 100}},
		{"10vh", length{value: 50}},
		{"auto", length{auto: true}},
		{"", length{auto: true}},
		{"calc(1px)", length{auto: true}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLength(tt.in, 200, 1000, 500))
		})
	}

	v, ok := ParsePx("12.5px")
	assert.True(t, ok)
	assert.Equal(t, 12.5, v)
	_, ok = ParsePx("50%")
	assert.False(t, ok)
}

func TestTransformMatrixInverse(t *testing.T) {
	m := TranslateMatrix(10, 20).Multiply(ScaleMatrix(2, 4))
	inv, err := m.Inverse()
	require.NoError(t, err)
	x, y := inv.Apply(m.Apply(3, 5))
	assert.InDelta(t, 3, x, 1e-9)
	assert.InDelta(t, 5, y, 1e-9)

	_, err = ScaleMatrix(0, 1).Inverse()
	assert.Error(t, err)
	assert.True(t, IdentityMatrix().IsIdentity())
}

func TestRectHelpers(t *testing.T) {
	r := Rect{X: 10, Y: 20, Width: 30, Height: 40}
	assert.Equal(t, 40.0, r.Right())
	assert.Equal(t, 60.0, r.Bottom())
	assert.Equal(t, 25.0, r.CenterX())
	assert.Equal(t, 40.0, r.CenterY())
	assert.Equal(t, Rect{X: 0, Y: 0, Width: 40, Height: 60}, r.Union(Rect{Width: 5, Height: 5}))
	assert.True(t, r.Contains(10, 60))
	assert.False(t, r.Contains(9, 60))
}
