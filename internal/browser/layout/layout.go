// internal/browser/layout/layout.go
package layout

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/freeform/internal/browser/dom"
)

// -- Layout Tree (Box Tree) --

// Box is a node in the layout tree. Only rendered elements get a box.
type Box struct {
	Node     *html.Node
	Parent   *Box
	Children []*Box
	// Position is the resolved CSS position mode of the element.
	Position   string
	Dimensions Dimensions
	// Transform maps document coordinates of the box to painted coordinates,
	// ancestors' transforms included.
	Transform TransformMatrix

	style    dom.InlineStyle
	fixed    bool
	definite float64
}

// nonRendered lists tags that never generate a box.
var nonRendered = map[string]bool{
	"head": true, "script": true, "style": true, "meta": true, "link": true,
	"title": true, "template": true, "noscript": true, "base": true,
}

// Engine computes a block-flow box model for a parsed document. It honors
// inline styles only: margin, padding, border-width, width, height,
// position with its offsets, display:none and 2D transforms.
type Engine struct {
	viewportWidth, viewportHeight float64

	boxes   map[*html.Node]*Box
	pending []pendingBox
}

type pendingBox struct {
	box              *Box
	staticX, staticY float64
}

// NewEngine creates an engine for a viewport of the given size.
func NewEngine(viewportWidth, viewportHeight float64) *Engine {
	return &Engine{viewportWidth: viewportWidth, viewportHeight: viewportHeight}
}

// Layout builds and lays out the box tree for doc. It returns nil when the
// document has no rendered root element.
func (e *Engine) Layout(doc *html.Node) *Box {
	e.boxes = make(map[*html.Node]*Box)
	e.pending = e.pending[:0]

	rootNode := doc
	if doc.Type != html.ElementNode {
		rootNode = nil
		for c := doc.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				rootNode = c
				break
			}
		}
	}
	if rootNode == nil {
		return nil
	}
	root := e.newBox(rootNode, nil)
	if root == nil {
		return nil
	}

	e.layoutBlock(root, e.viewportWidth, e.viewportHeight, 0, 0)
	// Positioned boxes are placed once their containing blocks are sized.
	// Laying one out may queue more, so the slice grows while we walk it.
	for i := 0; i < len(e.pending); i++ {
		e.layoutPositioned(i)
	}
	e.applyTransforms(root, IdentityMatrix())
	return root
}

// BoxFor returns the box generated for n by the last Layout call.
func (e *Engine) BoxFor(n *html.Node) *Box {
	return e.boxes[n]
}

func (e *Engine) newBox(n *html.Node, parent *Box) *Box {
	if nonRendered[dom.Tag(n)] {
		return nil
	}
	if _, hidden := dom.Attr(n, "hidden"); hidden {
		return nil
	}
	st := dom.StyleOf(n)
	if strings.EqualFold(st.Get("display"), "none") {
		return nil
	}

	b := &Box{Node: n, Parent: parent, style: st, Position: normalizePosition(st.Get("position"))}
	b.fixed = b.Position == "fixed" || (parent != nil && parent.fixed)
	e.boxes[n] = b
	return b
}

func normalizePosition(v string) string {
	switch v = strings.ToLower(strings.TrimSpace(v)); v {
	case "relative", "absolute", "fixed", "sticky":
		return v
	}
	return "static"
}

// -- Block Flow --

func (e *Engine) layoutBlock(b *Box, cbWidth, cbHeight, x, y float64) {
	d := &b.Dimensions
	e.resolveEdges(b, cbWidth)
	hPad := d.Padding.Left + d.Padding.Right + d.Border.Left + d.Border.Right

	w := parseLength(b.style.Get("width"), cbWidth, e.viewportWidth, e.viewportHeight)
	if w.auto {
		d.Content.Width = math.Max(0, cbWidth-d.Margin.Left-d.Margin.Right-hPad)
	} else {
		d.Content.Width = w.value
		if b.marginAuto("left") && b.marginAuto("right") {
			if rem := cbWidth - w.value - hPad; rem > 0 {
				d.Margin.Left, d.Margin.Right = rem/2, rem/2
			}
		}
	}

	d.Content.X = x + d.Margin.Left + d.Border.Left + d.Padding.Left
	d.Content.Y = y + d.Margin.Top + d.Border.Top + d.Padding.Top
	e.finishHeight(b, cbHeight, e.layoutChildren)
}

// finishHeight resolves an explicit height before children are laid out
// (percentages need it) and falls back to the content height otherwise.
func (e *Engine) finishHeight(b *Box, cbHeight float64, layoutChildren func(*Box) float64) {
	d := &b.Dimensions
	b.definite = -1
	hv := b.style.Get("height")
	h := length{auto: true}
	if !(strings.HasSuffix(strings.TrimSpace(hv), "%") && cbHeight < 0) {
		h = parseLength(hv, cbHeight, e.viewportWidth, e.viewportHeight)
	}
	if !h.auto {
		d.Content.Height = h.value
		b.definite = h.value
	}
	flow := layoutChildren(b)
	if h.auto {
		d.Content.Height = flow
	}
}

// layoutChildren stacks in-flow children vertically and returns the height
// they occupy. Each run of non-blank text takes one line.
func (e *Engine) layoutChildren(b *Box) float64 {
	content := b.Dimensions.Content
	cursor := content.Y
	for c := b.Node.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			if strings.TrimSpace(c.Data) != "" {
				cursor += LineHeight
			}
		case html.ElementNode:
			child := e.newBox(c, b)
			if child == nil {
				continue
			}
			b.Children = append(b.Children, child)
			if child.Position == "absolute" || child.Position == "fixed" {
				e.pending = append(e.pending, pendingBox{box: child, staticX: content.X, staticY: cursor})
				continue
			}
			dx, dy := 0.0, 0.0
			if child.Position == "relative" {
				dx, dy = e.relativeOffset(child, content.Width, b.definite)
			}
			e.layoutBlock(child, content.Width, b.definite, content.X+dx, cursor+dy)
			cursor += child.Dimensions.MarginBox().Height
		}
	}
	return cursor - content.Y
}

func (e *Engine) relativeOffset(b *Box, cbWidth, cbHeight float64) (float64, float64) {
	vw, vh := e.viewportWidth, e.viewportHeight
	offsetX, offsetY := 0.0, 0.0
	if l := parseLength(b.style.Get("left"), cbWidth, vw, vh); !l.auto {
		offsetX = l.value
	} else if r := parseLength(b.style.Get("right"), cbWidth, vw, vh); !r.auto {
		offsetX = -r.value
	}
	if t := parseLength(b.style.Get("top"), cbHeight, vw, vh); !t.auto {
		offsetY = t.value
	} else if bt := parseLength(b.style.Get("bottom"), cbHeight, vw, vh); !bt.auto {
		offsetY = -bt.value
	}
	return offsetX, offsetY
}

// -- Positioned Layout --

// containingBlock returns the padding box a positioned box resolves its
// offsets against.
func (e *Engine) containingBlock(b *Box) Rect {
	viewport := Rect{Width: e.viewportWidth, Height: e.viewportHeight}
	if b.Position == "fixed" {
		return viewport
	}
	for a := b.Parent; a != nil; a = a.Parent {
		if a.Position != "static" {
			return a.Dimensions.PaddingBox()
		}
	}
	return viewport
}

func (e *Engine) layoutPositioned(idx int) {
	p := e.pending[idx]
	b := p.box
	d := &b.Dimensions
	cb := e.containingBlock(b)
	vw, vh := e.viewportWidth, e.viewportHeight

	e.resolveEdges(b, cb.Width)
	hPad := d.Padding.Left + d.Padding.Right + d.Border.Left + d.Border.Right
	vPad := d.Padding.Top + d.Padding.Bottom + d.Border.Top + d.Border.Bottom

	left := parseLength(b.style.Get("left"), cb.Width, vw, vh)
	right := parseLength(b.style.Get("right"), cb.Width, vw, vh)
	top := parseLength(b.style.Get("top"), cb.Height, vw, vh)
	bottom := parseLength(b.style.Get("bottom"), cb.Height, vw, vh)

	w := parseLength(b.style.Get("width"), cb.Width, vw, vh)
	switch {
	case !w.auto:
		d.Content.Width = w.value
	case !left.auto && !right.auto:
		d.Content.Width = math.Max(0, cb.Width-left.value-right.value-d.Margin.Left-d.Margin.Right-hPad)
	default:
		// Shrink-to-fit is approximated by the space left of the offset.
		d.Content.Width = math.Max(0, cb.Width-left.value-d.Margin.Left-d.Margin.Right-hPad)
	}
	outerWidth := d.Content.Width + hPad + d.Margin.Left + d.Margin.Right

	var x float64
	switch {
	case !left.auto:
		x = cb.X + left.value
	case !right.auto:
		x = cb.Right() - right.value - outerWidth
	default:
		x = p.staticX
	}

	y := p.staticY
	if !top.auto {
		y = cb.Y + top.value
	}
	d.Content.X = x + d.Margin.Left + d.Border.Left + d.Padding.Left
	d.Content.Y = y + d.Margin.Top + d.Border.Top + d.Padding.Top
	e.finishHeight(b, cb.Height, e.layoutChildren)

	if top.auto && !bottom.auto {
		outerHeight := d.Content.Height + vPad + d.Margin.Top + d.Margin.Bottom
		e.shift(b, idx, 0, cb.Bottom()-bottom.value-outerHeight-y)
	}
}

// shift moves a laid-out subtree, including positioned descendants still
// waiting in the queue.
func (e *Engine) shift(b *Box, idx int, dx, dy float64) {
	if dx == 0 && dy == 0 {
		return
	}
	var rec func(*Box)
	rec = func(x *Box) {
		x.Dimensions.Content.X += dx
		x.Dimensions.Content.Y += dy
		for _, c := range x.Children {
			rec(c)
		}
	}
	rec(b)
	for i := idx + 1; i < len(e.pending); i++ {
		if dom.Contains(b.Node, e.pending[i].box.Node) {
			e.pending[i].staticX += dx
			e.pending[i].staticY += dy
		}
	}
}

// -- Box Edges --

func (e *Engine) resolveEdges(b *Box, refWidth float64) {
	vw, vh := e.viewportWidth, e.viewportHeight
	side := func(prefix string) Edges {
		vals := expandShorthand(b.style.Get(prefix))
		names := [4]string{"top", "right", "bottom", "left"}
		for i, n := range names {
			if v := b.style.Get(prefix + "-" + n); v != "" {
				vals[i] = v
			}
		}
		return Edges{
			Top:    px(vals[0], refWidth, vw, vh),
			Right:  px(vals[1], refWidth, vw, vh),
			Bottom: px(vals[2], refWidth, vw, vh),
			Left:   px(vals[3], refWidth, vw, vh),
		}
	}
	b.Dimensions.Margin = side("margin")
	b.Dimensions.Padding = side("padding")

	borders := expandShorthand(b.style.Get("border-width"))
	if bw := b.style.Get("border"); bw != "" && b.style.Get("border-width") == "" {
		for _, tok := range strings.Fields(bw) {
			if _, ok := ParsePx(tok); ok {
				borders = expandShorthand(tok)
				break
			}
		}
	}
	b.Dimensions.Border = Edges{
		Top:    px(borders[0], refWidth, vw, vh),
		Right:  px(borders[1], refWidth, vw, vh),
		Bottom: px(borders[2], refWidth, vw, vh),
		Left:   px(borders[3], refWidth, vw, vh),
	}
}

func (b *Box) marginAuto(side string) bool {
	if v := b.style.Get("margin-" + side); v != "" {
		return strings.EqualFold(v, "auto")
	}
	vals := expandShorthand(b.style.Get("margin"))
	idx := map[string]int{"top": 0, "right": 1, "bottom": 2, "left": 3}[side]
	return strings.EqualFold(vals[idx], "auto")
}

// -- CSS Transforms --

func (e *Engine) applyTransforms(b *Box, parent TransformMatrix) {
	m := parent
	if t := strings.TrimSpace(b.style.Get("transform")); t != "" && t != "none" {
		bb := b.Dimensions.BorderBox()
		ox, oy := e.parseTransformOrigin(b)
		ox += bb.X
		oy += bb.Y
		m = m.Multiply(TranslateMatrix(ox, oy)).
			Multiply(e.parseTransform(b, t)).
			Multiply(TranslateMatrix(-ox, -oy))
	}
	b.Transform = m
	for _, c := range b.Children {
		e.applyTransforms(c, m)
	}
}

// parseTransformOrigin resolves `transform-origin` into offsets from the
// border box's top-left corner.
func (e *Engine) parseTransformOrigin(b *Box) (float64, float64) {
	xStr, yStr := "50%", "50%"
	parts := strings.Fields(b.style.Get("transform-origin"))
	if len(parts) >= 1 {
		xStr = parts[0]
	}
	if len(parts) >= 2 {
		yStr = parts[1]
	}

	keywordToPercent := map[string]string{
		"left": "0%", "center": "50%", "right": "100%",
		"top": "0%", "bottom": "100%",
	}
	if p, ok := keywordToPercent[xStr]; ok {
		xStr = p
	}
	if p, ok := keywordToPercent[yStr]; ok {
		yStr = p
	}

	bb := b.Dimensions.BorderBox()
	return px(xStr, bb.Width, e.viewportWidth, e.viewportHeight),
		px(yStr, bb.Height, e.viewportWidth, e.viewportHeight)
}

// parseTransform parses a transform list into a single matrix. Functions
// other than matrix, translate* and scale* are ignored.
func (e *Engine) parseTransform(b *Box, transformStr string) TransformMatrix {
	finalMatrix := IdentityMatrix()
	bb := b.Dimensions.BorderBox()
	resolveLenX := func(v string) float64 { return px(v, bb.Width, e.viewportWidth, e.viewportHeight) }
	resolveLenY := func(v string) float64 { return px(v, bb.Height, e.viewportWidth, e.viewportHeight) }
	num := func(v string) float64 {
		f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f
	}

	for _, f := range strings.Split(transformStr, ")") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		parts := strings.SplitN(f, "(", 2)
		if len(parts) != 2 {
			continue
		}
		funcName := strings.TrimSpace(parts[0])
		args := strings.Fields(strings.ReplaceAll(parts[1], ",", " "))
		current := IdentityMatrix()

		switch funcName {
		case "matrix":
			if len(args) == 6 {
				current = TransformMatrix{
					A: num(args[0]), B: num(args[1]), C: num(args[2]),
					D: num(args[3]), E: num(args[4]), F: num(args[5]),
				}
			}
		case "translate":
			if len(args) >= 1 {
				ty := 0.0
				if len(args) > 1 {
					ty = resolveLenY(args[1])
				}
				current = TranslateMatrix(resolveLenX(args[0]), ty)
			}
		case "translateX":
			if len(args) == 1 {
				current = TranslateMatrix(resolveLenX(args[0]), 0)
			}
		case "translateY":
			if len(args) == 1 {
				current = TranslateMatrix(0, resolveLenY(args[0]))
			}
		case "scale":
			if len(args) >= 1 {
				sx := num(args[0])
				sy := sx
				if len(args) > 1 {
					sy = num(args[1])
				}
				current = ScaleMatrix(sx, sy)
			}
		case "scaleX":
			if len(args) == 1 {
				current = ScaleMatrix(num(args[0]), 1)
			}
		case "scaleY":
			if len(args) == 1 {
				current = ScaleMatrix(1, num(args[0]))
			}
		}
		finalMatrix = finalMatrix.Multiply(current)
	}
	return finalMatrix
}
