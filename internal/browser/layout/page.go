// internal/browser/layout/page.go
package layout

import (
	"errors"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/freeform/internal/browser/dom"
)

var (
	// ErrDetached is returned for nodes that are not part of the page's document.
	ErrDetached = errors.New("layout: node is detached from the document")
	// ErrNotRendered is returned for attached nodes that generate no box.
	ErrNotRendered = errors.New("layout: node is not rendered")
)

const (
	DefaultViewportWidth  = 1280.0
	DefaultViewportHeight = 720.0
)

// Page is an in-memory rendering of a document. Layout is recomputed lazily
// after any mutation made through the page. All methods are safe for
// concurrent use.
type Page struct {
	mu     sync.Mutex
	doc    *html.Node
	engine *Engine
	root   *Box
	dirty  bool

	viewportWidth, viewportHeight float64
	scroll                        map[*html.Node][2]float64
	windowX, windowY              float64
}

// PageOption configures a Page.
type PageOption func(*Page)

// WithViewport sets the viewport size.
func WithViewport(width, height float64) PageOption {
	return func(p *Page) {
		p.viewportWidth = width
		p.viewportHeight = height
	}
}

// NewPage wraps a parsed document.
func NewPage(doc *html.Node, opts ...PageOption) *Page {
	p := &Page{
		doc:            doc,
		dirty:          true,
		viewportWidth:  DefaultViewportWidth,
		viewportHeight: DefaultViewportHeight,
		scroll:         make(map[*html.Node][2]float64),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParsePage parses HTML and wraps it in a Page.
func ParsePage(r io.Reader, opts ...PageOption) (*Page, error) {
	doc, err := dom.Parse(r)
	if err != nil {
		return nil, err
	}
	return NewPage(doc, opts...), nil
}

// ParsePageString is a convenience wrapper around ParsePage.
func ParsePageString(s string, opts ...PageOption) (*Page, error) {
	doc, err := dom.ParseString(s)
	if err != nil {
		return nil, err
	}
	return NewPage(doc, opts...), nil
}

// Root returns the document node.
func (p *Page) Root() *html.Node { return p.doc }

// Invalidate forces a relayout on the next geometry query. Call it after
// mutating the tree directly instead of through the page.
func (p *Page) Invalidate() {
	p.mu.Lock()
	p.dirty = true
	p.mu.Unlock()
}

func (p *Page) ensureLayout() {
	if !p.dirty && p.engine != nil {
		return
	}
	p.engine = NewEngine(p.viewportWidth, p.viewportHeight)
	p.root = p.engine.Layout(p.doc)
	p.dirty = false
}

func (p *Page) boxFor(n *html.Node) (*Box, error) {
	if n == nil || dom.Root(n) != p.doc {
		return nil, ErrDetached
	}
	p.ensureLayout()
	b := p.engine.BoxFor(n)
	if b == nil {
		return nil, ErrNotRendered
	}
	return b, nil
}

// Rect returns the painted border box of n in viewport coordinates.
func (p *Page) Rect(n *html.Node) (Rect, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, err := p.boxFor(n)
	if err != nil {
		return Rect{}, err
	}
	return p.viewportRect(b), nil
}

func (p *Page) viewportRect(b *Box) Rect {
	r := b.Transform.Bounds(b.Dimensions.BorderBox())
	dx, dy := p.scrollShift(b)
	return r.Translate(-dx, -dy)
}

// scrollShift sums the scroll offsets that move b on screen: every scrolled
// ancestor, plus the window unless b sits in a fixed subtree.
func (p *Page) scrollShift(b *Box) (float64, float64) {
	dx, dy := 0.0, 0.0
	for a := b.Parent; a != nil; a = a.Parent {
		if b.fixed && !a.fixed {
			break
		}
		s := p.scroll[a.Node]
		dx += s[0]
		dy += s[1]
	}
	if !b.fixed {
		dx += p.windowX
		dy += p.windowY
	}
	return dx, dy
}

// ComputedPosition returns the CSS position mode of n.
func (p *Page) ComputedPosition(n *html.Node) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, err := p.boxFor(n); err == nil {
		return b.Position
	}
	return normalizePosition(dom.GetStyle(n, "position"))
}

// ScrollOffset returns the scroll offset of an element. A nil node reports
// the window scroll.
func (p *Page) ScrollOffset(n *html.Node) (float64, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n == nil {
		return p.windowX, p.windowY
	}
	s := p.scroll[n]
	return s[0], s[1]
}

// ScrollTo sets the scroll offset of an element.
func (p *Page) ScrollTo(n *html.Node, x, y float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scroll[n] = [2]float64{x, y}
}

// ScrollWindow sets the window scroll offset.
func (p *Page) ScrollWindow(x, y float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.windowX, p.windowY = x, y
}

// InlineStyle reads one inline style property.
func (p *Page) InlineStyle(n *html.Node, prop string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return dom.GetStyle(n, prop)
}

// SetInlineStyle writes one inline style property; an empty value removes it.
func (p *Page) SetInlineStyle(n *html.Node, prop, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n == nil || dom.Root(n) != p.doc {
		return ErrDetached
	}
	dom.SetStyle(n, prop, value)
	p.dirty = true
	return nil
}

// SetStyleAttribute replaces the whole style attribute verbatim; a blank
// style removes it.
func (p *Page) SetStyleAttribute(n *html.Node, style string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n == nil || dom.Root(n) != p.doc {
		return ErrDetached
	}
	if strings.TrimSpace(style) == "" {
		dom.RemoveAttr(n, "style")
	} else {
		dom.SetAttr(n, "style", style)
	}
	p.dirty = true
	return nil
}

// SetAttribute sets an attribute on n.
func (p *Page) SetAttribute(n *html.Node, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n == nil || dom.Root(n) != p.doc {
		return ErrDetached
	}
	dom.SetAttr(n, key, value)
	p.dirty = true
	return nil
}

// RemoveAttribute removes an attribute from n.
func (p *Page) RemoveAttribute(n *html.Node, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n == nil || dom.Root(n) != p.doc {
		return ErrDetached
	}
	dom.RemoveAttr(n, key)
	p.dirty = true
	return nil
}

// ViewportSize returns the viewport width and height.
func (p *Page) ViewportSize() (float64, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewportWidth, p.viewportHeight
}

// SetViewport resizes the viewport.
func (p *Page) SetViewport(width, height float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.viewportWidth, p.viewportHeight = width, height
	p.dirty = true
}

// HitTest returns the topmost rendered element under a viewport point, or
// nil. Later elements in document order paint over earlier ones.
func (p *Page) HitTest(x, y float64) *html.Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureLayout()
	if p.root == nil {
		return nil
	}
	var hit *html.Node
	var walk func(*Box)
	walk = func(b *Box) {
		if p.viewportRect(b).Contains(x, y) {
			hit = b.Node
		}
		for _, c := range b.Children {
			walk(c)
		}
	}
	walk(p.root)
	return hit
}

// HTML renders the current document.
func (p *Page) HTML() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return dom.Render(p.doc)
}
