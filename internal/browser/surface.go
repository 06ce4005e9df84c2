// File: internal/browser/surface.go
package browser

import (
	"golang.org/x/net/html"

	"github.com/xkilldash9x/freeform/internal/browser/layout"
)

// Errors reported by surfaces when geometry cannot be read.
var (
	ErrDetached    = layout.ErrDetached
	ErrNotRendered = layout.ErrNotRendered
)

// Surface is a rendered document the editor can measure and mutate. Nodes
// are the surface's own parsed tree; rects are in viewport coordinates.
type Surface interface {
	// Root returns the document node.
	Root() *html.Node
	// Rect returns the painted bounding box of n. It fails with ErrDetached
	// or ErrNotRendered when n has no geometry.
	Rect(n *html.Node) (layout.Rect, error)
	// ComputedPosition returns one of static, relative, absolute, fixed, sticky.
	ComputedPosition(n *html.Node) string
	// ScrollOffset returns the scroll offset of n, or the window when n is nil.
	ScrollOffset(n *html.Node) (x, y float64)
	InlineStyle(n *html.Node, prop string) string
	SetInlineStyle(n *html.Node, prop, value string) error
	SetStyleAttribute(n *html.Node, style string) error
	SetAttribute(n *html.Node, key, value string) error
	RemoveAttribute(n *html.Node, key string) error
	ViewportSize() (width, height float64)
}

var _ Surface = (*layout.Page)(nil)
