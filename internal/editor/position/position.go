// Package position converts viewport coordinates into offsets relative to an
// element's positioning context, so that absolutely positioned elements keep
// their place when the page or a container scrolls.
package position

import (
	"fmt"
	"math"
	"strconv"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/freeform/internal/browser"
	"github.com/xkilldash9x/freeform/internal/browser/dom"
)

// Options tunes a conversion.
type Options struct {
	// PercentWidth expresses the width as a percentage of the context's
	// width. Offsets are always pixels.
	PercentWidth bool
	// Container overrides the positioning context search.
	Container *html.Node
}

// Result is the style needed to place an element at the converted point.
type Result struct {
	Position string  `json:"position"`
	Left     string  `json:"left"`
	Top      string  `json:"top"`
	Width    string  `json:"width"`
	LeftPx   float64 `json:"-"`
	TopPx    float64 `json:"-"`
	WidthPx  float64 `json:"-"`

	Ancestor *html.Node `json:"-"`
	// PromotedAncestor is set when Ancestor was static and has been switched
	// to position: relative as a side effect of the conversion.
	PromotedAncestor bool `json:"promotedAncestor"`
}

// Styles returns the result as inline style declarations.
func (r Result) Styles() map[string]string {
	return map[string]string{
		"position": r.Position,
		"left":     r.Left,
		"top":      r.Top,
		"width":    r.Width,
	}
}

// Ancestor returns the nearest ancestor of n whose computed position is not
// static, searching up to but excluding body. It returns nil when there is
// none.
func Ancestor(s browser.Surface, n *html.Node) *html.Node {
	for cur := dom.ParentElement(n); cur != nil; cur = dom.ParentElement(cur) {
		if tag := dom.Tag(cur); tag == "body" || tag == "html" {
			return nil
		}
		if s.ComputedPosition(cur) != "static" {
			return cur
		}
	}
	return nil
}

// EnsureContext returns the positioning context for n. When no positioned
// ancestor exists the immediate parent is promoted to position: relative and
// promoted is true.
func EnsureContext(s browser.Surface, n *html.Node) (ctx *html.Node, promoted bool, err error) {
	if ctx = Ancestor(s, n); ctx != nil {
		return ctx, false, nil
	}
	ctx = dom.ParentElement(n)
	if ctx == nil {
		return nil, false, fmt.Errorf("position: %w", browser.ErrDetached)
	}
	return promote(s, ctx)
}

func promote(s browser.Surface, ctx *html.Node) (*html.Node, bool, error) {
	if s.ComputedPosition(ctx) != "static" {
		return ctx, false, nil
	}
	if err := s.SetInlineStyle(ctx, "position", "relative"); err != nil {
		return nil, false, fmt.Errorf("position: failed to promote <%s>: %w", dom.Tag(ctx), err)
	}
	return ctx, true, nil
}

// ToRelative converts the viewport point (x, y) into left/top offsets inside
// n's positioning context: the viewport coordinate minus the context's
// viewport origin plus the context's scroll offset.
func ToRelative(s browser.Surface, n *html.Node, x, y float64, opts Options) (Result, error) {
	var (
		ctx      *html.Node
		promoted bool
		err      error
	)
	if opts.Container != nil {
		ctx, promoted, err = promote(s, opts.Container)
	} else {
		ctx, promoted, err = EnsureContext(s, n)
	}
	if err != nil {
		return Result{}, err
	}

	ctxRect, err := s.Rect(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("position: context geometry: %w", err)
	}
	rect, err := s.Rect(n)
	if err != nil {
		return Result{}, fmt.Errorf("position: element geometry: %w", err)
	}
	scrollX, scrollY := s.ScrollOffset(ctx)

	res := Result{
		Position:         "absolute",
		LeftPx:           x - ctxRect.X + scrollX,
		TopPx:            y - ctxRect.Y + scrollY,
		WidthPx:          rect.Width,
		Ancestor:         ctx,
		PromotedAncestor: promoted,
	}
	res.Left = Px(res.LeftPx)
	res.Top = Px(res.TopPx)
	if opts.PercentWidth && ctxRect.Width > 0 {
		res.Width = strconv.FormatFloat(rect.Width/ctxRect.Width*100, 'f', 2, 64) + "%"
	} else {
		res.Width = Px(rect.Width)
	}
	return res, nil
}

// Px formats v as a pixel length rounded to two decimals.
func Px(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64) + "px"
}
