package drag

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/freeform/internal/browser/layout"
)

// Handle is the grip an interaction started from: the move handle or one of
// the eight resize handles.
type Handle string

const (
	Move      Handle = "move"
	North     Handle = "n"
	NorthEast Handle = "ne"
	East      Handle = "e"
	SouthEast Handle = "se"
	South     Handle = "s"
	SouthWest Handle = "sw"
	West      Handle = "w"
	NorthWest Handle = "nw"
)

// Handles lists every handle.
var Handles = []Handle{Move, North, NorthEast, East, SouthEast, South, SouthWest, West, NorthWest}

// ParseHandle accepts a handle name in any case.
func ParseHandle(s string) (Handle, error) {
	h := Handle(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Handles {
		if h == known {
			return h, nil
		}
	}
	return "", fmt.Errorf("drag: unknown handle %q", s)
}

func (h Handle) IsResize() bool { return h != Move && h != "" }

func (h Handle) left() bool   { return strings.HasSuffix(string(h), "w") }
func (h Handle) right() bool  { return h.IsResize() && strings.HasSuffix(string(h), "e") }
func (h Handle) top() bool    { return strings.HasPrefix(string(h), "n") }
func (h Handle) bottom() bool { return strings.HasPrefix(string(h), "s") }

// resize applies the pointer delta to the edges the handle controls and
// keeps the rectangle at least minW by minH, anchored at the opposite edge.
func (h Handle) resize(r layout.Rect, dx, dy, minW, minH float64) layout.Rect {
	switch {
	case h.left():
		r.X, r.Width = r.X+dx, r.Width-dx
	case h.right():
		r.Width += dx
	}
	switch {
	case h.top():
		r.Y, r.Height = r.Y+dy, r.Height-dy
	case h.bottom():
		r.Height += dy
	}
	return h.clamp(r, minW, minH)
}

func (h Handle) clamp(r layout.Rect, minW, minH float64) layout.Rect {
	if r.Width < minW {
		if h.left() {
			r.X = r.Right() - minW
		}
		r.Width = minW
	}
	if r.Height < minH {
		if h.top() {
			r.Y = r.Bottom() - minH
		}
		r.Height = minH
	}
	return r
}
