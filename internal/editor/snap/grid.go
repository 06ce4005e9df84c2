package snap

import (
	"math"

	"github.com/xkilldash9x/freeform/internal/browser/layout"
)

const DefaultGridSize = 20.0

// ToGrid rounds v to the nearest multiple of size.
func ToGrid(v, size float64) float64 {
	if size <= 0 {
		return v
	}
	return math.Round(v/size) * size
}

// GridPoint snaps each coordinate to the grid when it lies within threshold
// of a grid line. The flags report which axes moved.
type GridPoint struct {
	X, Y               float64
	SnappedX, SnappedY bool
}

// Grid snaps (x, y) to a grid of the given size.
func Grid(x, y, size, threshold float64) GridPoint {
	gx, gy := ToGrid(x, size), ToGrid(y, size)
	p := GridPoint{X: x, Y: y}
	if math.Abs(x-gx) <= threshold {
		p.X, p.SnappedX = gx, true
	}
	if math.Abs(y-gy) <= threshold {
		p.Y, p.SnappedY = gy, true
	}
	return p
}

// Constrain moves r so that it stays inside bounds. A rectangle larger than
// bounds is pinned to the bounds' top-left corner.
func Constrain(r, bounds layout.Rect) layout.Rect {
	maxX := bounds.Right() - r.Width
	maxY := bounds.Bottom() - r.Height
	r.X = math.Max(bounds.X, math.Min(r.X, maxX))
	r.Y = math.Max(bounds.Y, math.Min(r.Y, maxY))
	return r
}
