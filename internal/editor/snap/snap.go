// Package snap computes alignment guides between a moving rectangle and the
// other elements on the page.
package snap

import (
	"math"

	"github.com/xkilldash9x/freeform/internal/browser/layout"
)

const (
	DefaultThreshold     = 8.0
	DefaultMinTargetSize = 10.0
	// mergeDistance is how close two lines on one axis must be to count as one.
	mergeDistance = 2.0
)

// Axis is the orientation of a guide line.
type Axis int

const (
	// Vertical lines mark a shared x coordinate.
	Vertical Axis = iota
	// Horizontal lines mark a shared y coordinate.
	Horizontal
)

func (a Axis) String() string {
	if a == Vertical {
		return "vertical"
	}
	return "horizontal"
}

func (a Axis) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// Anchor is a reference point along one axis of a rectangle.
type Anchor uint8

const (
	Start  Anchor = 1 << iota // left or top
	Center                    // horizontal or vertical center
	End                       // right or bottom
)

// AllAnchors enables every source anchor.
const AllAnchors = Start | Center | End

func (a Anchor) name(axis Axis) string {
	switch {
	case a == Center && axis == Vertical:
		return "centerX"
	case a == Center:
		return "centerY"
	case a == Start && axis == Vertical:
		return "left"
	case a == Start:
		return "top"
	case axis == Vertical:
		return "right"
	}
	return "bottom"
}

// Line is an alignment guide. Position is the shared coordinate; Start and
// Length span the union of both elements along the other axis.
type Line struct {
	Axis     Axis    `json:"axis" yaml:"axis"`
	Position float64 `json:"position" yaml:"position"`
	Start    float64 `json:"start" yaml:"start"`
	Length   float64 `json:"length" yaml:"length"`
	Label    string  `json:"label,omitempty" yaml:"label,omitempty"`
}

// Result holds the guides for one frame. SnapX and SnapY are the adjusted
// left and top of the moving rectangle, nil when that axis did not snap.
// DX and DY are the matching corrections.
type Result struct {
	Lines  []Line   `json:"lines" yaml:"lines"`
	SnapX  *float64 `json:"snapX" yaml:"snapX"`
	SnapY  *float64 `json:"snapY" yaml:"snapY"`
	DX, DY float64  `json:"-" yaml:"-"`
}

// HasVertical reports whether any vertical line was produced.
func (r Result) HasVertical() bool { return r.has(Vertical) }

// HasHorizontal reports whether any horizontal line was produced.
func (r Result) HasHorizontal() bool { return r.has(Horizontal) }

func (r Result) has(axis Axis) bool {
	for _, l := range r.Lines {
		if l.Axis == axis {
			return true
		}
	}
	return false
}

// pair is one anchor comparison. Lower weight wins a distance tie.
type pair struct {
	source, target Anchor
	weight         int
}

var pairs = [...]pair{
	{Start, Start, 1},
	{Start, End, 2},
	{Center, Center, 0},
	{End, Start, 2},
	{End, End, 1},
}

// Options tunes a computation.
type Options struct {
	Threshold     float64
	MinTargetSize float64
	// SourcesX and SourcesY restrict which anchors of the moving rectangle
	// may snap. Zero means all.
	SourcesX, SourcesY Anchor
}

// Engine reuses its line buffer between frames. The Lines slice of a
// Result is only valid until the next call on the same Engine. An Engine
// must not be shared between goroutines.
type Engine struct {
	lines []Line
	ranks []candidate
}

// Compute runs with default options and the given threshold.
func Compute(moving layout.Rect, targets []layout.Rect, threshold float64) Result {
	var e Engine
	return e.Compute(moving, targets, Options{Threshold: threshold})
}

type candidate struct {
	diff   float64
	weight int
	delta  float64
	line   Line
	found  bool
}

func (c candidate) beats(o candidate) bool {
	return !o.found || c.diff < o.diff || (c.diff == o.diff && c.weight < o.weight)
}

func (c *candidate) offer(o candidate) {
	if o.beats(*c) {
		*c = o
	}
}

// Compute compares the moving rectangle against every target. A pair
// within the threshold (inclusive) yields a line; per axis the closest pair
// decides the snap.
func (e *Engine) Compute(moving layout.Rect, targets []layout.Rect, opts Options) Result {
	if opts.MinTargetSize <= 0 {
		opts.MinTargetSize = DefaultMinTargetSize
	}
	if opts.SourcesX == 0 {
		opts.SourcesX = AllAnchors
	}
	if opts.SourcesY == 0 {
		opts.SourcesY = AllAnchors
	}
	e.lines = e.lines[:0]
	e.ranks = e.ranks[:0]

	var bestX, bestY candidate
	for _, t := range targets {
		if t.Width < opts.MinTargetSize || t.Height < opts.MinTargetSize {
			continue
		}
		for _, p := range pairs {
			if opts.SourcesX&p.source != 0 {
				src, dst := anchorX(moving, p.source), anchorX(t, p.target)
				if diff := math.Abs(src - dst); diff <= opts.Threshold {
					top := math.Min(moving.Top(), t.Top())
					c := candidate{diff: diff, weight: p.weight, delta: dst - src, found: true, line: Line{
						Axis:     Vertical,
						Position: dst,
						Start:    top,
						Length:   math.Max(moving.Bottom(), t.Bottom()) - top,
						Label:    p.source.name(Vertical) + ":" + p.target.name(Vertical),
					}}
					e.add(c)
					bestX.offer(c)
				}
			}
			if opts.SourcesY&p.source != 0 {
				src, dst := anchorY(moving, p.source), anchorY(t, p.target)
				if diff := math.Abs(src - dst); diff <= opts.Threshold {
					left := math.Min(moving.Left(), t.Left())
					c := candidate{diff: diff, weight: p.weight, delta: dst - src, found: true, line: Line{
						Axis:     Horizontal,
						Position: dst,
						Start:    left,
						Length:   math.Max(moving.Right(), t.Right()) - left,
						Label:    p.source.name(Horizontal) + ":" + p.target.name(Horizontal),
					}}
					e.add(c)
					bestY.offer(c)
				}
			}
		}
	}

	if bestX.found {
		e.pin(bestX)
	}
	if bestY.found {
		e.pin(bestY)
	}
	res := Result{Lines: e.lines}
	if bestX.found {
		x := moving.X + bestX.delta
		res.SnapX, res.DX = &x, bestX.delta
	}
	if bestY.found {
		y := moving.Y + bestY.delta
		res.SnapY, res.DY = &y, bestY.delta
	}
	return res
}

// add appends the line of c. A line on the same axis within mergeDistance
// is merged into one, keeping the closer pair.
func (e *Engine) add(c candidate) {
	if i := e.near(c.line); i >= 0 {
		if c.beats(e.ranks[i]) {
			e.lines[i], e.ranks[i] = c.line, c
		}
		return
	}
	e.lines = append(e.lines, c.line)
	e.ranks = append(e.ranks, c)
}

// pin makes the guide of the winning pair sit exactly on the snapped edge.
func (e *Engine) pin(c candidate) {
	if i := e.near(c.line); i >= 0 {
		e.lines[i], e.ranks[i] = c.line, c
		return
	}
	e.lines = append(e.lines, c.line)
	e.ranks = append(e.ranks, c)
}

func (e *Engine) near(l Line) int {
	for i, existing := range e.lines {
		if existing.Axis == l.Axis && math.Abs(existing.Position-l.Position) < mergeDistance {
			return i
		}
	}
	return -1
}

func anchorX(r layout.Rect, a Anchor) float64 {
	switch a {
	case Start:
		return r.Left()
	case Center:
		return r.CenterX()
	}
	return r.Right()
}

func anchorY(r layout.Rect, a Anchor) float64 {
	switch a {
	case Start:
		return r.Top()
	case Center:
		return r.CenterY()
	}
	return r.Bottom()
}
