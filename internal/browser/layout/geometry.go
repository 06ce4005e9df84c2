// internal/browser/layout/geometry.go
package layout

import (
	"fmt"
	"math"
)

// -- Core Structures: Box Model and Dimensions --

// Rect is an axis-aligned rectangle. Viewport rects are what the editor
// reasons about; layout rects are in document coordinates.
type Rect struct {
	X, Y, Width, Height float64
}

func (r Rect) Left() float64    { return r.X }
func (r Rect) Top() float64     { return r.Y }
func (r Rect) Right() float64   { return r.X + r.Width }
func (r Rect) Bottom() float64  { return r.Y + r.Height }
func (r Rect) CenterX() float64 { return r.X + r.Width/2 }
func (r Rect) CenterY() float64 { return r.Y + r.Height/2 }

// Translate returns the rectangle moved by (dx, dy).
func (r Rect) Translate(dx, dy float64) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, Width: r.Width, Height: r.Height}
}

// Contains reports whether the point lies inside the rectangle (edges inclusive).
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.Right() && y >= r.Y && y <= r.Bottom()
}

// Union returns the smallest rectangle enclosing both.
func (r Rect) Union(o Rect) Rect {
	minX := math.Min(r.X, o.X)
	minY := math.Min(r.Y, o.Y)
	maxX := math.Max(r.Right(), o.Right())
	maxY := math.Max(r.Bottom(), o.Bottom())
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// ExpandedBy returns a new rectangle expanded by the edge sizes.
func (r Rect) ExpandedBy(e Edges) Rect {
	return Rect{
		X:      r.X - e.Left,
		Y:      r.Y - e.Top,
		Width:  r.Width + e.Left + e.Right,
		Height: r.Height + e.Top + e.Bottom,
	}
}

func (r Rect) String() string {
	return fmt.Sprintf("(%g,%g %gx%g)", r.X, r.Y, r.Width, r.Height)
}

// Edges holds per-side sizes for margin, border and padding.
type Edges struct {
	Top, Right, Bottom, Left float64
}

// Dimensions defines the geometry of a layout box.
type Dimensions struct {
	// Content area relative to the document origin (before transforms).
	Content Rect

	Padding Edges
	Border  Edges
	Margin  Edges
}

// MarginBox returns the rectangle enclosing the margin area.
func (d Dimensions) MarginBox() Rect {
	return d.BorderBox().ExpandedBy(d.Margin)
}

// BorderBox returns the rectangle enclosing the border area.
func (d Dimensions) BorderBox() Rect {
	return d.PaddingBox().ExpandedBy(d.Border)
}

// PaddingBox returns the rectangle enclosing the padding area.
func (d Dimensions) PaddingBox() Rect {
	return d.Content.ExpandedBy(d.Padding)
}

// -- CSS Transforms (2D) --

// TransformMatrix represents a 2D affine transformation matrix (3x3).
// [ a c e ]
// [ b d f ]
// [ 0 0 1 ]
type TransformMatrix struct {
	A, B, C, D, E, F float64
}

// IdentityMatrix returns the identity matrix (no transformation).
func IdentityMatrix() TransformMatrix {
	return TransformMatrix{A: 1, D: 1}
}

// IsIdentity reports whether the matrix leaves points unchanged.
func (m TransformMatrix) IsIdentity() bool {
	return m == IdentityMatrix()
}

// Multiply combines two matrices (m1 * m2). Order matters.
func (m1 TransformMatrix) Multiply(m2 TransformMatrix) TransformMatrix {
	return TransformMatrix{
		A: m1.A*m2.A + m1.C*m2.B,
		B: m1.B*m2.A + m1.D*m2.B,
		C: m1.A*m2.C + m1.C*m2.D,
		D: m1.B*m2.C + m1.D*m2.D,
		E: m1.A*m2.E + m1.C*m2.F + m1.E,
		F: m1.B*m2.E + m1.D*m2.F + m1.F,
	}
}

// Apply transforms a point (x, y).
func (m TransformMatrix) Apply(x, y float64) (float64, float64) {
	return m.A*x + m.C*y + m.E, m.B*x + m.D*y + m.F
}

// Inverse calculates the inverse of the transformation matrix.
func (m TransformMatrix) Inverse() (TransformMatrix, error) {
	a, b, c, d, e, f := m.A, m.B, m.C, m.D, m.E, m.F

	det := a*d - b*c
	if det == 0 {
		return TransformMatrix{}, fmt.Errorf("matrix is not invertible")
	}
	invDet := 1.0 / det

	return TransformMatrix{
		A: d * invDet,
		B: -b * invDet,
		C: -c * invDet,
		D: a * invDet,
		E: (c*f - d*e) * invDet,
		F: (b*e - a*f) * invDet,
	}, nil
}

// Bounds returns the axis-aligned bounding box of r after transformation.
func (m TransformMatrix) Bounds(r Rect) Rect {
	x1, y1 := m.Apply(r.X, r.Y)
	x2, y2 := m.Apply(r.Right(), r.Y)
	x3, y3 := m.Apply(r.Right(), r.Bottom())
	x4, y4 := m.Apply(r.X, r.Bottom())

	minX := math.Min(x1, math.Min(x2, math.Min(x3, x4)))
	maxX := math.Max(x1, math.Max(x2, math.Max(x3, x4)))
	minY := math.Min(y1, math.Min(y2, math.Min(y3, y4)))
	maxY := math.Max(y1, math.Max(y2, math.Max(y3, y4)))
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// TranslateMatrix creates a translation matrix.
func TranslateMatrix(tx, ty float64) TransformMatrix {
	return TransformMatrix{A: 1, D: 1, E: tx, F: ty}
}

// ScaleMatrix creates a scaling matrix.
func ScaleMatrix(sx, sy float64) TransformMatrix {
	return TransformMatrix{A: sx, D: sy}
}
