package snap

import (
	"math"

	"github.com/xkilldash9x/freeform/internal/browser/layout"
)

const (
	DefaultCollisionMargin = 5.0
	searchStep             = 10.0
	searchRadius           = 200.0
)

// Overlaps reports whether a and b overlap once a is grown by margin on
// every side. Touching edges do not overlap.
func Overlaps(a, b layout.Rect, margin float64) bool {
	return a.X-margin < b.Right() && a.Right()+margin > b.X &&
		a.Y-margin < b.Bottom() && a.Bottom()+margin > b.Y
}

// Collides reports whether r overlaps any of others.
func Collides(r layout.Rect, others []layout.Rect, margin float64) bool {
	for _, o := range others {
		if Overlaps(r, o, margin) {
			return true
		}
	}
	return false
}

// FindFree returns the nearest position for r that overlaps none of others.
// Candidates are tried on rings of growing radius around r, eight
// directions per ring, up to a 200px radius. When bounds is non-nil every
// candidate is constrained to it first. ok is false when nothing free was
// found; r is then returned unchanged.
func FindFree(r layout.Rect, others []layout.Rect, margin float64, bounds *layout.Rect) (free layout.Rect, ok bool) {
	fit := func(c layout.Rect) layout.Rect {
		if bounds != nil {
			return Constrain(c, *bounds)
		}
		return c
	}
	if c := fit(r); !Collides(c, others, margin) {
		return c, true
	}
	for dist := searchStep; dist <= searchRadius; dist += searchStep {
		for deg := 0; deg < 360; deg += 45 {
			rad := float64(deg) * math.Pi / 180
			dx := math.Round(math.Cos(rad)*dist*100) / 100
			dy := math.Round(math.Sin(rad)*dist*100) / 100
			if c := fit(r.Translate(dx, dy)); !Collides(c, others, margin) {
				return c, true
			}
		}
	}
	return r, false
}
