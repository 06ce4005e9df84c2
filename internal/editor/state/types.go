package state

import (
	"maps"
	"sort"
	"strings"
)

// Unit is a CSS length unit used in persisted geometry.
type Unit string

const (
	Pixels  Unit = "px"
	Percent Unit = "%"
)

// Position is the persisted location of an element inside its positioning
// context.
type Position struct {
	X    float64 `json:"x" yaml:"x"`
	Y    float64 `json:"y" yaml:"y"`
	Unit Unit    `json:"unit" yaml:"unit"`
}

// Size is the persisted size of an element.
type Size struct {
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
	Unit   Unit    `json:"unit" yaml:"unit"`
}

// Styles maps CSS property names to values. camelCase names such as zIndex
// are accepted and written in their hyphenated form.
type Styles map[string]string

// Clone returns an independent copy.
func (s Styles) Clone() Styles {
	if s == nil {
		return nil
	}
	return maps.Clone(s)
}

// Keys returns the property names in sorted order.
func (s Styles) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CSSName converts a camelCase property name to its hyphenated form.
func CSSName(prop string) string {
	if strings.HasPrefix(prop, "--") || strings.ToLower(prop) == prop {
		return prop
	}
	var b strings.Builder
	for i, r := range prop {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('-')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Viewport is a responsive breakpoint class.
type Viewport string

const (
	Mobile  Viewport = "mobile"
	Tablet  Viewport = "tablet"
	Desktop Viewport = "desktop"
)

// Breakpoints separate the viewport classes. Widths below Mobile are
// mobile, below Tablet are tablet, everything else is desktop.
type Breakpoints struct {
	Mobile float64
	Tablet float64
}

// DefaultBreakpoints are 640 and 1024 pixels.
var DefaultBreakpoints = Breakpoints{Mobile: 640, Tablet: 1024}

// Classify returns the viewport class for a viewport width.
func (b Breakpoints) Classify(width float64) Viewport {
	switch {
	case width < b.Mobile:
		return Mobile
	case width < b.Tablet:
		return Tablet
	}
	return Desktop
}

// Responsive holds per-viewport style overrides.
type Responsive struct {
	Mobile  Styles `json:"mobile,omitempty" yaml:"mobile,omitempty"`
	Tablet  Styles `json:"tablet,omitempty" yaml:"tablet,omitempty"`
	Desktop Styles `json:"desktop,omitempty" yaml:"desktop,omitempty"`
}

// For returns the override for v, or nil.
func (r *Responsive) For(v Viewport) Styles {
	if r == nil {
		return nil
	}
	switch v {
	case Mobile:
		return r.Mobile
	case Tablet:
		return r.Tablet
	}
	return r.Desktop
}

// Set stores the override for v.
func (r *Responsive) Set(v Viewport, s Styles) {
	switch v {
	case Mobile:
		r.Mobile = s
	case Tablet:
		r.Tablet = s
	default:
		r.Desktop = s
	}
}

func (r *Responsive) clone() *Responsive {
	if r == nil {
		return nil
	}
	return &Responsive{Mobile: r.Mobile.Clone(), Tablet: r.Tablet.Clone(), Desktop: r.Desktop.Clone()}
}

// ElementState is the durable record of one edited element.
type ElementState struct {
	ID              string   `json:"id" yaml:"id"`
	PageID          string   `json:"pageId" yaml:"pageId"`
	Selector        string   `json:"selector" yaml:"selector"`
	OriginalTagName string   `json:"originalTagName" yaml:"originalTagName"`
	Position        Position `json:"position" yaml:"position"`
	Size            *Size    `json:"size,omitempty" yaml:"size,omitempty"`
	Styles          Styles   `json:"styles" yaml:"styles"`
	// OriginalStyle is the element's style attribute before its first edit.
	OriginalStyle  string      `json:"originalStyle,omitempty" yaml:"originalStyle,omitempty"`
	ParentSelector string      `json:"parentSelector,omitempty" yaml:"parentSelector,omitempty"`
	Responsive     *Responsive `json:"responsive,omitempty" yaml:"responsive,omitempty"`
	// CreatedAt and UpdatedAt are Unix milliseconds.
	CreatedAt int64 `json:"createdAt" yaml:"createdAt"`
	UpdatedAt int64 `json:"updatedAt" yaml:"updatedAt"`
}

// Clone returns a deep copy.
func (s ElementState) Clone() ElementState {
	c := s
	c.Styles = s.Styles.Clone()
	c.Responsive = s.Responsive.clone()
	if s.Size != nil {
		size := *s.Size
		c.Size = &size
	}
	return c
}

// StylesFor returns the override for v when one exists, else the base styles.
func (s ElementState) StylesFor(v Viewport) Styles {
	if o := s.Responsive.For(v); len(o) > 0 {
		return o
	}
	return s.Styles
}

// Action names the kind of change a history entry records.
type Action string

const (
	ActionMove   Action = "move"
	ActionResize Action = "resize"
	ActionStyle  Action = "style"
	ActionDelete Action = "delete"
	ActionCreate Action = "create"
)

// HistoryEntry is one undoable change.
type HistoryEntry struct {
	Timestamp     int64         `json:"timestamp" yaml:"timestamp"`
	ElementID     string        `json:"elementId" yaml:"elementId"`
	PreviousState *ElementState `json:"previousState" yaml:"previousState"`
	NewState      *ElementState `json:"newState" yaml:"newState"`
	Action        Action        `json:"action" yaml:"action"`
}

// actionFor infers the action of a save from the record it replaces.
func actionFor(prev *ElementState, next ElementState) Action {
	switch {
	case prev == nil:
		return ActionCreate
	case !sameSize(prev.Size, next.Size):
		return ActionResize
	case prev.Position != next.Position:
		return ActionMove
	}
	return ActionStyle
}

func sameSize(a, b *Size) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func ptr(s ElementState) *ElementState {
	c := s.Clone()
	return &c
}
