// Package drag implements the pointer state machine that moves and resizes
// one element at a time. Frames only touch visual properties; the final
// geometry is handed to a Committer when the pointer is released.
package drag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/freeform/internal/browser"
	"github.com/xkilldash9x/freeform/internal/browser/dom"
	"github.com/xkilldash9x/freeform/internal/browser/layout"
	"github.com/xkilldash9x/freeform/internal/editor/position"
	"github.com/xkilldash9x/freeform/internal/editor/snap"
)

var (
	// ErrBusy is returned by Begin while another interaction is active.
	ErrBusy = errors.New("drag: interaction already in progress")
	// ErrIdle is returned by End when nothing is being dragged.
	ErrIdle = errors.New("drag: no active interaction")
)

// Phase is the controller state.
type Phase int

const (
	Idle Phase = iota
	Dragging
	Resizing
	Committing
)

func (p Phase) String() string {
	switch p {
	case Dragging:
		return "dragging"
	case Resizing:
		return "resizing"
	case Committing:
		return "committing"
	}
	return "idle"
}

// SnapshotProperties are the inline properties reported in Commit.Original.
// End and Cancel restore the whole style attribute as it was on Begin.
var SnapshotProperties = []string{
	"position", "left", "top", "width", "height", "z-index", "opacity",
	"transform", "transform-origin", "margin", "will-change", "transition",
	"box-shadow", "cursor", "user-select",
}

// Point is a pointer position in viewport coordinates.
type Point struct {
	X, Y float64
}

// Options tunes snapping and sizing.
type Options struct {
	Snap          bool
	SnapThreshold float64
	MinTargetSize float64
	Grid          bool
	GridSize      float64
	MinWidth      float64
	MinHeight     float64
	PercentWidth  bool
	// AvoidOverlap moves a dragged element off the targets it does not sit
	// inside.
	AvoidOverlap bool
}

func DefaultOptions() Options {
	return Options{
		Snap:          true,
		SnapThreshold: snap.DefaultThreshold,
		MinTargetSize: snap.DefaultMinTargetSize,
		GridSize:      snap.DefaultGridSize,
		MinWidth:      50,
		MinHeight:     30,
	}
}

// Frame is the outcome of one pointer-move frame.
type Frame struct {
	Phase Phase       `json:"phase"`
	Rect  layout.Rect `json:"rect"`
	Lines []snap.Line `json:"lines"`
	// SnappedX and SnappedY report a line snap; GridX and GridY a grid snap.
	SnappedX bool `json:"snappedX"`
	SnappedY bool `json:"snappedY"`
	GridX    bool `json:"gridX"`
	GridY    bool `json:"gridY"`
}

// Commit is the final geometry of a finished interaction.
type Commit struct {
	Node     *html.Node
	Handle   Handle
	Initial  layout.Rect
	Final    layout.Rect
	Position position.Result
	// Height is set when the element was resized.
	Height   string
	HeightPx float64
	Moved    bool
	Resized  bool
	// Original holds the inline properties captured on Begin.
	Original map[string]string
}

// Committer persists a finished interaction.
type Committer interface {
	Commit(ctx context.Context, c Commit) error
}

// CommitFunc adapts a function to Committer.
type CommitFunc func(ctx context.Context, c Commit) error

func (f CommitFunc) Commit(ctx context.Context, c Commit) error { return f(ctx, c) }

// Outcome reports what End did.
type Outcome struct {
	Committed bool
	Commit    Commit
	Frame     Frame
}

// Controller drives a single interaction at a time. It is safe for
// concurrent use; frames may run on the scheduler's goroutine.
type Controller struct {
	mu        sync.Mutex
	surface   browser.Surface
	committer Committer
	sched     Scheduler
	opts      Options
	log       *zap.Logger
	onFrame   func(Frame)
	engine    snap.Engine

	phase     Phase
	node      *html.Node
	handle    Handle
	start     Point
	pointer   Point
	initial   layout.Rect
	current   layout.Rect
	snapshot  map[string]string
	style     string
	hasStyle  bool
	targets   []layout.Rect
	obstacles []layout.Rect
	last      Frame
	cancel    func()
	// seq identifies the pending frame; a frame that fires after being
	// replaced or cancelled sees a different value and does nothing.
	seq uint64
}

// Option configures a Controller.
type Option func(*Controller)

func WithScheduler(s Scheduler) Option {
	return func(c *Controller) { c.sched = s }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) { c.log = logger.Named("drag") }
}

// WithFrameListener registers fn to receive every computed frame.
func WithFrameListener(fn func(Frame)) Option {
	return func(c *Controller) { c.onFrame = fn }
}

// New creates an idle Controller.
func New(s browser.Surface, committer Committer, opts Options, options ...Option) *Controller {
	c := &Controller{
		surface:   s,
		committer: committer,
		opts:      opts,
		log:       zap.NewNop(),
	}
	for _, o := range options {
		o(c)
	}
	if c.sched == nil {
		c.sched = NewRateScheduler(DefaultFrameInterval)
	}
	return c
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Node returns the element being manipulated, or nil.
func (c *Controller) Node() *html.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.node
}

// LastFrame returns the most recent frame of the active interaction.
func (c *Controller) LastFrame() Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Controller) SetSnap(enabled bool) {
	c.mu.Lock()
	c.opts.Snap = enabled
	c.mu.Unlock()
}

func (c *Controller) SetGrid(enabled bool) {
	c.mu.Lock()
	c.opts.Grid = enabled
	c.mu.Unlock()
}

func (c *Controller) Options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// Begin starts an interaction on n from handle h. targets are the viewport
// rectangles the element may snap to. A failed geometry read leaves the
// controller idle.
func (c *Controller) Begin(n *html.Node, h Handle, p Point, targets []layout.Rect) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != Idle {
		return ErrBusy
	}
	if h == "" {
		h = Move
	}
	rect, err := c.surface.Rect(n)
	if err != nil {
		return fmt.Errorf("drag: cannot start: %w", err)
	}

	snapshot := make(map[string]string, len(SnapshotProperties))
	for _, prop := range SnapshotProperties {
		snapshot[prop] = c.surface.InlineStyle(n, prop)
	}

	c.node, c.handle = n, h
	c.start, c.pointer = p, p
	c.initial, c.current = rect, rect
	c.snapshot = snapshot
	c.style, c.hasStyle = dom.Attr(n, "style")
	c.targets = targets
	c.obstacles = c.obstacles[:0]
	for _, t := range targets {
		if !encloses(t, rect) {
			c.obstacles = append(c.obstacles, t)
		}
	}
	c.last = Frame{Rect: rect}
	c.phase = Dragging
	if h.IsResize() {
		c.phase = Resizing
	}
	c.last.Phase = c.phase

	cursor := "grabbing"
	if h.IsResize() {
		cursor = string(h) + "-resize"
	}
	for _, kv := range [][2]string{
		{"will-change", "transform"},
		{"transition", "none"},
		{"user-select", "none"},
		{"cursor", cursor},
		{"z-index", "9999"},
	} {
		if err := c.surface.SetInlineStyle(n, kv[0], kv[1]); err != nil {
			c.restoreLocked()
			c.resetLocked()
			return fmt.Errorf("drag: cannot start: %w", err)
		}
	}
	c.log.Debug("Interaction started", zap.Stringer("phase", c.phase), zap.String("handle", string(h)))
	return nil
}

// Move records the pointer and schedules a frame, replacing any frame that
// has not run yet.
func (c *Controller) Move(p Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != Dragging && c.phase != Resizing {
		return
	}
	c.pointer = p
	if c.cancel != nil {
		c.cancel()
	}
	c.seq++
	seq := c.seq
	c.cancel = c.sched.Schedule(func() { c.runFrame(seq) })
}

func (c *Controller) runFrame(seq uint64) {
	c.mu.Lock()
	if seq != c.seq || (c.phase != Dragging && c.phase != Resizing) {
		c.mu.Unlock()
		return
	}
	c.cancel = nil
	f, err := c.frameLocked()
	listener := c.onFrame
	c.mu.Unlock()

	if err == nil && listener != nil {
		listener(f)
	}
}

// frameLocked computes and paints one frame. A failed geometry read aborts
// the interaction.
func (c *Controller) frameLocked() (Frame, error) {
	if _, err := c.surface.Rect(c.node); err != nil {
		c.log.Warn("Aborting interaction, element geometry unavailable", zap.Error(err))
		c.restoreLocked()
		c.resetLocked()
		return Frame{}, fmt.Errorf("drag: aborted: %w", err)
	}

	dx, dy := c.pointer.X-c.start.X, c.pointer.Y-c.start.Y
	f := Frame{Phase: c.phase}
	var r layout.Rect
	if c.phase == Resizing {
		r = c.resizeFrame(dx, dy, &f)
	} else {
		r = c.moveFrame(dx, dy, &f)
	}
	f.Rect = r

	if err := c.paintLocked(r); err != nil {
		c.log.Warn("Aborting interaction, element cannot be painted", zap.Error(err))
		c.restoreLocked()
		c.resetLocked()
		return Frame{}, fmt.Errorf("drag: aborted: %w", err)
	}
	c.current = r
	c.last = f
	return f, nil
}

func (c *Controller) moveFrame(dx, dy float64, f *Frame) layout.Rect {
	r := c.initial.Translate(dx, dy)
	if c.opts.Snap {
		res := c.engine.Compute(r, c.targets, snap.Options{
			Threshold:     c.opts.SnapThreshold,
			MinTargetSize: c.opts.MinTargetSize,
		})
		f.Lines = append(f.Lines, res.Lines...)
		if res.SnapX != nil {
			r.X, f.SnappedX = *res.SnapX, true
		}
		if res.SnapY != nil {
			r.Y, f.SnappedY = *res.SnapY, true
		}
	}
	if c.opts.Grid {
		g := snap.Grid(r.X, r.Y, c.opts.GridSize, c.opts.GridSize/3)
		if g.SnappedX && !f.SnappedX {
			r.X, f.GridX = g.X, true
		}
		if g.SnappedY && !f.SnappedY {
			r.Y, f.GridY = g.Y, true
		}
	}
	if c.opts.AvoidOverlap {
		if free, ok := snap.FindFree(r, c.obstacles, snap.DefaultCollisionMargin, nil); ok {
			r = free
		}
	}
	return r
}

func (c *Controller) resizeFrame(dx, dy float64, f *Frame) layout.Rect {
	h := c.handle
	r := h.resize(c.initial, dx, dy, c.opts.MinWidth, c.opts.MinHeight)
	if c.opts.Snap {
		var sx, sy snap.Anchor
		switch {
		case h.left():
			sx = snap.Start
		case h.right():
			sx = snap.End
		}
		switch {
		case h.top():
			sy = snap.Start
		case h.bottom():
			sy = snap.End
		}
		res := c.engine.Compute(r, c.targets, snap.Options{
			Threshold:     c.opts.SnapThreshold,
			MinTargetSize: c.opts.MinTargetSize,
			SourcesX:      sx,
			SourcesY:      sy,
		})
		for _, l := range res.Lines {
			if (l.Axis == snap.Vertical && sx != 0) || (l.Axis == snap.Horizontal && sy != 0) {
				f.Lines = append(f.Lines, l)
			}
		}
		if sx != 0 && res.SnapX != nil {
			r, f.SnappedX = moveEdgeX(r, h, res.DX), true
		}
		if sy != 0 && res.SnapY != nil {
			r, f.SnappedY = moveEdgeY(r, h, res.DY), true
		}
	}
	if c.opts.Grid {
		thr := c.opts.GridSize / 3
		if !f.SnappedX && (h.left() || h.right()) {
			edge := r.Right()
			if h.left() {
				edge = r.X
			}
			if g := snap.ToGrid(edge, c.opts.GridSize); math.Abs(g-edge) <= thr {
				r, f.GridX = moveEdgeX(r, h, g-edge), true
			}
		}
		if !f.SnappedY && (h.top() || h.bottom()) {
			edge := r.Bottom()
			if h.top() {
				edge = r.Y
			}
			if g := snap.ToGrid(edge, c.opts.GridSize); math.Abs(g-edge) <= thr {
				r, f.GridY = moveEdgeY(r, h, g-edge), true
			}
		}
	}
	return h.clamp(r, c.opts.MinWidth, c.opts.MinHeight)
}

func moveEdgeX(r layout.Rect, h Handle, d float64) layout.Rect {
	if h.left() {
		r.X, r.Width = r.X+d, r.Width-d
	} else {
		r.Width += d
	}
	return r
}

func moveEdgeY(r layout.Rect, h Handle, d float64) layout.Rect {
	if h.top() {
		r.Y, r.Height = r.Y+d, r.Height-d
	} else {
		r.Height += d
	}
	return r
}

// paintLocked shows r with a transform relative to the initial box, leaving
// layout properties untouched.
func (c *Controller) paintLocked(r layout.Rect) error {
	tx, ty := r.X-c.initial.X, r.Y-c.initial.Y
	transform := "translate(" + position.Px(tx) + ", " + position.Px(ty) + ")"
	if c.phase == Resizing && c.initial.Width > 0 && c.initial.Height > 0 {
		transform += " scale(" + ratio(r.Width, c.initial.Width) + ", " + ratio(r.Height, c.initial.Height) + ")"
		if err := c.surface.SetInlineStyle(c.node, "transform-origin", "0 0"); err != nil {
			return err
		}
	}
	return c.surface.SetInlineStyle(c.node, "transform", transform)
}

func ratio(a, b float64) string {
	return strconv.FormatFloat(math.Round(a/b*10000)/10000, 'f', -1, 64)
}

// End finishes the interaction at p. The final frame runs synchronously,
// the captured properties are restored and the geometry is committed.
// Nothing is committed when the element neither moved nor changed size.
func (c *Controller) End(ctx context.Context, p Point) (Outcome, error) {
	c.mu.Lock()
	if c.phase != Dragging && c.phase != Resizing {
		c.mu.Unlock()
		return Outcome{}, ErrIdle
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.seq++
	c.pointer = p
	f, err := c.frameLocked()
	if err != nil {
		c.mu.Unlock()
		return Outcome{}, err
	}
	c.phase = Committing
	c.restoreLocked()

	commit := Commit{
		Node:     c.node,
		Handle:   c.handle,
		Initial:  c.initial,
		Final:    c.current,
		Moved:    c.current.X != c.initial.X || c.current.Y != c.initial.Y,
		Resized:  c.current.Width != c.initial.Width || c.current.Height != c.initial.Height,
		Original: c.snapshot,
	}
	if !commit.Moved && !commit.Resized {
		c.log.Debug("Interaction ended without displacement")
		c.resetLocked()
		c.mu.Unlock()
		return Outcome{Frame: f}, nil
	}

	pos, err := c.positionLocked(commit.Final)
	if err != nil {
		c.log.Warn("Discarding interaction, position conversion failed", zap.Error(err))
		c.resetLocked()
		c.mu.Unlock()
		return Outcome{}, fmt.Errorf("drag: aborted: %w", err)
	}
	commit.Position = pos
	if commit.Resized {
		commit.HeightPx = commit.Final.Height
		commit.Height = position.Px(commit.Final.Height)
	}
	c.resetLocked()
	c.mu.Unlock()

	if err := c.committer.Commit(ctx, commit); err != nil {
		return Outcome{Commit: commit, Frame: f}, fmt.Errorf("drag: commit failed: %w", err)
	}
	return Outcome{Committed: true, Commit: commit, Frame: f}, nil
}

// positionLocked converts the final viewport box into offsets within the
// element's positioning context, using the final width.
func (c *Controller) positionLocked(r layout.Rect) (position.Result, error) {
	pos, err := position.ToRelative(c.surface, c.node, r.X, r.Y, position.Options{PercentWidth: c.opts.PercentWidth})
	if err != nil {
		return pos, err
	}
	if r.Width == pos.WidthPx {
		return pos, nil
	}
	pos.WidthPx = r.Width
	pos.Width = position.Px(r.Width)
	if c.opts.PercentWidth {
		ctxRect, err := c.surface.Rect(pos.Ancestor)
		if err == nil && ctxRect.Width > 0 {
			pos.Width = strconv.FormatFloat(r.Width/ctxRect.Width*100, 'f', 2, 64) + "%"
		}
	}
	return pos, nil
}

// Cancel restores the captured style attribute verbatim and returns to Idle. It
// reports whether an interaction was active.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != Dragging && c.phase != Resizing {
		return false
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.restoreLocked()
	c.resetLocked()
	c.log.Debug("Interaction cancelled")
	return true
}

// restoreLocked writes back the style attribute captured on Begin, or drops
// it when the element had none.
func (c *Controller) restoreLocked() {
	var err error
	if c.hasStyle {
		err = c.surface.SetStyleAttribute(c.node, c.style)
	} else {
		err = c.surface.RemoveAttribute(c.node, "style")
	}
	if err != nil && !errors.Is(err, browser.ErrDetached) {
		c.log.Warn("Failed to restore style", zap.Error(err))
	}
}

func (c *Controller) resetLocked() {
	c.phase = Idle
	c.node = nil
	c.snapshot = nil
	c.style, c.hasStyle = "", false
	c.targets = nil
	c.cancel = nil
	c.seq++
}

// encloses reports whether outer fully contains inner.
func encloses(outer, inner layout.Rect) bool {
	return inner.X >= outer.X && inner.Y >= outer.Y && inner.Right() <= outer.Right() && inner.Bottom() <= outer.Bottom()
}
