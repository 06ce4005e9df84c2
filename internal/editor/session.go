// Package editor composes the classifier, drag controller and state manager
// into an editing session over one rendered document.
package editor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/freeform/internal/browser"
	"github.com/xkilldash9x/freeform/internal/browser/dom"
	"github.com/xkilldash9x/freeform/internal/browser/layout"
	"github.com/xkilldash9x/freeform/internal/config"
	"github.com/xkilldash9x/freeform/internal/editor/classify"
	"github.com/xkilldash9x/freeform/internal/editor/drag"
	"github.com/xkilldash9x/freeform/internal/editor/idgen"
	"github.com/xkilldash9x/freeform/internal/editor/keys"
	"github.com/xkilldash9x/freeform/internal/editor/selector"
	"github.com/xkilldash9x/freeform/internal/editor/snap"
	"github.com/xkilldash9x/freeform/internal/editor/state"
)

var (
	// ErrNoSelection is returned by pointer operations without a selection.
	ErrNoSelection = errors.New("editor: no element selected")
	// ErrNoHitTest is returned by SelectAt on surfaces that cannot hit test.
	ErrNoHitTest = errors.New("editor: surface does not support hit testing")
)

// SnapTargetQuery selects the elements a dragged element can align with.
const SnapTargetQuery = `//*[@data-component or @data-snap-target] | //section | //header | //footer | //nav | //article | //aside | //main | //div[contains(@class, 'container') or contains(@class, 'section')]`

// HitTester is implemented by surfaces that can find the element under a
// viewport point.
type HitTester interface {
	HitTest(x, y float64) *html.Node
}

// Session is the root of one editing session. It owns the selection and
// routes pointer and keyboard input; all persisted writes go through its
// state.Manager.
type Session struct {
	mu         sync.Mutex
	surface    browser.Surface
	manager    *state.Manager
	classifier *classify.Classifier
	selectors  *selector.Generator
	ids        idgen.Generator
	keymap     keys.Keymap
	log        *zap.Logger

	dragOpts  drag.Options
	scheduler drag.Scheduler
	onFrame   func(drag.Frame)
	ctrl      *drag.Controller

	selected *classify.Detected
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) { s.log = logger }
}

func WithClassifier(c *classify.Classifier) Option {
	return func(s *Session) { s.classifier = c }
}

func WithSelectorGenerator(g *selector.Generator) Option {
	return func(s *Session) { s.selectors = g }
}

func WithIDGenerator(g idgen.Generator) Option {
	return func(s *Session) { s.ids = g }
}

func WithKeymap(km keys.Keymap) Option {
	return func(s *Session) { s.keymap = km }
}

func WithDragOptions(o drag.Options) Option {
	return func(s *Session) { s.dragOpts = o }
}

func WithScheduler(sched drag.Scheduler) Option {
	return func(s *Session) { s.scheduler = sched }
}

// WithFrameListener receives every drag frame, for drawing guides.
func WithFrameListener(fn func(drag.Frame)) Option {
	return func(s *Session) { s.onFrame = fn }
}

// New creates a session over surface backed by manager.
func New(surface browser.Surface, manager *state.Manager, opts ...Option) *Session {
	s := &Session{
		surface:  surface,
		manager:  manager,
		ids:      idgen.Default,
		keymap:   keys.DefaultKeymap(),
		log:      zap.NewNop(),
		dragOpts: drag.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("editor")
	if s.classifier == nil {
		s.classifier = classify.New(classify.WithLogger(s.log))
	}
	if s.selectors == nil {
		s.selectors = selector.New(selector.WithLogger(s.log))
	}
	if s.scheduler == nil {
		s.scheduler = drag.NewRateScheduler(drag.DefaultFrameInterval)
	}
	ctrlOpts := []drag.Option{drag.WithScheduler(s.scheduler), drag.WithLogger(s.log)}
	if s.onFrame != nil {
		ctrlOpts = append(ctrlOpts, drag.WithFrameListener(s.onFrame))
	}
	s.ctrl = drag.New(surface, drag.CommitFunc(s.commit), s.dragOpts, ctrlOpts...)
	return s
}

// OptionsFromConfig translates the editor configuration into session
// options.
func OptionsFromConfig(cfg config.EditorConfig, logger *zap.Logger) ([]Option, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	bindings := cfg.Keymap
	if len(bindings) == 0 {
		bindings = keys.DefaultBindings
	}
	km, err := keys.NewKeymap(bindings)
	if err != nil {
		return nil, fmt.Errorf("invalid keymap: %w", err)
	}
	interval := cfg.FrameInterval
	if interval <= 0 {
		interval = drag.DefaultFrameInterval
	}
	return []Option{
		WithLogger(logger),
		WithKeymap(km),
		WithScheduler(drag.NewRateScheduler(interval)),
		WithClassifier(classify.New(classify.WithMaxDepth(cfg.ClassifyDepth), classify.WithLogger(logger))),
		WithDragOptions(drag.Options{
			Snap:          cfg.SnapEnabled,
			SnapThreshold: cfg.SnapThreshold,
			MinTargetSize: cfg.MinTargetSize,
			Grid:          cfg.GridEnabled,
			GridSize:      cfg.GridSize,
			MinWidth:      cfg.MinWidth,
			MinHeight:     cfg.MinHeight,
			PercentWidth:  cfg.PercentWidth,
			AvoidOverlap:  cfg.AvoidOverlap,
		}),
	}, nil
}

func (s *Session) Surface() browser.Surface    { return s.surface }
func (s *Session) Manager() *state.Manager      { return s.manager }
func (s *Session) Controller() *drag.Controller { return s.ctrl }

// Select classifies n, walking up to the element an interaction should act
// on, and makes it the selection.
func (s *Session) Select(n *html.Node) (classify.Detected, bool) {
	d, ok := s.classifier.Detect(s.surface, n)
	if !ok {
		return classify.Detected{}, false
	}
	s.mu.Lock()
	s.selected = &d
	s.mu.Unlock()
	s.log.Debug("Selected element", zap.String("type", string(d.Type)), zap.String("tag", d.Tag))
	return d, true
}

// SelectAt selects the element under a viewport point.
func (s *Session) SelectAt(x, y float64) (classify.Detected, bool, error) {
	ht, ok := s.surface.(HitTester)
	if !ok {
		return classify.Detected{}, false, ErrNoHitTest
	}
	n := ht.HitTest(x, y)
	if n == nil || dom.Tag(n) == "body" || dom.Tag(n) == "html" {
		return classify.Detected{}, false, nil
	}
	d, ok := s.Select(n)
	return d, ok, nil
}

func (s *Session) Selected() (classify.Detected, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return classify.Detected{}, false
	}
	return *s.selected, true
}

func (s *Session) ClearSelection() {
	s.mu.Lock()
	s.selected = nil
	s.mu.Unlock()
}

// SnapTargets returns the viewport rectangles of the alignment candidates
// for n: rendered matches of SnapTargetQuery that are not n or inside it
// and are at least the minimum target size.
func (s *Session) SnapTargets(n *html.Node) []layout.Rect {
	nodes, err := dom.QueryAll(s.surface.Root(), SnapTargetQuery)
	if err != nil {
		s.log.Error("Snap target query failed", zap.Error(err))
		return nil
	}
	min := s.ctrl.Options().MinTargetSize
	if min <= 0 {
		min = snap.DefaultMinTargetSize
	}
	var out []layout.Rect
	for _, t := range nodes {
		if t == n || dom.Contains(n, t) {
			continue
		}
		r, err := s.surface.Rect(t)
		if err != nil || r.Width < min || r.Height < min {
			continue
		}
		out = append(out, r)
	}
	return out
}

// PointerDown starts moving or resizing the selection from handle h.
func (s *Session) PointerDown(h drag.Handle, p drag.Point) error {
	d, ok := s.Selected()
	if !ok {
		return ErrNoSelection
	}
	return s.ctrl.Begin(d.Node, h, p, s.SnapTargets(d.Node))
}

func (s *Session) PointerMove(p drag.Point) {
	s.ctrl.Move(p)
}

// PointerUp finishes the interaction and persists its geometry.
func (s *Session) PointerUp(ctx context.Context, p drag.Point) (drag.Outcome, error) {
	out, err := s.ctrl.End(ctx, p)
	if err == nil {
		s.refreshSelection()
	}
	return out, err
}

func (s *Session) refreshSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return
	}
	if r, err := s.surface.Rect(s.selected.Node); err == nil {
		s.selected.Rect = r
	}
}

// HandleKey runs the action bound to ev. It reports the action and whether
// one was bound.
func (s *Session) HandleKey(ctx context.Context, ev keys.Event) (keys.Action, bool) {
	a, ok := s.keymap.Lookup(ev)
	if !ok {
		return "", false
	}
	switch a {
	case keys.Cancel:
		if !s.ctrl.Cancel() {
			s.ClearSelection()
		}
	case keys.Undo:
		s.Undo(ctx)
	case keys.Redo:
		s.Redo(ctx)
	case keys.ToggleGrid:
		s.ToggleGrid()
	case keys.ToggleSnap:
		s.ToggleSnap()
	}
	return a, true
}

// Undo reverts the last change and brings the document in line with it.
func (s *Session) Undo(ctx context.Context) (state.Step, bool) {
	step, ok := s.manager.Undo(ctx)
	if ok {
		s.sync(step.ElementID)
	}
	return step, ok
}

// Redo reapplies the next change and brings the document in line with it.
func (s *Session) Redo(ctx context.Context) (state.Step, bool) {
	step, ok := s.manager.Redo(ctx)
	if ok {
		s.sync(step.ElementID)
	}
	return step, ok
}

func (s *Session) sync(id string) {
	if err := s.manager.Sync(s.surface, id); err != nil {
		s.log.Warn("Failed to sync element with its record", zap.String("element_id", id), zap.Error(err))
	}
	s.refreshSelection()
}

// Reset clears any transform on the selection and, when it has a record,
// deletes the record and restores the element's original style. It reports
// whether a record was removed.
func (s *Session) Reset(ctx context.Context) (bool, error) {
	d, ok := s.Selected()
	if !ok {
		return false, ErrNoSelection
	}
	if err := s.surface.SetInlineStyle(d.Node, "transform", ""); err != nil {
		return false, err
	}
	id := dom.AttrOr(d.Node, state.AttrElementID)
	if id == "" || !s.manager.DeleteState(ctx, id) {
		return false, nil
	}
	s.sync(id)
	return true, nil
}

func (s *Session) ToggleGrid() bool {
	on := !s.ctrl.Options().Grid
	s.ctrl.SetGrid(on)
	s.log.Debug("Grid toggled", zap.Bool("enabled", on))
	return on
}

func (s *Session) ToggleSnap() bool {
	on := !s.ctrl.Options().Snap
	s.ctrl.SetSnap(on)
	s.log.Debug("Snap toggled", zap.Bool("enabled", on))
	return on
}

// RestoreAll reapplies every record of the current page.
func (s *Session) RestoreAll() state.RestoreReport {
	return s.manager.RestoreAll(s.surface)
}

// commit turns a finished interaction into a record, persists it and
// applies it to the document.
func (s *Session) commit(ctx context.Context, c drag.Commit) error {
	st, err := s.recordFor(c)
	if err != nil {
		return err
	}
	if err := s.manager.SaveState(ctx, st, true); err != nil {
		return err
	}
	if err := s.manager.Apply(s.surface, c.Node, st); err != nil {
		return fmt.Errorf("failed to apply %s: %w", st.ID, err)
	}
	s.log.Info("Committed element",
		zap.String("element_id", st.ID),
		zap.String("selector", st.Selector),
		zap.Bool("moved", c.Moved),
		zap.Bool("resized", c.Resized))
	return nil
}

func (s *Session) existing(n *html.Node) (state.ElementState, bool) {
	if id := dom.AttrOr(n, state.AttrElementID); id != "" {
		if st, ok := s.manager.GetState(id); ok {
			return st, true
		}
	}
	sel, err := s.selectors.GenerateChecked(n)
	if err != nil {
		return state.ElementState{}, false
	}
	return s.manager.GetStateBySelector(sel)
}

// recordFor builds the record for a commit. Edits made in the desktop
// viewport change the base styles; mobile and tablet edits change only
// that viewport's override.
func (s *Session) recordFor(c drag.Commit) (state.ElementState, error) {
	st, found := s.existing(c.Node)
	if !found {
		sel, err := s.selectors.GenerateChecked(c.Node)
		if err != nil {
			return st, fmt.Errorf("cannot address element: %w", err)
		}
		original, saved := dom.Attr(c.Node, state.AttrOriginalStyle)
		if !saved {
			original = dom.AttrOr(c.Node, "style")
		}
		st = state.ElementState{
			ID:              s.ids.NewID(),
			Selector:        sel,
			OriginalTagName: dom.Tag(c.Node),
			OriginalStyle:   original,
		}
		if parent := dom.ParentElement(c.Node); parent != nil && dom.Tag(parent) != "body" {
			st.ParentSelector = s.selectors.Generate(parent)
		}
	}

	st.Position = state.Position{X: c.Position.LeftPx, Y: c.Position.TopPx, Unit: state.Pixels}
	if c.Resized {
		st.Size = &state.Size{Width: c.Position.WidthPx, Height: c.HeightPx, Unit: state.Pixels}
		if pct, ok := parsePercent(c.Position.Width); ok {
			st.Size.Width, st.Size.Unit = pct, state.Percent
		}
	}

	vp := s.manager.Viewport(s.surface)
	styles := st.StylesFor(vp).Clone()
	if styles == nil {
		styles = state.Styles{}
	}
	for k, v := range c.Position.Styles() {
		styles[k] = v
	}
	if c.Resized {
		styles["height"] = c.Height
	}

	if vp == state.Desktop || !found {
		st.Styles = styles
	}
	if vp != state.Desktop {
		if st.Responsive == nil {
			st.Responsive = &state.Responsive{}
		}
		st.Responsive.Set(vp, styles)
	}
	return st, nil
}

// parsePercent reads a width such as "42.5%". Anything else is not a
// percentage.
func parsePercent(s string) (float64, bool) {
	num, ok := strings.CutSuffix(strings.TrimSpace(s), "%")
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
