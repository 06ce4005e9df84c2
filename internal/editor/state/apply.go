package state

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/freeform/internal/browser"
	"github.com/xkilldash9x/freeform/internal/browser/dom"
	"github.com/xkilldash9x/freeform/internal/editor/position"
	"github.com/xkilldash9x/freeform/internal/editor/selector"
)

// Attributes written on every applied element.
const (
	AttrElementID     = "data-element-id"
	AttrDragged       = "data-dragged"
	AttrOriginalStyle = "data-original-style"
)

// Skipped is a record RestoreAll could not apply.
type Skipped struct {
	ID       string `json:"id" yaml:"id"`
	Selector string `json:"selector" yaml:"selector"`
	Reason   string `json:"reason" yaml:"reason"`
}

// RestoreReport summarizes a RestoreAll pass.
type RestoreReport struct {
	Total    int       `json:"total" yaml:"total"`
	Restored int       `json:"restored" yaml:"restored"`
	Skipped  []Skipped `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// Viewport classifies the surface's current width.
func (m *Manager) Viewport(s browser.Surface) Viewport {
	w, _ := s.ViewportSize()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breakpoints.Classify(w)
}

// Apply writes st onto n. The element's pre-edit style attribute is kept in
// data-original-style and every apply starts from it, so applying the same
// record twice yields the same attribute. The positioning context is
// promoted when needed.
func (m *Manager) Apply(s browser.Surface, n *html.Node, st ElementState) error {
	if _, _, err := position.EnsureContext(s, n); err != nil {
		return err
	}

	base, saved := dom.Attr(n, AttrOriginalStyle)
	if !saved {
		base = dom.AttrOr(n, "style")
	}
	style := dom.ParseStyle(base)
	overlay := st.StylesFor(m.Viewport(s))
	for _, k := range overlay.Keys() {
		style = style.Set(CSSName(k), overlay[k])
	}
	style = style.Set("margin", "0")

	if err := s.SetStyleAttribute(n, style.String()); err != nil {
		return fmt.Errorf("state: failed to write style: %w", err)
	}
	attrs := [][2]string{{AttrElementID, st.ID}, {AttrDragged, "true"}}
	if !saved {
		attrs = append(attrs, [2]string{AttrOriginalStyle, base})
	}
	for _, kv := range attrs {
		if err := s.SetAttribute(n, kv[0], kv[1]); err != nil {
			return fmt.Errorf("state: failed to set %s: %w", kv[0], err)
		}
	}
	return nil
}

// Revert puts back the style n had before it was first applied and removes
// the bookkeeping attributes.
func (m *Manager) Revert(s browser.Surface, n *html.Node) error {
	base, saved := dom.Attr(n, AttrOriginalStyle)
	if !saved {
		return nil
	}
	if err := s.SetStyleAttribute(n, base); err != nil {
		return fmt.Errorf("state: failed to write style: %w", err)
	}
	for _, k := range []string{AttrElementID, AttrDragged, AttrOriginalStyle} {
		if err := s.RemoveAttribute(n, k); err != nil {
			return fmt.Errorf("state: failed to remove %s: %w", k, err)
		}
	}
	return nil
}

// Sync makes the document agree with the record for id: the record is
// applied when it exists, otherwise any element still carrying id is
// reverted.
func (m *Manager) Sync(s browser.Surface, id string) error {
	if st, ok := m.GetState(id); ok {
		n, err := selector.Resolve(s.Root(), st.Selector)
		if err != nil {
			return fmt.Errorf("state: element %s: %w", id, err)
		}
		return m.Apply(s, n, st)
	}
	nodes, err := dom.QueryAll(s.Root(), "//*[@"+AttrElementID+"="+dom.Literal(id)+"]")
	if err != nil {
		return fmt.Errorf("state: %w", err)
	}
	for _, n := range nodes {
		if err := m.Revert(s, n); err != nil {
			return err
		}
	}
	return nil
}

// RestoreAll applies every record of the current page. A record whose
// selector does not resolve to exactly one element is skipped and logged,
// never applied elsewhere.
func (m *Manager) RestoreAll(s browser.Surface) RestoreReport {
	states := m.GetPageStates()
	report := RestoreReport{Total: len(states)}
	root := s.Root()

	for _, st := range states {
		n, err := selector.Resolve(root, st.Selector)
		if err == nil {
			err = m.Apply(s, n, st)
		}
		if err != nil {
			reason := "apply failed"
			switch {
			case errors.Is(err, selector.ErrNotFound):
				reason = "not found"
			case errors.Is(err, selector.ErrAmbiguous):
				reason = "ambiguous"
			case errors.Is(err, selector.ErrInvalid):
				reason = "invalid selector"
			}
			m.log.Warn("Skipping element state",
				zap.String("element_id", st.ID),
				zap.String("selector", st.Selector),
				zap.String("reason", reason),
				zap.Error(err))
			report.Skipped = append(report.Skipped, Skipped{ID: st.ID, Selector: st.Selector, Reason: reason})
			continue
		}
		report.Restored++
	}
	m.log.Info("Restored element states",
		zap.Int("restored", report.Restored), zap.Int("total", report.Total))
	return report
}
