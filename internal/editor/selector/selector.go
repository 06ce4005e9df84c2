// Package selector produces stable XPath expressions for document elements
// and resolves them back to nodes.
package selector

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/freeform/internal/browser/dom"
)

var (
	// ErrNotFound means a selector matched no element.
	ErrNotFound = errors.New("selector: no element matches")
	// ErrAmbiguous means a selector matched more than one element, or a
	// generated selector could not be made unique.
	ErrAmbiguous = errors.New("selector: selector is ambiguous")
	// ErrInvalid means the selector is not a valid expression.
	ErrInvalid = errors.New("selector: invalid expression")
)

const DefaultMaxDepth = 5

// DefaultExcludedClasses are substrings of state classes that never
// identify an element.
var DefaultExcludedClasses = []string{"hover", "active", "focus", "selected", "dragging"}

// Generator builds selectors. It is safe for concurrent use.
type Generator struct {
	maxDepth int
	maxClass int
	exclude  []string
	logger   *zap.Logger
}

// Option configures a Generator.
type Option func(*Generator)

func WithMaxDepth(depth int) Option {
	return func(g *Generator) {
		if depth > 0 {
			g.maxDepth = depth
		}
	}
}

func WithExcludedClasses(substrings ...string) Option {
	return func(g *Generator) { g.exclude = substrings }
}

func WithLogger(logger *zap.Logger) Option {
	return func(g *Generator) { g.logger = logger.Named("selector") }
}

// New creates a Generator with default limits.
func New(opts ...Option) *Generator {
	g := &Generator{
		maxDepth: DefaultMaxDepth,
		maxClass: 2,
		exclude:  DefaultExcludedClasses,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns the best selector for n. When no candidate validates it
// returns an unqualified tag selector and logs the degradation.
func (g *Generator) Generate(n *html.Node) string {
	sel, _ := g.GenerateChecked(n)
	return sel
}

// GenerateChecked is Generate that also reports ErrAmbiguous when the
// returned selector is the degraded fallback.
func (g *Generator) GenerateChecked(n *html.Node) (string, error) {
	if !dom.IsElement(n) {
		return "", fmt.Errorf("%w: not an element", ErrInvalid)
	}
	root := dom.Root(n)
	for _, cand := range g.candidates(n) {
		if Validate(root, cand, n) {
			return cand, nil
		}
	}

	// The fully indexed path only fails when the node left its document.
	if abs := dom.AbsoluteXPath(n); Validate(root, abs, n) {
		return abs, nil
	}

	degraded := "//" + dom.Tag(n)
	g.logger.Warn("selector degraded to bare tag", zap.String("selector", degraded))
	return degraded, fmt.Errorf("%w: %s", ErrAmbiguous, degraded)
}

// candidates lists selectors in order of preference: identity attribute,
// DOM id, then the ancestor path.
func (g *Generator) candidates(n *html.Node) []string {
	var out []string
	if v := dom.AttrOr(n, "data-id"); v != "" {
		out = append(out, attrSelector("data-id", v))
	}
	if v := dom.AttrOr(n, "data-component"); v != "" {
		out = append(out, attrSelector("data-component", v))
	}
	if v := dom.AttrOr(n, "id"); v != "" {
		out = append(out, attrSelector("id", v))
	}
	return append(out, g.path(n))
}

func attrSelector(key, val string) string {
	return fmt.Sprintf("//*[@%s=%s]", key, dom.Literal(val))
}

// path walks up at most maxDepth elements. It anchors on the first ancestor
// carrying an identity attribute, or on body.
func (g *Generator) path(n *html.Node) string {
	var steps []string
	prefix := "//"
	current := n
	for depth := 0; current != nil && depth < g.maxDepth; depth++ {
		tag := dom.Tag(current)
		if tag == "body" {
			if current == n {
				return "//body"
			}
			prefix = "//body/"
			break
		}
		if current != n {
			if anchor := g.anchor(current); anchor != "" {
				prefix = anchor + "/"
				break
			}
		}
		steps = append(steps, g.step(current))
		current = dom.ParentElement(current)
	}

	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return prefix + strings.Join(steps, "/")
}

func (g *Generator) anchor(n *html.Node) string {
	for _, key := range []string{"data-id", "data-component", "id"} {
		if v := dom.AttrOr(n, key); v != "" {
			return attrSelector(key, v)
		}
	}
	return ""
}

// step renders one path segment: tag, sibling index when the tag repeats,
// then up to two stable class tokens.
func (g *Generator) step(n *html.Node) string {
	var sb strings.Builder
	sb.WriteString(dom.Tag(n))
	if len(dom.SameTagSiblings(n)) > 1 {
		fmt.Fprintf(&sb, "[%d]", dom.SiblingIndex(n))
	}
	for _, c := range g.stableClasses(n) {
		fmt.Fprintf(&sb, "[contains(concat(' ', normalize-space(@class), ' '), %s)]", dom.Literal(" "+c+" "))
	}
	return sb.String()
}

func (g *Generator) stableClasses(n *html.Node) []string {
	var out []string
	for _, c := range dom.Classes(n) {
		if g.excluded(c) {
			continue
		}
		out = append(out, c)
		if len(out) == g.maxClass {
			break
		}
	}
	return out
}

func (g *Generator) excluded(class string) bool {
	for _, ex := range g.exclude {
		if strings.Contains(class, ex) {
			return true
		}
	}
	return false
}

// Resolve finds the single element sel selects below root.
func Resolve(root *html.Node, sel string) (*html.Node, error) {
	if strings.TrimSpace(sel) == "" {
		return nil, fmt.Errorf("%w: empty selector", ErrInvalid)
	}
	nodes, err := dom.QueryAll(root, sel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch len(nodes) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sel)
	case 1:
		return nodes[0], nil
	default:
		return nil, fmt.Errorf("%w: %s matches %d elements", ErrAmbiguous, sel, len(nodes))
	}
}

// Validate reports whether sel selects exactly n and nothing else.
func Validate(root *html.Node, sel string, n *html.Node) bool {
	got, err := Resolve(root, sel)
	return err == nil && got == n
}
