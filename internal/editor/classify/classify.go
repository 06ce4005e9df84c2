// Package classify assigns semantic roles to document elements and finds
// the element a pointer interaction should act on.
package classify

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/freeform/internal/browser"
	"github.com/xkilldash9x/freeform/internal/browser/dom"
	"github.com/xkilldash9x/freeform/internal/browser/layout"
)

// DefaultMaxDepth is the number of elements examined by Detect, starting
// with the node itself.
const DefaultMaxDepth = 5

// Detected is the result of classifying an element.
type Detected struct {
	Node       *html.Node
	Type       Type
	Tag        string
	Rect       layout.Rect
	Attributes map[string]string
}

// Classifier evaluates a rule table. The zero value is not usable; use New.
type Classifier struct {
	rules    []Rule
	maxDepth int
	logger   *zap.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithRules replaces the rule table.
func WithRules(rules []Rule) Option {
	return func(c *Classifier) { c.rules = rules }
}

// WithMaxDepth sets the upward search budget.
func WithMaxDepth(depth int) Option {
	return func(c *Classifier) {
		if depth > 0 {
			c.maxDepth = depth
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Classifier) { c.logger = logger.Named("classify") }
}

// New builds a classifier over DefaultRules.
func New(opts ...Option) *Classifier {
	c := &Classifier{rules: DefaultRules, maxDepth: DefaultMaxDepth, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns the type of a single element without looking at its
// ancestors. It never mutates the node.
func (c *Classifier) Classify(n *html.Node) Type {
	t, _ := c.classify(n)
	return t
}

// classify also reports the name of the rule that fired.
func (c *Classifier) classify(n *html.Node) (Type, string) {
	if !dom.IsElement(n) {
		return Unknown, ""
	}
	for _, r := range c.rules {
		if t, ok := r.Resolve(n); ok {
			return t, r.Name
		}
	}
	return Unknown, ""
}

// Detect classifies n, walking up through its ancestors to find the most
// relevant element. A terminal type (button, link, input, image) ends the
// walk immediately; otherwise the highest priority candidate wins. When
// nothing matches, n itself is returned as Unknown. ok is false only when
// n is not an element.
func (c *Classifier) Detect(s browser.Surface, n *html.Node) (Detected, bool) {
	if !dom.IsElement(n) {
		return Detected{}, false
	}

	var best *html.Node
	bestType := Unknown
	bestPriority := -1
	current := n
	for depth := 0; current != nil && depth < c.maxDepth; depth++ {
		if tag := dom.Tag(current); tag == "body" || tag == "html" {
			break
		}
		t, rule := c.classify(current)
		if terminal[t] {
			c.logger.Debug("terminal match", zap.String("type", string(t)), zap.String("rule", rule), zap.Int("depth", depth))
			return c.detected(s, current, t), true
		}
		if p := Priorities[t]; p > bestPriority {
			best, bestType, bestPriority = current, t, p
		}
		current = dom.ParentElement(current)
	}

	if best == nil || bestType == Unknown {
		return c.detected(s, n, Unknown), true
	}
	return c.detected(s, best, bestType), true
}

func (c *Classifier) detected(s browser.Surface, n *html.Node, t Type) Detected {
	d := Detected{Node: n, Type: t, Tag: dom.Tag(n), Attributes: dom.Attributes(n)}
	if s != nil {
		if r, err := s.Rect(n); err == nil {
			d.Rect = r
		}
	}
	return d
}

// Editable reports whether a type supports in-place content editing.
func Editable(t Type) bool {
	switch t {
	case Header, Nav, Button, Text, Link:
		return true
	}
	return false
}

var tagLabels = map[string]string{
	"header": "Header", "main": "Main", "aside": "Aside", "article": "Article",
	"nav": "Navigation", "section": "Section", "footer": "Footer",
	"button": "Button", "a": "Link", "input": "Input", "textarea": "Textarea", "select": "Select",
	"h1": "Heading 1", "h2": "Heading 2", "h3": "Heading 3",
	"h4": "Heading 4", "h5": "Heading 5", "h6": "Heading 6",
	"p": "Paragraph", "span": "Text", "label": "Label",
	"ul": "List", "ol": "Ordered List", "li": "List Item",
	"img": "Image", "video": "Video", "audio": "Audio", "svg": "SVG",
	"div": "Div", "form": "Form", "table": "Table", "tr": "Row", "td": "Cell", "th": "Header Cell",
}

// Describe returns a short human label for an element.
func Describe(n *html.Node) string {
	if v := dom.AttrOr(n, "data-component"); v != "" {
		r, size := utf8.DecodeRuneInString(v)
		return string(unicode.ToUpper(r)) + v[size:]
	}
	tag := dom.Tag(n)
	if l, ok := tagLabels[tag]; ok {
		return l
	}
	return strings.ToUpper(tag)
}
