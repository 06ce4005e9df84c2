package classify

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/freeform/internal/browser/dom"
)

// Type is the semantic role assigned to an element.
type Type string

const (
	Button    Type = "button"
	Link      Type = "link"
	Input     Type = "input"
	Header    Type = "header"
	Nav       Type = "nav"
	Footer    Type = "footer"
	Section   Type = "section"
	Image     Type = "image"
	Text      Type = "text"
	ListItem  Type = "listItem"
	List      Type = "list"
	Container Type = "container"
	Unknown   Type = "unknown"
)

// Priorities ranks types during the upward search. Higher wins.
var Priorities = map[Type]int{
	Button:    12,
	Link:      11,
	Input:     10,
	Header:    9,
	Nav:       9,
	Footer:    8,
	Section:   7,
	Image:     6,
	Text:      5,
	ListItem:  4,
	List:      3,
	Container: 2,
	Unknown:   0,
}

// terminal types end the upward search as soon as they are seen.
var terminal = map[Type]bool{Button: true, Link: true, Input: true, Image: true}

// Rule maps an element to a type. Resolve reports false when the rule does
// not apply, letting the next rule in the table try.
type Rule struct {
	Name    string
	Resolve func(n *html.Node) (Type, bool)
}

// componentTypes maps data-component values; anything else is a section.
var componentTypes = map[string]Type{
	"header":     Header,
	"navigation": Nav,
	"nav":        Nav,
	"button":     Button,
	"section":    Section,
	"hero":       Section,
	"features":   Section,
	"cta":        Section,
	"link":       Link,
	"image":      Image,
	"img":        Image,
	"text":       Text,
	"footer":     Footer,
	"input":      Input,
	"container":  Container,
}

// DefaultRules is evaluated top to bottom; the first rule that applies wins.
// Order encodes precedence: component role, then tag, then class heuristics,
// then structure.
var DefaultRules = []Rule{
	{Name: "component-role", Resolve: componentRole},

	tagRule("button-tag", Button, "button"),
	tagRule("anchor-tag", Link, "a"),
	tagRule("media-tag", Image, "img", "picture", "svg", "video"),
	tagRule("form-control-tag", Input, "input", "textarea", "select"),
	tagRule("text-tag", Text, "h1", "h2", "h3", "h4", "h5", "h6", "p", "label", "span"),
	tagRule("list-tag", List, "ul", "ol"),
	tagRule("list-item-tag", ListItem, "li"),
	tagRule("header-tag", Header, "header"),
	tagRule("nav-tag", Nav, "nav"),
	tagRule("footer-tag", Footer, "footer"),
	tagRule("sectioning-tag", Section, "section", "article", "main", "aside"),

	classRule("button-class", Button, "button", "btn"),
	classRule("link-class", Link, "link"),
	classRule("nav-class", Nav, "nav"),
	classRule("header-class", Header, "header"),
	classRule("footer-class", Footer, "footer"),

	{Name: "identified-div", Resolve: identifiedDiv},
	{Name: "text-leaf-div", Resolve: textLeafDiv},
	tagRule("div-fallback", Container, "div"),
}

func componentRole(n *html.Node) (Type, bool) {
	v, ok := dom.Attr(n, "data-component")
	if !ok || v == "" {
		return "", false
	}
	if t, known := componentTypes[strings.ToLower(v)]; known {
		return t, true
	}
	return Section, true
}

func tagRule(name string, t Type, tags ...string) Rule {
	set := make(map[string]bool, len(tags))
	for _, tag := range tags {
		set[tag] = true
	}
	return Rule{
		Name: name,
		Resolve: func(n *html.Node) (Type, bool) {
			return t, set[dom.Tag(n)]
		},
	}
}

func classRule(name string, t Type, substrings ...string) Rule {
	return Rule{
		Name: name,
		Resolve: func(n *html.Node) (Type, bool) {
			class := dom.ClassName(n)
			if class == "" {
				return "", false
			}
			for _, s := range substrings {
				if strings.Contains(class, s) {
					return t, true
				}
			}
			return "", false
		},
	}
}

func identifiedDiv(n *html.Node) (Type, bool) {
	if dom.Tag(n) != "div" {
		return "", false
	}
	for _, key := range []string{"class", "id", "data-id"} {
		if v, _ := dom.Attr(n, key); strings.TrimSpace(v) != "" {
			return Container, true
		}
	}
	return "", false
}

func textLeafDiv(n *html.Node) (Type, bool) {
	if dom.Tag(n) != "div" || len(dom.ElementChildren(n)) > 0 {
		return "", false
	}
	return Text, dom.TextContent(n) != ""
}
