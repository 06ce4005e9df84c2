// File: internal/browser/dom/style.go
package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// Declaration is a single inline style property (e.g. left: 10px).
type Declaration struct {
	Property  string
	Value     string
	Important bool
}

// String renders the declaration without the trailing semicolon.
func (d Declaration) String() string {
	if d.Important {
		return d.Property + ": " + d.Value + " !important"
	}
	return d.Property + ": " + d.Value
}

// InlineStyle is an ordered set of declarations parsed from a style attribute.
type InlineStyle []Declaration

// ParseStyle parses the contents of a style attribute. Property names are
// lowercased; later duplicates replace earlier ones. Semicolons inside
// parentheses or quoted strings belong to the value.
func ParseStyle(attr string) InlineStyle {
	var s InlineStyle
	for _, part := range splitDeclarations(attr) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			continue
		}
		prop := strings.ToLower(strings.TrimSpace(kv[0]))
		val := strings.TrimSpace(kv[1])
		important := false
		if strings.HasSuffix(strings.ToLower(val), "!important") {
			important = true
			val = strings.TrimSpace(val[:len(val)-len("!important")])
		}
		if prop == "" {
			continue
		}
		s = s.set(Declaration{Property: prop, Value: val, Important: important})
	}
	return s
}

// splitDeclarations splits attr on the semicolons that end a declaration.
func splitDeclarations(attr string) []string {
	var (
		parts []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(attr); i++ {
		ch := attr[i]
		switch {
		case ch == '\\':
			i++
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '(':
			depth++
		case ch == ')':
			if depth > 0 {
				depth--
			}
		case ch == ';' && depth == 0:
			parts = append(parts, attr[start:i])
			start = i + 1
		}
	}
	return append(parts, attr[start:])
}

func (s InlineStyle) set(d Declaration) InlineStyle {
	for i := range s {
		if s[i].Property == d.Property {
			s[i] = d
			return s
		}
	}
	return append(s, d)
}

// Get returns the value of a property, or "".
func (s InlineStyle) Get(prop string) string {
	prop = strings.ToLower(prop)
	for _, d := range s {
		if d.Property == prop {
			return d.Value
		}
	}
	return ""
}

// Set returns the style with prop set to value. An empty value removes it.
func (s InlineStyle) Set(prop, value string) InlineStyle {
	prop = strings.ToLower(prop)
	if value == "" {
		return s.Remove(prop)
	}
	return s.set(Declaration{Property: prop, Value: value})
}

// Remove returns the style without prop.
func (s InlineStyle) Remove(prop string) InlineStyle {
	prop = strings.ToLower(prop)
	out := s[:0]
	for _, d := range s {
		if d.Property != prop {
			out = append(out, d)
		}
	}
	return out
}

// String serializes the declarations back into attribute form.
func (s InlineStyle) String() string {
	parts := make([]string, 0, len(s))
	for _, d := range s {
		parts = append(parts, d.String())
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "; ") + ";"
}

// StyleOf parses the style attribute of n.
func StyleOf(n *html.Node) InlineStyle {
	return ParseStyle(AttrOr(n, "style"))
}

// GetStyle reads a single inline property of n.
func GetStyle(n *html.Node, prop string) string {
	return StyleOf(n).Get(prop)
}

// SetStyle writes a single inline property of n. An empty value removes it.
func SetStyle(n *html.Node, prop, value string) {
	WriteStyle(n, StyleOf(n).Set(prop, value))
}

// WriteStyle replaces the style attribute of n; an empty style drops the attribute.
func WriteStyle(n *html.Node, s InlineStyle) {
	if len(s) == 0 {
		RemoveAttr(n, "style")
		return
	}
	SetAttr(n, "style", s.String())
}
