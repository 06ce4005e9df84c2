// internal/browser/layout/length.go
package layout

import (
	"strconv"
	"strings"
)

const (
	// BaseFontSize is the root font size used to resolve em and rem.
	BaseFontSize = 16.0
	// LineHeight is the height given to a run of text.
	LineHeight = 20.0
)

// length is a resolved CSS length; auto marks the keyword.
type length struct {
	value float64
	auto  bool
}

// parseLength resolves a CSS length against a reference size (for
// percentages) and the viewport (for vw/vh). Unparseable values are auto.
func parseLength(s string, ref, vw, vh float64) length {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "auto" {
		return length{auto: true}
	}
	unit := ""
	num := s
	for _, u := range []string{"px", "rem", "em", "vw", "vh", "%"} {
		if strings.HasSuffix(s, u) {
			unit = u
			num = strings.TrimSuffix(s, u)
			break
		}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return length{auto: true}
	}
	switch unit {
	case "%":
		v = v / 100 * ref
	case "em", "rem":
		v *= BaseFontSize
	case "vw":
		v = v / 100 * vw
	case "vh":
		v = v / 100 * vh
	}
	return length{value: v}
}

// px resolves a length, treating auto as zero.
func px(s string, ref, vw, vh float64) float64 {
	l := parseLength(s, ref, vw, vh)
	if l.auto {
		return 0
	}
	return l.value
}

// expandShorthand expands a 1–4 value box shorthand into top, right, bottom, left.
func expandShorthand(v string) [4]string {
	f := strings.Fields(v)
	switch len(f) {
	case 1:
		return [4]string{f[0], f[0], f[0], f[0]}
	case 2:
		return [4]string{f[0], f[1], f[0], f[1]}
	case 3:
		return [4]string{f[0], f[1], f[2], f[1]}
	case 4:
		return [4]string{f[0], f[1], f[2], f[3]}
	}
	return [4]string{}
}

// ParsePx reads a pixel value such as "12.5px" or "12". ok is false for
// anything that is not an absolute pixel length.
func ParsePx(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimSuffix(s, "px")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
