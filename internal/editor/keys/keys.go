// Package keys maps keyboard chords to editor actions.
package keys

import (
	"fmt"
	"sort"
	"strings"
)

// Action is an editor command bound to a chord.
type Action string

const (
	Cancel     Action = "cancel"
	Undo       Action = "undo"
	Redo       Action = "redo"
	ToggleGrid Action = "toggle_grid"
	ToggleSnap Action = "toggle_snap"
)

var actions = map[Action]bool{Cancel: true, Undo: true, Redo: true, ToggleGrid: true, ToggleSnap: true}

// Modifier is a bit set of held modifier keys.
type Modifier uint8

const (
	Ctrl Modifier = 1 << iota
	Shift
	Alt
	Meta
)

var modifierNames = []struct {
	mod  Modifier
	name string
}{{Ctrl, "Ctrl"}, {Alt, "Alt"}, {Shift, "Shift"}, {Meta, "Meta"}}

var modifierAliases = map[string]Modifier{
	"ctrl": Ctrl, "control": Ctrl, "c": Ctrl,
	"shift": Shift, "s": Shift,
	"alt": Alt, "option": Alt, "a": Alt,
	"meta": Meta, "cmd": Meta, "command": Meta, "super": Meta, "m": Meta, "d": Meta,
}

var keyAliases = map[string]string{
	"esc":    "escape",
	"return": "enter",
	"cr":     "enter",
	"del":    "delete",
	" ":      "space",
	"bs":     "backspace",
}

// Chord is a key plus modifiers. Key is lower case.
type Chord struct {
	Mods Modifier
	Key  string
}

func (c Chord) String() string {
	var parts []string
	for _, m := range modifierNames {
		if c.Mods&m.mod != 0 {
			parts = append(parts, m.name)
		}
	}
	key := c.Key
	if len(key) > 1 {
		key = strings.ToUpper(key[:1]) + key[1:]
	} else {
		key = strings.ToUpper(key)
	}
	return strings.Join(append(parts, key), "+")
}

func normalizeKey(k string) string {
	if k == " " {
		return "space"
	}
	k = strings.ToLower(strings.TrimSpace(k))
	if alias, ok := keyAliases[k]; ok {
		return alias
	}
	return k
}

// Parse reads "Ctrl+Shift+Z", "ctrl-z", "Escape" or the bracketed
// "<C-S-z>" form. Names are case-insensitive.
func Parse(s string) (Chord, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Chord{}, fmt.Errorf("keys: empty chord")
	}
	sep := "+"
	if strings.HasPrefix(raw, "<") && strings.HasSuffix(raw, ">") && len(raw) > 2 {
		raw, sep = raw[1:len(raw)-1], "-"
	} else if !strings.Contains(raw, "+") && strings.Count(raw, "-") > 0 && len(raw) > 1 {
		sep = "-"
	}

	parts := strings.Split(raw, sep)
	// A trailing empty part means the key itself is the separator.
	if n := len(parts); n >= 2 && parts[n-1] == "" && parts[n-2] == "" {
		parts = append(parts[:len(parts)-2], sep)
	}
	var c Chord
	for i, p := range parts {
		if i == len(parts)-1 {
			c.Key = normalizeKey(p)
			break
		}
		mod, ok := modifierAliases[strings.ToLower(strings.TrimSpace(p))]
		if !ok {
			return Chord{}, fmt.Errorf("keys: unknown modifier %q in %q", p, s)
		}
		c.Mods |= mod
	}
	if c.Key == "" {
		return Chord{}, fmt.Errorf("keys: missing key in %q", s)
	}
	return c, nil
}

// Event is a key press as reported by a browser.
type Event struct {
	Key   string `json:"key"`
	Ctrl  bool   `json:"ctrl"`
	Shift bool   `json:"shift"`
	Alt   bool   `json:"alt"`
	Meta  bool   `json:"meta"`
}

// Chord returns the event as a chord.
func (e Event) Chord() Chord {
	c := Chord{Key: normalizeKey(e.Key)}
	if e.Ctrl {
		c.Mods |= Ctrl
	}
	if e.Shift {
		c.Mods |= Shift
	}
	if e.Alt {
		c.Mods |= Alt
	}
	if e.Meta {
		c.Mods |= Meta
	}
	return c
}

// Keymap binds chords to actions.
type Keymap map[Chord]Action

// DefaultBindings is the stock binding table.
var DefaultBindings = map[string]string{
	"Escape":       string(Cancel),
	"Ctrl+Z":       string(Undo),
	"Meta+Z":       string(Undo),
	"Ctrl+Shift+Z": string(Redo),
	"Meta+Shift+Z": string(Redo),
	"Ctrl+Y":       string(Redo),
	"Meta+Y":       string(Redo),
	"G":            string(ToggleGrid),
	"S":            string(ToggleSnap),
}

// NewKeymap parses a chord to action table.
func NewKeymap(bindings map[string]string) (Keymap, error) {
	km := make(Keymap, len(bindings))
	for chord, action := range bindings {
		c, err := Parse(chord)
		if err != nil {
			return nil, err
		}
		a := Action(strings.ToLower(strings.TrimSpace(action)))
		if !actions[a] {
			return nil, fmt.Errorf("keys: unknown action %q for %q", action, chord)
		}
		km[c] = a
	}
	return km, nil
}

// DefaultKeymap returns the stock bindings.
func DefaultKeymap() Keymap {
	km, err := NewKeymap(DefaultBindings)
	if err != nil {
		panic(err)
	}
	return km
}

// Lookup returns the action bound to ev.
func (k Keymap) Lookup(ev Event) (Action, bool) {
	a, ok := k[ev.Chord()]
	return a, ok
}

// Bindings lists the keymap as "chord -> action" lines in a stable order.
func (k Keymap) Bindings() []string {
	out := make([]string, 0, len(k))
	for c, a := range k {
		out = append(out, c.String()+" -> "+string(a))
	}
	sort.Strings(out)
	return out
}
