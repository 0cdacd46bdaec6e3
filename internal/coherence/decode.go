package coherence

import (
	"strconv"
	"strings"
)

// decoder is the single tolerant reader for provider JSON payloads. Every
// pass pulls its fields through it instead of hand-rolling type assertions:
// values may be missing, nested one level deep under a wrapper object, or
// typed as strings where numbers are expected. Each accessor takes a default
// and, for numerics, a clamp range, so garbage degrades quality but never
// raises.
type decoder struct {
	root map[string]any
}

func newDecoder(data map[string]any) *decoder {
	if data == nil {
		data = map[string]any{}
	}
	return &decoder{root: data}
}

// lookup resolves the first dotted path that exists. A path element matches
// its exact key or the same key in snake_case, covering the common provider
// shape drift between camelCase and snake_case.
func (d *decoder) lookup(paths ...string) (any, bool) {
	for _, path := range paths {
		current := any(d.root)
		found := true
		for _, part := range strings.Split(path, ".") {
			m, ok := current.(map[string]any)
			if !ok {
				found = false
				break
			}
			v, ok := m[part]
			if !ok {
				v, ok = m[toSnake(part)]
			}
			if !ok {
				found = false
				break
			}
			current = v
		}
		if found {
			return current, true
		}
	}
	return nil, false
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Float reads a number at any of the paths, clamped to [min,max], or def.
func (d *decoder) Float(def, min, max float64, paths ...string) float64 {
	v, ok := d.lookup(paths...)
	if !ok {
		return def
	}
	f, ok := asFloat(v)
	if !ok {
		return def
	}
	return clampFloat(f, min, max)
}

// Int reads an integer at any of the paths, clamped to [min,max], or def.
func (d *decoder) Int(def, min, max int, paths ...string) int {
	v, ok := d.lookup(paths...)
	if !ok {
		return def
	}
	f, ok := asFloat(v)
	if !ok {
		return def
	}
	return clampInt(int(f), min, max)
}

// Bool reads a boolean, accepting true/false, "true"/"false" and 0/1.
func (d *decoder) Bool(def bool, paths ...string) bool {
	v, ok := d.lookup(paths...)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b
		}
	case float64:
		return t != 0
	}
	return def
}

// String reads a non-empty string or def.
func (d *decoder) String(def string, paths ...string) string {
	v, ok := d.lookup(paths...)
	if !ok {
		return def
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
		return s
	}
	return def
}

// StringSlice reads a list of strings, skipping non-string elements.
func (d *decoder) StringSlice(paths ...string) []string {
	v, ok := d.lookup(paths...)
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		// A single bare string is accepted as a one-element list.
		if s, ok := v.(string); ok && s != "" {
			return []string{s}
		}
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Objects reads a list of JSON objects, skipping anything else.
func (d *decoder) Objects(paths ...string) []*decoder {
	v, ok := d.lookup(paths...)
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []*decoder
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, newDecoder(m))
		}
	}
	return out
}

// Section returns a nested object as its own decoder, or an empty one.
func (d *decoder) Section(paths ...string) *decoder {
	v, ok := d.lookup(paths...)
	if !ok {
		return newDecoder(nil)
	}
	if m, ok := v.(map[string]any); ok {
		return newDecoder(m)
	}
	return newDecoder(nil)
}

// Has reports whether any of the paths resolves.
func (d *decoder) Has(paths ...string) bool {
	_, ok := d.lookup(paths...)
	return ok
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func clampFloat(f, min, max float64) float64 {
	if f < min {
		return min
	}
	if f > max {
		return max
	}
	return f
}

func clampInt(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
