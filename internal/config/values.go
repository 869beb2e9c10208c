package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Values is a flat, case-insensitive view of the settings tree. Nested
// objects become colon-joined keys; array elements use their index
// ("Tools:0"). JSON nulls are skipped.
type Values struct {
	entries map[string]entry
}

type entry struct {
	key   string // Key as first written, for listing.
	value string
}

func newValues() *Values {
	return &Values{entries: make(map[string]entry)}
}

func (v *Values) set(key, value string) {
	v.entries[strings.ToLower(key)] = entry{key: key, value: value}
}

func (v *Values) flatten(prefix string, node any) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + ":" + k
	}
	switch n := node.(type) {
	case nil:
	case map[string]any:
		for k, child := range n {
			v.flatten(join(k), child)
		}
	case []any:
		for i, child := range n {
			v.flatten(join(strconv.Itoa(i)), child)
		}
	case string:
		v.set(prefix, n)
	case bool:
		v.set(prefix, strconv.FormatBool(n))
	case float64:
		v.set(prefix, strconv.FormatFloat(n, 'f', -1, 64))
	case int:
		v.set(prefix, strconv.Itoa(n))
	default:
		v.set(prefix, fmt.Sprint(n))
	}
}

// Lookup returns the value for key and whether it was set.
func (v *Values) Lookup(key string) (string, bool) {
	e, ok := v.entries[strings.ToLower(key)]
	return e.value, ok
}

// String returns the trimmed value for key, or def when unset or blank.
func (v *Values) String(key, def string) string {
	s, ok := v.Lookup(key)
	if s = strings.TrimSpace(s); !ok || s == "" {
		return def
	}
	return s
}

// Int parses key as an integer.
func (v *Values) Int(key string, def int) (int, error) {
	s := v.String(key, "")
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid config: %s %q is not an integer", key, s)
	}
	return n, nil
}

// Bool parses key as a boolean.
func (v *Values) Bool(key string, def bool) (bool, error) {
	s := v.String(key, "")
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid config: %s %q is not a boolean", key, s)
	}
	return b, nil
}

// Float parses key as a float.
func (v *Values) Float(key string, def float64) (float64, error) {
	s := v.String(key, "")
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid config: %s %q is not a number", key, s)
	}
	return f, nil
}

// Keys returns every set key in sorted order.
func (v *Values) Keys() []string {
	keys := make([]string, 0, len(v.entries))
	for _, e := range v.entries {
		keys = append(keys, e.key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return strings.ToLower(keys[i]) < strings.ToLower(keys[j])
	})
	return keys
}

// Len returns the number of set keys.
func (v *Values) Len() int { return len(v.entries) }
