// Package combo defines the canonical key-combination value type shared
// by the relay service and the capture daemon.
package combo

import (
	"fmt"
	"slices"
	"strings"
)

// Combo is an ordered, deduplicated, sort-ascending sequence of
// lowercase key names. Construct only via Normalize or ParseSpec so the
// canonical-form invariant always holds; two combinations naming the
// same set of keys compare equal by ID regardless of input order.
type Combo struct {
	keys []string
	id   string
}

// Normalize builds a Combo from raw key names: entries are trimmed,
// blanks dropped, the rest lowercased, sorted, and deduplicated. The
// result is idempotent and independent of input order. An input with no
// usable entries yields the empty Combo.
func Normalize(keys []string) Combo {
	cleaned := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		cleaned = append(cleaned, k)
	}
	slices.Sort(cleaned)
	cleaned = slices.Compact(cleaned)
	if len(cleaned) == 0 {
		return Combo{}
	}
	return Combo{keys: cleaned, id: strings.Join(cleaned, "+")}
}

// ParseSpec parses a "+"-joined, case-insensitive combination string
// from configuration, e.g. "Ctrl+Shift+B" or "meta+f1".
func ParseSpec(spec string) (Combo, error) {
	c := Normalize(strings.Split(spec, "+"))
	if c.Empty() {
		return Combo{}, fmt.Errorf("key combination %q has no keys", spec)
	}
	return c, nil
}

// Empty reports whether the combination names no keys.
func (c Combo) Empty() bool { return len(c.keys) == 0 }

// ID returns the canonical "+"-joined form. It is the identity used for
// command lookup and debounce bookkeeping.
func (c Combo) ID() string { return c.id }

// Keys returns a copy of the canonical key names.
func (c Combo) Keys() []string {
	return slices.Clone(c.keys)
}

func (c Combo) String() string { return c.id }
