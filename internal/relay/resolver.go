// Package relay serves the io.ducky.Keystroke interface: it debounces
// incoming key-combination presses, resolves them to configured
// scripts, and dispatches execution without blocking the caller.
package relay

import (
	"fmt"

	"duckycap/internal/combo"
	"duckycap/internal/config"
)

// Table is the immutable key-combination to script-path mapping, built
// once at startup and looked up by canonical combination identity.
// Exact match only; there is no prefix or partial matching.
type Table struct {
	paths map[string]string
}

// NewTable builds a Table from the configured mappings. Duplicate
// combinations are rejected: two entries for the same canonical
// identity would make dispatch order-dependent on config file order.
func NewTable(mappings []config.CommandMapping) (*Table, error) {
	paths := make(map[string]string, len(mappings))
	for i, m := range mappings {
		c, err := combo.ParseSpec(m.Keys)
		if err != nil {
			return nil, fmt.Errorf("commands[%d]: %w", i, err)
		}
		if existing, ok := paths[c.ID()]; ok {
			return nil, fmt.Errorf("commands[%d]: combination %q already mapped to %s", i, c.ID(), existing)
		}
		paths[c.ID()] = m.Path
	}
	return &Table{paths: paths}, nil
}

// Lookup returns the script path mapped to c. A miss is a normal,
// non-error outcome.
func (t *Table) Lookup(c combo.Combo) (string, bool) {
	path, ok := t.paths[c.ID()]
	return path, ok
}

// Len returns the number of configured mappings.
func (t *Table) Len() int { return len(t.paths) }

// Each calls fn for every mapping. Iteration order is unspecified.
func (t *Table) Each(fn func(comboID, path string)) {
	for id, path := range t.paths {
		fn(id, path)
	}
}
