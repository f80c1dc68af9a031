// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package catalog names OCA object properties so that tools can address
// them as "matrix-input-gain-3" instead of raw object numbers.
package catalog

import (
	"fmt"
	"slices"
	"strings"

	"github.com/edgeo/drivers/ocp1/ocp1"
)

// Entry is a named property binding
type Entry struct {
	Name       string
	Definition ocp1.CommandDefinition
}

// Catalog is an ordered set of entries with unique names. Lookups are
// case insensitive.
type Catalog struct {
	entries []Entry
	byName  map[string]int
}

// New creates a catalog from entries. Duplicate names are rejected.
func New(entries ...Entry) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]int, len(entries))}
	for _, e := range entries {
		if err := c.Add(e); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Add appends an entry
func (c *Catalog) Add(e Entry) error {
	k := key(e.Name)
	if k == "" {
		return fmt.Errorf("catalog: entry without a name (%s)", e.Definition)
	}
	if _, dup := c.byName[k]; dup {
		return fmt.Errorf("catalog: duplicate name %q", e.Name)
	}
	c.byName[k] = len(c.entries)
	c.entries = append(c.entries, e)
	return nil
}

// Merge adds the entries of other. Entries whose name already exists are
// replaced, so a file can override built-in definitions.
func (c *Catalog) Merge(other *Catalog) {
	for _, e := range other.entries {
		if i, ok := c.byName[key(e.Name)]; ok {
			c.entries[i] = e
			continue
		}
		c.byName[key(e.Name)] = len(c.entries)
		c.entries = append(c.entries, e)
	}
}

// Lookup returns the definition registered under name
func (c *Catalog) Lookup(name string) (ocp1.CommandDefinition, bool) {
	i, ok := c.byName[key(name)]
	if !ok {
		return ocp1.CommandDefinition{}, false
	}
	return c.entries[i].Definition, true
}

// NameOf returns the name of the entry addressing the same property as
// def, or "" when the catalog has none
func (c *Catalog) NameOf(def ocp1.CommandDefinition) string {
	for _, e := range c.entries {
		if e.Definition.MatchesObject(def) {
			return e.Name
		}
	}
	return ""
}

// FindByONo returns all entries for object number ono
func (c *Catalog) FindByONo(ono uint32) []Entry {
	var out []Entry
	for _, e := range c.entries {
		if e.Definition.MatchesONo(ono) {
			out = append(out, e)
		}
	}
	return out
}

// Filter returns the entries whose name contains substr
func (c *Catalog) Filter(substr string) []Entry {
	substr = key(substr)
	if substr == "" {
		return c.Entries()
	}
	var out []Entry
	for _, e := range c.entries {
		if strings.Contains(key(e.Name), substr) {
			out = append(out, e)
		}
	}
	return out
}

// Entries returns all entries in insertion order
func (c *Catalog) Entries() []Entry {
	return slices.Clone(c.entries)
}

// Definitions returns the bindings of all entries
func (c *Catalog) Definitions() []ocp1.CommandDefinition {
	defs := make([]ocp1.CommandDefinition, len(c.entries))
	for i, e := range c.entries {
		defs[i] = e.Definition
	}
	return defs
}

// Len returns the number of entries
func (c *Catalog) Len() int {
	return len(c.entries)
}
