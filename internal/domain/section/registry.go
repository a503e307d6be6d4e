// Package section defines the registry of supported clinical sections.
// Every entry, attribution record and match proposal is partitioned by a
// section name; the registry is resolved once at startup so the rest of
// the system can operate generically over "entry of section S" without
// per-section branching.
package section

import (
	"fmt"
	"sort"
	"strings"
)

// Definition describes one supported clinical section.
type Definition struct {
	// Name is the canonical section identifier (e.g. "allergies").
	Name string `json:"name"`
	// Display is a human-readable label for UI consumers.
	Display string `json:"display"`
	// Synthetic marks sections that are not backed by the entry store
	// and must be skipped by full-record writes.
	Synthetic bool `json:"synthetic,omitempty"`
}

// Registry maps section names to their definitions.
type Registry struct {
	defs  map[string]Definition
	order []string
}

// ErrUnknownSection is returned when a caller names a section that is
// not registered.
type ErrUnknownSection struct {
	Name string
}

func (e *ErrUnknownSection) Error() string {
	return fmt.Sprintf("unknown section: %s", e.Name)
}

// NewRegistry builds a registry from the given definitions. Duplicate
// names are rejected so misconfiguration fails at startup.
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, fmt.Errorf("section definition with empty name")
		}
		if _, dup := r.defs[name]; dup {
			return nil, fmt.Errorf("duplicate section definition: %s", name)
		}
		d.Name = name
		r.defs[name] = d
		r.order = append(r.order, name)
	}
	sort.Strings(r.order)
	return r, nil
}

// DefaultDefinitions lists the sections supported out of the box.
// "insurance" and "claims" are synthetic: they appear in assembled
// records delivered by upstream parsers but have no entry-store backing.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Name: "allergies", Display: "Allergies"},
		{Name: "demographics", Display: "Demographics"},
		{Name: "encounters", Display: "Encounters"},
		{Name: "immunizations", Display: "Immunizations"},
		{Name: "medications", Display: "Medications"},
		{Name: "problems", Display: "Problems"},
		{Name: "procedures", Display: "Procedures"},
		{Name: "results", Display: "Results"},
		{Name: "socialhistory", Display: "Social History"},
		{Name: "vitals", Display: "Vitals"},
		{Name: "insurance", Display: "Insurance", Synthetic: true},
		{Name: "claims", Display: "Claims", Synthetic: true},
	}
}

// DefaultRegistry returns a registry over DefaultDefinitions.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultDefinitions())
	if err != nil {
		panic(err) // static definitions, cannot fail
	}
	return r
}

// Resolve returns the definition for name, or ErrUnknownSection.
func (r *Registry) Resolve(name string) (Definition, error) {
	d, ok := r.defs[name]
	if !ok {
		return Definition{}, &ErrUnknownSection{Name: name}
	}
	return d, nil
}

// Has reports whether name is a registered section.
func (r *Registry) Has(name string) bool {
	_, ok := r.defs[name]
	return ok
}

// Names returns all registered section names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// StoredNames returns the names of sections backed by the entry store,
// i.e. everything that is not synthetic.
func (r *Registry) StoredNames() []string {
	var out []string
	for _, name := range r.order {
		if !r.defs[name].Synthetic {
			out = append(out, name)
		}
	}
	return out
}
