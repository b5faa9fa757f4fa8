package model

import (
	"sort"
	"strings"
)

// Model is the full cluster state: the mapping, the attached views, the
// element attributes and the pool that hands out element identifiers.
type Model struct {
	mapping *Mapping
	views   map[string]View
	attrs   *Attributes
	pool    *ElementPool
}

// New creates an empty model.
func New() *Model {
	return &Model{
		mapping: NewMapping(),
		views:   make(map[string]View),
		attrs:   NewAttributes(),
		pool:    NewElementPool(),
	}
}

// Mapping returns the mapping of the model.
func (m *Model) Mapping() *Mapping { return m.mapping }

// Attributes returns the element attributes.
func (m *Model) Attributes() *Attributes { return m.attrs }

// Pool returns the element identifier pool.
func (m *Model) Pool() *ElementPool { return m.pool }

// NewVM books a fresh VM identifier.
func (m *Model) NewVM() (VM, error) { return m.pool.NewVM() }

// NewNode books a fresh node identifier.
func (m *Model) NewNode() (Node, error) { return m.pool.NewNode() }

// Attach adds a view. It returns false when a view with the same
// identifier is already attached.
func (m *Model) Attach(v View) bool {
	if v == nil {
		return false
	}
	id := v.Identifier()
	if _, ok := m.views[id]; ok {
		return false
	}
	m.views[id] = v
	return true
}

// Detach removes a view by identifier.
func (m *Model) Detach(id string) bool {
	if _, ok := m.views[id]; !ok {
		return false
	}
	delete(m.views, id)
	return true
}

// View returns an attached view.
func (m *Model) View(id string) (View, bool) {
	v, ok := m.views[id]
	return v, ok
}

// Views returns every attached view, sorted by identifier.
func (m *Model) Views() []View {
	out := make([]View, 0, len(m.views))
	for _, v := range m.views {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier() < out[j].Identifier() })
	return out
}

// ShareableResource returns the attached resource view with the given name.
func (m *Model) ShareableResource(name string) (*ShareableResource, bool) {
	v, ok := m.views[ShareableResourceID(name)]
	if !ok {
		return nil, false
	}
	rc, ok := v.(*ShareableResource)
	return rc, ok
}

// Clone returns a deep copy of the model.
func (m *Model) Clone() *Model {
	c := &Model{
		mapping: m.mapping.Clone(),
		views:   make(map[string]View, len(m.views)),
		attrs:   m.attrs.Clone(),
		pool:    m.pool.Clone(),
	}
	for id, v := range m.views {
		c.views[id] = v.Clone()
	}
	return c
}

// Equal compares the mapping, the attributes and the views of two models.
func (m *Model) Equal(o *Model) bool {
	if m == o {
		return true
	}
	if o == nil || !m.mapping.Equal(o.mapping) || !m.attrs.Equal(o.attrs) {
		return false
	}
	if len(m.views) != len(o.views) {
		return false
	}
	for id, v := range m.views {
		ov, ok := o.views[id]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

func (m *Model) String() string {
	var sb strings.Builder
	sb.WriteString("Mapping:\n")
	sb.WriteString(m.mapping.String())
	if attrs := m.attrs.String(); attrs != "" {
		sb.WriteString("Attributes:\n")
		sb.WriteString(attrs)
	}
	views := m.Views()
	if len(views) > 0 {
		sb.WriteString("Views:\n")
		for _, v := range views {
			if s, ok := v.(interface{ String() string }); ok {
				sb.WriteString(s.String())
			} else {
				sb.WriteString(v.Identifier())
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
