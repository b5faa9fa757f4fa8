package model

import (
	"fmt"
	"sort"
	"strings"
)

// elementKey identifies an element across kinds.
type elementKey struct {
	kind ElementKind
	id   int
}

func keyOf(e Element) elementKey { return elementKey{kind: e.Kind(), id: e.ID()} }

func (k elementKey) element() Element {
	if k.kind == KindVM {
		return VM(k.id)
	}
	return Node(k.id)
}

// Attributes stores typed key/value pairs per element.
// Values are restricted to bool, int, float64 and string.
type Attributes struct {
	values map[elementKey]map[string]interface{}
}

// NewAttributes creates an empty attribute store.
func NewAttributes() *Attributes {
	return &Attributes{values: make(map[elementKey]map[string]interface{})}
}

// Put sets an attribute. It returns false when the value type is unsupported.
func (a *Attributes) Put(e Element, key string, value interface{}) bool {
	switch v := value.(type) {
	case bool, string, float64, int:
	case int64:
		value = int(v)
	case float32:
		value = float64(v)
	default:
		return false
	}
	k := keyOf(e)
	m, ok := a.values[k]
	if !ok {
		m = make(map[string]interface{})
		a.values[k] = m
	}
	m[key] = value
	return true
}

// Get returns the raw value of an attribute.
func (a *Attributes) Get(e Element, key string) (interface{}, bool) {
	v, ok := a.values[keyOf(e)][key]
	return v, ok
}

// GetString returns a string attribute.
func (a *Attributes) GetString(e Element, key string) (string, bool) {
	v, ok := a.Get(e, key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt returns an int attribute.
func (a *Attributes) GetInt(e Element, key string) (int, bool) {
	v, ok := a.Get(e, key)
	if !ok {
		return 0, false
	}
	i, ok := v.(int)
	return i, ok
}

// GetFloat returns a float attribute. Int values are converted.
func (a *Attributes) GetFloat(e Element, key string) (float64, bool) {
	v, ok := a.Get(e, key)
	if !ok {
		return 0, false
	}
	switch f := v.(type) {
	case float64:
		return f, true
	case int:
		return float64(f), true
	}
	return 0, false
}

// GetBool returns a bool attribute.
func (a *Attributes) GetBool(e Element, key string) (bool, bool) {
	v, ok := a.Get(e, key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// IsSet reports whether an attribute is defined.
func (a *Attributes) IsSet(e Element, key string) bool {
	_, ok := a.Get(e, key)
	return ok
}

// Unset removes an attribute.
func (a *Attributes) Unset(e Element, key string) bool {
	k := keyOf(e)
	m, ok := a.values[k]
	if !ok {
		return false
	}
	if _, ok := m[key]; !ok {
		return false
	}
	delete(m, key)
	if len(m) == 0 {
		delete(a.values, k)
	}
	return true
}

// Keys returns the sorted attribute keys of an element.
func (a *Attributes) Keys(e Element) []string {
	m := a.values[keyOf(e)]
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Defined returns the elements that carry at least one attribute,
// nodes first then VMs, each sorted by identifier.
func (a *Attributes) Defined() []Element {
	keys := make([]elementKey, 0, len(a.values))
	for k := range a.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].kind != keys[j].kind {
			return keys[i].kind == KindNode
		}
		return keys[i].id < keys[j].id
	})
	out := make([]Element, len(keys))
	for i, k := range keys {
		out[i] = k.element()
	}
	return out
}

// Clear removes every attribute.
func (a *Attributes) Clear() {
	a.values = make(map[elementKey]map[string]interface{})
}

// Clone returns a deep copy.
func (a *Attributes) Clone() *Attributes {
	c := NewAttributes()
	for k, m := range a.values {
		cm := make(map[string]interface{}, len(m))
		for key, v := range m {
			cm[key] = v
		}
		c.values[k] = cm
	}
	return c
}

// Equal reports whether both stores hold the same attributes.
func (a *Attributes) Equal(o *Attributes) bool {
	if o == nil || len(a.values) != len(o.values) {
		return false
	}
	for k, m := range a.values {
		om, ok := o.values[k]
		if !ok || len(om) != len(m) {
			return false
		}
		for key, v := range m {
			if ov, ok := om[key]; !ok || ov != v {
				return false
			}
		}
	}
	return true
}

func (a *Attributes) String() string {
	var sb strings.Builder
	for _, e := range a.Defined() {
		sb.WriteString(e.String() + ":")
		for _, k := range a.Keys(e) {
			v, _ := a.Get(e, k)
			sb.WriteString(fmt.Sprintf(" <%s,%v>", k, v))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
