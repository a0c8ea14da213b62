// Package domain defines the contracts shared by the change-tracking core and
// its collaborators: type descriptors supplied by the metadata layer, the
// storage collaborator interface, and the error taxonomy.
package domain

import (
	"fmt"
	"reflect"
	"sort"
)

// Kind distinguishes plain entities from association (link) objects.
type Kind int

const (
	// KindEntity is a standalone entity with its own identity attributes.
	KindEntity Kind = iota
	// KindAssociation is a link object whose ends reference entities.
	KindAssociation
)

func (k Kind) String() string {
	switch k {
	case KindEntity:
		return "entity"
	case KindAssociation:
		return "association"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Getter reads an element value from a tracked object.
type Getter func(obj any) any

// Setter writes an element value onto a tracked object.
type Setter func(obj any, value any)

// Attribute describes a scalar element of a type.
type Attribute struct {
	Name string
	Get  Getter
	Set  Setter
	// Derived attributes are computed from other state and are neither
	// snapshotted nor merged.
	Derived bool
	// Concurrency attributes are checked against their original value by
	// storage backends before an update or delete is applied.
	Concurrency bool
	// Equal overrides the default value equality (reflect.DeepEqual).
	Equal func(a, b any) bool
}

// Equals compares two attribute values with the declared equality.
func (a *Attribute) Equals(x, y any) bool {
	if a.Equal != nil {
		return a.Equal(x, y)
	}
	return reflect.DeepEqual(x, y)
}

// Association describes a navigation from one object to others. On entity
// types it is a reference (single or collection); on association types it is
// an end pointing at one entity.
type Association struct {
	Name string
	Get  Getter
	Set  Setter
	// Many marks collection-valued associations; Get returns a slice.
	Many bool
	// Aggregated marks ownership: deleting the owner deletes the targets.
	Aggregated bool
	// Companion marks the end whose entity drives this association's
	// persistence (the association is written with that entity's row).
	Companion bool
}

// Targets returns the non-nil objects reachable through the association.
func (a *Association) Targets(obj any) []any {
	v := a.Get(obj)
	if IsNil(v) {
		return nil
	}
	if !a.Many {
		return []any{v}
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		item := rv.Index(i).Interface()
		if !IsNil(item) {
			out = append(out, item)
		}
	}
	return out
}

// TypeDescriptor is the metadata for one tracked Go type.
type TypeDescriptor struct {
	Name string
	Type reflect.Type
	Kind Kind
	// Identity lists the attribute or association-end names forming the key,
	// in order. An end contributes all members of its target's identity.
	Identity []string
	// GeneratedIdentity marks keys assigned by the storage on insert. Only a
	// single int64 identity attribute is supported.
	GeneratedIdentity bool
	Attributes        []*Attribute
	Associations      []*Association
	// Storage names the storage collaborator persisting this type; empty
	// selects the default one.
	Storage string

	attrIndex  map[string]*Attribute
	assocIndex map[string]*Association
}

// Attribute returns the named attribute descriptor.
func (d *TypeDescriptor) Attribute(name string) (*Attribute, bool) {
	a, ok := d.attrIndex[name]
	return a, ok
}

// Association returns the named association descriptor.
func (d *TypeDescriptor) Association(name string) (*Association, bool) {
	a, ok := d.assocIndex[name]
	return a, ok
}

// CompanionEnd returns the association end flagged as companion, if any.
func (d *TypeDescriptor) CompanionEnd() (*Association, bool) {
	if d.Kind != KindAssociation {
		return nil, false
	}
	for _, a := range d.Associations {
		if a.Companion {
			return a, true
		}
	}
	return nil, false
}

// Aggregated returns the associations flagged as ownership.
func (d *TypeDescriptor) Aggregated() []*Association {
	var out []*Association
	for _, a := range d.Associations {
		if a.Aggregated {
			out = append(out, a)
		}
	}
	return out
}

// Values reads every non-derived attribute into a fresh map.
func (d *TypeDescriptor) Values(obj any) map[string]any {
	out := make(map[string]any, len(d.Attributes))
	for _, a := range d.Attributes {
		if a.Derived {
			continue
		}
		out[a.Name] = a.Get(obj)
	}
	return out
}

func (d *TypeDescriptor) index() error {
	if d.Name == "" {
		return fmt.Errorf("type descriptor for %v: empty name", d.Type)
	}
	if d.Type == nil {
		return fmt.Errorf("type descriptor %s: nil type", d.Name)
	}
	d.attrIndex = make(map[string]*Attribute, len(d.Attributes))
	for _, a := range d.Attributes {
		if a.Get == nil {
			return fmt.Errorf("type descriptor %s: attribute %s has no getter", d.Name, a.Name)
		}
		if _, dup := d.attrIndex[a.Name]; dup {
			return fmt.Errorf("type descriptor %s: duplicate attribute %s", d.Name, a.Name)
		}
		d.attrIndex[a.Name] = a
	}
	d.assocIndex = make(map[string]*Association, len(d.Associations))
	for _, a := range d.Associations {
		if a.Get == nil {
			return fmt.Errorf("type descriptor %s: association %s has no getter", d.Name, a.Name)
		}
		if _, dup := d.attrIndex[a.Name]; dup {
			return fmt.Errorf("type descriptor %s: association %s shadows an attribute", d.Name, a.Name)
		}
		d.assocIndex[a.Name] = a
	}
	if len(d.Identity) == 0 {
		return fmt.Errorf("type descriptor %s: no identity elements", d.Name)
	}
	for _, name := range d.Identity {
		_, isAttr := d.attrIndex[name]
		_, isAssoc := d.assocIndex[name]
		if !isAttr && !isAssoc {
			return fmt.Errorf("type descriptor %s: unknown identity element %s", d.Name, name)
		}
	}
	if d.GeneratedIdentity {
		if len(d.Identity) != 1 {
			return fmt.Errorf("type descriptor %s: generated identity needs exactly one attribute", d.Name)
		}
		a, ok := d.attrIndex[d.Identity[0]]
		if !ok || a.Set == nil {
			return fmt.Errorf("type descriptor %s: generated identity attribute must be settable", d.Name)
		}
	}
	return nil
}

// Model is an immutable set of type descriptors.
type Model struct {
	byType map[reflect.Type]*TypeDescriptor
	byName map[string]*TypeDescriptor
}

// Describe returns the descriptor for obj's dynamic type.
func (m *Model) Describe(obj any) (*TypeDescriptor, error) {
	if obj == nil {
		return nil, UnregisteredTypeError{Type: "<nil>"}
	}
	t := reflect.TypeOf(obj)
	if d, ok := m.byType[t]; ok {
		return d, nil
	}
	return nil, UnregisteredTypeError{Type: t.String()}
}

// Lookup returns the descriptor registered under name.
func (m *Model) Lookup(name string) (*TypeDescriptor, bool) {
	d, ok := m.byName[name]
	return d, ok
}

// Types returns every registered descriptor ordered by name.
func (m *Model) Types() []*TypeDescriptor {
	out := make([]*TypeDescriptor, 0, len(m.byName))
	for _, d := range m.byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ModelBuilder accumulates descriptors for a Model.
type ModelBuilder struct {
	descs []*TypeDescriptor
}

// NewModelBuilder returns an empty builder.
func NewModelBuilder() *ModelBuilder { return &ModelBuilder{} }

// Register adds a descriptor. Validation happens in Build.
func (b *ModelBuilder) Register(d *TypeDescriptor) *ModelBuilder {
	b.descs = append(b.descs, d)
	return b
}

// Build validates the descriptors and returns the model.
func (b *ModelBuilder) Build() (*Model, error) {
	m := &Model{
		byType: make(map[reflect.Type]*TypeDescriptor, len(b.descs)),
		byName: make(map[string]*TypeDescriptor, len(b.descs)),
	}
	for _, d := range b.descs {
		if err := d.index(); err != nil {
			return nil, err
		}
		if _, dup := m.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate type descriptor %s", d.Name)
		}
		if _, dup := m.byType[d.Type]; dup {
			return nil, fmt.Errorf("duplicate type descriptor for %v", d.Type)
		}
		m.byName[d.Name] = d
		m.byType[d.Type] = d
	}
	return m, nil
}

// IsNil reports whether v is nil or a nil pointer, map, slice, func, chan or
// interface.
func IsNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

// IsEmpty reports whether v is nil or an empty collection.
func IsEmpty(v any) bool {
	if IsNil(v) {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	default:
		return false
	}
}

// ModelSource defines the model for one family of unit-of-work instances.
// Implementations are usually empty structs; the dynamic type is the cache
// key under which the built model is shared.
type ModelSource interface {
	DefineModel(b *ModelBuilder) error
}
