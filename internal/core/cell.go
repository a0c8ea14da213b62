package core

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"trackcore/pkg/domain"
	"trackcore/pkg/identity"
)

// Status is the lifecycle state of a tracked object.
type Status int

const (
	// StatusAdded marks objects created by the application and not yet saved.
	StatusAdded Status = iota
	// StatusUnchanged marks persisted objects with no detected changes.
	StatusUnchanged
	// StatusModified marks persisted objects with changed attributes.
	StatusModified
	// StatusDeleted marks persisted objects scheduled for deletion.
	StatusDeleted
)

func (s Status) String() string {
	switch s {
	case StatusAdded:
		return "added"
	case StatusUnchanged:
		return "unchanged"
	case StatusModified:
		return "modified"
	case StatusDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Cell tracks one object for its owning UnitOfWork.
type Cell struct {
	uow  *UnitOfWork
	desc *domain.TypeDescriptor

	mu          sync.Mutex
	object      any
	key         identity.Key
	hasIdentity bool
	status      Status
	root        bool
	snapshot    map[string]any
	changed     map[string]struct{}

	// per save cycle
	retained bool
}

func newCell(u *UnitOfWork, obj any, desc *domain.TypeDescriptor, isNew, isRoot bool) *Cell {
	c := &Cell{
		uow:     u,
		desc:    desc,
		object:  obj,
		root:    isRoot,
		changed: make(map[string]struct{}),
	}
	if !(isNew && desc.GeneratedIdentity) {
		c.key, c.hasIdentity = domain.IdentityOf(u.model, desc, obj)
	}
	if isNew {
		c.status = StatusAdded
		return c
	}
	c.status = StatusUnchanged
	c.snapshot = takeSnapshot(desc, obj)
	return c
}

// bind registers the cell against the object's intervention hooks.
func (c *Cell) bind() {
	hooks, ok := c.object.(domain.Interceptable)
	if !ok {
		return
	}
	obj := c.object
	hooks.InterceptWrites(func(attribute string) {
		c.noteWrite(obj, attribute)
	})
	hooks.InterceptLoads(func(association string) error {
		return c.uow.loadAssociation(c, obj, association)
	})
}

func (c *Cell) noteWrite(obj any, attribute string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !sameObject(c.object, obj) {
		return
	}
	if c.status != StatusUnchanged && c.status != StatusModified {
		return
	}
	attr, ok := c.desc.Attribute(attribute)
	if !ok || attr.Derived {
		return
	}
	c.changed[attribute] = struct{}{}
	c.status = StatusModified
}

// Object returns the tracked instance.
func (c *Cell) Object() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.object
}

// Type returns the descriptor of the tracked object.
func (c *Cell) Type() *domain.TypeDescriptor { return c.desc }

// Identity returns the cell's key; ok is false while it is not yet known.
func (c *Cell) Identity() (identity.Key, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key, c.hasIdentity
}

// Status returns the current lifecycle state.
func (c *Cell) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsRoot reports whether the application attached the object explicitly.
func (c *Cell) IsRoot() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root
}

// Retained reports whether the last save cycle reached the object from a root.
func (c *Cell) Retained() bool { return c.retained }

// ChangedAttributes returns the sorted names of changed attributes.
func (c *Cell) ChangedAttributes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.changed))
	for name := range c.changed {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DetectAttributeChange compares live attribute values against the snapshot.
// Added and Deleted cells are left alone: their write covers every value.
func (c *Cell) DetectAttributeChange() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusUnchanged && c.status != StatusModified {
		return
	}
	for _, attr := range c.desc.Attributes {
		if attr.Derived {
			continue
		}
		if !attr.Equals(c.snapshot[attr.Name], attr.Get(c.object)) {
			c.changed[attr.Name] = struct{}{}
			c.status = StatusModified
		}
	}
}

// JudgeAttributeChanged reports whether name must be written. Every attribute
// of an Added object counts as changed.
func (c *Cell) JudgeAttributeChanged(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.status {
	case StatusAdded:
		return true
	case StatusDeleted:
		return false
	default:
		_, ok := c.changed[name]
		return ok
	}
}

// OriginalValue returns the last persisted value of name.
func (c *Cell) OriginalValue(name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.snapshot[name]
	return v, ok
}

// MarkDeleted schedules the object for deletion and cascades through
// aggregated associations. Owned objects still tracked as new are discarded.
func (c *Cell) MarkDeleted() error {
	pending := []*Cell{c}
	for len(pending) > 0 {
		cur := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		cur.mu.Lock()
		status := cur.status
		if status == StatusUnchanged || status == StatusModified {
			cur.status = StatusDeleted
		}
		obj := cur.object
		cur.mu.Unlock()

		switch status {
		case StatusDeleted:
			continue
		case StatusAdded:
			cur.uow.discard(cur)
			continue
		}
		for _, assoc := range cur.desc.Aggregated() {
			for _, target := range assoc.Targets(obj) {
				owned, err := cur.uow.ownedCell(target)
				if err != nil {
					return fmt.Errorf("cascade delete %s.%s: %w", cur.desc.Name, assoc.Name, err)
				}
				if owned != nil {
					pending = append(pending, owned)
				}
			}
		}
	}
	return nil
}

// Replace swaps the tracked instance for another instance of the same
// identity. Only Unchanged cells can be replaced.
func (c *Cell) Replace(obj any) error {
	key, ok := domain.IdentityOf(c.uow.model, c.desc, obj)
	c.mu.Lock()
	if c.status != StatusUnchanged {
		c.mu.Unlock()
		return fmt.Errorf("replace %s in state %s: %w", c.desc.Name, c.status, domain.ErrIdentityMismatch)
	}
	if !ok || !c.hasIdentity || !key.Equal(c.key) {
		c.mu.Unlock()
		return fmt.Errorf("replace %s %s with %s: %w", c.desc.Name, c.key, key, domain.ErrIdentityMismatch)
	}
	c.object = obj
	c.mu.Unlock()
	c.bind()
	return nil
}

// AcceptChanges resets the cell after a successful save: the change set is
// cleared, the object re-snapshotted and its identity recomputed.
func (c *Cell) AcceptChanges() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changed = make(map[string]struct{})
	c.status = StatusUnchanged
	c.snapshot = takeSnapshot(c.desc, c.object)
	c.key, c.hasIdentity = domain.IdentityOf(c.uow.model, c.desc, c.object)
}

// retain marks the cell reachable for this cycle. Deleted cells refuse.
func (c *Cell) retain() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusDeleted {
		return false
	}
	c.retained = true
	return true
}

func (c *Cell) promoteRoot() {
	c.mu.Lock()
	c.root = true
	c.mu.Unlock()
}

func (c *Cell) resetCycle() {
	c.retained = false
}

func takeSnapshot(desc *domain.TypeDescriptor, obj any) map[string]any {
	snap := make(map[string]any, len(desc.Attributes))
	for _, attr := range desc.Attributes {
		if attr.Derived {
			continue
		}
		snap[attr.Name] = copyValue(attr.Get(obj))
	}
	return snap
}

// copyValue detaches snapshot values from later in-place mutation: scalar
// pointers are re-allocated, slices and maps shallow-copied.
func copyValue(v any) any {
	if domain.IsNil(v) {
		return v
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.Elem().Kind() == reflect.Struct {
			return v
		}
		cp := reflect.New(rv.Elem().Type())
		cp.Elem().Set(rv.Elem())
		return cp.Interface()
	case reflect.Slice:
		cp := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		reflect.Copy(cp, rv)
		return cp.Interface()
	case reflect.Map:
		cp := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			cp.SetMapIndex(iter.Key(), iter.Value())
		}
		return cp.Interface()
	default:
		return v
	}
}

// sameObject reports reference identity for pointer-like values and falls
// back to == for comparable values.
func sameObject(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Type() != rb.Type() {
		return false
	}
	switch ra.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return ra.Pointer() == rb.Pointer()
	}
	if ra.Type().Comparable() {
		return a == b
	}
	return false
}
