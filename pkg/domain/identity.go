package domain

import (
	"reflect"

	"trackcore/pkg/identity"
)

// IdentityOf computes the identity key of obj described by d. ok is false
// when the identity is not yet known: a generated key still holding its zero
// value, a nil identity member, or an association end whose target has no
// identity.
func IdentityOf(m *Model, d *TypeDescriptor, obj any) (identity.Key, bool) {
	return identityOf(m, d, obj, 0)
}

// maxIdentityDepth bounds association ends that (mis)declare cyclic identities.
const maxIdentityDepth = 16

func identityOf(m *Model, d *TypeDescriptor, obj any, depth int) (identity.Key, bool) {
	if depth > maxIdentityDepth || IsNil(obj) {
		return identity.Key{}, false
	}
	var key identity.Key
	for _, name := range d.Identity {
		if attr, ok := d.attrIndex[name]; ok {
			v := deref(attr.Get(obj))
			if v == nil {
				return identity.Key{}, false
			}
			if d.GeneratedIdentity && reflect.ValueOf(v).IsZero() {
				return identity.Key{}, false
			}
			key.Append(v)
			continue
		}
		end := d.assocIndex[name]
		target := end.Get(obj)
		if IsNil(target) {
			return identity.Key{}, false
		}
		td, err := m.Describe(target)
		if err != nil {
			return identity.Key{}, false
		}
		sub, ok := identityOf(m, td, target, depth+1)
		if !ok {
			return identity.Key{}, false
		}
		key.Append(sub)
	}
	return key, true
}

func deref(v any) any {
	for {
		if IsNil(v) {
			return nil
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Pointer {
			return v
		}
		v = rv.Elem().Interface()
	}
}
