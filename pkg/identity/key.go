// Package identity provides the composite keys used to name logical entities
// and a goroutine-safe map indexed by them.
package identity

import (
	"fmt"
	"reflect"
	"strings"
)

// Key is an ordered sequence of scalar members naming one logical entity.
// Two keys name the same entity iff their member sequences are equal.
//
// Key is not a comparable Go value; use Equal/Hash or Map to index by it.
// Mutating a key with Append after it has been stored in a Map is not allowed.
type Key struct {
	members []any
	hasher  Hasher
}

// New builds a key from members using the default hash strategy.
func New(members ...any) Key {
	return NewWithHasher(nil, members...)
}

// NewWithHasher builds a key whose Hash is computed by h. A nil h selects
// DefaultHasher.
func NewWithHasher(h Hasher, members ...any) Key {
	k := Key{hasher: h}
	k.Append(members...)
	return k
}

// Append extends the key in place with additional members, typically the
// members of a sub-identity (an association end or a tenant discriminator).
func (k *Key) Append(members ...any) {
	for _, m := range members {
		if sub, ok := m.(Key); ok {
			k.members = append(k.members, sub.members...)
			continue
		}
		k.members = append(k.members, normalize(m))
	}
}

// Members returns a copy of the member sequence.
func (k Key) Members() []any {
	return append([]any(nil), k.members...)
}

// Len reports the number of members.
func (k Key) Len() int { return len(k.members) }

// IsZero reports whether the key has no members.
func (k Key) IsZero() bool { return len(k.members) == 0 }

// Hash returns the key's hash under its strategy.
func (k Key) Hash() uint64 {
	h := k.hasher
	if h == nil {
		h = DefaultHasher
	}
	return h.Hash(k.members)
}

// Equal reports element-wise sequence equality. Hash strategies are not
// consulted; Map buckets with its own hasher for that reason.
func (k Key) Equal(other Key) bool {
	if len(k.members) != len(other.members) {
		return false
	}
	for i := range k.members {
		if !memberEqual(k.members[i], other.members[i]) {
			return false
		}
	}
	return true
}

// String renders the key as "[m1 m2 ...]" with strings quoted. The output is
// stable and is used as a row key by SQL backends.
func (k Key) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, m := range k.members {
		if i > 0 {
			b.WriteByte(' ')
		}
		switch v := m.(type) {
		case string:
			fmt.Fprintf(&b, "%q", v)
		default:
			fmt.Fprintf(&b, "%v", v)
		}
	}
	b.WriteByte(']')
	return b.String()
}

func normalize(m any) any {
	switch v := m.(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint:
		return uint64(v)
	case uint8:
		return uint64(v)
	case uint16:
		return uint64(v)
	case uint32:
		return uint64(v)
	case float32:
		return float64(v)
	default:
		return m
	}
}

func memberEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
