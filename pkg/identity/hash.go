package identity

import (
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Hasher computes the hash of a key's member sequence.
type Hasher interface {
	Hash(members []any) uint64
}

// HasherFunc adapts a function to the Hasher interface.
type HasherFunc func(members []any) uint64

// Hash implements Hasher.
func (f HasherFunc) Hash(members []any) uint64 { return f(members) }

// Hashable lets member types supply their own hash.
type Hashable interface {
	Hash() uint64
}

// DefaultHasher folds the byte representation of every member with XOR and
// shift. Integers, floats, strings and booleans are folded directly; other
// members use their Hash method or an xxhash of their Go-syntax rendering.
var DefaultHasher Hasher = HasherFunc(foldHash)

const foldSeed uint64 = 0xcbf29ce484222325

func foldHash(members []any) uint64 {
	h := foldSeed
	for _, m := range members {
		h = (h << 5) ^ (h >> 59) ^ memberHash(m)
	}
	return h
}

func memberHash(m any) uint64 {
	switch v := m.(type) {
	case nil:
		return 0
	case int64:
		return foldBytes(uint64(v), 8)
	case uint64:
		return foldBytes(v, 8)
	case float64:
		return foldBytes(math.Float64bits(v), 8)
	case bool:
		if v {
			return 1
		}
		return 2
	case string:
		var h uint64
		for i := 0; i < len(v); i++ {
			h = (h << 7) ^ (h >> 57) ^ uint64(v[i])
		}
		return h
	case Hashable:
		return v.Hash()
	default:
		return xxhash.Sum64String(fmt.Sprintf("%T:%#v", m, m))
	}
}

func foldBytes(v uint64, n int) uint64 {
	var h uint64
	for i := 0; i < n; i++ {
		h = (h << 8) ^ (h >> 56) ^ (v & 0xff)
		v >>= 8
	}
	return h
}
