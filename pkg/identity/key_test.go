package identity

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyEquality(t *testing.T) {
	assert.True(t, New(1, "abc").Equal(New(1, "abc")))
	assert.False(t, New(1, "abc").Equal(New(1, "abd")))
	assert.False(t, New(1, "abc").Equal(New(1)))
	assert.False(t, New(1).Equal(New("1")))
}

func TestKeyNormalizesNumericMembers(t *testing.T) {
	a := New(int(7), uint8(3), float32(1.5))
	b := New(int64(7), uint64(3), float64(1.5))
	require.True(t, a.Equal(b))
	require.Equal(t, a.Hash(), b.Hash())
}

func TestKeyAppend(t *testing.T) {
	k := New("tenant-a")
	k.Append(42)
	require.True(t, k.Equal(New("tenant-a", 42)))

	sub := New(1, 2)
	k.Append(sub)
	require.Equal(t, 4, k.Len())
	require.Equal(t, []any{"tenant-a", int64(42), int64(1), int64(2)}, k.Members())
}

func TestKeyEqualIgnoresHasher(t *testing.T) {
	constant := HasherFunc(func([]any) uint64 { return 1 })
	a := NewWithHasher(constant, 1, "x")
	b := New(1, "x")
	assert.True(t, a.Equal(b))
	assert.NotEqual(t, a.Hash(), b.Hash())
}

type customMember struct{ id string }

func (c customMember) Hash() uint64 { return uint64(len(c.id)) }

func TestDefaultHasherFallbacks(t *testing.T) {
	a := New(customMember{id: "abc"}, true, nil)
	b := New(customMember{id: "abc"}, true, nil)
	require.True(t, a.Equal(b))
	require.Equal(t, a.Hash(), b.Hash())

	type plain struct{ X int }
	require.Equal(t, New(plain{X: 1}).Hash(), New(plain{X: 1}).Hash())
	require.NotEqual(t, New(true).Hash(), New(false).Hash())
	require.NotEqual(t, New("ab").Hash(), New("ba").Hash())
}

func TestKeyString(t *testing.T) {
	require.Equal(t, `[1 "abc" true]`, New(1, "abc", true).String())
	require.Equal(t, "[]", Key{}.String())
	require.True(t, Key{}.IsZero())
}

func TestMapOperations(t *testing.T) {
	m := NewMap[string]()
	m.Store(New(1, "a"), "first")
	v, ok := m.Load(New(int64(1), "a"))
	require.True(t, ok)
	require.Equal(t, "first", v)

	actual, loaded := m.LoadOrStore(New(1, "a"), "second")
	require.True(t, loaded)
	require.Equal(t, "first", actual)

	actual, loaded = m.LoadOrStore(New(2), "two")
	require.False(t, loaded)
	require.Equal(t, "two", actual)
	require.Equal(t, 2, m.Len())

	m.Store(New(1, "a"), "replaced")
	v, _ = m.Load(New(1, "a"))
	require.Equal(t, "replaced", v)
	require.Equal(t, 2, m.Len())

	require.True(t, m.Delete(New(1, "a")))
	require.False(t, m.Delete(New(1, "a")))
	require.Equal(t, 1, m.Len())

	var seen int
	m.Range(func(Key, string) bool { seen++; return true })
	require.Equal(t, 1, seen)
}

func TestMapCollidingHashes(t *testing.T) {
	constant := HasherFunc(func([]any) uint64 { return 7 })
	m := NewMapWithHasher[int](constant)
	m.Store(New("a"), 1)
	m.Store(New("b"), 2)
	require.Equal(t, 2, m.Len())
	v, ok := m.Load(New("b"))
	require.True(t, ok)
	require.Equal(t, 2, v)
	require.True(t, m.Delete(New("a")))
	_, ok = m.Load(New("b"))
	require.True(t, ok)
}

func TestMapFindsEqualKeysAcrossHashers(t *testing.T) {
	constant := HasherFunc(func([]any) uint64 { return 42 })
	stored := NewWithHasher(constant, 1, "abc")
	lookup := New(1, "abc")
	require.True(t, stored.Equal(lookup))
	require.NotEqual(t, stored.Hash(), lookup.Hash())

	m := NewMap[string]()
	m.Store(stored, "kept")
	v, ok := m.Load(lookup)
	require.True(t, ok)
	require.Equal(t, "kept", v)

	actual, loaded := m.LoadOrStore(New(int64(1), "abc"), "other")
	require.True(t, loaded)
	require.Equal(t, "kept", actual)
	require.True(t, m.Delete(lookup))
	require.Zero(t, m.Len())
}

func TestMapConcurrentLoadOrStore(t *testing.T) {
	m := NewMap[int]()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.LoadOrStore(New("shared"), i)
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, m.Len())
}
