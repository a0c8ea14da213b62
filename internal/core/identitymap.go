package core

import (
	"reflect"
	"sync"

	"trackcore/pkg/domain"
	"trackcore/pkg/identity"
)

// identityMap indexes cells by object reference (new objects) and by
// identity key (existing objects). Both indices are safe for concurrent use.
type identityMap struct {
	mu    sync.Mutex
	byRef map[any]*Cell
	byID  map[*domain.TypeDescriptor]*identity.Map[*Cell]

	cellsMu sync.Mutex
	cells   []*Cell
}

func newIdentityMap() *identityMap {
	return &identityMap{
		byRef: make(map[any]*Cell),
		byID:  make(map[*domain.TypeDescriptor]*identity.Map[*Cell]),
	}
}

func (m *identityMap) loadRef(obj any) (*Cell, bool) {
	if !hashableRef(obj) {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byRef[obj]
	return c, ok
}

func (m *identityMap) loadOrStoreRef(obj any, c *Cell) (*Cell, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byRef[obj]; ok {
		return existing, true
	}
	m.byRef[obj] = c
	return c, false
}

func (m *identityMap) deleteRef(obj any, c *Cell) {
	if !hashableRef(obj) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byRef[obj]; ok && existing == c {
		delete(m.byRef, obj)
	}
}

// keys returns the identity index of one type; keys are scoped per type.
func (m *identityMap) keys(desc *domain.TypeDescriptor) *identity.Map[*Cell] {
	m.mu.Lock()
	defer m.mu.Unlock()
	km, ok := m.byID[desc]
	if !ok {
		km = identity.NewMap[*Cell]()
		m.byID[desc] = km
	}
	return km
}

func (m *identityMap) loadKey(desc *domain.TypeDescriptor, k identity.Key) (*Cell, bool) {
	return m.keys(desc).Load(k)
}

func (m *identityMap) loadOrStoreKey(desc *domain.TypeDescriptor, k identity.Key, c *Cell) (*Cell, bool) {
	return m.keys(desc).LoadOrStore(k, c)
}

func (m *identityMap) deleteKey(desc *domain.TypeDescriptor, k identity.Key, c *Cell) {
	km := m.keys(desc)
	if existing, ok := km.Load(k); ok && existing == c {
		km.Delete(k)
	}
}

func (m *identityMap) appendCell(c *Cell) {
	m.cellsMu.Lock()
	m.cells = append(m.cells, c)
	m.cellsMu.Unlock()
}

// removeCells drops every cell in gone from the ordered cell list.
func (m *identityMap) removeCells(gone map[*Cell]struct{}) {
	if len(gone) == 0 {
		return
	}
	m.cellsMu.Lock()
	defer m.cellsMu.Unlock()
	kept := m.cells[:0]
	for _, c := range m.cells {
		if _, drop := gone[c]; !drop {
			kept = append(kept, c)
		}
	}
	for i := len(kept); i < len(m.cells); i++ {
		m.cells[i] = nil
	}
	m.cells = kept
}

// snapshot returns the cells in attach order.
func (m *identityMap) snapshot() []*Cell {
	m.cellsMu.Lock()
	defer m.cellsMu.Unlock()
	out := make([]*Cell, len(m.cells))
	copy(out, m.cells)
	return out
}

func (m *identityMap) len() int {
	m.cellsMu.Lock()
	defer m.cellsMu.Unlock()
	return len(m.cells)
}

// hashableRef reports whether obj can key the reference index.
func hashableRef(obj any) bool {
	return obj != nil && reflect.TypeOf(obj).Comparable()
}
