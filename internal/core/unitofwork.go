// Package core implements change tracking for object graphs: tracking cells,
// the identity map and the UnitOfWork that detects, classifies and delegates
// changes to storage collaborators.
package core

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"trackcore/pkg/domain"
)

// UnitOfWork tracks object graphs and writes their changes in save cycles.
// Attach and Remove may be called concurrently; SaveChanges calls are
// serialised.
type UnitOfWork struct {
	model *domain.Model
	opts  options
	idx   *identityMap

	saveMu sync.Mutex

	txMu     sync.Mutex
	storages map[string]domain.Storage
	order    []string
	inTx     bool
}

// New resolves the model of src through the configured registry.
func New(src domain.ModelSource, opts ...Option) (*UnitOfWork, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	m, err := o.registry.Resolve(src)
	if err != nil {
		return nil, err
	}
	return newUnitOfWork(m, o), nil
}

// NewForModel tracks objects of an already built model.
func NewForModel(m *domain.Model, opts ...Option) *UnitOfWork {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newUnitOfWork(m, o)
}

func newUnitOfWork(m *domain.Model, o options) *UnitOfWork {
	return &UnitOfWork{
		model:    m,
		opts:     o,
		idx:      newIdentityMap(),
		storages: make(map[string]domain.Storage),
	}
}

// Model returns the model the unit of work tracks.
func (u *UnitOfWork) Model() *domain.Model { return u.model }

// Add attaches a new object as a root.
func (u *UnitOfWork) Add(obj any) (*Cell, error) { return u.Attach(obj, true, true) }

// Track attaches an existing (already persisted) object as a root.
func (u *UnitOfWork) Track(obj any) (*Cell, error) { return u.Attach(obj, false, true) }

// Attach starts tracking obj. New objects are indexed by reference and
// attaching them twice is a no-op. Existing objects are indexed by identity;
// a second instance of a tracked identity is assimilated into the first.
func (u *UnitOfWork) Attach(obj any, isNew, asRoot bool) (*Cell, error) {
	desc, err := u.model.Describe(obj)
	if err != nil {
		return nil, err
	}
	if isNew {
		if !hashableRef(obj) {
			return nil, fmt.Errorf("attach %s: object of type %T cannot be tracked by reference", desc.Name, obj)
		}
		if c, ok := u.idx.loadRef(obj); ok {
			return c, nil
		}
		c := newCell(u, obj, desc, true, asRoot)
		actual, loaded := u.idx.loadOrStoreRef(obj, c)
		if loaded {
			return actual, nil
		}
		u.idx.appendCell(c)
		c.bind()
		return c, nil
	}

	key, ok := domain.IdentityOf(u.model, desc, obj)
	if !ok {
		return nil, fmt.Errorf("attach %s: %w", desc.Name, domain.ErrMissingIdentity)
	}
	if c, ok := u.idx.loadKey(desc, key); ok {
		c.absorb(obj, asRoot)
		return c, nil
	}
	c := newCell(u, obj, desc, false, asRoot)
	actual, loaded := u.idx.loadOrStoreKey(desc, key, c)
	if loaded {
		actual.absorb(obj, asRoot)
		return actual, nil
	}
	u.idx.appendCell(c)
	c.bind()
	return c, nil
}

// Remove schedules a tracked existing object for deletion. New or untracked
// objects are only dropped from tracking.
func (u *UnitOfWork) Remove(obj any) error {
	desc, err := u.model.Describe(obj)
	if err != nil {
		return err
	}
	if c, ok := u.idx.loadRef(obj); ok {
		u.discard(c)
		return nil
	}
	key, ok := domain.IdentityOf(u.model, desc, obj)
	if !ok {
		return nil
	}
	c, ok := u.idx.loadKey(desc, key)
	if !ok {
		return nil
	}
	return c.MarkDeleted()
}

// CellFor returns the cell tracking obj, by reference or by identity.
func (u *UnitOfWork) CellFor(obj any) (*Cell, bool) {
	c := u.lookup(obj)
	return c, c != nil
}

// Cells returns the tracked cells in attach order.
func (u *UnitOfWork) Cells() []*Cell { return u.idx.snapshot() }

// Len returns the number of tracked cells.
func (u *UnitOfWork) Len() int { return u.idx.len() }

// lookup finds the cell for obj without attaching it.
func (u *UnitOfWork) lookup(obj any) *Cell {
	if domain.IsNil(obj) {
		return nil
	}
	if c, ok := u.idx.loadRef(obj); ok {
		return c
	}
	desc, err := u.model.Describe(obj)
	if err != nil {
		return nil
	}
	key, ok := domain.IdentityOf(u.model, desc, obj)
	if !ok {
		return nil
	}
	c, _ := u.idx.loadKey(desc, key)
	return c
}

// discard forgets a new cell without any persistence effect.
func (u *UnitOfWork) discard(c *Cell) {
	u.idx.deleteRef(c.Object(), c)
	u.idx.removeCells(map[*Cell]struct{}{c: {}})
}

// ownedCell resolves the target of an aggregated association during cascade
// delete. Untracked targets without identity have never been persisted and
// are skipped.
func (u *UnitOfWork) ownedCell(target any) (*Cell, error) {
	if c := u.lookup(target); c != nil {
		return c, nil
	}
	desc, err := u.model.Describe(target)
	if err != nil {
		return nil, err
	}
	if _, ok := domain.IdentityOf(u.model, desc, target); !ok {
		return nil, nil
	}
	return u.Attach(target, false, false)
}

// loadAssociation serves an on-demand load for the object tracked by c.
func (u *UnitOfWork) loadAssociation(c *Cell, obj any, name string) error {
	if u.opts.loader == nil {
		return nil
	}
	assoc, ok := c.desc.Association(name)
	if !ok {
		return fmt.Errorf("load %s.%s: unknown association", c.desc.Name, name)
	}
	if !domain.IsEmpty(assoc.Get(obj)) {
		return nil
	}
	value, err := u.opts.loader(context.Background(), obj, assoc)
	if err != nil {
		return fmt.Errorf("load %s.%s: %w", c.desc.Name, name, err)
	}
	if domain.IsNil(value) {
		return nil
	}
	if assoc.Set != nil {
		assoc.Set(obj, value)
	}
	for _, target := range assoc.Targets(obj) {
		if _, err := u.Attach(target, false, false); err != nil {
			return fmt.Errorf("load %s.%s: %w", c.desc.Name, name, err)
		}
	}
	u.opts.logger.Debug("association loaded",
		zap.String("type", c.desc.Name),
		zap.String("association", name))
	return nil
}
