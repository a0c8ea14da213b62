package core

import (
	"fmt"

	"trackcore/pkg/domain"
)

// visit is one pending expansion of the reachability walk.
type visit struct {
	cell *Cell
	from any
}

// detect runs the first save phase: the reachability walk from root cells,
// attribute change detection on every cell and orphan detection for
// companion associations.
func (u *UnitOfWork) detect() error {
	cells := u.idx.snapshot()
	for _, c := range cells {
		c.resetCycle()
	}

	var queue []visit
	for _, c := range cells {
		if c.IsRoot() && c.retain() {
			queue = append(queue, visit{cell: c})
		}
	}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		next, err := u.expand(v)
		if err != nil {
			return err
		}
		queue = append(queue, next...)
	}

	cells = u.idx.snapshot()
	for _, c := range cells {
		c.DetectAttributeChange()
	}
	return u.deleteOrphans(cells)
}

// expand visits every association of the cell's object and returns the
// newly retained cells that still need expanding.
func (u *UnitOfWork) expand(v visit) ([]visit, error) {
	c := v.cell
	obj := c.Object()
	var out []visit
	for _, assoc := range c.desc.Associations {
		for _, target := range assoc.Targets(obj) {
			if c.desc.Kind == domain.KindAssociation && sameObject(target, v.from) {
				continue
			}
			next, err := u.resolve(target)
			if err != nil {
				return nil, fmt.Errorf("walk %s.%s: %w", c.desc.Name, assoc.Name, err)
			}
			if next == nil || next.retained {
				continue
			}
			if !next.retain() {
				continue
			}
			if !next.IsRoot() {
				out = append(out, visit{cell: next, from: obj})
			}
		}
	}
	return out, nil
}

// resolve returns the cell for an object reached during the walk, attaching
// it as new when it is not tracked yet.
func (u *UnitOfWork) resolve(obj any) (*Cell, error) {
	desc, err := u.model.Describe(obj)
	if err != nil {
		return nil, err
	}
	if c, ok := u.idx.loadRef(obj); ok {
		return c, nil
	}
	if key, ok := domain.IdentityOf(u.model, desc, obj); ok {
		if c, ok := u.idx.loadKey(desc, key); ok {
			if sameObject(c.Object(), obj) {
				return c, nil
			}
			if desc.Kind == domain.KindAssociation && c.Status() == StatusUnchanged {
				if err := c.Replace(obj); err != nil {
					return nil, err
				}
				return c, nil
			}
			c.absorb(obj, false)
			return c, nil
		}
	}
	return u.Attach(obj, true, false)
}

// deleteOrphans marks Deleted every existing association cell that was not
// reached although its companion object was walked this cycle: the
// companion no longer references it. Every retained cell has been expanded
// once the walk completes.
func (u *UnitOfWork) deleteOrphans(cells []*Cell) error {
	for _, c := range cells {
		if c.retained {
			continue
		}
		switch c.Status() {
		case StatusAdded, StatusDeleted:
			continue
		}
		end, ok := c.desc.CompanionEnd()
		if !ok {
			continue
		}
		companion := u.lookup(end.Get(c.Object()))
		if companion == nil || !companion.retained {
			continue
		}
		if err := c.MarkDeleted(); err != nil {
			return err
		}
	}
	return nil
}
