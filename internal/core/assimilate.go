package core

import "trackcore/pkg/domain"

// absorb merges a second instance of the cell's identity into the tracked one.
func (c *Cell) absorb(obj any, asRoot bool) {
	if asRoot {
		c.promoteRoot()
	}
	tracked := c.Object()
	if sameObject(tracked, obj) {
		return
	}
	assimilate(c.desc, tracked, obj)
}

// assimilate copies state from incoming into tracked. Associations are only
// filled when empty on the tracked side. Attributes take the last non-nil
// value: a nil incoming value never clears tracked state.
func assimilate(desc *domain.TypeDescriptor, tracked, incoming any) {
	for _, assoc := range desc.Associations {
		if assoc.Set == nil || !domain.IsEmpty(assoc.Get(tracked)) {
			continue
		}
		if v := assoc.Get(incoming); !domain.IsEmpty(v) {
			assoc.Set(tracked, v)
		}
	}
	for _, attr := range desc.Attributes {
		if attr.Derived || attr.Set == nil {
			continue
		}
		in := attr.Get(incoming)
		if domain.IsNil(in) {
			continue
		}
		cur := attr.Get(tracked)
		if domain.IsNil(cur) || !attr.Equals(cur, in) {
			attr.Set(tracked, in)
		}
	}
}
