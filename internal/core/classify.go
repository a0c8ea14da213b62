package core

import "trackcore/pkg/domain"

// classification partitions the tracked cells of one save cycle.
type classification struct {
	Added             []*Cell
	AddedCompanions   []*Cell
	Modified          []*Cell
	DeletedCompanions []*Cell
	Deleted           []*Cell
}

// classify places every cell with a pending write into exactly one bucket.
// Association cells with a companion end follow the companion while it is
// being inserted or deleted. Otherwise their own status picks the companion
// bucket, so link rows always keep the companion write order.
func (u *UnitOfWork) classify() classification {
	var cls classification
	for _, c := range u.idx.snapshot() {
		status := c.Status()
		if end, ok := c.desc.CompanionEnd(); ok {
			effective := status
			if companion := u.lookup(end.Get(c.Object())); companion != nil {
				switch cs := companion.Status(); cs {
				case StatusAdded, StatusDeleted:
					effective = cs
				}
			}
			switch effective {
			case StatusAdded:
				cls.AddedCompanions = append(cls.AddedCompanions, c)
			case StatusDeleted:
				cls.DeletedCompanions = append(cls.DeletedCompanions, c)
			case StatusModified:
				cls.Modified = append(cls.Modified, c)
			}
			continue
		}
		switch status {
		case StatusAdded:
			cls.Added = append(cls.Added, c)
		case StatusModified:
			cls.Modified = append(cls.Modified, c)
		case StatusDeleted:
			cls.Deleted = append(cls.Deleted, c)
		}
	}
	return cls
}

func (cls classification) counts() BucketCounts {
	return BucketCounts{
		Added:             len(cls.Added),
		AddedCompanions:   len(cls.AddedCompanions),
		Modified:          len(cls.Modified),
		DeletedCompanions: len(cls.DeletedCompanions),
		Deleted:           len(cls.Deleted),
	}
}

func entryOf(c *Cell) domain.Entry {
	e := domain.Entry{Object: c.Object(), Type: c.desc}
	if key, ok := c.Identity(); ok {
		e.Identity = key
	}
	return e
}
