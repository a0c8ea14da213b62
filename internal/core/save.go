package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"trackcore/pkg/domain"
)

// SaveChanges detects and classifies every change of the tracked graphs,
// hands them to the storage collaborators and, once they succeed, commits
// the tracking state. On storage failure the tracking state is left as it
// was after classification so the caller may retry or roll back.
func (u *UnitOfWork) SaveChanges(ctx context.Context) (Report, error) {
	u.saveMu.Lock()
	defer u.saveMu.Unlock()

	started := u.opts.now()
	report, err := u.save(ctx)
	report.StartedAt = started
	report.Duration = u.opts.now().Sub(started)
	u.opts.metrics.Observe(ctx, "save_changes", err == nil, report.Duration)
	if err != nil {
		u.opts.logger.Debug("save cycle failed", zap.Error(err))
		return report, err
	}

	counts := report.Counts()
	u.opts.metrics.ObserveCycle(ctx, counts)
	u.opts.logger.Debug("save cycle",
		zap.Int("added", counts.Added),
		zap.Int("added_companions", counts.AddedCompanions),
		zap.Int("modified", counts.Modified),
		zap.Int("deleted_companions", counts.DeletedCompanions),
		zap.Int("deleted", counts.Deleted),
		zap.Duration("duration", report.Duration))

	if u.opts.journal != nil && !report.Empty() {
		if err := u.opts.journal.Record(ctx, report); err != nil {
			u.opts.logger.Warn("journal record failed", zap.Error(err))
			return report, fmt.Errorf("journal save cycle: %w", err)
		}
	}
	return report, nil
}

func (u *UnitOfWork) save(ctx context.Context) (Report, error) {
	if err := u.phase(ctx, "detect", func(context.Context) error { return u.detect() }); err != nil {
		return Report{}, err
	}
	var cls classification
	_ = u.phase(ctx, "classify", func(context.Context) error {
		cls = u.classify()
		return nil
	})
	if err := u.phase(ctx, "delegate", func(ctx context.Context) error { return u.delegate(ctx, cls) }); err != nil {
		return Report{}, err
	}
	report := u.report(cls)
	_ = u.phase(ctx, "commit", func(context.Context) error {
		u.commit(cls)
		return nil
	})
	return report, nil
}

func (u *UnitOfWork) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := u.opts.tracer.Start(ctx, name)
	err := fn(ctx)
	span.End(err)
	return err
}

// delegate groups the classified cells per storage collaborator and calls
// Save on each, in order of first use. Storage errors are returned as is.
func (u *UnitOfWork) delegate(ctx context.Context, cls classification) error {
	sets := make(map[string]*domain.ChangeSet)
	var names []string
	group := func(c *Cell) *domain.ChangeSet {
		name := c.desc.Storage
		cs, ok := sets[name]
		if !ok {
			cs = &domain.ChangeSet{Model: u.model, Changed: u.changed, Original: u.original}
			sets[name] = cs
			names = append(names, name)
		}
		return cs
	}
	for _, c := range cls.Added {
		cs := group(c)
		cs.Added = append(cs.Added, entryOf(c))
	}
	for _, c := range cls.AddedCompanions {
		cs := group(c)
		cs.AddedCompanions = append(cs.AddedCompanions, entryOf(c))
	}
	for _, c := range cls.Modified {
		cs := group(c)
		cs.Modified = append(cs.Modified, entryOf(c))
	}
	for _, c := range cls.DeletedCompanions {
		cs := group(c)
		cs.DeletedCompanions = append(cs.DeletedCompanions, entryOf(c))
	}
	for _, c := range cls.Deleted {
		cs := group(c)
		cs.Deleted = append(cs.Deleted, entryOf(c))
	}

	for _, name := range names {
		st, err := u.storage(ctx, name)
		if err != nil {
			return err
		}
		if err := st.Save(ctx, *sets[name]); err != nil {
			return err
		}
	}
	return nil
}

func (u *UnitOfWork) changed(obj any, attribute string) bool {
	c := u.lookup(obj)
	if c == nil {
		return false
	}
	return c.JudgeAttributeChanged(attribute)
}

func (u *UnitOfWork) original(obj any, attribute string) (any, bool) {
	c := u.lookup(obj)
	if c == nil {
		return nil, false
	}
	return c.OriginalValue(attribute)
}

// report renders the classification after storage assigned generated keys.
func (u *UnitOfWork) report(cls classification) Report {
	full := func(c *Cell) ReportEntry {
		return u.reportEntry(c, c.desc.Values(c.Object()))
	}
	changed := func(c *Cell) ReportEntry {
		obj := c.Object()
		values := make(map[string]any)
		for _, name := range c.ChangedAttributes() {
			if attr, ok := c.desc.Attribute(name); ok {
				values[name] = attr.Get(obj)
			}
		}
		return u.reportEntry(c, values)
	}
	gone := func(c *Cell) ReportEntry { return u.reportEntry(c, nil) }

	var r Report
	for _, c := range cls.Added {
		r.Added = append(r.Added, full(c))
	}
	for _, c := range cls.AddedCompanions {
		r.AddedCompanions = append(r.AddedCompanions, full(c))
	}
	for _, c := range cls.Modified {
		r.Modified = append(r.Modified, changed(c))
	}
	for _, c := range cls.DeletedCompanions {
		r.DeletedCompanions = append(r.DeletedCompanions, gone(c))
	}
	for _, c := range cls.Deleted {
		r.Deleted = append(r.Deleted, gone(c))
	}
	return r
}

func (u *UnitOfWork) reportEntry(c *Cell, values map[string]any) ReportEntry {
	entry := ReportEntry{Type: c.desc.Name, Storage: c.desc.Storage}
	if key, ok := domain.IdentityOf(u.model, c.desc, c.Object()); ok {
		entry.Identity = key.String()
	} else if key, ok := c.Identity(); ok {
		entry.Identity = key.String()
	}
	if values == nil {
		entry.Changes = domain.UndefinedChangePayload()
		return entry
	}
	payload, err := domain.NewChangePayloadFromValues(values)
	if err != nil {
		u.opts.logger.Warn("change payload not serialisable",
			zap.String("type", c.desc.Name), zap.Error(err))
		payload = domain.UndefinedChangePayload()
	}
	entry.Changes = payload
	return entry
}

// commit evicts deleted cells, re-indexes inserted cells under their final
// identity and resets every survivor.
func (u *UnitOfWork) commit(cls classification) {
	gone := make(map[*Cell]struct{})
	evict := func(c *Cell) {
		gone[c] = struct{}{}
		u.idx.deleteRef(c.Object(), c)
		if key, ok := c.Identity(); ok {
			u.idx.deleteKey(c.desc, key, c)
		}
	}
	for _, c := range cls.Deleted {
		evict(c)
	}
	for _, c := range cls.DeletedCompanions {
		evict(c)
	}

	for _, c := range u.idx.snapshot() {
		if _, dropped := gone[c]; dropped || c.Status() != StatusAdded {
			continue
		}
		obj := c.Object()
		u.idx.deleteRef(obj, c)
		key, ok := domain.IdentityOf(u.model, c.desc, obj)
		if !ok {
			u.opts.logger.Warn("inserted object has no identity; tracking dropped",
				zap.String("type", c.desc.Name))
			gone[c] = struct{}{}
			continue
		}
		if _, loaded := u.idx.loadOrStoreKey(c.desc, key, c); loaded {
			u.opts.logger.Warn("inserted object collides with a tracked identity; tracking dropped",
				zap.String("type", c.desc.Name), zap.Stringer("identity", key))
			gone[c] = struct{}{}
		}
	}
	u.idx.removeCells(gone)

	for _, c := range u.idx.snapshot() {
		c.AcceptChanges()
	}
}
