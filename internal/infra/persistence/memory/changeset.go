package memory

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"trackcore/pkg/domain"
	"trackcore/pkg/identity"
)

// writer applies one change set to a working state.
type writer struct {
	state  memoryState
	cs     domain.ChangeSet
	logger *zap.Logger
	// inserted holds the rows written by this change set, per type.
	inserted map[string]map[string]struct{}
}

func newWriter(state memoryState, cs domain.ChangeSet, logger *zap.Logger) writer {
	return writer{state: state, cs: cs, logger: logger, inserted: make(map[string]map[string]struct{})}
}

func (w writer) apply() error {
	for _, e := range w.cs.Added {
		if err := w.insert(e); err != nil {
			return err
		}
	}
	// Links are written once every added row of the cycle has its key.
	for _, e := range w.cs.Added {
		if err := w.writeLinks(e); err != nil {
			return err
		}
	}
	for _, e := range w.cs.AddedCompanions {
		if err := w.insert(e); err != nil {
			return err
		}
		if err := w.writeLinks(e); err != nil {
			return err
		}
	}
	for _, e := range w.cs.Modified {
		if err := w.update(e); err != nil {
			return err
		}
	}
	for _, e := range w.cs.DeletedCompanions {
		if err := w.remove(e); err != nil {
			return err
		}
	}
	for _, e := range w.cs.Deleted {
		if err := w.remove(e); err != nil {
			return err
		}
	}
	return nil
}

func (w writer) insert(e domain.Entry) error {
	desc := e.Type
	if desc.GeneratedIdentity {
		w.assignSequence(desc, e.Object)
	}
	key, err := w.identity(e)
	if err != nil {
		return fmt.Errorf("insert %s: %w", desc.Name, err)
	}
	t := w.state.table(desc.Name)
	rowKey := key.String()
	if _, exists := t[rowKey]; exists {
		// Distinct link objects naming the same ends collapse into one row.
		if _, same := w.inserted[desc.Name][rowKey]; same && desc.Kind == domain.KindAssociation {
			w.logger.Debug("insert collapsed", zap.String("type", desc.Name), zap.String("identity", rowKey))
			return nil
		}
		return domain.DuplicateInsertionError{Type: desc.Name, Identity: rowKey}
	}
	row, err := normalizeRow(Row(desc.Values(e.Object)))
	if err != nil {
		return fmt.Errorf("insert %s %s: %w", desc.Name, rowKey, err)
	}
	t[rowKey] = row
	if w.inserted[desc.Name] == nil {
		w.inserted[desc.Name] = make(map[string]struct{})
	}
	w.inserted[desc.Name][rowKey] = struct{}{}
	w.logger.Debug("insert", zap.String("type", desc.Name), zap.String("identity", rowKey))
	return nil
}

func (w writer) assignSequence(desc *domain.TypeDescriptor, obj any) {
	attr, _ := desc.Attribute(desc.Identity[0])
	current := attr.Get(obj)
	if current != nil && !reflect.ValueOf(current).IsZero() {
		if n, ok := asInt64(current); ok {
			w.state.observeSequence(desc.Name, n)
		}
		return
	}
	attr.Set(obj, w.state.nextSequence(desc.Name))
}

// writeLinks stores single valued associations as the target identity.
func (w writer) writeLinks(e domain.Entry) error {
	key, err := w.identity(e)
	if err != nil {
		return fmt.Errorf("insert %s: %w", e.Type.Name, err)
	}
	row := w.state.table(e.Type.Name)[key.String()]
	if row == nil {
		return nil
	}
	for _, assoc := range e.Type.Associations {
		if assoc.Many {
			continue
		}
		row[assoc.Name] = w.link(assoc, e.Object)
	}
	return nil
}

func (w writer) link(assoc *domain.Association, obj any) any {
	target := assoc.Get(obj)
	if domain.IsNil(target) {
		return nil
	}
	td, err := w.cs.Model.Describe(target)
	if err != nil {
		return nil
	}
	k, ok := domain.IdentityOf(w.cs.Model, td, target)
	if !ok {
		return nil
	}
	return keyMembers(k)
}

func (w writer) update(e domain.Entry) error {
	desc := e.Type
	key, err := w.identity(e)
	if err != nil {
		return fmt.Errorf("update %s: %w", desc.Name, err)
	}
	rowKey := key.String()
	row, ok := w.state.table(desc.Name)[rowKey]
	if !ok {
		return domain.NotFoundError{Type: desc.Name, Identity: rowKey}
	}
	if err := w.checkConcurrency(desc, e.Object, rowKey, row); err != nil {
		return err
	}
	for _, attr := range desc.Attributes {
		if attr.Derived || !w.changed(e.Object, attr.Name) {
			continue
		}
		v, err := normalizeValue(attr.Get(e.Object))
		if err != nil {
			return fmt.Errorf("update %s %s: %s: %w", desc.Name, rowKey, attr.Name, err)
		}
		row[attr.Name] = v
	}
	for _, assoc := range desc.Associations {
		if !assoc.Many {
			row[assoc.Name] = w.link(assoc, e.Object)
		}
	}
	w.logger.Debug("update", zap.String("type", desc.Name), zap.String("identity", rowKey))
	return nil
}

func (w writer) remove(e domain.Entry) error {
	desc := e.Type
	key, err := w.identity(e)
	if err != nil {
		return fmt.Errorf("delete %s: %w", desc.Name, err)
	}
	rowKey := key.String()
	t := w.state.table(desc.Name)
	row, ok := t[rowKey]
	if !ok {
		return domain.NotFoundError{Type: desc.Name, Identity: rowKey}
	}
	if err := w.checkConcurrency(desc, e.Object, rowKey, row); err != nil {
		return err
	}
	delete(t, rowKey)
	w.logger.Debug("delete", zap.String("type", desc.Name), zap.String("identity", rowKey))
	return nil
}

func (w writer) checkConcurrency(desc *domain.TypeDescriptor, obj any, rowKey string, row Row) error {
	for _, attr := range desc.Attributes {
		if !attr.Concurrency {
			continue
		}
		original, ok := w.original(obj, attr)
		if !ok {
			continue
		}
		if !sameStored(original, row[attr.Name]) {
			return domain.ConcurrencyConflictError{Type: desc.Name, Identity: rowKey, Attribute: attr.Name}
		}
	}
	return nil
}

func (w writer) original(obj any, attr *domain.Attribute) (any, bool) {
	if w.cs.Original == nil {
		return attr.Get(obj), true
	}
	return w.cs.Original(obj, attr.Name)
}

func (w writer) changed(obj any, attribute string) bool {
	if w.cs.Changed == nil {
		return true
	}
	return w.cs.Changed(obj, attribute)
}

// identity prefers the key computed at classification time and recomputes it
// for rows whose key only became known during this change set.
func (w writer) identity(e domain.Entry) (identity.Key, error) {
	if !e.Identity.IsZero() {
		return e.Identity, nil
	}
	k, ok := domain.IdentityOf(w.cs.Model, e.Type, e.Object)
	if !ok {
		return identity.Key{}, domain.ErrMissingIdentity
	}
	return k, nil
}

func asInt64(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), true
	default:
		return 0, false
	}
}
